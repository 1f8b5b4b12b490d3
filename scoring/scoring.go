package scoring

import (
	"math"
	"math/bits"
	"time"

	"github.com/golang/geo/s2"

	"report-match-engine/config"
	"report-match-engine/models"
)

const earthRadiusKm = 6371.01

// CosineSimilarity returns the cosine of the angle between two vectors,
// in [-1,1]. Returns 0 when either vector has zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// HammingDistance counts differing bits between two equal-length hashes.
func HammingDistance(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// DistanceKm returns the great-circle distance between two coordinates.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * earthRadiusKm
}

// TextScore is the cosine similarity of the two embeddings remapped
// linearly from [-1,1] to [0,1]. Nil when either side has no embedding.
func TextScore(a, b *models.Report) *float64 {
	if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
		return nil
	}
	s := clamp01((CosineSimilarity(a.Embedding, b.Embedding) + 1) / 2)
	return &s
}

// ImageScore is 1 - normalized Hamming distance between the perceptual
// hashes. Nil when either side has no hash.
func ImageScore(a, b *models.Report) *float64 {
	if len(a.ImageHash) == 0 || len(b.ImageHash) == 0 {
		return nil
	}
	totalBits := len(a.ImageHash) * 8
	if lb := len(b.ImageHash) * 8; lb < totalBits {
		totalBits = lb
	}
	if totalBits == 0 {
		return nil
	}
	s := clamp01(1 - float64(HammingDistance(a.ImageHash, b.ImageHash))/float64(totalBits))
	return &s
}

// GeoScore decays linearly from 1 at zero distance to 0 at maxRadiusKm.
// Nil when either side has no coordinates.
func GeoScore(a, b *models.Report, maxRadiusKm float64) *float64 {
	if !a.HasLocation() || !b.HasLocation() || maxRadiusKm <= 0 {
		return nil
	}
	d := DistanceKm(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
	s := clamp01(1 - d/maxRadiusKm)
	return &s
}

// TimeScore decays linearly from 1 at zero day offset to 0 at
// windowDays. Nil when either side has no occurrence time.
func TimeScore(a, b *models.Report, windowDays int) *float64 {
	if a.OccurredAt == nil || b.OccurredAt == nil || windowDays <= 0 {
		return nil
	}
	deltaDays := math.Abs(a.OccurredAt.Sub(*b.OccurredAt).Hours()) / 24
	s := clamp01(1 - deltaDays/float64(windowDays))
	return &s
}

// ColorScore is the Jaccard similarity of the two color sets. Two empty
// sets score 1.0 so that missing color information penalizes nothing.
func ColorScore(a, b *models.Report) *float64 {
	union := make(map[string]struct{}, len(a.Colors)+len(b.Colors))
	inA := make(map[string]struct{}, len(a.Colors))
	for _, c := range a.Colors {
		union[c] = struct{}{}
		inA[c] = struct{}{}
	}
	inB := make(map[string]struct{}, len(b.Colors))
	for _, c := range b.Colors {
		union[c] = struct{}{}
		inB[c] = struct{}{}
	}
	inter := 0
	for c := range inB {
		if _, ok := inA[c]; ok {
			inter++
		}
	}
	s := 1.0
	if len(union) > 0 {
		s = float64(inter) / float64(len(union))
	}
	return &s
}

// Score computes the full breakdown for a source/candidate pair using
// the given configuration. Weights are threaded through explicitly so
// scoring stays deterministic per call.
func Score(source, candidate *models.Report, cfg *config.Config) models.ScoreBreakdown {
	b := models.ScoreBreakdown{
		Text:  TextScore(source, candidate),
		Image: ImageScore(source, candidate),
		Geo:   GeoScore(source, candidate, cfg.GeoRadiusKm),
		Time:  TimeScore(source, candidate, cfg.TimeWindowDays),
	}
	if cfg.ColorSignal {
		b.Color = ColorScore(source, candidate)
	}
	b.Total = Fuse(&b, cfg.Weights)
	return b
}

// Fuse combines the present sub-scores into one total, renormalizing
// the weights over the signals actually available so a missing signal
// never silently depresses the total toward zero. Zero present signals
// yields 0; such rows are still recorded for auditability but never
// reach promotion thresholds.
func Fuse(b *models.ScoreBreakdown, w config.SignalWeights) float64 {
	var sum, weight float64
	add := func(s *float64, wi float64) {
		if s != nil && wi > 0 {
			sum += *s * wi
			weight += wi
		}
	}
	add(b.Text, w.Text)
	add(b.Image, w.Image)
	add(b.Geo, w.Geo)
	add(b.Time, w.Time)
	add(b.Color, w.Color)
	if weight == 0 {
		return 0
	}
	return clamp01(sum / weight)
}

// Less orders two scored candidates for ranking: higher total first,
// then more signals present, then earlier candidate report creation.
func Less(total1 float64, signals1 int, created1 time.Time, total2 float64, signals2 int, created2 time.Time) bool {
	if total1 != total2 {
		return total1 > total2
	}
	if signals1 != signals2 {
		return signals1 > signals2
	}
	return created1.Before(created2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

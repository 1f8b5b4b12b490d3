package scoring

import (
	"math"
	"testing"
	"time"

	"report-match-engine/config"
	"report-match-engine/models"
)

func defaultConfig() *config.Config {
	return &config.Config{
		GeoRadiusKm:    25,
		TimeWindowDays: 14,
		ColorSignal:    true,
		Weights: config.SignalWeights{
			Text:  0.35,
			Image: 0.20,
			Geo:   0.20,
			Time:  0.15,
			Color: 0.10,
		},
	}
}

func floatPtr(v float64) *float64 { return &v }

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, expected: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, expected: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, expected: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, expected: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 0}, expected: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if !almostEqual(got, tc.expected, 1e-9) {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []byte
		expected int
	}{
		{name: "equal", a: []byte{0xff, 0x00}, b: []byte{0xff, 0x00}, expected: 0},
		{name: "one byte fully different", a: []byte{0xff}, b: []byte{0x00}, expected: 8},
		{name: "single bit", a: []byte{0x01}, b: []byte{0x00}, expected: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HammingDistance(tc.a, tc.b); got != tc.expected {
				t.Errorf("HammingDistance() = %d, want %d", got, tc.expected)
			}
		})
	}
}

func TestColorScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []string
		expected float64
	}{
		{name: "identical sets", a: []string{"black", "red"}, b: []string{"red", "black"}, expected: 1},
		{name: "disjoint sets", a: []string{"black"}, b: []string{"red"}, expected: 0},
		{name: "partial overlap", a: []string{"black", "red"}, b: []string{"red", "blue"}, expected: 1.0 / 3},
		{name: "both empty scores full", a: nil, b: nil, expected: 1},
		{name: "one empty", a: []string{"black"}, b: nil, expected: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ra := &models.Report{Colors: tc.a}
			rb := &models.Report{Colors: tc.b}
			got := ColorScore(ra, rb)
			if got == nil {
				t.Fatal("ColorScore() = nil, want value")
			}
			if !almostEqual(*got, tc.expected, 1e-9) {
				t.Errorf("ColorScore() = %v, want %v", *got, tc.expected)
			}
		})
	}
}

func TestSubScoresAbsentWhenSignalMissing(t *testing.T) {
	cfg := defaultConfig()
	bare := &models.Report{ID: "a"}
	full := &models.Report{
		ID:        "b",
		Embedding: []float32{1, 0},
		ImageHash: []byte{0xab},
		Latitude:  floatPtr(52.23),
		Longitude: floatPtr(21.01),
	}

	b := Score(bare, full, cfg)
	if b.Text != nil {
		t.Error("text score should be absent without both embeddings")
	}
	if b.Image != nil {
		t.Error("image score should be absent without both hashes")
	}
	if b.Geo != nil {
		t.Error("geo score should be absent without both locations")
	}
	if b.Time != nil {
		t.Error("time score should be absent without both occurrence times")
	}
	if b.Color == nil {
		t.Error("color score should be present when the signal is enabled")
	}
}

func TestFuseRenormalizesOverPresentSignals(t *testing.T) {
	w := defaultConfig().Weights

	// Only geo and time present: the total must be their weighted
	// average alone, not diluted by the absent signals' weights.
	b := &models.ScoreBreakdown{
		Geo:  floatPtr(0.8),
		Time: floatPtr(0.6),
	}
	got := Fuse(b, w)
	want := (0.8*w.Geo + 0.6*w.Time) / (w.Geo + w.Time)
	if !almostEqual(got, want, 1e-9) {
		t.Errorf("Fuse() = %v, want %v", got, want)
	}
}

func TestFuseZeroSignals(t *testing.T) {
	if got := Fuse(&models.ScoreBreakdown{}, defaultConfig().Weights); got != 0 {
		t.Errorf("Fuse() with no signals = %v, want 0", got)
	}
}

func TestScoreBounds(t *testing.T) {
	cfg := defaultConfig()
	now := time.Now()
	far := now.Add(40 * 24 * time.Hour)

	reports := []*models.Report{
		{ID: "1", Embedding: []float32{1, 0}, Colors: []string{"black"}},
		{ID: "2", Embedding: []float32{-1, 0}, OccurredAt: &far},
		{ID: "3", Latitude: floatPtr(0), Longitude: floatPtr(0), OccurredAt: &now, ImageHash: []byte{0x00}},
		{ID: "4", Latitude: floatPtr(45), Longitude: floatPtr(90), ImageHash: []byte{0xff}},
	}

	for _, a := range reports {
		for _, b := range reports {
			breakdown := Score(a, b, cfg)
			if breakdown.Total < 0 || breakdown.Total > 1 {
				t.Errorf("total %v out of [0,1] for %s/%s", breakdown.Total, a.ID, b.ID)
			}
			for _, s := range []*float64{breakdown.Text, breakdown.Image, breakdown.Geo, breakdown.Time, breakdown.Color} {
				if s != nil && (*s < 0 || *s > 1) {
					t.Errorf("sub-score %v out of [0,1] for %s/%s", *s, a.ID, b.ID)
				}
			}
		}
	}
}

// Lost electronics with an embedding, a location and a day-10
// occurrence against a found counterpart 2 km away one day later with
// cosine similarity 0.9.
func TestScoreScenarioElectronics(t *testing.T) {
	cfg := defaultConfig()
	day10 := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	day11 := day10.Add(24 * time.Hour)

	// cos = 0.9 between these two unit vectors.
	eA := []float32{1, 0}
	eB := []float32{0.9, float32(math.Sqrt(1 - 0.81))}

	lost := &models.Report{
		ID:         "lost-1",
		Kind:       models.ReportKindLost,
		Category:   "electronics",
		Embedding:  eA,
		Latitude:   floatPtr(52.2297),
		Longitude:  floatPtr(21.0122),
		OccurredAt: &day10,
	}
	// ~2 km north.
	found := &models.Report{
		ID:         "found-1",
		Kind:       models.ReportKindFound,
		Category:   "electronics",
		Embedding:  eB,
		Latitude:   floatPtr(52.2297 + 0.018),
		Longitude:  floatPtr(21.0122),
		OccurredAt: &day11,
	}

	b := Score(lost, found, cfg)

	if b.Text == nil || !almostEqual(*b.Text, 0.95, 1e-6) {
		t.Errorf("text score = %v, want 0.95", fmtScore(b.Text))
	}
	if b.Geo == nil || !almostEqual(*b.Geo, 0.92, 0.005) {
		t.Errorf("geo score = %v, want ~0.92", fmtScore(b.Geo))
	}
	if b.Time == nil || !almostEqual(*b.Time, 1-1.0/14, 1e-6) {
		t.Errorf("time score = %v, want %v", fmtScore(b.Time), 1-1.0/14)
	}
	if b.Image != nil {
		t.Error("image score should be absent without hashes")
	}

	w := cfg.Weights
	want := (*b.Text*w.Text + *b.Geo*w.Geo + *b.Time*w.Time + *b.Color*w.Color) /
		(w.Text + w.Geo + w.Time + w.Color)
	if !almostEqual(b.Total, want, 1e-9) {
		t.Errorf("total = %v, want %v", b.Total, want)
	}
}

func fmtScore(v *float64) interface{} {
	if v == nil {
		return "<nil>"
	}
	return *v
}

func TestLessTieBreak(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	tests := []struct {
		name     string
		t1       float64
		s1       int
		c1       time.Time
		t2       float64
		s2       int
		c2       time.Time
		expected bool
	}{
		{name: "higher total wins", t1: 0.9, s1: 1, c1: late, t2: 0.8, s2: 5, c2: early, expected: true},
		{name: "equal total, more signals wins", t1: 0.5, s1: 4, c1: late, t2: 0.5, s2: 2, c2: early, expected: true},
		{name: "equal total and signals, earlier wins", t1: 0.5, s1: 3, c1: early, t2: 0.5, s2: 3, c2: late, expected: true},
		{name: "loser", t1: 0.4, s1: 5, c1: early, t2: 0.5, s2: 1, c2: late, expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Less(tc.t1, tc.s1, tc.c1, tc.t2, tc.s2, tc.c2); got != tc.expected {
				t.Errorf("Less() = %v, want %v", got, tc.expected)
			}
		})
	}
}

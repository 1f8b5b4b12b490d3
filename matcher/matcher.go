// Package matcher implements candidate generation: given a source
// report it retrieves a bounded, coarsely ranked set of opposite-kind
// counterpart reports using embedding, geo and image-hash retrieval
// plus hard category/time filters. Generation is a pure read; scoring
// and persistence happen downstream.
package matcher

import (
	"context"
	"errors"
	"sync"

	"github.com/apex/log"

	"report-match-engine/config"
	"report-match-engine/index"
	"report-match-engine/metrics"
	"report-match-engine/models"
)

// Indexes bundles the retrieval capabilities over one report kind. The
// generator always queries the indexes of the counterpart kind.
type Indexes struct {
	Embedding index.EmbeddingIndex
	Geo       index.GeoIndex
	Hash      index.ImageHashIndex
}

// ReportSource is the slice of the report store the generator reads.
type ReportSource interface {
	GetReportsByIDs(ctx context.Context, ids []string) (map[string]*models.Report, error)
}

// Generator retrieves counterpart candidates for a source report.
type Generator struct {
	cfg     *config.Config
	reports ReportSource
	indexes func(kind string) *Indexes
}

// NewGenerator creates a generator. indexes maps a report kind to the
// retrieval indexes covering that kind's population.
func NewGenerator(cfg *config.Config, reports ReportSource, indexes func(kind string) *Indexes) *Generator {
	return &Generator{cfg: cfg, reports: reports, indexes: indexes}
}

const (
	pathEmbedding = "embedding"
	pathGeo       = "geo"
	pathHash      = "hash"
)

// Generate returns the candidate reports for the source, capped at
// MaxCandidatesPerReport. A source without any usable signal yields an
// empty set, not an error; so does a run where every retrieval path
// timed out. The result is deduplicated and coarsely ranked (each
// path's best candidates survive the cap first).
func (g *Generator) Generate(ctx context.Context, source *models.Report) ([]*models.Report, error) {
	if !source.HasSignal() {
		log.WithField("report_id", source.ID).Debug("report has no usable signal, skipping generation")
		return nil, nil
	}

	idx := g.indexes(models.CounterpartKind(source.Kind))
	if idx == nil {
		return nil, nil
	}

	// The three retrieval paths run independently, each under its own
	// timeout. A failed or timed-out path degrades to the survivors.
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ranked = map[string][]string{}
	)
	retrieve := func(path string, fn func(ctx context.Context) ([]string, error)) {
		defer wg.Done()
		pathCtx, cancel := context.WithTimeout(ctx, g.cfg.RetrievalTimeout)
		defer cancel()
		ids, err := fn(pathCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.RetrievalTimeoutsTotal.WithLabelValues(path).Inc()
			}
			log.WithError(err).WithFields(log.Fields{
				"report_id": source.ID,
				"path":      path,
			}).Warn("retrieval path failed, continuing without it")
			return
		}
		mu.Lock()
		ranked[path] = ids
		mu.Unlock()
	}

	if len(source.Embedding) > 0 && idx.Embedding != nil {
		wg.Add(1)
		go retrieve(pathEmbedding, func(ctx context.Context) ([]string, error) {
			hits, err := idx.Embedding.Nearest(ctx, source.Embedding, g.cfg.EmbeddingTopK)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = h.ID
			}
			return ids, nil
		})
	}
	if source.HasLocation() && idx.Geo != nil {
		wg.Add(1)
		go retrieve(pathGeo, func(ctx context.Context) ([]string, error) {
			hits, err := idx.Geo.Within(ctx, *source.Latitude, *source.Longitude, g.cfg.GeoRadiusKm)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = h.ID
			}
			return ids, nil
		})
	}
	if len(source.ImageHash) > 0 && idx.Hash != nil {
		wg.Add(1)
		go retrieve(pathHash, func(ctx context.Context) ([]string, error) {
			hits, err := idx.Hash.Similar(ctx, source.ImageHash, g.hashMaxDistance(source))
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = h.ID
			}
			return ids, nil
		})
	}
	wg.Wait()

	union := map[string]struct{}{}
	for _, ids := range ranked {
		for _, id := range ids {
			union[id] = struct{}{}
		}
	}
	if len(union) == 0 {
		return nil, nil
	}

	all := make([]string, 0, len(union))
	for id := range union {
		all = append(all, id)
	}
	reports, err := g.reports.GetReportsByIDs(ctx, all)
	if err != nil {
		return nil, err
	}

	eligible := map[string]*models.Report{}
	for id, r := range reports {
		if g.eligible(source, r) {
			eligible[id] = r
		}
	}

	return capPerPath(eligible, ranked, g.cfg.MaxCandidatesPerReport), nil
}

// hashMaxDistance resolves the Hamming cutoff; unset means a quarter of
// the hash bit length.
func (g *Generator) hashMaxDistance(source *models.Report) int {
	if g.cfg.ImageHashMaxDistance > 0 {
		return g.cfg.ImageHashMaxDistance
	}
	return len(source.ImageHash) * 8 / 4
}

// eligible applies the hard filters: opposite kind, approved and
// unresolved, not the source itself, not the same owner, category
// compatible, and inside the occurrence time window.
func (g *Generator) eligible(source, c *models.Report) bool {
	if c.ID == source.ID || c.Kind == source.Kind || !c.Matchable() {
		return false
	}
	if c.OwnerID != "" && c.OwnerID == source.OwnerID {
		return false
	}
	// Same category or the uncategorized bucket. A recall/precision
	// trade-off, tunable via CATEGORY_FILTER.
	if g.cfg.CategoryFilter && source.Category != "" &&
		c.Category != "" && c.Category != source.Category {
		return false
	}
	return occurredWithin(source, c, g.cfg.TimeWindowDays)
}

func occurredWithin(a, b *models.Report, windowDays int) bool {
	if a.OccurredAt == nil || b.OccurredAt == nil || windowDays <= 0 {
		return true
	}
	delta := a.OccurredAt.Sub(*b.OccurredAt)
	if delta < 0 {
		delta = -delta
	}
	return delta.Hours() <= float64(windowDays)*24
}

// capPerPath truncates the eligible set to at most max reports, taking
// candidates round-robin from each retrieval path in its own rank
// order. When the cap bites, every path keeps its best hits instead of
// one path crowding out the others.
func capPerPath(eligible map[string]*models.Report, ranked map[string][]string, max int) []*models.Report {
	if max <= 0 {
		max = len(eligible)
	}
	paths := []string{pathEmbedding, pathGeo, pathHash}
	cursors := map[string]int{}
	taken := map[string]struct{}{}
	var out []*models.Report

	for len(out) < max && len(out) < len(eligible) {
		progressed := false
		for _, p := range paths {
			if len(out) >= max {
				break
			}
			ids := ranked[p]
			i := cursors[p]
			for i < len(ids) {
				id := ids[i]
				i++
				r, ok := eligible[id]
				if !ok {
					continue
				}
				if _, dup := taken[id]; dup {
					continue
				}
				taken[id] = struct{}{}
				out = append(out, r)
				progressed = true
				break
			}
			cursors[p] = i
		}
		if !progressed {
			break
		}
	}
	return out
}

// Package service is the match lifecycle manager: it runs candidate
// generation, persists scored pairs, drives the candidate → promoted/
// suppressed/dismissed state machine, and hands notification events to
// the dispatcher.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"

	"report-match-engine/config"
	"report-match-engine/database"
	"report-match-engine/matcher"
	"report-match-engine/metrics"
	"report-match-engine/models"
	"report-match-engine/scoring"
)

// Store is the persistence surface the lifecycle manager writes
// through. *database.Database satisfies it.
type Store interface {
	GetReport(ctx context.Context, id string) (*models.Report, error)
	GetReportsByIDs(ctx context.Context, ids []string) (map[string]*models.Report, error)
	ListMatchableReports(ctx context.Context) ([]*models.Report, error)
	SetReportResolved(ctx context.Context, id string) error

	UpsertCandidate(ctx context.Context, sourceID, candidateID string, b *models.ScoreBreakdown) (database.UpsertOutcome, error)
	GetMatch(ctx context.Context, id string) (*models.MatchCandidate, error)
	GetMatchByPair(ctx context.Context, a, b string) (*models.MatchCandidate, error)
	TransitionMatch(ctx context.Context, id, target string) error
	ListMatchesForReport(ctx context.Context, reportID string) ([]*models.MatchCandidate, error)
	ListCandidatePairsForReport(ctx context.Context, reportID string) ([]*models.MatchCandidate, error)
	DismissCandidatesForReport(ctx context.Context, reportID string) (int, error)
	DismissOrphanedCandidates(ctx context.Context) (int, error)

	InsertModerationEvent(ctx context.Context, ev database.ModerationEvent) error
}

// Notifier publishes notification events to the external notification
// service. *rabbitmq.Publisher satisfies it.
type Notifier interface {
	Publish(message interface{}) error
}

// Service coordinates generation, scoring, lifecycle and notification.
type Service struct {
	cfg      *config.Config
	db       Store
	notifier Notifier

	generator *matcher.Generator
	indexes   map[string]*matcher.Indexes

	locks  *reportLocks
	retryQ chan retryItem

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService wires the lifecycle manager. indexes must contain one
// entry per report kind.
func NewService(cfg *config.Config, db Store, notifier Notifier, indexes map[string]*matcher.Indexes) *Service {
	s := &Service{
		cfg:      cfg,
		db:       db,
		notifier: notifier,
		indexes:  indexes,
		locks:    newReportLocks(),
		retryQ:   make(chan retryItem, 256),
		stopChan: make(chan struct{}),
	}
	s.generator = matcher.NewGenerator(cfg, db, func(kind string) *matcher.Indexes {
		return s.indexes[kind]
	})
	return s
}

// Start warms the retrieval indexes from the report store and starts
// the background loops (orphan re-scan, notification retry).
func (s *Service) Start(ctx context.Context) error {
	reports, err := s.db.ListMatchableReports(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm retrieval indexes: %w", err)
	}
	for _, r := range reports {
		s.indexReport(r)
	}
	log.WithField("reports", len(reports)).Info("retrieval indexes warmed")

	s.wg.Add(2)
	go s.rescanLoop()
	go s.notifyRetryLoop()
	return nil
}

// Stop shuts down the background loops.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// indexReport adds or refreshes a report's signals in the per-kind
// retrieval indexes.
func (s *Service) indexReport(r *models.Report) {
	idx := s.indexes[r.Kind]
	if idx == nil {
		return
	}
	if len(r.Embedding) > 0 && idx.Embedding != nil {
		idx.Embedding.Upsert(r.ID, r.Embedding)
	}
	if r.HasLocation() && idx.Geo != nil {
		idx.Geo.Upsert(r.ID, *r.Latitude, *r.Longitude)
	}
	if len(r.ImageHash) > 0 && idx.Hash != nil {
		idx.Hash.Upsert(r.ID, r.ImageHash)
	}
}

// deindexReport removes a report from every retrieval index.
func (s *Service) deindexReport(id string) {
	for _, idx := range s.indexes {
		if idx.Embedding != nil {
			idx.Embedding.Remove(id)
		}
		if idx.Geo != nil {
			idx.Geo.Remove(id)
		}
		if idx.Hash != nil {
			idx.Hash.Remove(id)
		}
	}
}

// ProcessReport runs one full generate → score → upsert pass for a
// report. It serves both the approval trigger and edit-triggered
// re-scoring, and is idempotent: a second run with no intervening edits
// leaves the same rows with the same scores. Runs for the same report
// are serialized; the report's approved status is re-checked before any
// row is written so a report deleted mid-flight aborts cleanly.
func (s *Service) ProcessReport(ctx context.Context, reportID string) (created, updated int, err error) {
	unlock := s.locks.Lock(reportID)
	defer unlock()

	metrics.WorkersInFlight.Inc()
	defer metrics.WorkersInFlight.Dec()
	start := time.Now()
	defer func() { metrics.GenerationDurationSeconds.Observe(time.Since(start).Seconds()) }()

	source, err := s.db.GetReport(ctx, reportID)
	if err != nil {
		metrics.GenerationRunsTotal.WithLabelValues("error").Inc()
		return 0, 0, err
	}

	if !source.Matchable() {
		// The report left the approved state (or was resolved); its
		// unreviewed pairings are dead. Promoted rows stay untouched.
		s.deindexReport(source.ID)
		n, dismissErr := s.db.DismissCandidatesForReport(ctx, source.ID)
		if dismissErr != nil {
			metrics.GenerationRunsTotal.WithLabelValues("error").Inc()
			return 0, 0, dismissErr
		}
		if n > 0 {
			metrics.TransitionsTotal.WithLabelValues(models.MatchStatusDismissed).Add(float64(n))
			log.WithFields(log.Fields{"report_id": source.ID, "dismissed": n}).
				Info("dismissed candidates for unmatchable report")
		}
		metrics.GenerationRunsTotal.WithLabelValues("dismissed").Inc()
		return 0, 0, nil
	}

	s.indexReport(source)

	candidates, err := s.generator.Generate(ctx, source)
	if err != nil {
		metrics.GenerationRunsTotal.WithLabelValues("error").Inc()
		return 0, 0, fmt.Errorf("failed to generate candidates for %s: %w", reportID, err)
	}

	// Generation is a pure read and can be slow; re-check the source
	// before committing anything so a report unapproved mid-flight
	// never produces partial writes.
	recheck, err := s.db.GetReport(ctx, reportID)
	if err != nil {
		metrics.GenerationRunsTotal.WithLabelValues("error").Inc()
		return 0, 0, err
	}
	if !recheck.Matchable() {
		log.WithField("report_id", reportID).Info("report left approved state mid-run, aborting")
		metrics.GenerationRunsTotal.WithLabelValues("aborted").Inc()
		return 0, 0, nil
	}

	generated := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		generated[c.ID] = struct{}{}
		breakdown := scoring.Score(source, c, s.cfg)
		outcome, upsertErr := s.db.UpsertCandidate(ctx, source.ID, c.ID, &breakdown)
		if upsertErr != nil {
			metrics.GenerationRunsTotal.WithLabelValues("error").Inc()
			return created, updated, upsertErr
		}
		switch outcome {
		case database.UpsertCreated:
			created++
			metrics.CandidatesUpsertedTotal.WithLabelValues("created").Inc()
		case database.UpsertUpdated:
			updated++
			metrics.CandidatesUpsertedTotal.WithLabelValues("updated").Inc()
		default:
			metrics.CandidatesUpsertedTotal.WithLabelValues("skipped").Inc()
		}
		if s.cfg.AutoPromoteThreshold > 0 && breakdown.Total >= s.cfg.AutoPromoteThreshold {
			if s.autoPromote(ctx, source.ID, c.ID) {
				// Promotion resolved the source; any further rows would
				// be candidates for a resolved report.
				metrics.GenerationRunsTotal.WithLabelValues("ok").Inc()
				log.WithFields(log.Fields{
					"report_id":    reportID,
					"candidate_id": c.ID,
					"created":      created,
					"updated":      updated,
				}).Info("generation run ended by auto-promotion")
				return created, updated, nil
			}
		}
	}

	// Candidate-state rows that an earlier run created but this pass no
	// longer retrieves still get fresh scores; dropping them is the
	// orphan re-scan's call, not ours.
	if rescoreErr := s.rescoreLeftovers(ctx, source, generated); rescoreErr != nil {
		log.WithError(rescoreErr).WithField("report_id", reportID).
			Warn("failed to rescore existing candidate rows")
	}

	metrics.GenerationRunsTotal.WithLabelValues("ok").Inc()
	log.WithFields(log.Fields{
		"report_id":  reportID,
		"candidates": len(candidates),
		"created":    created,
		"updated":    updated,
	}).Info("generation run complete")
	return created, updated, nil
}

// rescoreLeftovers refreshes scores on candidate-state rows involving
// the source that the current generation pass did not produce.
func (s *Service) rescoreLeftovers(ctx context.Context, source *models.Report, generated map[string]struct{}) error {
	existing, err := s.db.ListCandidatePairsForReport(ctx, source.ID)
	if err != nil {
		return err
	}
	for _, m := range existing {
		otherID := m.CandidateReportID
		if otherID == source.ID {
			otherID = m.SourceReportID
		}
		if _, ok := generated[otherID]; ok {
			continue
		}
		other, err := s.db.GetReport(ctx, otherID)
		if err != nil {
			if err == database.ErrNotFound {
				continue
			}
			return err
		}
		if !other.Matchable() {
			continue
		}
		breakdown := scoring.Score(source, other, s.cfg)
		if _, err := s.db.UpsertCandidate(ctx, source.ID, otherID, &breakdown); err != nil {
			return err
		}
	}
	return nil
}

// autoPromote promotes a freshly scored pair that cleared the
// high-confidence threshold. Failures are logged, not fatal: the row
// stays a candidate for human review. Reports whether the promotion
// went through, since it resolves the source report as a side effect.
func (s *Service) autoPromote(ctx context.Context, sourceID, candidateID string) bool {
	m, err := s.db.GetMatchByPair(ctx, sourceID, candidateID)
	if err != nil {
		log.WithError(err).Warn("auto-promotion lookup failed")
		return false
	}
	if m.Status != models.MatchStatusCandidate {
		return false
	}
	if err := s.Promote(ctx, m.ID, "auto"); err != nil {
		log.WithError(err).WithField("match_id", m.ID).Warn("auto-promotion failed")
		return false
	}
	return true
}

// HandleReportEvent is the AMQP entry point. Approval and edit events
// trigger a generation run; unapproval dismisses pending candidates.
func (s *Service) HandleReportEvent(routingKey string, body []byte) error {
	var ev models.ReportEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("failed to decode report event: %w", err)
	}
	if ev.ReportID == "" {
		return fmt.Errorf("report event without report_id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch routingKey {
	case models.EventReportApproved, models.EventReportUpdated, models.EventReportUnapproved:
		// ProcessReport inspects the current report state itself, so
		// all three events converge on the same serialized path.
		_, _, err := s.ProcessReport(ctx, ev.ReportID)
		return err
	default:
		log.WithField("routing_key", routingKey).Debug("ignoring report event")
		return nil
	}
}

// rescanLoop periodically dismisses candidate rows whose reports have
// left the matchable population. A safety net behind the event path.
func (s *Service) rescanLoop() {
	defer s.wg.Done()
	if s.cfg.RescanInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, err := s.db.DismissOrphanedCandidates(ctx)
			cancel()
			if err != nil {
				log.WithError(err).Warn("orphan re-scan failed")
				continue
			}
			if n > 0 {
				metrics.TransitionsTotal.WithLabelValues(models.MatchStatusDismissed).Add(float64(n))
				log.WithField("dismissed", n).Info("orphan re-scan dismissed stale candidates")
			}
		}
	}
}

// ListMatches returns the ranked pairings for a report with their full
// score breakdowns, for review UIs.
func (s *Service) ListMatches(ctx context.Context, reportID string) ([]*models.MatchCandidate, error) {
	return s.db.ListMatchesForReport(ctx, reportID)
}

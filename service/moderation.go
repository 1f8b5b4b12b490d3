package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/apex/log"

	"report-match-engine/database"
	"report-match-engine/metrics"
	"report-match-engine/models"
)

// Bulk moderation actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionNotify  = "notify"
)

// BulkLimit caps how many ids one bulk request may carry.
const BulkLimit = 100

// Promote moves a candidate pairing to promoted and enqueues one
// notification per distinct report owner. The dispatch is fire-and-
// forget: a publish failure never rolls the transition back.
func (s *Service) Promote(ctx context.Context, matchID, actor string) error {
	if err := s.db.TransitionMatch(ctx, matchID, models.MatchStatusPromoted); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(models.MatchStatusPromoted).Inc()
	s.audit(ctx, actor, "match_promote", matchID, nil)

	if err := s.resolveMatchedReports(ctx, matchID); err != nil {
		log.WithError(err).WithField("match_id", matchID).
			Warn("failed to resolve matched reports, transition stands")
	}

	if err := s.notifyOwners(ctx, matchID); err != nil {
		log.WithError(err).WithField("match_id", matchID).
			Warn("promotion notification incomplete, transition stands")
	}
	return nil
}

// resolveMatchedReports marks both reports of a promoted match resolved
// (the one report field this engine writes), drops them from the
// retrieval indexes and dismisses their remaining unreviewed pairings.
func (s *Service) resolveMatchedReports(ctx context.Context, matchID string) error {
	m, err := s.db.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	for _, id := range []string{m.SourceReportID, m.CandidateReportID} {
		if err := s.db.SetReportResolved(ctx, id); err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		s.deindexReport(id)
		n, err := s.db.DismissCandidatesForReport(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.TransitionsTotal.WithLabelValues(models.MatchStatusDismissed).Add(float64(n))
		}
	}
	return nil
}

// Reject moves a candidate pairing to suppressed. No notification.
func (s *Service) Reject(ctx context.Context, matchID, actor string) error {
	if err := s.db.TransitionMatch(ctx, matchID, models.MatchStatusSuppressed); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(models.MatchStatusSuppressed).Inc()
	s.audit(ctx, actor, "match_reject", matchID, nil)
	return nil
}

// Notify re-dispatches the notifications for an already-promoted
// pairing without changing its state.
func (s *Service) Notify(ctx context.Context, matchID, actor string) error {
	m, err := s.db.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status != models.MatchStatusPromoted {
		return fmt.Errorf("match %s is %s: %w", matchID, m.Status, database.ErrInvalidTransition)
	}
	s.audit(ctx, actor, "match_renotify", matchID, nil)
	return s.notifyOwners(ctx, matchID)
}

// BulkTransition applies one moderation action to up to BulkLimit
// match ids. Each id is processed independently; a failure is recorded
// in the tally and the batch continues.
func (s *Service) BulkTransition(ctx context.Context, ids []string, action, actor string) (*models.BulkResponse, error) {
	if len(ids) == 0 || len(ids) > BulkLimit {
		return nil, fmt.Errorf("ids length must be 1..%d, got %d", BulkLimit, len(ids))
	}

	var apply func(ctx context.Context, id, actor string) error
	switch action {
	case ActionApprove:
		apply = s.Promote
	case ActionReject:
		apply = s.Reject
	case ActionNotify:
		apply = s.Notify
	default:
		return nil, fmt.Errorf("unknown bulk action %q", action)
	}

	resp := &models.BulkResponse{Errors: []models.BulkError{}}
	for _, id := range ids {
		if err := apply(ctx, id, actor); err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, models.BulkError{ID: id, Error: bulkErrorMessage(err)})
			continue
		}
		resp.Success++
	}

	log.WithFields(log.Fields{
		"action":  action,
		"actor":   actor,
		"success": resp.Success,
		"failed":  resp.Failed,
	}).Info("bulk moderation complete")
	return resp, nil
}

// bulkErrorMessage maps internal errors to the short per-id messages
// the admin surface shows.
func bulkErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, database.ErrNotFound):
		return "not found"
	case errors.Is(err, database.ErrInvalidTransition):
		return "invalid state"
	default:
		return err.Error()
	}
}

// audit appends a moderation event, best-effort.
func (s *Service) audit(ctx context.Context, actor, action, matchID string, details any) {
	ev := database.ModerationEvent{
		Actor:      actor,
		Action:     action,
		TargetType: "match_candidate",
		TargetID:   matchID,
		Details:    details,
	}
	if err := s.db.InsertModerationEvent(ctx, ev); err != nil {
		log.WithError(err).WithField("match_id", matchID).Warn("failed to write audit event")
	}
}

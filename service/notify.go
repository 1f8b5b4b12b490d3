package service

import (
	"context"
	"time"

	"github.com/apex/log"

	"report-match-engine/metrics"
	"report-match-engine/models"
)

type retryItem struct {
	event    models.NotificationEvent
	attempts int
}

// notifyOwners builds and dispatches one match_found event per distinct
// report owner in the pair. A pair whose reports share an owner gets no
// notification at all; when one side's owner cannot be determined, the
// surviving owner is still notified.
func (s *Service) notifyOwners(ctx context.Context, matchID string) error {
	m, err := s.db.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	reports, err := s.db.GetReportsByIDs(ctx, []string{m.SourceReportID, m.CandidateReportID})
	if err != nil {
		return err
	}

	seen := map[string]struct{}{}
	owners := make([]string, 0, 2)
	missing := false
	for _, id := range []string{m.SourceReportID, m.CandidateReportID} {
		r, ok := reports[id]
		if !ok || r.OwnerID == "" {
			missing = true
			continue
		}
		if _, dup := seen[r.OwnerID]; dup {
			continue
		}
		seen[r.OwnerID] = struct{}{}
		owners = append(owners, r.OwnerID)
	}
	if len(owners) == 0 {
		log.WithField("match_id", matchID).Warn("no reachable owners, skipping notification")
		return nil
	}
	if !missing && len(owners) < 2 {
		log.WithField("match_id", matchID).Debug("pair shares an owner, skipping notification")
		return nil
	}

	for _, owner := range owners {
		s.dispatch(models.NotificationEvent{
			RecipientOwnerID: owner,
			MatchCandidateID: matchID,
			Kind:             models.NotificationKindMatchFound,
			Timestamp:        time.Now().UTC(),
		}, 0)
	}
	return nil
}

// dispatch publishes one event. Failures are logged, counted and queued
// for out-of-band retry; they never propagate to the state transition
// that produced the event. Delivery is at-least-once.
func (s *Service) dispatch(ev models.NotificationEvent, attempts int) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ev); err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		log.WithError(err).WithFields(log.Fields{
			"match_id":  ev.MatchCandidateID,
			"recipient": ev.RecipientOwnerID,
			"attempts":  attempts,
		}).Error("failed to publish notification")

		if attempts+1 >= s.cfg.NotifyRetryAttempts {
			metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
			log.WithField("match_id", ev.MatchCandidateID).Error("notification dropped after retries")
			return
		}
		select {
		case s.retryQ <- retryItem{event: ev, attempts: attempts + 1}:
		default:
			metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
			log.WithField("match_id", ev.MatchCandidateID).Error("notification retry queue full, dropping")
		}
		return
	}
	metrics.NotificationsTotal.WithLabelValues("ok").Inc()
}

// notifyRetryLoop re-publishes failed notifications with a fixed
// backoff between attempts.
func (s *Service) notifyRetryLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case item := <-s.retryQ:
			select {
			case <-s.stopChan:
				return
			case <-time.After(s.cfg.NotifyRetryBackoff):
			}
			s.dispatch(item.event, item.attempts)
		}
	}
}

package models

import "time"

// Match statuses. "candidate" is the initial state; "promoted" is a
// confirmed match; "suppressed" and "dismissed" are terminal rejections
// (human and automated respectively).
const (
	MatchStatusCandidate  = "candidate"
	MatchStatusPromoted   = "promoted"
	MatchStatusSuppressed = "suppressed"
	MatchStatusDismissed  = "dismissed"
)

// ScoreBreakdown holds the per-signal sub-scores and the fused total
// for one candidate pairing. A nil sub-score means the signal was
// unavailable for the pair; present sub-scores are always in [0,1].
type ScoreBreakdown struct {
	Total float64  `json:"score_total"`
	Text  *float64 `json:"score_text,omitempty"`
	Image *float64 `json:"score_image,omitempty"`
	Geo   *float64 `json:"score_geo,omitempty"`
	Time  *float64 `json:"score_time,omitempty"`
	Color *float64 `json:"score_color,omitempty"`
}

// SignalCount returns how many sub-scores are present. Used as the
// first tie-breaker between pairs with equal totals.
func (b *ScoreBreakdown) SignalCount() int {
	n := 0
	for _, s := range []*float64{b.Text, b.Image, b.Geo, b.Time, b.Color} {
		if s != nil {
			n++
		}
	}
	return n
}

// MatchCandidate is one scored pairing between a source report and an
// opposite-kind candidate report. Exactly one row exists per unordered
// pair; the pair_lo/pair_hi canonical key enforces that in storage.
type MatchCandidate struct {
	ID                string         `json:"id"`
	SourceReportID    string         `json:"source_report_id"`
	CandidateReportID string         `json:"candidate_report_id"`
	Status            string         `json:"status"`
	Scores            ScoreBreakdown `json:"scores"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// PairKey returns the canonicalized (lo, hi) key for an unordered pair
// of report ids. Both generation directions map to the same key, which
// is what the storage uniqueness constraint is declared on.
func PairKey(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}

// NotificationKindMatchFound is the only event kind the engine emits.
const NotificationKindMatchFound = "match_found"

// NotificationEvent is the fire-and-forget record handed to the
// notification service when a pairing is promoted.
type NotificationEvent struct {
	RecipientOwnerID string    `json:"recipient_owner_id"`
	MatchCandidateID string    `json:"match_candidate_id"`
	Kind             string    `json:"kind"`
	Timestamp        time.Time `json:"timestamp"`
}

// Report lifecycle routing keys consumed from RabbitMQ.
const (
	EventReportApproved   = "report.approved"
	EventReportUpdated    = "report.updated"
	EventReportUnapproved = "report.unapproved"
)

// ReportEvent is the payload published by the report-authoring service
// on report lifecycle changes.
type ReportEvent struct {
	ReportID  string    `json:"report_id"`
	Timestamp time.Time `json:"timestamp"`
}

// BulkRequest is the request body shared by the bulk moderation
// endpoints. Ids length is validated to 1..100 before any work starts.
type BulkRequest struct {
	IDs []string `json:"ids"`
}

// BulkError reports why one id in a bulk request failed.
type BulkError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResponse is the per-id tally returned by every bulk endpoint.
// One bad id never fails the batch.
type BulkResponse struct {
	Success int         `json:"success"`
	Failed  int         `json:"failed"`
	Errors  []BulkError `json:"errors"`
}

// GenerateResponse is returned by the generation trigger endpoint.
type GenerateResponse struct {
	ReportID string `json:"report_id"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
}

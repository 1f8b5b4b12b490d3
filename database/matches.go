package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"report-match-engine/models"
	"report-match-engine/scoring"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a state change is requested
	// on a row that is no longer in the candidate state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// UpsertOutcome describes what an upsert call did to the pair row.
type UpsertOutcome int

const (
	// UpsertCreated means a new candidate row was inserted.
	UpsertCreated UpsertOutcome = iota
	// UpsertUpdated means an existing candidate row had its scores refreshed.
	UpsertUpdated
	// UpsertSkipped means the row exists but was left alone: either it
	// has left the candidate state or the scores were already identical.
	UpsertSkipped
)

// UpsertCandidate inserts a candidate row for the unordered pair, or
// refreshes the scores of the existing row if it is still in the
// candidate state. Rows in any other state are never touched, which
// preserves moderation decisions. The uq_match_pair key makes this safe
// under two concurrent generation runs discovering the same pair from
// opposite directions: the losing insert lands on the update path.
func (d *Database) UpsertCandidate(ctx context.Context, sourceID, candidateID string, b *models.ScoreBreakdown) (UpsertOutcome, error) {
	if sourceID == candidateID {
		return UpsertSkipped, fmt.Errorf("self-match for report %s: %w", sourceID, ErrInvalidTransition)
	}
	lo, hi := models.PairKey(sourceID, candidateID)

	query := `
	INSERT INTO match_candidates (
		id, pair_lo, pair_hi, source_report_id, candidate_report_id, status,
		score_total, score_text, score_image, score_geo, score_time, score_color
	)
	VALUES (?, ?, ?, ?, ?, 'candidate', ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		score_total = IF(status = 'candidate', VALUES(score_total), score_total),
		score_text  = IF(status = 'candidate', VALUES(score_text), score_text),
		score_image = IF(status = 'candidate', VALUES(score_image), score_image),
		score_geo   = IF(status = 'candidate', VALUES(score_geo), score_geo),
		score_time  = IF(status = 'candidate', VALUES(score_time), score_time),
		score_color = IF(status = 'candidate', VALUES(score_color), score_color)`

	res, err := d.db.ExecContext(ctx, query,
		uuid.NewString(), lo, hi, sourceID, candidateID,
		b.Total,
		nullableFloat(b.Text),
		nullableFloat(b.Image),
		nullableFloat(b.Geo),
		nullableFloat(b.Time),
		nullableFloat(b.Color),
	)
	if err != nil {
		return UpsertSkipped, fmt.Errorf("failed to upsert match candidate (%s, %s): %w", lo, hi, err)
	}

	// MySQL reports 1 affected row for an insert, 2 for an update that
	// changed something, 0 when the row was left untouched.
	switch n, _ := res.RowsAffected(); n {
	case 1:
		return UpsertCreated, nil
	case 2:
		return UpsertUpdated, nil
	default:
		return UpsertSkipped, nil
	}
}

const matchColumns = `id, source_report_id, candidate_report_id, status,
	score_total, score_text, score_image, score_geo, score_time, score_color,
	created_at, updated_at`

// GetMatch fetches one match candidate row by id.
func (d *Database) GetMatch(ctx context.Context, id string) (*models.MatchCandidate, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM match_candidates WHERE id = ?`, id)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch match %s: %w", id, err)
	}
	return m, nil
}

// GetMatchByPair fetches the row for an unordered report pair.
func (d *Database) GetMatchByPair(ctx context.Context, a, b string) (*models.MatchCandidate, error) {
	lo, hi := models.PairKey(a, b)
	row := d.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM match_candidates WHERE pair_lo = ? AND pair_hi = ?`, lo, hi)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch match (%s, %s): %w", lo, hi, err)
	}
	return m, nil
}

// TransitionMatch moves a candidate-state row to the target state.
// Returns ErrNotFound for an unknown id and ErrInvalidTransition when
// the row has already left the candidate state; neither mutates
// anything, so a rejected transition never "succeeds" silently.
func (d *Database) TransitionMatch(ctx context.Context, id, target string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE match_candidates SET status = ? WHERE id = ? AND status = 'candidate'`,
		target, id)
	if err != nil {
		return fmt.Errorf("failed to transition match %s to %s: %w", id, target, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = d.db.QueryRowContext(ctx,
		`SELECT status FROM match_candidates WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check match %s: %w", id, err)
	}
	return fmt.Errorf("match %s is %s: %w", id, status, ErrInvalidTransition)
}

// ListMatchesForReport returns every pairing involving the report,
// ranked best-first by scoring.Less: total descending, then more
// signals present, then earlier creation of the paired report. The
// paired report is joined loosely so a row never vanishes from review
// when its counterpart report was deleted; such rows rank by their own
// creation time instead.
func (d *Database) ListMatchesForReport(ctx context.Context, reportID string) ([]*models.MatchCandidate, error) {
	query := `
	SELECT m.id, m.source_report_id, m.candidate_report_id, m.status,
		m.score_total, m.score_text, m.score_image, m.score_geo, m.score_time, m.score_color,
		m.created_at, m.updated_at,
		COALESCE(r.created_at, m.created_at) AS ranked_at
	FROM match_candidates m
	LEFT JOIN reports r ON r.id = IF(m.source_report_id = ?, m.candidate_report_id, m.source_report_id)
	WHERE m.source_report_id = ? OR m.candidate_report_id = ?`

	rows, err := d.db.QueryContext(ctx, query, reportID, reportID, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for report %s: %w", reportID, err)
	}
	defer rows.Close()

	type rankedMatch struct {
		match    *models.MatchCandidate
		rankedAt time.Time
	}
	var ranked []rankedMatch
	for rows.Next() {
		var (
			m                           models.MatchCandidate
			text, image, geo, tm, color sql.NullFloat64
			rankedAt                    time.Time
		)
		if err := rows.Scan(&m.ID, &m.SourceReportID, &m.CandidateReportID, &m.Status,
			&m.Scores.Total, &text, &image, &geo, &tm, &color,
			&m.CreatedAt, &m.UpdatedAt, &rankedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.Scores.Text = floatPtr(text)
		m.Scores.Image = floatPtr(image)
		m.Scores.Geo = floatPtr(geo)
		m.Scores.Time = floatPtr(tm)
		m.Scores.Color = floatPtr(color)
		ranked = append(ranked, rankedMatch{match: &m, rankedAt: rankedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return scoring.Less(
			ranked[i].match.Scores.Total, ranked[i].match.Scores.SignalCount(), ranked[i].rankedAt,
			ranked[j].match.Scores.Total, ranked[j].match.Scores.SignalCount(), ranked[j].rankedAt)
	})

	matches := make([]*models.MatchCandidate, len(ranked))
	for i, r := range ranked {
		matches[i] = r.match
	}
	return matches, nil
}

// ListCandidatePairsForReport returns the still-candidate rows that
// involve the report, for edit-triggered re-scoring. Promoted and
// rejected rows are deliberately invisible here.
func (d *Database) ListCandidatePairsForReport(ctx context.Context, reportID string) ([]*models.MatchCandidate, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM match_candidates
		 WHERE status = 'candidate' AND (source_report_id = ? OR candidate_report_id = ?)`,
		reportID, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate pairs for report %s: %w", reportID, err)
	}
	defer rows.Close()

	var matches []*models.MatchCandidate
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DismissCandidatesForReport moves every candidate-state row involving
// the report to dismissed. Used when a report leaves the approved state
// before human review. Returns the number of rows dismissed.
func (d *Database) DismissCandidatesForReport(ctx context.Context, reportID string) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE match_candidates SET status = 'dismissed'
		 WHERE status = 'candidate' AND (source_report_id = ? OR candidate_report_id = ?)`,
		reportID, reportID)
	if err != nil {
		return 0, fmt.Errorf("failed to dismiss candidates for report %s: %w", reportID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DismissOrphanedCandidates moves to dismissed every candidate-state
// row whose reports are no longer both approved and unresolved,
// including rows whose report row was deleted outright. Run
// periodically as a safety net behind the event-driven path.
func (d *Database) DismissOrphanedCandidates(ctx context.Context) (int, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE match_candidates m
		LEFT JOIN reports s ON s.id = m.source_report_id
		LEFT JOIN reports c ON c.id = m.candidate_report_id
		SET m.status = 'dismissed'
		WHERE m.status = 'candidate'
		  AND (s.id IS NULL OR c.id IS NULL
		       OR s.status <> 'approved' OR s.resolved
		       OR c.status <> 'approved' OR c.resolved)`)
	if err != nil {
		return 0, fmt.Errorf("failed to dismiss orphaned candidates: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanMatch(row rowScanner) (*models.MatchCandidate, error) {
	var (
		m                           models.MatchCandidate
		text, image, geo, tm, color sql.NullFloat64
	)
	err := row.Scan(&m.ID, &m.SourceReportID, &m.CandidateReportID, &m.Status,
		&m.Scores.Total, &text, &image, &geo, &tm, &color,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Scores.Text = floatPtr(text)
	m.Scores.Image = floatPtr(image)
	m.Scores.Geo = floatPtr(geo)
	m.Scores.Time = floatPtr(tm)
	m.Scores.Color = floatPtr(color)
	return &m, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

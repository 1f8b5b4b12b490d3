package database

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"report-match-engine/models"
)

const reportColumns = `id, owner_id, kind, status, category, colors, occurred_at,
	latitude, longitude, embedding, image_hash, resolved, created_at`

// GetReport fetches one report by id.
func (d *Database) GetReport(ctx context.Context, id string) (*models.Report, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report %s: %w", id, err)
	}
	return r, nil
}

// GetReportsByIDs fetches a set of reports keyed by id. Missing ids are
// silently absent from the result.
func (d *Database) GetReportsByIDs(ctx context.Context, ids []string) (map[string]*models.Report, error) {
	if len(ids) == 0 {
		return map[string]*models.Report{}, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*models.Report, len(ids))
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		result[r.ID] = r
	}
	return result, rows.Err()
}

// ListMatchableReports returns all approved, unresolved reports. Used
// to warm the in-memory retrieval indexes at startup.
func (d *Database) ListMatchableReports(ctx context.Context) ([]*models.Report, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE status = ? AND resolved = FALSE`,
		models.ReportStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to query matchable reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// SetReportResolved marks a report resolved. This is the only report
// field the engine ever writes.
func (d *Database) SetReportResolved(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE reports SET resolved = TRUE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark report %s resolved: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var (
		r          models.Report
		category   sql.NullString
		colorsJSON sql.NullString
		occurredAt sql.NullTime
		lat, lon   sql.NullFloat64
		embedding  []byte
		imageHash  []byte
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.Kind, &r.Status, &category, &colorsJSON,
		&occurredAt, &lat, &lon, &embedding, &imageHash, &r.Resolved, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Category = category.String
	if colorsJSON.Valid && colorsJSON.String != "" {
		if err := json.Unmarshal([]byte(colorsJSON.String), &r.Colors); err != nil {
			return nil, fmt.Errorf("failed to decode colors for report %s: %w", r.ID, err)
		}
	}
	if occurredAt.Valid {
		t := occurredAt.Time
		r.OccurredAt = &t
	}
	if lat.Valid && lon.Valid {
		la, lo := lat.Float64, lon.Float64
		r.Latitude, r.Longitude = &la, &lo
	}
	r.Embedding = DecodeVector(embedding)
	r.ImageHash = imageHash
	return &r, nil
}

// EncodeVector packs an embedding as little-endian float32 bytes, the
// layout the vectorizer service writes to the reports table.
func EncodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a little-endian float32 blob. Returns nil for
// empty or truncated input.
func DecodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

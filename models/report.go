package models

import "time"

// Report kinds. A lost report is matched against the found population
// and vice versa.
const (
	ReportKindLost  = "lost"
	ReportKindFound = "found"
)

// Report statuses as written by the report-authoring service. Only
// approved, non-resolved reports participate in matching.
const (
	ReportStatusPending  = "pending"
	ReportStatusApproved = "approved"
	ReportStatusHidden   = "hidden"
	ReportStatusRemoved  = "removed"
)

// Report is the engine's read-mostly view of a lost/found report.
// Embedding and ImageHash are computed upstream; the engine never
// produces them, it only compares them. The engine writes exactly one
// field back: Resolved.
type Report struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Category   string     `json:"category"`
	Colors     []string   `json:"colors"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Embedding  []float32  `json:"embedding,omitempty"`
	ImageHash  []byte     `json:"image_hash,omitempty"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CounterpartKind returns the kind a report should be matched against.
func CounterpartKind(kind string) string {
	if kind == ReportKindLost {
		return ReportKindFound
	}
	return ReportKindLost
}

// HasLocation reports whether both coordinates are present.
func (r *Report) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// HasSignal reports whether the report carries at least one signal the
// generator can retrieve on. Reports without any signal produce an
// empty candidate set rather than an error.
func (r *Report) HasSignal() bool {
	return len(r.Embedding) > 0 || len(r.ImageHash) > 0 || r.HasLocation()
}

// Matchable reports whether the report may participate in matching at all.
func (r *Report) Matchable() bool {
	return r.Status == ReportStatusApproved && !r.Resolved
}

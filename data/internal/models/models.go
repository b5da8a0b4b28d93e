// Package models declares the archive service's persistence capability
// interface, per SPEC_FULL.md's "audit consumer implemented" scoping for
// data/. It deliberately duplicates rather than imports
// broker/internal/audit.Record: Go's internal-package visibility rule
// confines broker/internal/... to importers rooted under broker/, and
// data/ is a sibling top-level service, not a broker component.
package models

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one persisted audit event. Data is kept as raw JSON rather
// than decoded into a concrete struct: the archive service persists and
// replays audit events without needing to understand every producer's
// payload shape, per spec.md §4.H ("consumers... persist records after
// parsing timestamps with RFC3339").
type Record struct {
	Kind       string          `json:"kind"`
	Data       json.RawMessage `json:"data"`
	Source     string          `json:"source"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// ListCond filters a record listing.
type ListCond struct {
	Kind string
	// Since/Until bound ReceivedAt, zero value meaning unbounded.
	Since time.Time
	Until time.Time
}

// ListOptions paginates a listing, mirroring broker/internal/models'
// offset/limit convention (see DESIGN.md's Open Question decision on
// cursor-based listing).
type ListOptions struct {
	Offset int
	Limit  int
}

// RecordRepo persists and queries audit records.
type RecordRepo interface {
	Add(ctx context.Context, r Record) error
	Count(ctx context.Context, cond ListCond) (int64, error)
	List(ctx context.Context, cond ListCond, opts ListOptions) ([]Record, error)
}

// Repo bundles the archive service's storage capability. Close releases
// any underlying connection.
type Repo interface {
	Close(ctx context.Context) error
	Record() RecordRepo
}

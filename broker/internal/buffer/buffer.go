// Package buffer implements the downlink data buffer described in
// SPEC_FULL.md §4.G: a short-lived correlation record between a downlink
// request sent to a network and the result report that eventually arrives
// on that network's dldata-result queue.
package buffer

import (
	"context"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

// DefaultTTL is the default buffer entry lifetime, per spec.md §4.G.
const DefaultTTL = 86400 * time.Second

// DefaultGCInterval is a reasonable periodic-sweep cadence for backends
// without a native TTL index (sqlite). MongoDB relies on its own TTL
// index instead; see StartGC.
const DefaultGCInterval = time.Minute

// Entry is one downlink request awaiting its result, denormalized the way
// the network and application managers need it without a join.
type Entry struct {
	DataID          string
	CorrelationID   string
	UnitID          string
	UnitCode        string
	ApplicationID   string
	ApplicationCode string
	NetworkID       string
	NetworkAddr     string
	DeviceID        string
}

// Resolution describes what a downlink-result status means for a buffer
// entry, per spec.md §4.G's status rule.
type Resolution int

const (
	// ResolutionKept means the entry is left in place: the result was
	// negative (in-progress) and a later status may still arrive.
	ResolutionKept Resolution = iota
	// ResolutionClosed means the entry was deleted: the result was zero
	// (success) or positive (terminal failure).
	ResolutionClosed
	// ResolutionStale means no entry was found (already closed, or its
	// TTL already expired): callers should emit a "stale-result" audit
	// record and otherwise do nothing.
	ResolutionStale
)

// Buffer wraps a models.DlDataBufferRepo with the TTL and status-rule
// semantics the routing engine's downlink paths need.
type Buffer struct {
	repo models.DlDataBufferRepo
	ttl  time.Duration
}

// Options configures New.
type Options struct {
	// TTL is the buffer entry lifetime; <= 0 uses DefaultTTL.
	TTL time.Duration
}

// New wraps repo with the buffer semantics. repo is typically
// models.Repo.DlDataBuffer() from whichever backend (mongodb/sqlite/
// memory) the broker is configured with.
func New(repo models.DlDataBufferRepo, opts Options) *Buffer {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Buffer{repo: repo, ttl: ttl}
}

// Insert allocates a new buffer record for a downlink request, stamping
// created_at/expired_at per the configured TTL. The record keeps the
// caller's e.DataID; only an error is returned.
func (b *Buffer) Insert(ctx context.Context, e Entry, now time.Time) error {
	row := &models.DlDataBuffer{
		DataID:          e.DataID,
		CorrelationID:   e.CorrelationID,
		UnitID:          e.UnitID,
		UnitCode:        e.UnitCode,
		ApplicationID:   e.ApplicationID,
		ApplicationCode: e.ApplicationCode,
		NetworkID:       e.NetworkID,
		NetworkAddr:     e.NetworkAddr,
		DeviceID:        e.DeviceID,
		CreatedAt:       now,
		ExpiredAt:       now.Add(b.ttl),
	}
	if err := b.repo.Add(ctx, row); err != nil {
		return errors.Wrap(err, "insert downlink buffer entry")
	}
	return nil
}

// Get returns the buffer entry for dataID, or nil if absent or expired.
func (b *Buffer) Get(ctx context.Context, dataID string, now time.Time) (*Entry, error) {
	row, err := b.repo.Get(ctx, dataID)
	if err != nil {
		return nil, errors.Wrap(err, "get downlink buffer entry")
	}
	if row == nil || !row.ExpiredAt.After(now) {
		return nil, nil
	}
	return &Entry{
		DataID:          row.DataID,
		CorrelationID:   row.CorrelationID,
		UnitID:          row.UnitID,
		UnitCode:        row.UnitCode,
		ApplicationID:   row.ApplicationID,
		ApplicationCode: row.ApplicationCode,
		NetworkID:       row.NetworkID,
		NetworkAddr:     row.NetworkAddr,
		DeviceID:        row.DeviceID,
	}, nil
}

// Resolve applies the status rule from spec.md §4.G to the buffer entry
// for dataID: status == 0 (success) or status > 0 (terminal failure)
// deletes the entry; status < 0 (in-progress) keeps it. Returns the
// entry found (if any, pre-deletion) and how it was resolved.
func (b *Buffer) Resolve(ctx context.Context, dataID string, status int, now time.Time) (*Entry, Resolution, error) {
	entry, err := b.Get(ctx, dataID, now)
	if err != nil {
		return nil, ResolutionStale, err
	}
	if entry == nil {
		return nil, ResolutionStale, nil
	}
	if status < 0 {
		return entry, ResolutionKept, nil
	}
	if err := b.repo.Delete(ctx, models.DlDataBufferQueryCond{DataID: dataID}); err != nil {
		return entry, ResolutionClosed, errors.Wrap(err, "delete resolved downlink buffer entry")
	}
	return entry, ResolutionClosed, nil
}

// List returns buffer entries matching cond, for CRUD/inspection edges.
func (b *Buffer) List(ctx context.Context, cond models.DlDataBufferListCond, opts models.ListOptions) ([]models.DlDataBuffer, error) {
	return b.repo.List(ctx, cond, opts)
}

// Count returns the number of buffer entries matching cond.
func (b *Buffer) Count(ctx context.Context, cond models.DlDataBufferListCond) (int64, error) {
	return b.repo.Count(ctx, cond)
}

// StartGC runs a periodic sweep deleting expired entries, for backends
// without a native TTL index (sqlite). It is advisory: a MongoDB-backed
// Buffer doesn't need it (the collection's TTL index reaps expired rows
// on its own) but calling StartGC against one is harmless, just
// redundant. Returns a function that stops the sweep; safe to call once.
func (b *Buffer) StartGC(ctx context.Context, interval time.Duration, onSweep func(deleted int64, err error)) (stop func()) {
	if interval <= 0 {
		interval = DefaultGCInterval
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := b.repo.DeleteExpired(ctx, time.Now().UTC())
				if onSweep != nil {
					onSweep(n, err)
				}
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
	}
}

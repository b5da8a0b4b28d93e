// Package memory implements data/internal/models.Repo in-memory, styled
// after broker/internal/models/memory: a mutex-guarded slice good enough
// to drive the consumer and listing routes without a real database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sylvia-iot/sylvia-iot-core/data/internal/models"
)

// Repo is an in-memory data models.Repo. The zero value is not usable;
// use New.
type Repo struct {
	record *recordRepo
}

// New returns an empty in-memory repository.
func New() *Repo {
	return &Repo{record: &recordRepo{}}
}

func (r *Repo) Close(context.Context) error { return nil }
func (r *Repo) Record() models.RecordRepo   { return r.record }

type recordRepo struct {
	mu    sync.RWMutex
	items []models.Record
}

func (r *recordRepo) Add(_ context.Context, rec models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, rec)
	return nil
}

func (r *recordRepo) Count(_ context.Context, cond models.ListCond) (int64, error) {
	return int64(len(r.filter(cond))), nil
}

func (r *recordRepo) List(_ context.Context, cond models.ListCond, opts models.ListOptions) ([]models.Record, error) {
	items := r.filter(cond)
	sort.Slice(items, func(i, j int) bool { return items[i].ReceivedAt.Before(items[j].ReceivedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil, nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items, nil
}

func (r *recordRepo) filter(cond models.ListCond) []models.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Record, 0, len(r.items))
	for _, rec := range r.items {
		if cond.Kind != "" && rec.Kind != cond.Kind {
			continue
		}
		if !cond.Since.IsZero() && rec.ReceivedAt.Before(cond.Since) {
			continue
		}
		if !cond.Until.IsZero() && rec.ReceivedAt.After(cond.Until) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

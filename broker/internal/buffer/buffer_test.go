package buffer

import (
	"context"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models/memory"
)

func TestInsertAndGet(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := memory.New()
	b := New(repo.DlDataBuffer(), Options{TTL: time.Hour})

	now := time.Now().UTC()
	assert.Nil(b.Insert(ctx, Entry{DataID: "d1", CorrelationID: "corr1", DeviceID: "dev1"}, now))

	got, err := b.Get(ctx, "d1", now)
	assert.Nil(err)
	assert.NotNil(got)
	assert.Equal("corr1", got.CorrelationID)
}

func TestGetExpiredReturnsNil(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := memory.New()
	b := New(repo.DlDataBuffer(), Options{TTL: time.Second})

	now := time.Now().UTC()
	assert.Nil(b.Insert(ctx, Entry{DataID: "d1"}, now))

	got, err := b.Get(ctx, "d1", now.Add(2*time.Second))
	assert.Nil(err)
	assert.Nil(got)
}

func TestResolveSuccessDeletesEntry(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := memory.New()
	b := New(repo.DlDataBuffer(), Options{TTL: time.Hour})
	now := time.Now().UTC()
	assert.Nil(b.Insert(ctx, Entry{DataID: "d1", CorrelationID: "corr1"}, now))

	entry, res, err := b.Resolve(ctx, "d1", 0, now)
	assert.Nil(err)
	assert.Equal(ResolutionClosed, res)
	assert.NotNil(entry)
	assert.Equal("corr1", entry.CorrelationID)

	got, _ := b.Get(ctx, "d1", now)
	assert.Nil(got)
}

func TestResolveTerminalFailureDeletesEntry(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := memory.New()
	b := New(repo.DlDataBuffer(), Options{TTL: time.Hour})
	now := time.Now().UTC()
	assert.Nil(b.Insert(ctx, Entry{DataID: "d1"}, now))

	_, res, err := b.Resolve(ctx, "d1", 1, now)
	assert.Nil(err)
	assert.Equal(ResolutionClosed, res)

	got, _ := b.Get(ctx, "d1", now)
	assert.Nil(got)
}

func TestResolveInProgressKeepsEntry(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := memory.New()
	b := New(repo.DlDataBuffer(), Options{TTL: time.Hour})
	now := time.Now().UTC()
	assert.Nil(b.Insert(ctx, Entry{DataID: "d1"}, now))

	_, res, err := b.Resolve(ctx, "d1", -1, now)
	assert.Nil(err)
	assert.Equal(ResolutionKept, res)

	got, err := b.Get(ctx, "d1", now)
	assert.Nil(err)
	assert.NotNil(got)
}

func TestResolveUnknownIsStale(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := memory.New()
	b := New(repo.DlDataBuffer(), Options{})

	entry, res, err := b.Resolve(ctx, "missing", 0, time.Now().UTC())
	assert.Nil(err)
	assert.Nil(entry)
	assert.Equal(ResolutionStale, res)
}

func TestStartGCSweepsExpiredEntries(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := memory.New()
	b := New(repo.DlDataBuffer(), Options{})

	now := time.Now().UTC()
	assert.Nil(repo.DlDataBuffer().Add(ctx, &models.DlDataBuffer{
		DataID: "d1", CreatedAt: now, ExpiredAt: now.Add(-time.Second),
	}))

	swept := make(chan int64, 1)
	stop := b.StartGC(ctx, 10*time.Millisecond, func(n int64, err error) {
		assert.Nil(err)
		if n > 0 {
			select {
			case swept <- n:
			default:
			}
		}
	})
	defer stop()

	select {
	case n := <-swept:
		assert.Equal(int64(1), n)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for GC sweep")
	}
}

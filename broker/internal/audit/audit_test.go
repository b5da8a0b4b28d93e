package audit

import (
	"errors"
	"testing"

	lib "github.com/prometheus/client_golang/prometheus"
	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
)

type fakeQueue struct {
	failUntil int
	calls     int
	sent      [][]byte
}

func (f *fakeQueue) Connect() error { return nil }
func (f *fakeQueue) Close() error   { return nil }
func (f *fakeQueue) Send(p []byte) error {
	f.calls++
	if f.calls <= f.failUntil {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, p)
	return nil
}
func (f *fakeQueue) SetHandler(mq.Handler) {}
func (f *fakeQueue) Status() mq.Status     { return mq.StatusConnected }
func (f *fakeQueue) Name() string          { return "broker.data" }

func TestEmitSucceedsFirstTry(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{}
	e := New(q, nil, nil)

	e.Emit(KindNetworkUlData, map[string]string{"dataId": "d1"})
	assert.Len(q.sent, 1)
	assert.Contains(string(q.sent[0]), `"kind":"network-uldata"`)
}

func TestEmitRetriesThenSucceeds(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{failUntil: 2}
	e := New(q, nil, nil)

	e.Emit(KindOperation, map[string]string{})
	assert.Len(q.sent, 1)
	assert.Equal(3, q.calls)
}

func TestEmitDropsAfterExhaustingRetries(t *testing.T) {
	assert := tdd.New(t)
	reg := lib.NewRegistry()
	counter, err := NewCounter(reg, "broker.data")
	assert.Nil(err)

	q := &fakeQueue{failUntil: 100}
	e := New(q, counter, nil)

	e.Emit(KindOperation, map[string]string{})
	assert.Empty(q.sent)
	assert.Equal(maxRetries+1, q.calls)

	metrics, err := reg.Gather()
	assert.Nil(err)
	assert.Len(metrics, 1)
	assert.Equal(float64(1), metrics[0].GetMetric()[0].GetCounter().GetValue())
}

func TestNewCounterIsIdempotentAcrossCalls(t *testing.T) {
	assert := tdd.New(t)
	reg := lib.NewRegistry()
	c1, err := NewCounter(reg, "broker.data")
	assert.Nil(err)
	c2, err := NewCounter(reg, "broker.data")
	assert.Nil(err)
	assert.Equal(c1, c2)
}

package consumer

import (
	"context"
	"errors"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/data/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/data/internal/models/memory"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
)

type fakeQueue struct{ name string }

func (q *fakeQueue) Connect() error        { return nil }
func (q *fakeQueue) Close() error          { return nil }
func (q *fakeQueue) Send([]byte) error     { return nil }
func (q *fakeQueue) SetHandler(mq.Handler) {}
func (q *fakeQueue) Status() mq.Status     { return mq.StatusConnected }
func (q *fakeQueue) Name() string          { return q.name }

type fakeMessage struct {
	payload []byte
	acked   bool
	nacked  bool
	requeue bool
}

func (m *fakeMessage) Payload() []byte { return m.payload }
func (m *fakeMessage) Ack() error      { m.acked = true; return nil }
func (m *fakeMessage) Nack(requeue bool) error {
	m.nacked = true
	m.requeue = requeue
	return nil
}

func TestOnMessagePersistsRecord(t *testing.T) {
	assert := tdd.New(t)
	repo := memory.New()
	c := New(repo.Record(), "broker.data", nil)
	q := &fakeQueue{name: "broker.data"}

	msg := &fakeMessage{payload: []byte(`{"kind":"network-uldata","data":{"deviceId":"d1"}}`)}
	c.OnMessage(q, msg)
	assert.True(msg.acked)

	got, err := repo.Record().List(context.Background(), models.ListCond{}, models.ListOptions{})
	assert.Nil(err)
	assert.Len(got, 1)
	assert.Equal("network-uldata", got[0].Kind)
	assert.Equal("broker.data", got[0].Source)
}

func TestOnMessageDropsMalformedPayload(t *testing.T) {
	assert := tdd.New(t)
	repo := memory.New()
	c := New(repo.Record(), "broker.data", nil)
	q := &fakeQueue{name: "broker.data"}

	msg := &fakeMessage{payload: []byte(`not json`)}
	c.OnMessage(q, msg)
	assert.True(msg.acked)
	assert.False(msg.nacked)

	got, _ := repo.Record().List(context.Background(), models.ListCond{}, models.ListOptions{})
	assert.Len(got, 0)
}

type failingRepo struct{}

func (failingRepo) Add(context.Context, models.Record) error { return errors.New("db down") }
func (failingRepo) Count(context.Context, models.ListCond) (int64, error) { return 0, nil }
func (failingRepo) List(context.Context, models.ListCond, models.ListOptions) ([]models.Record, error) {
	return nil, nil
}

func TestOnMessageNacksOnStorageFailure(t *testing.T) {
	assert := tdd.New(t)
	c := New(failingRepo{}, "broker.data", nil)
	q := &fakeQueue{name: "broker.data"}

	msg := &fakeMessage{payload: []byte(`{"kind":"operation","data":{}}`)}
	c.OnMessage(q, msg)
	assert.True(msg.nacked)
	assert.True(msg.requeue)
	assert.False(msg.acked)
}

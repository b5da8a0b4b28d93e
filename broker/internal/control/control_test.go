package control

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
)

type fakeQueue struct {
	handler mq.Handler
	sent    [][]byte
	acked   int
}

func (f *fakeQueue) Connect() error { return nil }
func (f *fakeQueue) Close() error   { return nil }
func (f *fakeQueue) Send(p []byte) error {
	f.sent = append(f.sent, p)
	return nil
}
func (f *fakeQueue) SetHandler(h mq.Handler) { f.handler = h }
func (f *fakeQueue) Status() mq.Status       { return mq.StatusConnected }
func (f *fakeQueue) Name() string            { return "broker.ctrl.application" }

type fakeMessage struct {
	payload []byte
	acked   *int
}

func (m *fakeMessage) Payload() []byte      { return m.payload }
func (m *fakeMessage) Ack() error           { *m.acked++; return nil }
func (m *fakeMessage) Nack(bool) error       { return nil }

func TestChannelDispatchesAddManager(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{}
	var got AddManagerPayload
	calls := 0
	ch := New(q, Handlers{OnAddManager: func(p AddManagerPayload) { got = p; calls++ }}, nil)
	assert.NotNil(ch)

	acked := 0
	msg := &fakeMessage{payload: []byte(`{"operation":"add-manager","new":{"hostUri":"amqp://mq","mgrOptions":{"unitId":"u1","unitCode":"u1","id":"a2","name":"a2","prefetch":10}}}`), acked: &acked}
	q.handler.OnMessage(q, msg)

	assert.Equal(1, calls)
	assert.Equal(1, acked)
	assert.Equal("amqp://mq", got.HostURI)
	assert.Equal("a2", got.MgrOptions.Name)
	assert.Equal(10, got.MgrOptions.Prefetch)
}

func TestChannelMalformedEnvelopeIsAckedNotDispatched(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{}
	calls := 0
	New(q, Handlers{OnDelManager: func(DelManagerPayload) { calls++ }}, nil)

	acked := 0
	msg := &fakeMessage{payload: []byte(`not json`), acked: &acked}
	q.handler.OnMessage(q, msg)

	assert.Equal(0, calls)
	assert.Equal(1, acked)
}

func TestChannelMalformedPayloadIsAckedNotDispatched(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{}
	calls := 0
	New(q, Handlers{OnDelDevice: func(DelDevicePayload) { calls++ }}, nil)

	acked := 0
	msg := &fakeMessage{payload: []byte(`{"operation":"del-device","new":"not an object"}`), acked: &acked}
	q.handler.OnMessage(q, msg)

	assert.Equal(0, calls)
	assert.Equal(1, acked)
}

func TestChannelUnknownOperationIsAckedNotDispatched(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{}
	New(q, Handlers{}, nil)

	acked := 0
	msg := &fakeMessage{payload: []byte(`{"operation":"unknown-op","new":{}}`), acked: &acked}
	q.handler.OnMessage(q, msg)

	assert.Equal(1, acked)
}

func TestChannelNilHandlerIsAckedWithoutEffect(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{}
	New(q, Handlers{}, nil)

	acked := 0
	msg := &fakeMessage{payload: []byte(`{"operation":"del-network-route","new":{"networkId":"n1"}}`), acked: &acked}
	q.handler.OnMessage(q, msg)

	assert.Equal(1, acked)
}

func TestPublishEncodesEnvelope(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{}
	err := Publish(q, OpDelNetworkRoute, DelNetworkRoutePayload{NetworkID: "n1"})
	assert.Nil(err)
	assert.Len(q.sent, 1)
	assert.Contains(string(q.sent[0]), `"operation":"del-network-route"`)
	assert.Contains(string(q.sent[0]), `"networkId":"n1"`)
}

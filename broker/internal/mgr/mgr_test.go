package mgr

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/mq/pool"
)

type fakeQueue struct {
	name   string
	closed bool
	sent   [][]byte
}

func (f *fakeQueue) Connect() error      { return nil }
func (f *fakeQueue) Close() error        { f.closed = true; return nil }
func (f *fakeQueue) Send(p []byte) error { f.sent = append(f.sent, p); return nil }
func (f *fakeQueue) SetHandler(mq.Handler) {}
func (f *fakeQueue) Status() mq.Status     { return mq.StatusConnected }
func (f *fakeQueue) Name() string          { return f.name }

func TestOptionsUnitSegment(t *testing.T) {
	assert := tdd.New(t)
	assert.Equal("_", Options{}.unitSegment())
	assert.Equal("unit1", Options{UnitCode: "unit1"}.unitSegment())
}

func TestKeyFor(t *testing.T) {
	assert := tdd.New(t)
	k := KeyFor("application", Options{UnitCode: "unit1", Name: "app1"})
	assert.Equal(Key{Kind: "application", Unit: "unit1", Code: "app1"}, k)
	assert.Equal("application.unit1.app1", k.String())

	pub := KeyFor("network", Options{Name: "net1"})
	assert.Equal("network._.net1", pub.String())
}

func TestStatusWatcherRunningRequiresAll(t *testing.T) {
	assert := tdd.New(t)
	var transitions []bool
	w := newStatusWatcher(2, func(running bool) { transitions = append(transitions, running) })

	w.set("q1", true)
	assert.False(w.running())
	assert.Empty(transitions)

	w.set("q2", true)
	assert.True(w.running())
	assert.Equal([]bool{true}, transitions)

	w.set("q1", false)
	assert.False(w.running())
	assert.Equal([]bool{true, false}, transitions)

	// Flipping q1 back doesn't refire until the aggregate state actually changes.
	w.set("q1", true)
	assert.Equal([]bool{true, false, true}, transitions)
}

func TestQueueSetCloseAll(t *testing.T) {
	assert := tdd.New(t)
	var s queueSet
	q1 := &fakeQueue{name: "q1"}
	q2 := &fakeQueue{name: "q2"}
	s.add(q1)
	s.add(q2)

	assert.Nil(s.closeAll())
	assert.True(q1.closed)
	assert.True(q2.closed)
	// idempotent: a second close has nothing left to do.
	assert.Nil(s.closeAll())
}

func TestApplicationRetireIsIdempotent(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{name: "broker.application.unit1.app1.uldata"}
	a := &Application{
		opts: Options{UnitCode: "unit1", Name: "app1"},
		pl:   pool.New(nil),
		state: StateRunning,
	}
	a.queues.add(q)

	assert.Nil(a.Retire())
	assert.Equal(StateRetired, a.State())
	assert.True(q.closed)

	// second retire is a no-op, not an error.
	assert.Nil(a.Retire())
}

func TestNetworkRetireIsIdempotent(t *testing.T) {
	assert := tdd.New(t)
	q := &fakeQueue{name: "broker.network.unit1.net1.uldata"}
	n := &Network{
		opts: Options{UnitCode: "unit1", Name: "net1"},
		pl:   pool.New(nil),
		state: StateRunning,
	}
	n.queues.add(q)

	assert.Nil(n.Retire())
	assert.Equal(StateRetired, n.State())
	assert.True(q.closed)
}

func TestRegistryAddReplacesAndRetiresOld(t *testing.T) {
	assert := tdd.New(t)
	r := NewRegistry()

	mkApp := func() *Application {
		return &Application{opts: Options{UnitCode: "unit1", Name: "app1"}, pl: pool.New(nil), state: StateRunning}
	}

	first := mkApp()
	r.AddApplication(first)
	got, ok := r.Application(first.Key())
	assert.True(ok)
	assert.Equal(first, got)

	second := mkApp()
	r.AddApplication(second)
	got, ok = r.Application(second.Key())
	assert.True(ok)
	assert.Equal(second, got)
	assert.Equal(StateRetired, first.State())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	assert := tdd.New(t)
	r := NewRegistry()
	assert.Nil(r.RemoveApplication(Key{Kind: "application", Unit: "unit1", Code: "app1"}))

	a := &Application{opts: Options{UnitCode: "unit1", Name: "app1"}, pl: pool.New(nil), state: StateRunning}
	r.AddApplication(a)
	assert.Nil(r.RemoveApplication(a.Key()))
	assert.Equal(StateRetired, a.State())

	_, ok := r.Application(a.Key())
	assert.False(ok)

	// removing twice is still a no-op.
	assert.Nil(r.RemoveApplication(a.Key()))
}

func TestApplicationSendMethods(t *testing.T) {
	assert := tdd.New(t)
	uldata := &fakeQueue{name: "uldata"}
	resp := &fakeQueue{name: "dldata-resp"}
	result := &fakeQueue{name: "dldata-result"}
	a := &Application{uldata: uldata, dldataResp: resp, dldataResult: result}

	assert.Nil(a.Uplink([]byte("up")))
	assert.Nil(a.DownlinkResp([]byte("resp")))
	assert.Nil(a.DownlinkResult([]byte("result")))
	assert.Equal([][]byte{[]byte("up")}, uldata.sent)
	assert.Equal([][]byte{[]byte("resp")}, resp.sent)
	assert.Equal([][]byte{[]byte("result")}, result.sent)
}

func TestNetworkSendMethods(t *testing.T) {
	assert := tdd.New(t)
	dldata := &fakeQueue{name: "dldata"}
	ctrl := &fakeQueue{name: "ctrl"}
	n := &Network{dldata: dldata, ctrl: ctrl}

	assert.Nil(n.Downlink([]byte("down")))
	assert.Nil(n.Ctrl([]byte("ctrl-msg")))
	assert.Equal([][]byte{[]byte("down")}, dldata.sent)
	assert.Equal([][]byte{[]byte("ctrl-msg")}, ctrl.sent)
}

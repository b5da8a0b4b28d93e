package mqttmq

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
)

func TestSubscribeTopic(t *testing.T) {
	assert := tdd.New(t)

	unicast := &Queue{opts: mq.Options{Name: "broker.network._.foo.uldata", SharedPrefix: "worker"}}
	assert.Equal("$share/worker/broker.network._.foo.uldata", unicast.subscribeTopic())

	broadcast := &Queue{opts: mq.Options{Name: "broker.ctrl", Broadcast: true}}
	assert.Equal("broker.ctrl", broadcast.subscribeTopic())
}

func TestQoS(t *testing.T) {
	assert := tdd.New(t)

	reliable := &Queue{opts: mq.Options{Reliable: true}}
	assert.EqualValues(qosReliable, reliable.qos())

	bestEffort := &Queue{opts: mq.Options{Reliable: false}}
	assert.EqualValues(qosBestEffort, bestEffort.qos())
}

func TestNewRejectsUnicastWithoutSharedPrefix(t *testing.T) {
	assert := tdd.New(t)

	_, err := New("tcp://localhost:1883", mq.Options{
		Name:      "broker.network.u1.foo.uldata",
		Direction: mq.Recv,
	}, nil, nil)
	assert.NotNil(err)
}

func TestNewRejectsInvalidName(t *testing.T) {
	assert := tdd.New(t)

	_, err := New("tcp://localhost:1883", mq.Options{
		Name:      "Invalid Name",
		Direction: mq.Send,
	}, nil, nil)
	assert.NotNil(err)
}

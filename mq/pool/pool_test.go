package pool

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestDialUnsupportedScheme(t *testing.T) {
	assert := tdd.New(t)

	_, err := dial("redis://localhost:6379", nil, nil)
	assert.NotNil(err)
}

func TestPutUnknownURIIsNoop(t *testing.T) {
	assert := tdd.New(t)

	p := New(nil)
	assert.Nil(p.Put("amqp://localhost:5672"))
	assert.Equal(0, p.Size())
}

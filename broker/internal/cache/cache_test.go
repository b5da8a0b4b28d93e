package cache

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestDeviceCacheHitAndMiss(t *testing.T) {
	assert := tdd.New(t)
	c, err := NewDeviceCache(0)
	assert.Nil(err)

	_, ok := c.Get("unit1", "net1", "ABCD")
	assert.False(ok)

	c.Set("unit1", "net1", "ABCD", DeviceEntry{Found: true, DeviceID: "d1"})
	entry, ok := c.Get("unit1", "net1", "abcd")
	assert.True(ok)
	assert.Equal("d1", entry.DeviceID)
}

func TestDeviceCacheInvalidateNetworkRejectsEmptyUnit(t *testing.T) {
	assert := tdd.New(t)
	c, _ := NewDeviceCache(0)
	assert.NotNil(c.InvalidateNetwork("", ""))
}

func TestDeviceCacheInvalidateNetworkPrefix(t *testing.T) {
	assert := tdd.New(t)
	c, _ := NewDeviceCache(0)
	c.Set("unit1", "net1", "aaaa", DeviceEntry{Found: true, DeviceID: "d1"})
	c.Set("unit1", "net1", "bbbb", DeviceEntry{Found: true, DeviceID: "d2"})
	c.Set("unit1", "net2", "cccc", DeviceEntry{Found: true, DeviceID: "d3"})

	assert.Nil(c.InvalidateNetwork("unit1", "net1"))

	_, ok := c.Get("unit1", "net1", "aaaa")
	assert.False(ok)
	_, ok = c.Get("unit1", "net1", "bbbb")
	assert.False(ok)
	_, ok = c.Get("unit1", "net2", "cccc")
	assert.True(ok)
}

func TestDeviceCacheInvalidateUnitRejectsEmpty(t *testing.T) {
	assert := tdd.New(t)
	c, _ := NewDeviceCache(0)
	assert.NotNil(c.InvalidateUnit(""))
}

func TestRouteCacheSetGetInvalidate(t *testing.T) {
	assert := tdd.New(t)
	c, err := NewRouteCache(0)
	assert.Nil(err)

	c.Set("d1", []DeviceRouteEntry{{ApplicationID: "a1", ApplicationCode: "app1", UnitCode: "unit1"}})
	entries, ok := c.Get("d1")
	assert.True(ok)
	assert.Len(entries, 1)

	c.Invalidate("d1")
	_, ok = c.Get("d1")
	assert.False(ok)
}

func TestNetworkRouteCache(t *testing.T) {
	assert := tdd.New(t)
	c, err := NewNetworkRouteCache(0)
	assert.Nil(err)

	c.Set("n1", NetworkRouteEntry{AppMgrKeys: []string{"unit1.app1"}})
	entry, ok := c.Get("n1")
	assert.True(ok)
	assert.Equal([]string{"unit1.app1"}, entry.AppMgrKeys)

	c.Invalidate("n1")
	_, ok = c.Get("n1")
	assert.False(ok)
}

func TestCachesInvalidateDevice(t *testing.T) {
	assert := tdd.New(t)
	caches, err := New(Options{})
	assert.Nil(err)

	caches.Device.Set("unit1", "net1", "aaaa", DeviceEntry{Found: true, DeviceID: "d1"})
	caches.DeviceRoute.Set("d1", []DeviceRouteEntry{{ApplicationID: "a1"}})

	caches.InvalidateDevice("unit1", "net1", "aaaa", "d1")

	_, ok := caches.Device.Get("unit1", "net1", "aaaa")
	assert.False(ok)
	_, ok = caches.DeviceRoute.Get("d1")
	assert.False(ok)
}

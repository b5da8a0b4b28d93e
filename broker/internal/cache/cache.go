// Package cache implements the broker's device and route caches: bounded
// LRU lookups in front of the database, invalidated by prefix whenever a
// unit, network or device changes underneath them.
//
// Cache entries are always dominated by the database — a hit may be stale
// only until the next invalidation, a miss loads from the database and
// fills the cache. Device cache entries additionally cache *absence*: a
// lookup that resolved to "no such device" is itself cached, so that a
// storm of uplinks from an unregistered device address doesn't hammer the
// database on every message.
package cache

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

// DefaultCapacity is the default number of entries each cache holds, per
// SPEC_FULL.md §4.F.
const DefaultCapacity = 10000

// DeviceKey returns the device cache key for the given (unit code, network
// code, network address) triple. An empty unitCode denotes a public
// network, encoded as an empty leading segment.
func DeviceKey(unitCode, networkCode, networkAddr string) string {
	return unitCode + "." + networkCode + "." + strings.ToLower(networkAddr)
}

// DeviceEntry is the cached resolution of a device lookup. Found is false
// to record a cached "no such device" miss.
type DeviceEntry struct {
	Found    bool
	DeviceID string
	UnitID   string
	Profile  string
}

// DeviceCache caches unit_code.network_code.network_addr -> DeviceEntry.
type DeviceCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, DeviceEntry]
}

// NewDeviceCache returns a device cache with the given capacity; capacity
// <= 0 uses DefaultCapacity.
func NewDeviceCache(capacity int) (*DeviceCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[string, DeviceEntry](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "create device cache")
	}
	return &DeviceCache{lru: c}, nil
}

// Get returns the cached entry for the triple, if present.
func (c *DeviceCache) Get(unitCode, networkCode, networkAddr string) (DeviceEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(DeviceKey(unitCode, networkCode, networkAddr))
}

// Set caches entry for the triple, overwriting any existing value.
func (c *DeviceCache) Set(unitCode, networkCode, networkAddr string, entry DeviceEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(DeviceKey(unitCode, networkCode, networkAddr), entry)
}

// InvalidateTriple removes the single entry for the exact triple; used on a
// create/update/delete of one specific device.
func (c *DeviceCache) InvalidateTriple(unitCode, networkCode, networkAddr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(DeviceKey(unitCode, networkCode, networkAddr))
}

// InvalidateNetwork removes every device-cache entry under unitCode.networkCode,
// used on a network delete/recode or a bulk/range device operation.
//
// unitCode and networkCode must not both be empty: clearing every
// public-network device by an empty unitCode alone would evict the whole
// cache and is rejected.
func (c *DeviceCache) InvalidateNetwork(unitCode, networkCode string) error {
	if unitCode == "" && networkCode == "" {
		return errors.New("refusing to invalidate the entire device cache")
	}
	prefix := unitCode + "." + networkCode + "."
	c.invalidatePrefix(prefix)
	return nil
}

// InvalidateUnit removes every device-cache entry under unitCode, used on a
// unit delete. An empty unitCode is rejected for the same reason as
// InvalidateNetwork.
func (c *DeviceCache) InvalidateUnit(unitCode string) error {
	if unitCode == "" {
		return errors.New("refusing to invalidate the entire device cache")
	}
	c.invalidatePrefix(unitCode + ".")
	return nil
}

func (c *DeviceCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}

// Purge empties the cache.
func (c *DeviceCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// DeviceRouteEntry is one device-route binding, ordered as returned so
// fan-out preserves (unit_code, application_code) order.
type DeviceRouteEntry struct {
	ApplicationID   string
	ApplicationCode string
	UnitCode        string
}

// RouteCache caches device id -> ordered list of DeviceRouteEntry.
type RouteCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, []DeviceRouteEntry]
}

// NewRouteCache returns a device-route cache with the given capacity;
// capacity <= 0 uses DefaultCapacity.
func NewRouteCache(capacity int) (*RouteCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[string, []DeviceRouteEntry](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "create route cache")
	}
	return &RouteCache{lru: c}, nil
}

// Get returns the cached route list for deviceID, if present.
func (c *RouteCache) Get(deviceID string) ([]DeviceRouteEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(deviceID)
}

// Set caches the route list for deviceID.
func (c *RouteCache) Set(deviceID string, entries []DeviceRouteEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(deviceID, entries)
}

// Invalidate removes the cached route list for deviceID; used whenever a
// device is created/updated/deleted or a device route is created/deleted.
func (c *RouteCache) Invalidate(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(deviceID)
}

// Purge empties the cache.
func (c *RouteCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// NetworkRouteEntry is the broadcast fan-out target set for one network.
type NetworkRouteEntry struct {
	AppMgrKeys []string
}

// NetworkRouteCache caches network id -> NetworkRouteEntry.
type NetworkRouteCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, NetworkRouteEntry]
}

// NewNetworkRouteCache returns a network-route cache with the given
// capacity; capacity <= 0 uses DefaultCapacity.
func NewNetworkRouteCache(capacity int) (*NetworkRouteCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[string, NetworkRouteEntry](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "create network route cache")
	}
	return &NetworkRouteCache{lru: c}, nil
}

// Get returns the cached entry for networkID, if present.
func (c *NetworkRouteCache) Get(networkID string) (NetworkRouteEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(networkID)
}

// Set caches entry for networkID.
func (c *NetworkRouteCache) Set(networkID string, entry NetworkRouteEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(networkID, entry)
}

// Invalidate removes the cached entry for networkID; used on a network
// route create/delete or a network delete/recode.
func (c *NetworkRouteCache) Invalidate(networkID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(networkID)
}

// Purge empties the cache.
func (c *NetworkRouteCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Caches bundles the three caches the engine and CRUD edges share.
type Caches struct {
	Device       *DeviceCache
	DeviceRoute  *RouteCache
	NetworkRoute *NetworkRouteCache
}

// Options configures New.
type Options struct {
	DeviceCapacity       int
	DeviceRouteCapacity  int
	NetworkRouteCapacity int
}

// New builds the three caches per opts.
func New(opts Options) (*Caches, error) {
	dev, err := NewDeviceCache(opts.DeviceCapacity)
	if err != nil {
		return nil, err
	}
	route, err := NewRouteCache(opts.DeviceRouteCapacity)
	if err != nil {
		return nil, err
	}
	netRoute, err := NewNetworkRouteCache(opts.NetworkRouteCapacity)
	if err != nil {
		return nil, err
	}
	return &Caches{Device: dev, DeviceRoute: route, NetworkRoute: netRoute}, nil
}

// InvalidateDevice applies the full device-invalidation rule set for one
// device change: remove its device-cache triple and its route-cache entry.
func (c *Caches) InvalidateDevice(unitCode, networkCode, networkAddr, deviceID string) {
	c.Device.InvalidateTriple(unitCode, networkCode, networkAddr)
	c.DeviceRoute.Invalidate(deviceID)
}

// InvalidateNetwork applies the full network-invalidation rule set for a
// network delete or recode: remove every device-cache entry under the
// network and the network's route-cache entry.
func (c *Caches) InvalidateNetwork(unitCode, networkCode, networkID string) error {
	if err := c.Device.InvalidateNetwork(unitCode, networkCode); err != nil {
		return err
	}
	c.NetworkRoute.Invalidate(networkID)
	return nil
}

// InvalidateUnit applies the full unit-invalidation rule set for a unit
// delete: remove every device-cache entry under the unit. Route-cache
// entries are invalidated per-device/per-network by the caller as it
// cascades the deletion, since neither cache is keyed by unit.
func (c *Caches) InvalidateUnit(unitCode string) error {
	return c.Device.InvalidateUnit(unitCode)
}

// InvalidateRoute applies the invalidation rule for a device-route or
// network-route create/delete.
func (c *Caches) InvalidateRoute(deviceID, networkID string) {
	if deviceID != "" {
		c.DeviceRoute.Invalidate(deviceID)
	}
	if networkID != "" {
		c.NetworkRoute.Invalidate(networkID)
	}
}

// String renders entry for logging.
func (e DeviceEntry) String() string {
	if !e.Found {
		return "<miss>"
	}
	return fmt.Sprintf("device=%s unit=%s profile=%s", e.DeviceID, e.UnitID, e.Profile)
}

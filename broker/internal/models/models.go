// Package models defines the broker's persistent entities and the
// repository contracts every storage backend (mongodb, sqlite, memory)
// implements against. Each entity is a plain struct carrying both BSON and
// gorm tags so the identical type serializes for either backend.
package models

import (
	"context"
	"encoding/json"
	"time"
)

// Info is a free-form attribute bag attached to most entities. It round-trips
// through both MongoDB (as a sub-document) and SQLite (as a JSON column).
type Info map[string]interface{}

// Unit is a tenant boundary: the owner of applications, networks, devices
// and routes created underneath it.
type Unit struct {
	UnitID     string    `bson:"unitId" gorm:"column:unit_id;primaryKey"`
	Code       string    `bson:"code" gorm:"column:code;uniqueIndex"`
	CreatedAt  time.Time `bson:"createdAt" gorm:"column:created_at"`
	ModifiedAt time.Time `bson:"modifiedAt" gorm:"column:modified_at"`
	OwnerID    string    `bson:"ownerId" gorm:"column:owner_id;index"`
	MemberIDs  []string  `bson:"memberIds" gorm:"column:member_ids;serializer:json"`
	Name       string    `bson:"name" gorm:"column:name"`
	Info       Info      `bson:"info" gorm:"column:info;serializer:json"`
}

func (Unit) TableName() string { return "unit" }

// Application is a per-unit message sink: uplink/downlink/result traffic
// routed to an application is published on its own four queues.
type Application struct {
	ApplicationID string    `bson:"applicationId" gorm:"column:application_id;primaryKey"`
	Code          string    `bson:"code" gorm:"column:code"`
	UnitID        string    `bson:"unitId" gorm:"column:unit_id;index"`
	UnitCode      string    `bson:"unitCode" gorm:"column:unit_code"`
	CreatedAt     time.Time `bson:"createdAt" gorm:"column:created_at"`
	ModifiedAt    time.Time `bson:"modifiedAt" gorm:"column:modified_at"`
	HostURI       string    `bson:"hostUri" gorm:"column:host_uri"`
	Name          string    `bson:"name" gorm:"column:name"`
	Info          Info      `bson:"info" gorm:"column:info;serializer:json"`
}

func (Application) TableName() string { return "application" }

// Network is a per-unit or public message source. A nil/empty UnitID marks a
// public network, manageable only by admins/managers.
type Network struct {
	NetworkID  string    `bson:"networkId" gorm:"column:network_id;primaryKey"`
	Code       string    `bson:"code" gorm:"column:code"`
	UnitID     *string   `bson:"unitId" gorm:"column:unit_id;index"`
	UnitCode   *string   `bson:"unitCode" gorm:"column:unit_code"`
	CreatedAt  time.Time `bson:"createdAt" gorm:"column:created_at"`
	ModifiedAt time.Time `bson:"modifiedAt" gorm:"column:modified_at"`
	HostURI    string    `bson:"hostUri" gorm:"column:host_uri"`
	Name       string    `bson:"name" gorm:"column:name"`
	Info       Info      `bson:"info" gorm:"column:info;serializer:json"`
}

func (Network) TableName() string { return "network" }

// Device is an addressable endpoint reachable through a network. UnitCode is
// the *network's* unit code and differs from UnitID's owner when the device
// hangs off a public network.
type Device struct {
	DeviceID    string    `bson:"deviceId" gorm:"column:device_id;primaryKey"`
	UnitID      string    `bson:"unitId" gorm:"column:unit_id;index"`
	UnitCode    *string   `bson:"unitCode" gorm:"column:unit_code"`
	NetworkID   string    `bson:"networkId" gorm:"column:network_id;index"`
	NetworkCode string    `bson:"networkCode" gorm:"column:network_code"`
	NetworkAddr string    `bson:"networkAddr" gorm:"column:network_addr"`
	Profile     string    `bson:"profile" gorm:"column:profile"`
	CreatedAt   time.Time `bson:"createdAt" gorm:"column:created_at"`
	ModifiedAt  time.Time `bson:"modifiedAt" gorm:"column:modified_at"`
	Name        string    `bson:"name" gorm:"column:name"`
	Info        Info      `bson:"info" gorm:"column:info;serializer:json"`
}

func (Device) TableName() string { return "device" }

// DeviceRoute binds one device to one application; denormalized codes let
// the routing engine avoid a join on the hot path.
type DeviceRoute struct {
	RouteID         string    `bson:"routeId" gorm:"column:route_id;primaryKey"`
	UnitID          string    `bson:"unitId" gorm:"column:unit_id;index"`
	UnitCode        string    `bson:"unitCode" gorm:"column:unit_code"`
	ApplicationID   string    `bson:"applicationId" gorm:"column:application_id;index"`
	ApplicationCode string    `bson:"applicationCode" gorm:"column:application_code"`
	DeviceID        string    `bson:"deviceId" gorm:"column:device_id;index"`
	NetworkID       string    `bson:"networkId" gorm:"column:network_id"`
	NetworkCode     string    `bson:"networkCode" gorm:"column:network_code"`
	NetworkAddr     string    `bson:"networkAddr" gorm:"column:network_addr"`
	Profile         string    `bson:"profile" gorm:"column:profile"`
	CreatedAt       time.Time `bson:"createdAt" gorm:"column:created_at"`
	ModifiedAt      time.Time `bson:"modifiedAt" gorm:"column:modified_at"`
}

func (DeviceRoute) TableName() string { return "device_route" }

// NetworkRoute binds a whole network to an application: every device on the
// network fans its uplink out to the application without an individual
// DeviceRoute.
type NetworkRoute struct {
	RouteID         string    `bson:"routeId" gorm:"column:route_id;primaryKey"`
	UnitID          string    `bson:"unitId" gorm:"column:unit_id;index"`
	UnitCode        string    `bson:"unitCode" gorm:"column:unit_code"`
	ApplicationID   string    `bson:"applicationId" gorm:"column:application_id;index"`
	ApplicationCode string    `bson:"applicationCode" gorm:"column:application_code"`
	NetworkID       string    `bson:"networkId" gorm:"column:network_id;index"`
	NetworkCode     string    `bson:"networkCode" gorm:"column:network_code"`
	CreatedAt       time.Time `bson:"createdAt" gorm:"column:created_at"`
}

func (NetworkRoute) TableName() string { return "network_route" }

// DlDataBuffer correlates a downlink request with the result report that
// eventually arrives on a network's result queue.
type DlDataBuffer struct {
	DataID          string    `bson:"dataId" gorm:"column:data_id;primaryKey"`
	// CorrelationID is the application-supplied id from the original
	// downlink request; it is not part of the original Rust model (which
	// relies on data_id alone) but spec.md's downlink-result path requires
	// it to be echoed back on .dldata-result, so it is carried here.
	CorrelationID   string    `bson:"correlationId" gorm:"column:correlation_id"`
	UnitID          string    `bson:"unitId" gorm:"column:unit_id;index"`
	UnitCode        string    `bson:"unitCode" gorm:"column:unit_code"`
	ApplicationID   string    `bson:"applicationId" gorm:"column:application_id;index"`
	ApplicationCode string    `bson:"applicationCode" gorm:"column:application_code"`
	NetworkID       string    `bson:"networkId" gorm:"column:network_id;index"`
	NetworkAddr     string    `bson:"networkAddr" gorm:"column:network_addr"`
	DeviceID        string    `bson:"deviceId" gorm:"column:device_id"`
	CreatedAt       time.Time `bson:"createdAt" gorm:"column:created_at"`
	ExpiredAt       time.Time `bson:"expiredAt" gorm:"column:expired_at;index"`
}

func (DlDataBuffer) TableName() string { return "dldata_buffer" }

// SortCond orders a list result by one field, ascending or descending.
type SortCond struct {
	Key string
	Asc bool
}

// ListOptions controls a list/count query shared across every entity.
type ListOptions struct {
	Offset int64
	Limit  int64
	Sort   []SortCond
}

// UnitQueryCond narrows a unit lookup. Zero-value fields are ignored.
type UnitQueryCond struct {
	UnitID   string
	Code     string
	OwnerID  string
	MemberID string
}

// UnitListCond narrows a unit list/count query; *Contains fields match
// case-sensitively on substring.
type UnitListCond struct {
	OwnerID      string
	MemberID     string
	UnitID       string
	CodeContains string
	NameContains string
}

// UnitUpdates carries the fields to patch; nil pointers leave a field
// untouched.
type UnitUpdates struct {
	ModifiedAt *time.Time
	OwnerID    *string
	MemberIDs  *[]string
	Name       *string
	Info       *Info
}

// UnitRepo is the persistence contract for Unit.
type UnitRepo interface {
	Init(ctx context.Context) error
	Count(ctx context.Context, cond UnitListCond) (int64, error)
	List(ctx context.Context, cond UnitListCond, opts ListOptions) ([]Unit, error)
	Get(ctx context.Context, cond UnitQueryCond) (*Unit, error)
	Add(ctx context.Context, unit *Unit) error
	Update(ctx context.Context, unitID string, updates UnitUpdates) error
	Delete(ctx context.Context, cond UnitQueryCond) error
}

// ApplicationQueryCond narrows an application lookup.
type ApplicationQueryCond struct {
	ApplicationID string
	UnitID        string
	Code          string
}

// ApplicationListCond narrows an application list/count query.
type ApplicationListCond struct {
	UnitID       string
	CodeContains string
	NameContains string
}

// ApplicationUpdates carries the fields to patch.
type ApplicationUpdates struct {
	ModifiedAt *time.Time
	HostURI    *string
	Name       *string
	Info       *Info
}

// ApplicationRepo is the persistence contract for Application.
type ApplicationRepo interface {
	Init(ctx context.Context) error
	Count(ctx context.Context, cond ApplicationListCond) (int64, error)
	List(ctx context.Context, cond ApplicationListCond, opts ListOptions) ([]Application, error)
	Get(ctx context.Context, cond ApplicationQueryCond) (*Application, error)
	Add(ctx context.Context, app *Application) error
	Update(ctx context.Context, applicationID string, updates ApplicationUpdates) error
	Delete(ctx context.Context, cond ApplicationQueryCond) error
}

// NetworkQueryCond narrows a network lookup. An empty UnitID combined with
// PublicOnly selects public networks only.
type NetworkQueryCond struct {
	NetworkID  string
	UnitID     string
	Code       string
	PublicOnly bool
}

// NetworkListCond narrows a network list/count query.
type NetworkListCond struct {
	UnitID       string
	PublicOnly   bool
	CodeContains string
	NameContains string
}

// NetworkUpdates carries the fields to patch.
type NetworkUpdates struct {
	ModifiedAt *time.Time
	HostURI    *string
	Name       *string
	Info       *Info
}

// NetworkRepo is the persistence contract for Network.
type NetworkRepo interface {
	Init(ctx context.Context) error
	Count(ctx context.Context, cond NetworkListCond) (int64, error)
	List(ctx context.Context, cond NetworkListCond, opts ListOptions) ([]Network, error)
	Get(ctx context.Context, cond NetworkQueryCond) (*Network, error)
	Add(ctx context.Context, network *Network) error
	Update(ctx context.Context, networkID string, updates NetworkUpdates) error
	Delete(ctx context.Context, cond NetworkQueryCond) error
}

// DeviceQueryCond narrows a device lookup. NetworkAddr lookups are always
// matched lowercased.
type DeviceQueryCond struct {
	DeviceID    string
	UnitID      string
	NetworkID   string
	NetworkAddr string
}

// DeviceListCond narrows a device list/count query.
type DeviceListCond struct {
	UnitID          string
	NetworkID       string
	NetworkAddr     string
	ProfileContains string
}

// DeviceUpdates carries the fields to patch.
type DeviceUpdates struct {
	ModifiedAt  *time.Time
	NetworkAddr *string
	Profile     *string
	Name        *string
	Info        *Info
}

// DeviceRepo is the persistence contract for Device.
type DeviceRepo interface {
	Init(ctx context.Context) error
	Count(ctx context.Context, cond DeviceListCond) (int64, error)
	List(ctx context.Context, cond DeviceListCond, opts ListOptions) ([]Device, error)
	Get(ctx context.Context, cond DeviceQueryCond) (*Device, error)
	Add(ctx context.Context, device *Device) error
	Update(ctx context.Context, deviceID string, updates DeviceUpdates) error
	Delete(ctx context.Context, cond DeviceQueryCond) error
	DeleteByNetwork(ctx context.Context, networkID string) error
}

// DeviceRouteQueryCond narrows a device-route lookup.
type DeviceRouteQueryCond struct {
	RouteID       string
	UnitID        string
	ApplicationID string
	DeviceID      string
	NetworkID     string
}

// DeviceRouteListCond narrows a device-route list/count query.
type DeviceRouteListCond struct {
	UnitID        string
	ApplicationID string
	DeviceID      string
	NetworkID     string
}

// DeviceRouteRepo is the persistence contract for DeviceRoute.
type DeviceRouteRepo interface {
	Init(ctx context.Context) error
	Count(ctx context.Context, cond DeviceRouteListCond) (int64, error)
	List(ctx context.Context, cond DeviceRouteListCond, opts ListOptions) ([]DeviceRoute, error)
	Get(ctx context.Context, cond DeviceRouteQueryCond) (*DeviceRoute, error)
	GetByDeviceApp(ctx context.Context, deviceID, applicationID string) (*DeviceRoute, error)
	// ListByDevice returns every route bound to deviceID; used to fan-out an
	// uplink and to invalidate the route cache when a device is deleted.
	ListByDevice(ctx context.Context, deviceID string) ([]DeviceRoute, error)
	Add(ctx context.Context, route *DeviceRoute) error
	Delete(ctx context.Context, cond DeviceRouteQueryCond) error
	DeleteByDevice(ctx context.Context, deviceID string) error
	DeleteByApplication(ctx context.Context, applicationID string) error
	DeleteByNetwork(ctx context.Context, networkID string) error
}

// NetworkRouteQueryCond narrows a network-route lookup.
type NetworkRouteQueryCond struct {
	RouteID       string
	UnitID        string
	ApplicationID string
	NetworkID     string
}

// NetworkRouteListCond narrows a network-route list/count query.
type NetworkRouteListCond struct {
	UnitID        string
	ApplicationID string
	NetworkID     string
}

// NetworkRouteRepo is the persistence contract for NetworkRoute.
type NetworkRouteRepo interface {
	Init(ctx context.Context) error
	Count(ctx context.Context, cond NetworkRouteListCond) (int64, error)
	List(ctx context.Context, cond NetworkRouteListCond, opts ListOptions) ([]NetworkRoute, error)
	Get(ctx context.Context, cond NetworkRouteQueryCond) (*NetworkRoute, error)
	// ListByNetwork returns every application broadcast-subscribed to
	// networkID; used by the routing engine's uplink fan-out.
	ListByNetwork(ctx context.Context, networkID string) ([]NetworkRoute, error)
	Add(ctx context.Context, route *NetworkRoute) error
	Delete(ctx context.Context, cond NetworkRouteQueryCond) error
	DeleteByApplication(ctx context.Context, applicationID string) error
	DeleteByNetwork(ctx context.Context, networkID string) error
}

// DlDataBufferQueryCond narrows a downlink-buffer lookup.
type DlDataBufferQueryCond struct {
	DataID        string
	UnitID        string
	ApplicationID string
	NetworkID     string
	DeviceID      string
}

// DlDataBufferListCond narrows a downlink-buffer list/count query.
type DlDataBufferListCond struct {
	UnitID        string
	ApplicationID string
	NetworkID     string
	DeviceID      string
}

// DlDataBufferRepo is the persistence contract for DlDataBuffer.
type DlDataBufferRepo interface {
	Init(ctx context.Context) error
	Count(ctx context.Context, cond DlDataBufferListCond) (int64, error)
	List(ctx context.Context, cond DlDataBufferListCond, opts ListOptions) ([]DlDataBuffer, error)
	Get(ctx context.Context, dataID string) (*DlDataBuffer, error)
	Add(ctx context.Context, buf *DlDataBuffer) error
	Delete(ctx context.Context, cond DlDataBufferQueryCond) error
	// DeleteExpired removes every record whose ExpiredAt is before now and
	// returns the count removed; called by the buffer's periodic GC.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Repo aggregates every entity repository behind the single connection a
// storage backend opens. Close releases the underlying connection/pool.
type Repo interface {
	Close(ctx context.Context) error
	Unit() UnitRepo
	Application() ApplicationRepo
	Network() NetworkRepo
	Device() DeviceRepo
	DeviceRoute() DeviceRouteRepo
	NetworkRoute() NetworkRouteRepo
	DlDataBuffer() DlDataBufferRepo
}

// Init creates/verifies every table or collection behind repo. Called once
// after opening a connection, mirroring the original model package's
// per-table init() contract.
func Init(ctx context.Context, repo Repo) error {
	if err := repo.Unit().Init(ctx); err != nil {
		return err
	}
	if err := repo.Application().Init(ctx); err != nil {
		return err
	}
	if err := repo.Network().Init(ctx); err != nil {
		return err
	}
	if err := repo.Device().Init(ctx); err != nil {
		return err
	}
	if err := repo.DeviceRoute().Init(ctx); err != nil {
		return err
	}
	if err := repo.NetworkRoute().Init(ctx); err != nil {
		return err
	}
	return repo.DlDataBuffer().Init(ctx)
}

// MarshalInfo is a convenience used by backends that store Info as an
// opaque JSON blob (SQLite) rather than a native document (MongoDB).
func MarshalInfo(info Info) ([]byte, error) {
	if info == nil {
		info = Info{}
	}
	return json.Marshal(info)
}

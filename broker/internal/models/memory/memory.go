// Package memory implements broker/internal/models.Repo entirely in-memory,
// grounded on the original project's models/memory/*.rs fakes: a set of
// mutex-guarded maps good enough to drive scenario tests without a real
// MongoDB or SQLite instance.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

// Repo is an in-memory models.Repo. The zero value is not usable; use New.
type Repo struct {
	unit         *unitRepo
	application  *applicationRepo
	network      *networkRepo
	device       *deviceRepo
	deviceRoute  *deviceRouteRepo
	networkRoute *networkRouteRepo
	dldata       *dldataRepo
}

// New returns an empty in-memory repository.
func New() *Repo {
	return &Repo{
		unit:         &unitRepo{items: map[string]models.Unit{}},
		application:  &applicationRepo{items: map[string]models.Application{}},
		network:      &networkRepo{items: map[string]models.Network{}},
		device:       &deviceRepo{items: map[string]models.Device{}},
		deviceRoute:  &deviceRouteRepo{items: map[string]models.DeviceRoute{}},
		networkRoute: &networkRouteRepo{items: map[string]models.NetworkRoute{}},
		dldata:       &dldataRepo{items: map[string]models.DlDataBuffer{}},
	}
}

func (r *Repo) Close(context.Context) error                       { return nil }
func (r *Repo) Unit() models.UnitRepo                              { return r.unit }
func (r *Repo) Application() models.ApplicationRepo                { return r.application }
func (r *Repo) Network() models.NetworkRepo                        { return r.network }
func (r *Repo) Device() models.DeviceRepo                          { return r.device }
func (r *Repo) DeviceRoute() models.DeviceRouteRepo                { return r.deviceRoute }
func (r *Repo) NetworkRoute() models.NetworkRouteRepo              { return r.networkRoute }
func (r *Repo) DlDataBuffer() models.DlDataBufferRepo               { return r.dldata }

var errNotFound = errors.New("not found")

// --- unit ---

type unitRepo struct {
	mu    sync.RWMutex
	items map[string]models.Unit
}

func (r *unitRepo) Init(context.Context) error { return nil }

func (r *unitRepo) Count(_ context.Context, cond models.UnitListCond) (int64, error) {
	items := r.filter(cond)
	return int64(len(items)), nil
}

func (r *unitRepo) List(_ context.Context, cond models.UnitListCond, opts models.ListOptions) ([]models.Unit, error) {
	items := r.filter(cond)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return paginate(items, opts), nil
}

func (r *unitRepo) filter(cond models.UnitListCond) []models.Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Unit
	for _, u := range r.items {
		if cond.UnitID != "" && u.UnitID != cond.UnitID {
			continue
		}
		if cond.OwnerID != "" && u.OwnerID != cond.OwnerID {
			continue
		}
		if cond.MemberID != "" && !contains(u.MemberIDs, cond.MemberID) {
			continue
		}
		if cond.CodeContains != "" && !strings.Contains(u.Code, cond.CodeContains) {
			continue
		}
		if cond.NameContains != "" && !strings.Contains(u.Name, cond.NameContains) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func (r *unitRepo) Get(_ context.Context, cond models.UnitQueryCond) (*models.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.items {
		if cond.UnitID != "" && u.UnitID != cond.UnitID {
			continue
		}
		if cond.Code != "" && u.Code != cond.Code {
			continue
		}
		if cond.OwnerID != "" && u.OwnerID != cond.OwnerID {
			continue
		}
		if cond.MemberID != "" && !contains(u.MemberIDs, cond.MemberID) {
			continue
		}
		cp := u
		return &cp, nil
	}
	return nil, nil
}

func (r *unitRepo) Add(_ context.Context, u *models.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[u.UnitID] = *u
	return nil
}

func (r *unitRepo) Update(_ context.Context, unitID string, updates models.UnitUpdates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.items[unitID]
	if !ok {
		return errNotFound
	}
	if updates.ModifiedAt != nil {
		u.ModifiedAt = *updates.ModifiedAt
	}
	if updates.OwnerID != nil {
		u.OwnerID = *updates.OwnerID
	}
	if updates.MemberIDs != nil {
		u.MemberIDs = *updates.MemberIDs
	}
	if updates.Name != nil {
		u.Name = *updates.Name
	}
	if updates.Info != nil {
		u.Info = *updates.Info
	}
	r.items[unitID] = u
	return nil
}

func (r *unitRepo) Delete(_ context.Context, cond models.UnitQueryCond) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cond.UnitID != "" {
		delete(r.items, cond.UnitID)
		return nil
	}
	for id, u := range r.items {
		if cond.OwnerID != "" && u.OwnerID == cond.OwnerID {
			delete(r.items, id)
		}
	}
	return nil
}

// --- application ---

type applicationRepo struct {
	mu    sync.RWMutex
	items map[string]models.Application
}

func (r *applicationRepo) Init(context.Context) error { return nil }

func (r *applicationRepo) Count(_ context.Context, cond models.ApplicationListCond) (int64, error) {
	return int64(len(r.filter(cond))), nil
}

func (r *applicationRepo) List(_ context.Context, cond models.ApplicationListCond, opts models.ListOptions) ([]models.Application, error) {
	items := r.filter(cond)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return paginate(items, opts), nil
}

func (r *applicationRepo) filter(cond models.ApplicationListCond) []models.Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Application
	for _, a := range r.items {
		if cond.UnitID != "" && a.UnitID != cond.UnitID {
			continue
		}
		if cond.CodeContains != "" && !strings.Contains(a.Code, cond.CodeContains) {
			continue
		}
		if cond.NameContains != "" && !strings.Contains(a.Name, cond.NameContains) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (r *applicationRepo) Get(_ context.Context, cond models.ApplicationQueryCond) (*models.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.items {
		if cond.ApplicationID != "" && a.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.UnitID != "" && a.UnitID != cond.UnitID {
			continue
		}
		if cond.Code != "" && a.Code != cond.Code {
			continue
		}
		cp := a
		return &cp, nil
	}
	return nil, nil
}

func (r *applicationRepo) Add(_ context.Context, a *models.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.ApplicationID] = *a
	return nil
}

func (r *applicationRepo) Update(_ context.Context, applicationID string, updates models.ApplicationUpdates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[applicationID]
	if !ok {
		return errNotFound
	}
	if updates.ModifiedAt != nil {
		a.ModifiedAt = *updates.ModifiedAt
	}
	if updates.HostURI != nil {
		a.HostURI = *updates.HostURI
	}
	if updates.Name != nil {
		a.Name = *updates.Name
	}
	if updates.Info != nil {
		a.Info = *updates.Info
	}
	r.items[applicationID] = a
	return nil
}

func (r *applicationRepo) Delete(_ context.Context, cond models.ApplicationQueryCond) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cond.ApplicationID != "" {
		delete(r.items, cond.ApplicationID)
		return nil
	}
	for id, a := range r.items {
		if cond.UnitID != "" && a.UnitID == cond.UnitID {
			delete(r.items, id)
		}
	}
	return nil
}

// --- network ---

type networkRepo struct {
	mu    sync.RWMutex
	items map[string]models.Network
}

func (r *networkRepo) Init(context.Context) error { return nil }

func (r *networkRepo) Count(_ context.Context, cond models.NetworkListCond) (int64, error) {
	return int64(len(r.filter(cond))), nil
}

func (r *networkRepo) List(_ context.Context, cond models.NetworkListCond, opts models.ListOptions) ([]models.Network, error) {
	items := r.filter(cond)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return paginate(items, opts), nil
}

func (r *networkRepo) filter(cond models.NetworkListCond) []models.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Network
	for _, n := range r.items {
		if cond.PublicOnly && (n.UnitID != nil && *n.UnitID != "") {
			continue
		}
		if cond.UnitID != "" && (n.UnitID == nil || *n.UnitID != cond.UnitID) {
			continue
		}
		if cond.CodeContains != "" && !strings.Contains(n.Code, cond.CodeContains) {
			continue
		}
		if cond.NameContains != "" && !strings.Contains(n.Name, cond.NameContains) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (r *networkRepo) Get(_ context.Context, cond models.NetworkQueryCond) (*models.Network, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.items {
		if cond.NetworkID != "" && n.NetworkID != cond.NetworkID {
			continue
		}
		if cond.PublicOnly && (n.UnitID != nil && *n.UnitID != "") {
			continue
		}
		if cond.UnitID != "" && (n.UnitID == nil || *n.UnitID != cond.UnitID) {
			continue
		}
		if cond.Code != "" && n.Code != cond.Code {
			continue
		}
		cp := n
		return &cp, nil
	}
	return nil, nil
}

func (r *networkRepo) Add(_ context.Context, n *models.Network) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[n.NetworkID] = *n
	return nil
}

func (r *networkRepo) Update(_ context.Context, networkID string, updates models.NetworkUpdates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[networkID]
	if !ok {
		return errNotFound
	}
	if updates.ModifiedAt != nil {
		n.ModifiedAt = *updates.ModifiedAt
	}
	if updates.HostURI != nil {
		n.HostURI = *updates.HostURI
	}
	if updates.Name != nil {
		n.Name = *updates.Name
	}
	if updates.Info != nil {
		n.Info = *updates.Info
	}
	r.items[networkID] = n
	return nil
}

func (r *networkRepo) Delete(_ context.Context, cond models.NetworkQueryCond) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cond.NetworkID != "" {
		delete(r.items, cond.NetworkID)
		return nil
	}
	for id, n := range r.items {
		if cond.UnitID != "" && n.UnitID != nil && *n.UnitID == cond.UnitID {
			delete(r.items, id)
		}
	}
	return nil
}

// --- device ---

type deviceRepo struct {
	mu    sync.RWMutex
	items map[string]models.Device
}

func (r *deviceRepo) Init(context.Context) error { return nil }

func (r *deviceRepo) Count(_ context.Context, cond models.DeviceListCond) (int64, error) {
	return int64(len(r.filter(cond))), nil
}

func (r *deviceRepo) List(_ context.Context, cond models.DeviceListCond, opts models.ListOptions) ([]models.Device, error) {
	items := r.filter(cond)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return paginate(items, opts), nil
}

func (r *deviceRepo) filter(cond models.DeviceListCond) []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Device
	for _, d := range r.items {
		if cond.UnitID != "" && d.UnitID != cond.UnitID {
			continue
		}
		if cond.NetworkID != "" && d.NetworkID != cond.NetworkID {
			continue
		}
		if cond.NetworkAddr != "" && d.NetworkAddr != strings.ToLower(cond.NetworkAddr) {
			continue
		}
		if cond.ProfileContains != "" && !strings.Contains(d.Profile, cond.ProfileContains) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *deviceRepo) Get(_ context.Context, cond models.DeviceQueryCond) (*models.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.items {
		if cond.DeviceID != "" && d.DeviceID != cond.DeviceID {
			continue
		}
		if cond.UnitID != "" && d.UnitID != cond.UnitID {
			continue
		}
		if cond.NetworkID != "" && d.NetworkID != cond.NetworkID {
			continue
		}
		if cond.NetworkAddr != "" && d.NetworkAddr != strings.ToLower(cond.NetworkAddr) {
			continue
		}
		cp := d
		return &cp, nil
	}
	return nil, nil
}

func (r *deviceRepo) Add(_ context.Context, d *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.NetworkAddr = strings.ToLower(d.NetworkAddr)
	r.items[d.DeviceID] = *d
	return nil
}

func (r *deviceRepo) Update(_ context.Context, deviceID string, updates models.DeviceUpdates) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[deviceID]
	if !ok {
		return errNotFound
	}
	if updates.ModifiedAt != nil {
		d.ModifiedAt = *updates.ModifiedAt
	}
	if updates.NetworkAddr != nil {
		d.NetworkAddr = strings.ToLower(*updates.NetworkAddr)
	}
	if updates.Profile != nil {
		d.Profile = *updates.Profile
	}
	if updates.Name != nil {
		d.Name = *updates.Name
	}
	if updates.Info != nil {
		d.Info = *updates.Info
	}
	r.items[deviceID] = d
	return nil
}

func (r *deviceRepo) Delete(_ context.Context, cond models.DeviceQueryCond) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cond.DeviceID != "" {
		delete(r.items, cond.DeviceID)
		return nil
	}
	for id, d := range r.items {
		if cond.UnitID != "" && d.UnitID == cond.UnitID {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *deviceRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.items {
		if d.NetworkID == networkID {
			delete(r.items, id)
		}
	}
	return nil
}

// --- device route ---

type deviceRouteRepo struct {
	mu    sync.RWMutex
	items map[string]models.DeviceRoute
}

func (r *deviceRouteRepo) Init(context.Context) error { return nil }

func (r *deviceRouteRepo) Count(_ context.Context, cond models.DeviceRouteListCond) (int64, error) {
	return int64(len(r.filter(cond))), nil
}

func (r *deviceRouteRepo) List(_ context.Context, cond models.DeviceRouteListCond, opts models.ListOptions) ([]models.DeviceRoute, error) {
	items := r.filter(cond)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return paginate(items, opts), nil
}

func (r *deviceRouteRepo) filter(cond models.DeviceRouteListCond) []models.DeviceRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.DeviceRoute
	for _, rt := range r.items {
		if cond.UnitID != "" && rt.UnitID != cond.UnitID {
			continue
		}
		if cond.ApplicationID != "" && rt.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.DeviceID != "" && rt.DeviceID != cond.DeviceID {
			continue
		}
		if cond.NetworkID != "" && rt.NetworkID != cond.NetworkID {
			continue
		}
		out = append(out, rt)
	}
	return out
}

func (r *deviceRouteRepo) Get(_ context.Context, cond models.DeviceRouteQueryCond) (*models.DeviceRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.items {
		if cond.RouteID != "" && rt.RouteID != cond.RouteID {
			continue
		}
		if cond.UnitID != "" && rt.UnitID != cond.UnitID {
			continue
		}
		if cond.ApplicationID != "" && rt.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.DeviceID != "" && rt.DeviceID != cond.DeviceID {
			continue
		}
		cp := rt
		return &cp, nil
	}
	return nil, nil
}

func (r *deviceRouteRepo) GetByDeviceApp(_ context.Context, deviceID, applicationID string) (*models.DeviceRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.items {
		if rt.DeviceID == deviceID && rt.ApplicationID == applicationID {
			cp := rt
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *deviceRouteRepo) ListByDevice(_ context.Context, deviceID string) ([]models.DeviceRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.DeviceRoute
	for _, rt := range r.items {
		if rt.DeviceID == deviceID {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (r *deviceRouteRepo) Add(_ context.Context, rt *models.DeviceRoute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[rt.RouteID] = *rt
	return nil
}

func (r *deviceRouteRepo) Delete(_ context.Context, cond models.DeviceRouteQueryCond) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cond.RouteID != "" {
		delete(r.items, cond.RouteID)
		return nil
	}
	for id, rt := range r.items {
		if cond.UnitID != "" && rt.UnitID != cond.UnitID {
			continue
		}
		if cond.ApplicationID != "" && rt.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.DeviceID != "" && rt.DeviceID != cond.DeviceID {
			continue
		}
		delete(r.items, id)
	}
	return nil
}

func (r *deviceRouteRepo) DeleteByDevice(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rt := range r.items {
		if rt.DeviceID == deviceID {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *deviceRouteRepo) DeleteByApplication(_ context.Context, applicationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rt := range r.items {
		if rt.ApplicationID == applicationID {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *deviceRouteRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rt := range r.items {
		if rt.NetworkID == networkID {
			delete(r.items, id)
		}
	}
	return nil
}

// --- network route ---

type networkRouteRepo struct {
	mu    sync.RWMutex
	items map[string]models.NetworkRoute
}

func (r *networkRouteRepo) Init(context.Context) error { return nil }

func (r *networkRouteRepo) Count(_ context.Context, cond models.NetworkRouteListCond) (int64, error) {
	return int64(len(r.filter(cond))), nil
}

func (r *networkRouteRepo) List(_ context.Context, cond models.NetworkRouteListCond, opts models.ListOptions) ([]models.NetworkRoute, error) {
	items := r.filter(cond)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return paginate(items, opts), nil
}

func (r *networkRouteRepo) filter(cond models.NetworkRouteListCond) []models.NetworkRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.NetworkRoute
	for _, rt := range r.items {
		if cond.UnitID != "" && rt.UnitID != cond.UnitID {
			continue
		}
		if cond.ApplicationID != "" && rt.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.NetworkID != "" && rt.NetworkID != cond.NetworkID {
			continue
		}
		out = append(out, rt)
	}
	return out
}

func (r *networkRouteRepo) Get(_ context.Context, cond models.NetworkRouteQueryCond) (*models.NetworkRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.items {
		if cond.RouteID != "" && rt.RouteID != cond.RouteID {
			continue
		}
		if cond.UnitID != "" && rt.UnitID != cond.UnitID {
			continue
		}
		if cond.ApplicationID != "" && rt.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.NetworkID != "" && rt.NetworkID != cond.NetworkID {
			continue
		}
		cp := rt
		return &cp, nil
	}
	return nil, nil
}

func (r *networkRouteRepo) ListByNetwork(_ context.Context, networkID string) ([]models.NetworkRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.NetworkRoute
	for _, rt := range r.items {
		if rt.NetworkID == networkID {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (r *networkRouteRepo) Add(_ context.Context, rt *models.NetworkRoute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[rt.RouteID] = *rt
	return nil
}

func (r *networkRouteRepo) Delete(_ context.Context, cond models.NetworkRouteQueryCond) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cond.RouteID != "" {
		delete(r.items, cond.RouteID)
		return nil
	}
	for id, rt := range r.items {
		if cond.UnitID != "" && rt.UnitID != cond.UnitID {
			continue
		}
		if cond.ApplicationID != "" && rt.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.NetworkID != "" && rt.NetworkID != cond.NetworkID {
			continue
		}
		delete(r.items, id)
	}
	return nil
}

func (r *networkRouteRepo) DeleteByApplication(_ context.Context, applicationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rt := range r.items {
		if rt.ApplicationID == applicationID {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *networkRouteRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rt := range r.items {
		if rt.NetworkID == networkID {
			delete(r.items, id)
		}
	}
	return nil
}

// --- downlink data buffer ---

type dldataRepo struct {
	mu    sync.RWMutex
	items map[string]models.DlDataBuffer
}

func (r *dldataRepo) Init(context.Context) error { return nil }

func (r *dldataRepo) Count(_ context.Context, cond models.DlDataBufferListCond) (int64, error) {
	return int64(len(r.filter(cond))), nil
}

func (r *dldataRepo) List(_ context.Context, cond models.DlDataBufferListCond, opts models.ListOptions) ([]models.DlDataBuffer, error) {
	items := r.filter(cond)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return paginate(items, opts), nil
}

func (r *dldataRepo) filter(cond models.DlDataBufferListCond) []models.DlDataBuffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.DlDataBuffer
	for _, b := range r.items {
		if cond.UnitID != "" && b.UnitID != cond.UnitID {
			continue
		}
		if cond.ApplicationID != "" && b.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.NetworkID != "" && b.NetworkID != cond.NetworkID {
			continue
		}
		if cond.DeviceID != "" && b.DeviceID != cond.DeviceID {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (r *dldataRepo) Get(_ context.Context, dataID string) (*models.DlDataBuffer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[dataID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *dldataRepo) Add(_ context.Context, b *models.DlDataBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[b.DataID] = *b
	return nil
}

func (r *dldataRepo) Delete(_ context.Context, cond models.DlDataBufferQueryCond) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cond.DataID != "" {
		delete(r.items, cond.DataID)
		return nil
	}
	for id, b := range r.items {
		if cond.UnitID != "" && b.UnitID != cond.UnitID {
			continue
		}
		if cond.ApplicationID != "" && b.ApplicationID != cond.ApplicationID {
			continue
		}
		if cond.NetworkID != "" && b.NetworkID != cond.NetworkID {
			continue
		}
		if cond.DeviceID != "" && b.DeviceID != cond.DeviceID {
			continue
		}
		delete(r.items, id)
	}
	return nil
}

func (r *dldataRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, b := range r.items {
		if b.ExpiredAt.Before(now) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, opts models.ListOptions) []T {
	if opts.Offset > 0 {
		if opts.Offset >= int64(len(items)) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(items)) {
		items = items[:opts.Limit]
	}
	return items
}

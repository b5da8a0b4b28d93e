// Package sqlite implements broker/internal/models.Repo on top of
// gorm.io/gorm and gorm.io/driver/sqlite, mirroring the original project's
// models/sqlite split (one file per entity, a shared *gorm.DB connection).
package sqlite

import (
	"context"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

// Options configures the SQLite connection.
type Options struct {
	// Path is the database file path, e.g. "broker.db" or ":memory:".
	Path string
}

// Repo is a gorm-backed models.Repo.
type Repo struct {
	db *gorm.DB
}

// New opens (creating if needed) the SQLite database at opts.Path.
func New(opts Options) (*Repo, error) {
	db, err := gorm.Open(sqlite.Open(opts.Path), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close(context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repo) Unit() models.UnitRepo                 { return &unitRepo{db: r.db} }
func (r *Repo) Application() models.ApplicationRepo   { return &applicationRepo{db: r.db} }
func (r *Repo) Network() models.NetworkRepo           { return &networkRepo{db: r.db} }
func (r *Repo) Device() models.DeviceRepo             { return &deviceRepo{db: r.db} }
func (r *Repo) DeviceRoute() models.DeviceRouteRepo   { return &deviceRouteRepo{db: r.db} }
func (r *Repo) NetworkRoute() models.NetworkRouteRepo { return &networkRouteRepo{db: r.db} }
func (r *Repo) DlDataBuffer() models.DlDataBufferRepo { return &dldataRepo{db: r.db} }

func applyList(tx *gorm.DB, opts models.ListOptions) *gorm.DB {
	for _, s := range opts.Sort {
		dir := "ASC"
		if !s.Asc {
			dir = "DESC"
		}
		tx = tx.Order(s.Key + " " + dir)
	}
	if opts.Offset > 0 {
		tx = tx.Offset(int(opts.Offset))
	}
	if opts.Limit > 0 {
		tx = tx.Limit(int(opts.Limit))
	}
	return tx
}

type unitRepo struct{ db *gorm.DB }

func (r *unitRepo) Init(context.Context) error { return r.db.AutoMigrate(&models.Unit{}) }

func (r *unitRepo) listQuery(cond models.UnitListCond) *gorm.DB {
	tx := r.db.Model(&models.Unit{})
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.OwnerID != "" {
		tx = tx.Where("owner_id = ?", cond.OwnerID)
	}
	if cond.CodeContains != "" {
		tx = tx.Where("code LIKE ?", "%"+cond.CodeContains+"%")
	}
	if cond.NameContains != "" {
		tx = tx.Where("name LIKE ?", "%"+cond.NameContains+"%")
	}
	if cond.MemberID != "" {
		tx = tx.Where("member_ids LIKE ?", "%\""+cond.MemberID+"\"%")
	}
	return tx
}

func (r *unitRepo) Count(_ context.Context, cond models.UnitListCond) (int64, error) {
	var n int64
	err := r.listQuery(cond).Count(&n).Error
	return n, err
}

func (r *unitRepo) List(_ context.Context, cond models.UnitListCond, opts models.ListOptions) ([]models.Unit, error) {
	var out []models.Unit
	err := applyList(r.listQuery(cond), opts).Find(&out).Error
	return out, err
}

func (r *unitRepo) Get(_ context.Context, cond models.UnitQueryCond) (*models.Unit, error) {
	tx := r.db.Model(&models.Unit{})
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.Code != "" {
		tx = tx.Where("code = ?", cond.Code)
	}
	if cond.OwnerID != "" {
		tx = tx.Where("owner_id = ?", cond.OwnerID)
	}
	var u models.Unit
	err := tx.First(&u).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *unitRepo) Add(_ context.Context, u *models.Unit) error {
	return r.db.Create(u).Error
}

func (r *unitRepo) Update(_ context.Context, unitID string, updates models.UnitUpdates) error {
	patch := map[string]interface{}{}
	if updates.ModifiedAt != nil {
		patch["modified_at"] = *updates.ModifiedAt
	}
	if updates.OwnerID != nil {
		patch["owner_id"] = *updates.OwnerID
	}
	if updates.MemberIDs != nil {
		patch["member_ids"] = *updates.MemberIDs
	}
	if updates.Name != nil {
		patch["name"] = *updates.Name
	}
	if updates.Info != nil {
		patch["info"] = *updates.Info
	}
	if len(patch) == 0 {
		return nil
	}
	return r.db.Model(&models.Unit{}).Where("unit_id = ?", unitID).Updates(patch).Error
}

func (r *unitRepo) Delete(_ context.Context, cond models.UnitQueryCond) error {
	tx := r.db
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.OwnerID != "" {
		tx = tx.Where("owner_id = ?", cond.OwnerID)
	}
	return tx.Delete(&models.Unit{}).Error
}

type applicationRepo struct{ db *gorm.DB }

func (r *applicationRepo) Init(context.Context) error { return r.db.AutoMigrate(&models.Application{}) }

func (r *applicationRepo) listQuery(cond models.ApplicationListCond) *gorm.DB {
	tx := r.db.Model(&models.Application{})
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.CodeContains != "" {
		tx = tx.Where("code LIKE ?", "%"+cond.CodeContains+"%")
	}
	if cond.NameContains != "" {
		tx = tx.Where("name LIKE ?", "%"+cond.NameContains+"%")
	}
	return tx
}

func (r *applicationRepo) Count(_ context.Context, cond models.ApplicationListCond) (int64, error) {
	var n int64
	err := r.listQuery(cond).Count(&n).Error
	return n, err
}

func (r *applicationRepo) List(_ context.Context, cond models.ApplicationListCond, opts models.ListOptions) ([]models.Application, error) {
	var out []models.Application
	err := applyList(r.listQuery(cond), opts).Find(&out).Error
	return out, err
}

func (r *applicationRepo) Get(_ context.Context, cond models.ApplicationQueryCond) (*models.Application, error) {
	tx := r.db.Model(&models.Application{})
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.Code != "" {
		tx = tx.Where("code = ?", cond.Code)
	}
	var a models.Application
	err := tx.First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *applicationRepo) Add(_ context.Context, a *models.Application) error {
	return r.db.Create(a).Error
}

func (r *applicationRepo) Update(_ context.Context, applicationID string, updates models.ApplicationUpdates) error {
	patch := map[string]interface{}{}
	if updates.ModifiedAt != nil {
		patch["modified_at"] = *updates.ModifiedAt
	}
	if updates.HostURI != nil {
		patch["host_uri"] = *updates.HostURI
	}
	if updates.Name != nil {
		patch["name"] = *updates.Name
	}
	if updates.Info != nil {
		patch["info"] = *updates.Info
	}
	if len(patch) == 0 {
		return nil
	}
	return r.db.Model(&models.Application{}).Where("application_id = ?", applicationID).Updates(patch).Error
}

func (r *applicationRepo) Delete(_ context.Context, cond models.ApplicationQueryCond) error {
	tx := r.db
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	return tx.Delete(&models.Application{}).Error
}

type networkRepo struct{ db *gorm.DB }

func (r *networkRepo) Init(context.Context) error { return r.db.AutoMigrate(&models.Network{}) }

func (r *networkRepo) listQuery(cond models.NetworkListCond) *gorm.DB {
	tx := r.db.Model(&models.Network{})
	if cond.PublicOnly {
		tx = tx.Where("unit_id IS NULL")
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.CodeContains != "" {
		tx = tx.Where("code LIKE ?", "%"+cond.CodeContains+"%")
	}
	if cond.NameContains != "" {
		tx = tx.Where("name LIKE ?", "%"+cond.NameContains+"%")
	}
	return tx
}

func (r *networkRepo) Count(_ context.Context, cond models.NetworkListCond) (int64, error) {
	var n int64
	err := r.listQuery(cond).Count(&n).Error
	return n, err
}

func (r *networkRepo) List(_ context.Context, cond models.NetworkListCond, opts models.ListOptions) ([]models.Network, error) {
	var out []models.Network
	err := applyList(r.listQuery(cond), opts).Find(&out).Error
	return out, err
}

func (r *networkRepo) Get(_ context.Context, cond models.NetworkQueryCond) (*models.Network, error) {
	tx := r.db.Model(&models.Network{})
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	if cond.PublicOnly {
		tx = tx.Where("unit_id IS NULL")
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.Code != "" {
		tx = tx.Where("code = ?", cond.Code)
	}
	var n models.Network
	err := tx.First(&n).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *networkRepo) Add(_ context.Context, n *models.Network) error {
	return r.db.Create(n).Error
}

func (r *networkRepo) Update(_ context.Context, networkID string, updates models.NetworkUpdates) error {
	patch := map[string]interface{}{}
	if updates.ModifiedAt != nil {
		patch["modified_at"] = *updates.ModifiedAt
	}
	if updates.HostURI != nil {
		patch["host_uri"] = *updates.HostURI
	}
	if updates.Name != nil {
		patch["name"] = *updates.Name
	}
	if updates.Info != nil {
		patch["info"] = *updates.Info
	}
	if len(patch) == 0 {
		return nil
	}
	return r.db.Model(&models.Network{}).Where("network_id = ?", networkID).Updates(patch).Error
}

func (r *networkRepo) Delete(_ context.Context, cond models.NetworkQueryCond) error {
	tx := r.db
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	return tx.Delete(&models.Network{}).Error
}

type deviceRepo struct{ db *gorm.DB }

func (r *deviceRepo) Init(context.Context) error { return r.db.AutoMigrate(&models.Device{}) }

func (r *deviceRepo) listQuery(cond models.DeviceListCond) *gorm.DB {
	tx := r.db.Model(&models.Device{})
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	if cond.NetworkAddr != "" {
		tx = tx.Where("network_addr = ?", strings.ToLower(cond.NetworkAddr))
	}
	if cond.ProfileContains != "" {
		tx = tx.Where("profile LIKE ?", "%"+cond.ProfileContains+"%")
	}
	return tx
}

func (r *deviceRepo) Count(_ context.Context, cond models.DeviceListCond) (int64, error) {
	var n int64
	err := r.listQuery(cond).Count(&n).Error
	return n, err
}

func (r *deviceRepo) List(_ context.Context, cond models.DeviceListCond, opts models.ListOptions) ([]models.Device, error) {
	var out []models.Device
	err := applyList(r.listQuery(cond), opts).Find(&out).Error
	return out, err
}

func (r *deviceRepo) Get(_ context.Context, cond models.DeviceQueryCond) (*models.Device, error) {
	tx := r.db.Model(&models.Device{})
	if cond.DeviceID != "" {
		tx = tx.Where("device_id = ?", cond.DeviceID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	if cond.NetworkAddr != "" {
		tx = tx.Where("network_addr = ?", strings.ToLower(cond.NetworkAddr))
	}
	var d models.Device
	err := tx.First(&d).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *deviceRepo) Add(_ context.Context, d *models.Device) error {
	d.NetworkAddr = strings.ToLower(d.NetworkAddr)
	return r.db.Create(d).Error
}

func (r *deviceRepo) Update(_ context.Context, deviceID string, updates models.DeviceUpdates) error {
	patch := map[string]interface{}{}
	if updates.ModifiedAt != nil {
		patch["modified_at"] = *updates.ModifiedAt
	}
	if updates.NetworkAddr != nil {
		patch["network_addr"] = strings.ToLower(*updates.NetworkAddr)
	}
	if updates.Profile != nil {
		patch["profile"] = *updates.Profile
	}
	if updates.Name != nil {
		patch["name"] = *updates.Name
	}
	if updates.Info != nil {
		patch["info"] = *updates.Info
	}
	if len(patch) == 0 {
		return nil
	}
	return r.db.Model(&models.Device{}).Where("device_id = ?", deviceID).Updates(patch).Error
}

func (r *deviceRepo) Delete(_ context.Context, cond models.DeviceQueryCond) error {
	tx := r.db
	if cond.DeviceID != "" {
		tx = tx.Where("device_id = ?", cond.DeviceID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	return tx.Delete(&models.Device{}).Error
}

func (r *deviceRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	return r.db.Where("network_id = ?", networkID).Delete(&models.Device{}).Error
}

type deviceRouteRepo struct{ db *gorm.DB }

func (r *deviceRouteRepo) Init(context.Context) error { return r.db.AutoMigrate(&models.DeviceRoute{}) }

func (r *deviceRouteRepo) listQuery(cond models.DeviceRouteListCond) *gorm.DB {
	tx := r.db.Model(&models.DeviceRoute{})
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.DeviceID != "" {
		tx = tx.Where("device_id = ?", cond.DeviceID)
	}
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	return tx
}

func (r *deviceRouteRepo) Count(_ context.Context, cond models.DeviceRouteListCond) (int64, error) {
	var n int64
	err := r.listQuery(cond).Count(&n).Error
	return n, err
}

func (r *deviceRouteRepo) List(_ context.Context, cond models.DeviceRouteListCond, opts models.ListOptions) ([]models.DeviceRoute, error) {
	var out []models.DeviceRoute
	err := applyList(r.listQuery(cond), opts).Find(&out).Error
	return out, err
}

func (r *deviceRouteRepo) Get(_ context.Context, cond models.DeviceRouteQueryCond) (*models.DeviceRoute, error) {
	tx := r.db.Model(&models.DeviceRoute{})
	if cond.RouteID != "" {
		tx = tx.Where("route_id = ?", cond.RouteID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.DeviceID != "" {
		tx = tx.Where("device_id = ?", cond.DeviceID)
	}
	var rt models.DeviceRoute
	err := tx.First(&rt).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *deviceRouteRepo) GetByDeviceApp(_ context.Context, deviceID, applicationID string) (*models.DeviceRoute, error) {
	var rt models.DeviceRoute
	err := r.db.Where("device_id = ? AND application_id = ?", deviceID, applicationID).First(&rt).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *deviceRouteRepo) ListByDevice(_ context.Context, deviceID string) ([]models.DeviceRoute, error) {
	var out []models.DeviceRoute
	err := r.db.Where("device_id = ?", deviceID).Find(&out).Error
	return out, err
}

func (r *deviceRouteRepo) Add(_ context.Context, rt *models.DeviceRoute) error {
	return r.db.Create(rt).Error
}

func (r *deviceRouteRepo) Delete(_ context.Context, cond models.DeviceRouteQueryCond) error {
	tx := r.db
	if cond.RouteID != "" {
		tx = tx.Where("route_id = ?", cond.RouteID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.DeviceID != "" {
		tx = tx.Where("device_id = ?", cond.DeviceID)
	}
	return tx.Delete(&models.DeviceRoute{}).Error
}

func (r *deviceRouteRepo) DeleteByDevice(_ context.Context, deviceID string) error {
	return r.db.Where("device_id = ?", deviceID).Delete(&models.DeviceRoute{}).Error
}

func (r *deviceRouteRepo) DeleteByApplication(_ context.Context, applicationID string) error {
	return r.db.Where("application_id = ?", applicationID).Delete(&models.DeviceRoute{}).Error
}

func (r *deviceRouteRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	return r.db.Where("network_id = ?", networkID).Delete(&models.DeviceRoute{}).Error
}

type networkRouteRepo struct{ db *gorm.DB }

func (r *networkRouteRepo) Init(context.Context) error {
	return r.db.AutoMigrate(&models.NetworkRoute{})
}

func (r *networkRouteRepo) listQuery(cond models.NetworkRouteListCond) *gorm.DB {
	tx := r.db.Model(&models.NetworkRoute{})
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	return tx
}

func (r *networkRouteRepo) Count(_ context.Context, cond models.NetworkRouteListCond) (int64, error) {
	var n int64
	err := r.listQuery(cond).Count(&n).Error
	return n, err
}

func (r *networkRouteRepo) List(_ context.Context, cond models.NetworkRouteListCond, opts models.ListOptions) ([]models.NetworkRoute, error) {
	var out []models.NetworkRoute
	err := applyList(r.listQuery(cond), opts).Find(&out).Error
	return out, err
}

func (r *networkRouteRepo) Get(_ context.Context, cond models.NetworkRouteQueryCond) (*models.NetworkRoute, error) {
	tx := r.db.Model(&models.NetworkRoute{})
	if cond.RouteID != "" {
		tx = tx.Where("route_id = ?", cond.RouteID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	var rt models.NetworkRoute
	err := tx.First(&rt).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *networkRouteRepo) ListByNetwork(_ context.Context, networkID string) ([]models.NetworkRoute, error) {
	var out []models.NetworkRoute
	err := r.db.Where("network_id = ?", networkID).Find(&out).Error
	return out, err
}

func (r *networkRouteRepo) Add(_ context.Context, rt *models.NetworkRoute) error {
	return r.db.Create(rt).Error
}

func (r *networkRouteRepo) Delete(_ context.Context, cond models.NetworkRouteQueryCond) error {
	tx := r.db
	if cond.RouteID != "" {
		tx = tx.Where("route_id = ?", cond.RouteID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	return tx.Delete(&models.NetworkRoute{}).Error
}

func (r *networkRouteRepo) DeleteByApplication(_ context.Context, applicationID string) error {
	return r.db.Where("application_id = ?", applicationID).Delete(&models.NetworkRoute{}).Error
}

func (r *networkRouteRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	return r.db.Where("network_id = ?", networkID).Delete(&models.NetworkRoute{}).Error
}

type dldataRepo struct{ db *gorm.DB }

func (r *dldataRepo) Init(context.Context) error { return r.db.AutoMigrate(&models.DlDataBuffer{}) }

func (r *dldataRepo) listQuery(cond models.DlDataBufferListCond) *gorm.DB {
	tx := r.db.Model(&models.DlDataBuffer{})
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	if cond.DeviceID != "" {
		tx = tx.Where("device_id = ?", cond.DeviceID)
	}
	return tx
}

func (r *dldataRepo) Count(_ context.Context, cond models.DlDataBufferListCond) (int64, error) {
	var n int64
	err := r.listQuery(cond).Count(&n).Error
	return n, err
}

func (r *dldataRepo) List(_ context.Context, cond models.DlDataBufferListCond, opts models.ListOptions) ([]models.DlDataBuffer, error) {
	var out []models.DlDataBuffer
	err := applyList(r.listQuery(cond), opts).Find(&out).Error
	return out, err
}

func (r *dldataRepo) Get(_ context.Context, dataID string) (*models.DlDataBuffer, error) {
	var b models.DlDataBuffer
	err := r.db.Where("data_id = ?", dataID).First(&b).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *dldataRepo) Add(_ context.Context, b *models.DlDataBuffer) error {
	return r.db.Create(b).Error
}

func (r *dldataRepo) Delete(_ context.Context, cond models.DlDataBufferQueryCond) error {
	tx := r.db
	if cond.DataID != "" {
		tx = tx.Where("data_id = ?", cond.DataID)
	}
	if cond.UnitID != "" {
		tx = tx.Where("unit_id = ?", cond.UnitID)
	}
	if cond.ApplicationID != "" {
		tx = tx.Where("application_id = ?", cond.ApplicationID)
	}
	if cond.NetworkID != "" {
		tx = tx.Where("network_id = ?", cond.NetworkID)
	}
	if cond.DeviceID != "" {
		tx = tx.Where("device_id = ?", cond.DeviceID)
	}
	return tx.Delete(&models.DlDataBuffer{}).Error
}

func (r *dldataRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	res := r.db.Where("expired_at < ?", now).Delete(&models.DlDataBuffer{})
	return res.RowsAffected, res.Error
}

// Package mongodb implements broker/internal/models.Repo on top of the
// official MongoDB driver, using pkg/storage/orm.Model as the thin
// collection wrapper the teacher ships for exactly this purpose.
package mongodb

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/storage/orm"
)

// Options configures the MongoDB connection.
type Options struct {
	URI string
	DB  string
}

// Repo is an orm.Model-backed models.Repo; one collection per entity.
type Repo struct {
	client *mongo.Client
	db     *mongo.Database
}

// New dials uri and selects database dbName.
func New(ctx context.Context, opts Options) (*Repo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping mongodb")
	}
	return &Repo{client: client, db: client.Database(opts.DB)}, nil
}

func (r *Repo) Close(ctx context.Context) error { return r.client.Disconnect(ctx) }

func (r *Repo) Unit() models.UnitRepo {
	return &unitRepo{m: &orm.Model{Collection: r.db.Collection("unit")}}
}
func (r *Repo) Application() models.ApplicationRepo {
	return &applicationRepo{m: &orm.Model{Collection: r.db.Collection("application")}}
}
func (r *Repo) Network() models.NetworkRepo {
	return &networkRepo{m: &orm.Model{Collection: r.db.Collection("network")}}
}
func (r *Repo) Device() models.DeviceRepo {
	return &deviceRepo{m: &orm.Model{Collection: r.db.Collection("device")}}
}
func (r *Repo) DeviceRoute() models.DeviceRouteRepo {
	return &deviceRouteRepo{m: &orm.Model{Collection: r.db.Collection("deviceRoute")}}
}
func (r *Repo) NetworkRoute() models.NetworkRouteRepo {
	return &networkRouteRepo{m: &orm.Model{Collection: r.db.Collection("networkRoute")}}
}
func (r *Repo) DlDataBuffer() models.DlDataBufferRepo {
	return &dldataRepo{m: &orm.Model{Collection: r.db.Collection("dldataBuffer")}}
}

func findOpts(opts models.ListOptions) *options.FindOptions {
	fo := options.Find()
	if opts.Offset > 0 {
		fo.SetSkip(opts.Offset)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if len(opts.Sort) > 0 {
		sortDoc := bson.D{}
		for _, s := range opts.Sort {
			dir := -1
			if s.Asc {
				dir = 1
			}
			sortDoc = append(sortDoc, bson.E{Key: s.Key, Value: dir})
		}
		fo.SetSort(sortDoc)
	}
	return fo
}

type unitRepo struct{ m *orm.Model }

func (r *unitRepo) Init(context.Context) error {
	_, err := r.m.Collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "unitId", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *unitRepo) filter(cond models.UnitListCond) map[string]interface{} {
	f := map[string]interface{}{}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.OwnerID != "" {
		f["ownerId"] = cond.OwnerID
	}
	if cond.MemberID != "" {
		f["memberIds"] = cond.MemberID
	}
	if cond.CodeContains != "" {
		f["code"] = bson.M{"$regex": cond.CodeContains}
	}
	if cond.NameContains != "" {
		f["name"] = bson.M{"$regex": cond.NameContains}
	}
	return f
}

func (r *unitRepo) Count(_ context.Context, cond models.UnitListCond) (int64, error) {
	return r.m.Count(r.filter(cond))
}

func (r *unitRepo) List(_ context.Context, cond models.UnitListCond, opts models.ListOptions) ([]models.Unit, error) {
	var out []models.Unit
	err := r.m.Find(r.filter(cond), &out, findOpts(opts))
	return out, err
}

func (r *unitRepo) Get(_ context.Context, cond models.UnitQueryCond) (*models.Unit, error) {
	f := map[string]interface{}{}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.Code != "" {
		f["code"] = cond.Code
	}
	if cond.OwnerID != "" {
		f["ownerId"] = cond.OwnerID
	}
	if cond.MemberID != "" {
		f["memberIds"] = cond.MemberID
	}
	var u models.Unit
	if err := r.m.First(f, &u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *unitRepo) Add(ctx context.Context, u *models.Unit) error {
	_, err := r.m.Collection.InsertOne(ctx, u)
	return err
}

func (r *unitRepo) Update(_ context.Context, unitID string, updates models.UnitUpdates) error {
	patch := bson.M{}
	if updates.ModifiedAt != nil {
		patch["modifiedAt"] = *updates.ModifiedAt
	}
	if updates.OwnerID != nil {
		patch["ownerId"] = *updates.OwnerID
	}
	if updates.MemberIDs != nil {
		patch["memberIds"] = *updates.MemberIDs
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
	return r.m.Update(map[string]interface{}{"unitId": unitID}, patch, false)
}

func (r *unitRepo) Delete(_ context.Context, cond models.UnitQueryCond) error {
	f := map[string]interface{}{}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.OwnerID != "" {
		f["ownerId"] = cond.OwnerID
	}
	_, err := r.m.DeleteAll(f)
	return err
}

type applicationRepo struct{ m *orm.Model }

func (r *applicationRepo) Init(context.Context) error {
	_, err := r.m.Collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "applicationId", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *applicationRepo) filter(cond models.ApplicationListCond) map[string]interface{} {
	f := map[string]interface{}{}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.CodeContains != "" {
		f["code"] = bson.M{"$regex": cond.CodeContains}
	}
	if cond.NameContains != "" {
		f["name"] = bson.M{"$regex": cond.NameContains}
	}
	return f
}

func (r *applicationRepo) Count(_ context.Context, cond models.ApplicationListCond) (int64, error) {
	return r.m.Count(r.filter(cond))
}

func (r *applicationRepo) List(_ context.Context, cond models.ApplicationListCond, opts models.ListOptions) ([]models.Application, error) {
	var out []models.Application
	err := r.m.Find(r.filter(cond), &out, findOpts(opts))
	return out, err
}

func (r *applicationRepo) Get(_ context.Context, cond models.ApplicationQueryCond) (*models.Application, error) {
	f := map[string]interface{}{}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.Code != "" {
		f["code"] = cond.Code
	}
	var a models.Application
	if err := r.m.First(f, &a); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *applicationRepo) Add(ctx context.Context, a *models.Application) error {
	_, err := r.m.Collection.InsertOne(ctx, a)
	return err
}

func (r *applicationRepo) Update(_ context.Context, applicationID string, updates models.ApplicationUpdates) error {
	patch := bson.M{}
	if updates.ModifiedAt != nil {
		patch["modifiedAt"] = *updates.ModifiedAt
	}
	if updates.HostURI != nil {
		patch["hostUri"] = *updates.HostURI
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
	return r.m.Update(map[string]interface{}{"applicationId": applicationID}, patch, false)
}

func (r *applicationRepo) Delete(_ context.Context, cond models.ApplicationQueryCond) error {
	f := map[string]interface{}{}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	_, err := r.m.DeleteAll(f)
	return err
}

type networkRepo struct{ m *orm.Model }

func (r *networkRepo) Init(context.Context) error {
	_, err := r.m.Collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "networkId", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *networkRepo) filter(cond models.NetworkListCond) map[string]interface{} {
	f := map[string]interface{}{}
	if cond.PublicOnly {
		f["unitId"] = nil
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.CodeContains != "" {
		f["code"] = bson.M{"$regex": cond.CodeContains}
	}
	if cond.NameContains != "" {
		f["name"] = bson.M{"$regex": cond.NameContains}
	}
	return f
}

func (r *networkRepo) Count(_ context.Context, cond models.NetworkListCond) (int64, error) {
	return r.m.Count(r.filter(cond))
}

func (r *networkRepo) List(_ context.Context, cond models.NetworkListCond, opts models.ListOptions) ([]models.Network, error) {
	var out []models.Network
	err := r.m.Find(r.filter(cond), &out, findOpts(opts))
	return out, err
}

func (r *networkRepo) Get(_ context.Context, cond models.NetworkQueryCond) (*models.Network, error) {
	f := map[string]interface{}{}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	if cond.PublicOnly {
		f["unitId"] = nil
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.Code != "" {
		f["code"] = cond.Code
	}
	var n models.Network
	if err := r.m.First(f, &n); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *networkRepo) Add(ctx context.Context, n *models.Network) error {
	_, err := r.m.Collection.InsertOne(ctx, n)
	return err
}

func (r *networkRepo) Update(_ context.Context, networkID string, updates models.NetworkUpdates) error {
	patch := bson.M{}
	if updates.ModifiedAt != nil {
		patch["modifiedAt"] = *updates.ModifiedAt
	}
	if updates.HostURI != nil {
		patch["hostUri"] = *updates.HostURI
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
	return r.m.Update(map[string]interface{}{"networkId": networkID}, patch, false)
}

func (r *networkRepo) Delete(_ context.Context, cond models.NetworkQueryCond) error {
	f := map[string]interface{}{}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	_, err := r.m.DeleteAll(f)
	return err
}

type deviceRepo struct{ m *orm.Model }

func (r *deviceRepo) Init(context.Context) error {
	_, err := r.m.Collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "deviceId", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *deviceRepo) filter(cond models.DeviceListCond) map[string]interface{} {
	f := map[string]interface{}{}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	if cond.NetworkAddr != "" {
		f["networkAddr"] = strings.ToLower(cond.NetworkAddr)
	}
	if cond.ProfileContains != "" {
		f["profile"] = bson.M{"$regex": cond.ProfileContains}
	}
	return f
}

func (r *deviceRepo) Count(_ context.Context, cond models.DeviceListCond) (int64, error) {
	return r.m.Count(r.filter(cond))
}

func (r *deviceRepo) List(_ context.Context, cond models.DeviceListCond, opts models.ListOptions) ([]models.Device, error) {
	var out []models.Device
	err := r.m.Find(r.filter(cond), &out, findOpts(opts))
	return out, err
}

func (r *deviceRepo) Get(_ context.Context, cond models.DeviceQueryCond) (*models.Device, error) {
	f := map[string]interface{}{}
	if cond.DeviceID != "" {
		f["deviceId"] = cond.DeviceID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	if cond.NetworkAddr != "" {
		f["networkAddr"] = strings.ToLower(cond.NetworkAddr)
	}
	var d models.Device
	if err := r.m.First(f, &d); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *deviceRepo) Add(ctx context.Context, d *models.Device) error {
	d.NetworkAddr = strings.ToLower(d.NetworkAddr)
	_, err := r.m.Collection.InsertOne(ctx, d)
	return err
}

func (r *deviceRepo) Update(_ context.Context, deviceID string, updates models.DeviceUpdates) error {
	patch := bson.M{}
	if updates.ModifiedAt != nil {
		patch["modifiedAt"] = *updates.ModifiedAt
	}
	if updates.NetworkAddr != nil {
		patch["networkAddr"] = strings.ToLower(*updates.NetworkAddr)
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
	return r.m.Update(map[string]interface{}{"deviceId": deviceID}, patch, false)
}

func (r *deviceRepo) Delete(_ context.Context, cond models.DeviceQueryCond) error {
	f := map[string]interface{}{}
	if cond.DeviceID != "" {
		f["deviceId"] = cond.DeviceID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	_, err := r.m.DeleteAll(f)
	return err
}

func (r *deviceRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	_, err := r.m.DeleteAll(map[string]interface{}{"networkId": networkID})
	return err
}

type deviceRouteRepo struct{ m *orm.Model }

func (r *deviceRouteRepo) Init(context.Context) error {
	_, err := r.m.Collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "routeId", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *deviceRouteRepo) filter(cond models.DeviceRouteListCond) map[string]interface{} {
	f := map[string]interface{}{}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.DeviceID != "" {
		f["deviceId"] = cond.DeviceID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	return f
}

func (r *deviceRouteRepo) Count(_ context.Context, cond models.DeviceRouteListCond) (int64, error) {
	return r.m.Count(r.filter(cond))
}

func (r *deviceRouteRepo) List(_ context.Context, cond models.DeviceRouteListCond, opts models.ListOptions) ([]models.DeviceRoute, error) {
	var out []models.DeviceRoute
	err := r.m.Find(r.filter(cond), &out, findOpts(opts))
	return out, err
}

func (r *deviceRouteRepo) Get(_ context.Context, cond models.DeviceRouteQueryCond) (*models.DeviceRoute, error) {
	f := map[string]interface{}{}
	if cond.RouteID != "" {
		f["routeId"] = cond.RouteID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.DeviceID != "" {
		f["deviceId"] = cond.DeviceID
	}
	var rt models.DeviceRoute
	if err := r.m.First(f, &rt); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &rt, nil
}

func (r *deviceRouteRepo) GetByDeviceApp(_ context.Context, deviceID, applicationID string) (*models.DeviceRoute, error) {
	var rt models.DeviceRoute
	f := map[string]interface{}{"deviceId": deviceID, "applicationId": applicationID}
	if err := r.m.First(f, &rt); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &rt, nil
}

func (r *deviceRouteRepo) ListByDevice(_ context.Context, deviceID string) ([]models.DeviceRoute, error) {
	var out []models.DeviceRoute
	err := r.m.Find(map[string]interface{}{"deviceId": deviceID}, &out)
	return out, err
}

func (r *deviceRouteRepo) Add(ctx context.Context, rt *models.DeviceRoute) error {
	_, err := r.m.Collection.InsertOne(ctx, rt)
	return err
}

func (r *deviceRouteRepo) Delete(_ context.Context, cond models.DeviceRouteQueryCond) error {
	_, err := r.m.DeleteAll(r.filterCond(cond))
	return err
}

func (r *deviceRouteRepo) filterCond(cond models.DeviceRouteQueryCond) map[string]interface{} {
	f := map[string]interface{}{}
	if cond.RouteID != "" {
		f["routeId"] = cond.RouteID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.DeviceID != "" {
		f["deviceId"] = cond.DeviceID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	return f
}

func (r *deviceRouteRepo) DeleteByDevice(_ context.Context, deviceID string) error {
	_, err := r.m.DeleteAll(map[string]interface{}{"deviceId": deviceID})
	return err
}

func (r *deviceRouteRepo) DeleteByApplication(_ context.Context, applicationID string) error {
	_, err := r.m.DeleteAll(map[string]interface{}{"applicationId": applicationID})
	return err
}

func (r *deviceRouteRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	_, err := r.m.DeleteAll(map[string]interface{}{"networkId": networkID})
	return err
}

type networkRouteRepo struct{ m *orm.Model }

func (r *networkRouteRepo) Init(context.Context) error {
	_, err := r.m.Collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "routeId", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *networkRouteRepo) filter(cond models.NetworkRouteListCond) map[string]interface{} {
	f := map[string]interface{}{}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	return f
}

func (r *networkRouteRepo) Count(_ context.Context, cond models.NetworkRouteListCond) (int64, error) {
	return r.m.Count(r.filter(cond))
}

func (r *networkRouteRepo) List(_ context.Context, cond models.NetworkRouteListCond, opts models.ListOptions) ([]models.NetworkRoute, error) {
	var out []models.NetworkRoute
	err := r.m.Find(r.filter(cond), &out, findOpts(opts))
	return out, err
}

func (r *networkRouteRepo) Get(_ context.Context, cond models.NetworkRouteQueryCond) (*models.NetworkRoute, error) {
	f := map[string]interface{}{}
	if cond.RouteID != "" {
		f["routeId"] = cond.RouteID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	var rt models.NetworkRoute
	if err := r.m.First(f, &rt); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &rt, nil
}

func (r *networkRouteRepo) ListByNetwork(_ context.Context, networkID string) ([]models.NetworkRoute, error) {
	var out []models.NetworkRoute
	err := r.m.Find(map[string]interface{}{"networkId": networkID}, &out)
	return out, err
}

func (r *networkRouteRepo) Add(ctx context.Context, rt *models.NetworkRoute) error {
	_, err := r.m.Collection.InsertOne(ctx, rt)
	return err
}

func (r *networkRouteRepo) Delete(_ context.Context, cond models.NetworkRouteQueryCond) error {
	f := map[string]interface{}{}
	if cond.RouteID != "" {
		f["routeId"] = cond.RouteID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	_, err := r.m.DeleteAll(f)
	return err
}

func (r *networkRouteRepo) DeleteByApplication(_ context.Context, applicationID string) error {
	_, err := r.m.DeleteAll(map[string]interface{}{"applicationId": applicationID})
	return err
}

func (r *networkRouteRepo) DeleteByNetwork(_ context.Context, networkID string) error {
	_, err := r.m.DeleteAll(map[string]interface{}{"networkId": networkID})
	return err
}

type dldataRepo struct{ m *orm.Model }

func (r *dldataRepo) Init(context.Context) error {
	_, err := r.m.Collection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "dataId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiredAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	return err
}

func (r *dldataRepo) filter(cond models.DlDataBufferListCond) map[string]interface{} {
	f := map[string]interface{}{}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	if cond.DeviceID != "" {
		f["deviceId"] = cond.DeviceID
	}
	return f
}

func (r *dldataRepo) Count(_ context.Context, cond models.DlDataBufferListCond) (int64, error) {
	return r.m.Count(r.filter(cond))
}

func (r *dldataRepo) List(_ context.Context, cond models.DlDataBufferListCond, opts models.ListOptions) ([]models.DlDataBuffer, error) {
	var out []models.DlDataBuffer
	err := r.m.Find(r.filter(cond), &out, findOpts(opts))
	return out, err
}

func (r *dldataRepo) Get(_ context.Context, dataID string) (*models.DlDataBuffer, error) {
	var b models.DlDataBuffer
	if err := r.m.First(map[string]interface{}{"dataId": dataID}, &b); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *dldataRepo) Add(ctx context.Context, b *models.DlDataBuffer) error {
	_, err := r.m.Collection.InsertOne(ctx, b)
	return err
}

func (r *dldataRepo) Delete(_ context.Context, cond models.DlDataBufferQueryCond) error {
	f := map[string]interface{}{}
	if cond.DataID != "" {
		f["dataId"] = cond.DataID
	}
	if cond.UnitID != "" {
		f["unitId"] = cond.UnitID
	}
	if cond.ApplicationID != "" {
		f["applicationId"] = cond.ApplicationID
	}
	if cond.NetworkID != "" {
		f["networkId"] = cond.NetworkID
	}
	if cond.DeviceID != "" {
		f["deviceId"] = cond.DeviceID
	}
	_, err := r.m.DeleteAll(f)
	return err
}

func (r *dldataRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return r.m.DeleteAll(map[string]interface{}{"expiredAt": bson.M{"$lt": now}})
}

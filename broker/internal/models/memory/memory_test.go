package memory

import (
	"context"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
)

func TestUnitCRUD(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := New()

	now := time.Now().UTC()
	u := &models.Unit{
		UnitID: "u1", Code: "my-unit", OwnerID: "owner1",
		MemberIDs: []string{"owner1", "member2"},
		CreatedAt: now, ModifiedAt: now,
	}
	assert.Nil(repo.Unit().Add(ctx, u))

	got, err := repo.Unit().Get(ctx, models.UnitQueryCond{UnitID: "u1"})
	assert.Nil(err)
	assert.NotNil(got)
	assert.Equal("my-unit", got.Code)

	got, err = repo.Unit().Get(ctx, models.UnitQueryCond{MemberID: "member2"})
	assert.Nil(err)
	assert.NotNil(got)

	name := "renamed"
	assert.Nil(repo.Unit().Update(ctx, "u1", models.UnitUpdates{Name: &name}))
	got, _ = repo.Unit().Get(ctx, models.UnitQueryCond{UnitID: "u1"})
	assert.Equal("renamed", got.Name)

	assert.Nil(repo.Unit().Delete(ctx, models.UnitQueryCond{UnitID: "u1"}))
	got, err = repo.Unit().Get(ctx, models.UnitQueryCond{UnitID: "u1"})
	assert.Nil(err)
	assert.Nil(got)
}

// TestUnitDeleteCascade mirrors the unit-deletion invariant from the data
// model: deleting a unit must be followed by deleting every application,
// network, device and route scoped to it. The cascade itself belongs to the
// manager layer; this only verifies the repository primitives it depends on.
func TestUnitDeleteCascade(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := New()
	now := time.Now().UTC()

	assert.Nil(repo.Unit().Add(ctx, &models.Unit{UnitID: "u1", Code: "unit1", OwnerID: "o1", CreatedAt: now, ModifiedAt: now}))
	assert.Nil(repo.Application().Add(ctx, &models.Application{ApplicationID: "a1", UnitID: "u1", Code: "app1", CreatedAt: now, ModifiedAt: now}))
	unitID := "u1"
	assert.Nil(repo.Network().Add(ctx, &models.Network{NetworkID: "n1", UnitID: &unitID, Code: "net1", CreatedAt: now, ModifiedAt: now}))
	assert.Nil(repo.Device().Add(ctx, &models.Device{DeviceID: "d1", UnitID: "u1", NetworkID: "n1", NetworkAddr: "ABCD", CreatedAt: now, ModifiedAt: now}))
	assert.Nil(repo.DeviceRoute().Add(ctx, &models.DeviceRoute{RouteID: "r1", UnitID: "u1", ApplicationID: "a1", DeviceID: "d1", NetworkID: "n1", CreatedAt: now}))

	// cascade: application -> its device routes; network -> its devices and routes.
	assert.Nil(repo.DeviceRoute().DeleteByApplication(ctx, "a1"))
	assert.Nil(repo.Application().Delete(ctx, models.ApplicationQueryCond{ApplicationID: "a1"}))
	assert.Nil(repo.DeviceRoute().DeleteByNetwork(ctx, "n1"))
	assert.Nil(repo.Device().DeleteByNetwork(ctx, "n1"))
	assert.Nil(repo.Network().Delete(ctx, models.NetworkQueryCond{NetworkID: "n1"}))
	assert.Nil(repo.Unit().Delete(ctx, models.UnitQueryCond{UnitID: "u1"}))

	routes, err := repo.DeviceRoute().ListByDevice(ctx, "d1")
	assert.Nil(err)
	assert.Empty(routes)

	app, err := repo.Application().Get(ctx, models.ApplicationQueryCond{ApplicationID: "a1"})
	assert.Nil(err)
	assert.Nil(app)
}

func TestDeviceNetworkAddrLowercased(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := New()
	now := time.Now().UTC()

	assert.Nil(repo.Device().Add(ctx, &models.Device{
		DeviceID: "d1", UnitID: "u1", NetworkID: "n1", NetworkAddr: "ABCDEF01",
		CreatedAt: now, ModifiedAt: now,
	}))

	got, err := repo.Device().Get(ctx, models.DeviceQueryCond{NetworkID: "n1", NetworkAddr: "abcdef01"})
	assert.Nil(err)
	assert.NotNil(got)
	assert.Equal("abcdef01", got.NetworkAddr)
}

func TestDlDataBufferExpiry(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := New()
	now := time.Now().UTC()

	assert.Nil(repo.DlDataBuffer().Add(ctx, &models.DlDataBuffer{
		DataID: "buf1", UnitID: "u1", ApplicationID: "a1", NetworkID: "n1", DeviceID: "d1",
		CreatedAt: now, ExpiredAt: now.Add(-time.Second),
	}))
	assert.Nil(repo.DlDataBuffer().Add(ctx, &models.DlDataBuffer{
		DataID: "buf2", UnitID: "u1", ApplicationID: "a1", NetworkID: "n1", DeviceID: "d1",
		CreatedAt: now, ExpiredAt: now.Add(time.Hour),
	}))

	n, err := repo.DlDataBuffer().DeleteExpired(ctx, time.Now().UTC())
	assert.Nil(err)
	assert.Equal(int64(1), n)

	remaining, err := repo.DlDataBuffer().Get(ctx, "buf2")
	assert.Nil(err)
	assert.NotNil(remaining)
}

func TestNetworkRouteListByNetwork(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := New()
	now := time.Now().UTC()

	assert.Nil(repo.NetworkRoute().Add(ctx, &models.NetworkRoute{
		RouteID: "nr1", UnitID: "u1", UnitCode: "unit1", ApplicationID: "a1", ApplicationCode: "app1",
		NetworkID: "n1", NetworkCode: "net1", CreatedAt: now,
	}))
	assert.Nil(repo.NetworkRoute().Add(ctx, &models.NetworkRoute{
		RouteID: "nr2", UnitID: "u1", UnitCode: "unit1", ApplicationID: "a2", ApplicationCode: "app2",
		NetworkID: "n1", NetworkCode: "net1", CreatedAt: now,
	}))

	routes, err := repo.NetworkRoute().ListByNetwork(ctx, "n1")
	assert.Nil(err)
	assert.Len(routes, 2)
}

package routes

import (
	lib "net/http"
	"strings"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/control"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

type devicePostBody struct {
	NetworkID   string       `json:"networkId"`
	NetworkAddr string       `json:"networkAddr"`
	Profile     string       `json:"profile"`
	Name        string       `json:"name"`
	Info        *models.Info `json:"info"`
}

type devicePatchBody struct {
	NetworkAddr *string      `json:"networkAddr"`
	Profile     *string      `json:"profile"`
	Name        *string      `json:"name"`
	Info        *models.Info `json:"info"`
}

func (h *handler) mountDeviceRoutes(mux *lib.ServeMux) {
	mux.Handle("POST /api/v1/broker/device", h.authed(tokeninfo.Access{}, h.createDevice))
	mux.Handle("GET /api/v1/broker/device", h.authed(tokeninfo.Access{}, h.listDevices))
	mux.Handle("GET /api/v1/broker/device/{deviceId}", h.authed(tokeninfo.Access{}, h.getDevice))
	mux.Handle("PATCH /api/v1/broker/device/{deviceId}", h.authed(tokeninfo.Access{}, h.patchDevice))
	mux.Handle("DELETE /api/v1/broker/device/{deviceId}", h.authed(tokeninfo.Access{}, h.deleteDevice))
}

func (h *handler) deviceOwnerCheck(r *lib.Request, unitID string) (bool, error) {
	if unitID == "" {
		id, _ := tokeninfo.FromContext(r.Context())
		return id.IsAdminOrManager(), nil
	}
	id, _ := tokeninfo.FromContext(r.Context())
	return h.checkUnitAccess(r, id, unitID, true)
}

func (h *handler) createDevice(w lib.ResponseWriter, r *lib.Request) {
	var body devicePostBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.NetworkID == "" || body.NetworkAddr == "" {
		writeErr(w, errors.ErrParam("networkId and networkAddr are required"))
		return
	}
	net, err := h.repo.Network().Get(r.Context(), models.NetworkQueryCond{NetworkID: body.NetworkID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if net == nil {
		writeErr(w, errors.ErrNotFound("network not found"))
		return
	}
	netUnitID := ""
	if net.UnitID != nil {
		netUnitID = *net.UnitID
	}
	ok, err := h.deviceOwnerCheck(r, netUnitID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("network not found"))
		return
	}

	now := time.Now().UTC()
	info := models.Info{}
	if body.Info != nil {
		info = *body.Info
	}
	addr := strings.ToLower(body.NetworkAddr)
	dev := &models.Device{
		DeviceID: newID(), UnitID: netUnitID, NetworkID: net.NetworkID, NetworkCode: net.Code,
		NetworkAddr: addr, Profile: body.Profile, Name: body.Name, Info: info, CreatedAt: now, ModifiedAt: now,
	}
	if net.UnitCode != nil {
		dev.UnitCode = net.UnitCode
	}
	if err := h.repo.Device().Add(r.Context(), dev); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, map[string]string{"deviceId": dev.DeviceID})
}

func (h *handler) listDevices(w lib.ResponseWriter, r *lib.Request) {
	cond := models.DeviceListCond{UnitID: r.URL.Query().Get("unit"), NetworkID: r.URL.Query().Get("network")}
	devs, err := h.repo.Device().List(r.Context(), cond, listOptsFromQuery(r))
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, devs)
}

func (h *handler) getDevice(w lib.ResponseWriter, r *lib.Request) {
	dev, err := h.repo.Device().Get(r.Context(), models.DeviceQueryCond{DeviceID: r.PathValue("deviceId")})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if dev == nil {
		writeErr(w, errors.ErrNotFound("device not found"))
		return
	}
	ok, err := h.deviceOwnerCheck(r, dev.UnitID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("device not found"))
		return
	}
	writeData(w, lib.StatusOK, dev)
}

func (h *handler) patchDevice(w lib.ResponseWriter, r *lib.Request) {
	deviceID := r.PathValue("deviceId")
	dev, err := h.repo.Device().Get(r.Context(), models.DeviceQueryCond{DeviceID: deviceID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if dev == nil {
		writeErr(w, errors.ErrNotFound("device not found"))
		return
	}
	ok, err := h.deviceOwnerCheck(r, dev.UnitID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("device not found"))
		return
	}
	var body devicePatchBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.NetworkAddr != nil {
		lowered := strings.ToLower(*body.NetworkAddr)
		body.NetworkAddr = &lowered
	}
	now := time.Now().UTC()
	updates := models.DeviceUpdates{ModifiedAt: &now, NetworkAddr: body.NetworkAddr, Profile: body.Profile, Name: body.Name, Info: body.Info}
	if err := h.repo.Device().Update(r.Context(), deviceID, updates); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	// an address change invalidates whatever the old triple cached.
	unitCode := ""
	if dev.UnitCode != nil {
		unitCode = *dev.UnitCode
	}
	if err := publishDelDevice(h.app, control.DelDevicePayload{
		UnitCode: unitCode, NetworkCode: dev.NetworkCode, NetworkAddr: dev.NetworkAddr, DeviceID: dev.DeviceID,
	}); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-device failed")
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

func (h *handler) deleteDevice(w lib.ResponseWriter, r *lib.Request) {
	deviceID := r.PathValue("deviceId")
	dev, err := h.repo.Device().Get(r.Context(), models.DeviceQueryCond{DeviceID: deviceID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if dev == nil {
		writeErr(w, errors.ErrNotFound("device not found"))
		return
	}
	ok, err := h.deviceOwnerCheck(r, dev.UnitID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("device not found"))
		return
	}
	if err := h.repo.Device().Delete(r.Context(), models.DeviceQueryCond{DeviceID: deviceID}); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if err := h.repo.DeviceRoute().DeleteByDevice(r.Context(), deviceID); err != nil {
		h.log.WithField("error", err.Error()).Warning("delete device routes by device failed")
	}
	unitCode := ""
	if dev.UnitCode != nil {
		unitCode = *dev.UnitCode
	}
	if err := publishDelDevice(h.app, control.DelDevicePayload{
		UnitCode: unitCode, NetworkCode: dev.NetworkCode, NetworkAddr: dev.NetworkAddr, DeviceID: dev.DeviceID,
	}); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-device failed")
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

package routes

import (
	lib "net/http"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

type deviceRoutePostBody struct {
	ApplicationID string `json:"applicationId"`
	DeviceID      string `json:"deviceId"`
}

func (h *handler) mountDeviceRouteRoutes(mux *lib.ServeMux) {
	mux.Handle("POST /api/v1/broker/device-route", h.authed(tokeninfo.Access{}, h.createDeviceRoute))
	mux.Handle("GET /api/v1/broker/device-route", h.authed(tokeninfo.Access{}, h.listDeviceRoutes))
	mux.Handle("DELETE /api/v1/broker/device-route/{routeId}", h.authed(tokeninfo.Access{}, h.deleteDeviceRoute))
}

// createDeviceRoute binds one application to one device; both must belong
// to the same unit and the caller must own (or be admin/manager of) it.
func (h *handler) createDeviceRoute(w lib.ResponseWriter, r *lib.Request) {
	var body deviceRoutePostBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.ApplicationID == "" || body.DeviceID == "" {
		writeErr(w, errors.ErrParam("applicationId and deviceId are required"))
		return
	}
	app, err := h.repo.Application().Get(r.Context(), models.ApplicationQueryCond{ApplicationID: body.ApplicationID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if app == nil {
		writeErr(w, errors.ErrNotFound("application not found"))
		return
	}
	dev, err := h.repo.Device().Get(r.Context(), models.DeviceQueryCond{DeviceID: body.DeviceID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if dev == nil {
		writeErr(w, errors.ErrNotFound("device not found"))
		return
	}
	if app.UnitID != dev.UnitID {
		writeErr(w, errors.ErrParam("application and device must belong to the same unit"))
		return
	}
	id, _ := tokeninfo.FromContext(r.Context())
	ok, err := h.checkUnitAccess(r, id, app.UnitID, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("application not found"))
		return
	}

	existing, err := h.repo.DeviceRoute().GetByDeviceApp(r.Context(), dev.DeviceID, app.ApplicationID)
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if existing != nil {
		writeData(w, lib.StatusOK, map[string]string{"routeId": existing.RouteID})
		return
	}

	now := time.Now().UTC()
	route := &models.DeviceRoute{
		RouteID: newID(), UnitID: app.UnitID, UnitCode: app.UnitCode, ApplicationID: app.ApplicationID, ApplicationCode: app.Code,
		DeviceID: dev.DeviceID, NetworkID: dev.NetworkID, NetworkCode: dev.NetworkCode, NetworkAddr: dev.NetworkAddr,
		Profile: dev.Profile, CreatedAt: now, ModifiedAt: now,
	}
	if err := h.repo.DeviceRoute().Add(r.Context(), route); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if err := publishDelDeviceRoute(h.app, dev.DeviceID); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-device-route failed")
	}
	writeData(w, lib.StatusOK, map[string]string{"routeId": route.RouteID})
}

func (h *handler) listDeviceRoutes(w lib.ResponseWriter, r *lib.Request) {
	q := r.URL.Query()
	cond := models.DeviceRouteListCond{
		UnitID: q.Get("unit"), ApplicationID: q.Get("application"), DeviceID: q.Get("device"), NetworkID: q.Get("network"),
	}
	routes, err := h.repo.DeviceRoute().List(r.Context(), cond, listOptsFromQuery(r))
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, routes)
}

func (h *handler) deleteDeviceRoute(w lib.ResponseWriter, r *lib.Request) {
	routeID := r.PathValue("routeId")
	route, err := h.repo.DeviceRoute().Get(r.Context(), models.DeviceRouteQueryCond{RouteID: routeID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if route == nil {
		writeErr(w, errors.ErrNotFound("device route not found"))
		return
	}
	id, _ := tokeninfo.FromContext(r.Context())
	ok, err := h.checkUnitAccess(r, id, route.UnitID, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("device route not found"))
		return
	}
	if err := h.repo.DeviceRoute().Delete(r.Context(), models.DeviceRouteQueryCond{RouteID: routeID}); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if err := publishDelDeviceRoute(h.app, route.DeviceID); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-device-route failed")
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

package routes

import (
	lib "net/http"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

type networkRoutePostBody struct {
	ApplicationID string `json:"applicationId"`
	NetworkID     string `json:"networkId"`
}

func (h *handler) mountNetworkRouteRoutes(mux *lib.ServeMux) {
	mux.Handle("POST /api/v1/broker/network-route", h.authed(tokeninfo.Access{}, h.createNetworkRoute))
	mux.Handle("GET /api/v1/broker/network-route", h.authed(tokeninfo.Access{}, h.listNetworkRoutes))
	mux.Handle("DELETE /api/v1/broker/network-route/{routeId}", h.authed(tokeninfo.Access{}, h.deleteNetworkRoute))
}

// createNetworkRoute broadcast-subscribes every device on networkId to
// applicationId's uplink queue. A public network (nil UnitID) may be
// subscribed by any unit's application; a private network must match the
// application's unit.
func (h *handler) createNetworkRoute(w lib.ResponseWriter, r *lib.Request) {
	var body networkRoutePostBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.ApplicationID == "" || body.NetworkID == "" {
		writeErr(w, errors.ErrParam("applicationId and networkId are required"))
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
	net, err := h.repo.Network().Get(r.Context(), models.NetworkQueryCond{NetworkID: body.NetworkID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if net == nil {
		writeErr(w, errors.ErrNotFound("network not found"))
		return
	}
	if net.UnitID != nil && *net.UnitID != app.UnitID {
		writeErr(w, errors.ErrParam("a private network may only be routed to an application in its own unit"))
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

	existing, err := h.repo.NetworkRoute().List(r.Context(), models.NetworkRouteListCond{ApplicationID: app.ApplicationID, NetworkID: net.NetworkID}, models.ListOptions{Limit: 1})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if len(existing) > 0 {
		writeData(w, lib.StatusOK, map[string]string{"routeId": existing[0].RouteID})
		return
	}

	now := time.Now().UTC()
	route := &models.NetworkRoute{
		RouteID: newID(), UnitID: app.UnitID, UnitCode: app.UnitCode, ApplicationID: app.ApplicationID,
		ApplicationCode: app.Code, NetworkID: net.NetworkID, NetworkCode: net.Code, CreatedAt: now,
	}
	if err := h.repo.NetworkRoute().Add(r.Context(), route); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if err := publishDelNetworkRoute(h.app, net.NetworkID); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-network-route failed")
	}
	writeData(w, lib.StatusOK, map[string]string{"routeId": route.RouteID})
}

func (h *handler) listNetworkRoutes(w lib.ResponseWriter, r *lib.Request) {
	q := r.URL.Query()
	cond := models.NetworkRouteListCond{UnitID: q.Get("unit"), ApplicationID: q.Get("application"), NetworkID: q.Get("network")}
	routes, err := h.repo.NetworkRoute().List(r.Context(), cond, listOptsFromQuery(r))
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, routes)
}

func (h *handler) deleteNetworkRoute(w lib.ResponseWriter, r *lib.Request) {
	routeID := r.PathValue("routeId")
	route, err := h.repo.NetworkRoute().Get(r.Context(), models.NetworkRouteQueryCond{RouteID: routeID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if route == nil {
		writeErr(w, errors.ErrNotFound("network route not found"))
		return
	}
	id, _ := tokeninfo.FromContext(r.Context())
	ok, err := h.checkUnitAccess(r, id, route.UnitID, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("network route not found"))
		return
	}
	if err := h.repo.NetworkRoute().Delete(r.Context(), models.NetworkRouteQueryCond{RouteID: routeID}); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if err := publishDelNetworkRoute(h.app, route.NetworkID); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-network-route failed")
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

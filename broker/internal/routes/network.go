package routes

import (
	lib "net/http"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/control"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

type networkPostBody struct {
	Code    string       `json:"code"`
	UnitID  *string      `json:"unitId"`
	HostURI string       `json:"hostUri"`
	Name    string       `json:"name"`
	Info    *models.Info `json:"info"`
}

type networkPatchBody struct {
	HostURI *string      `json:"hostUri"`
	Name    *string      `json:"name"`
	Info    *models.Info `json:"info"`
}

func (h *handler) mountNetworkRoutes(mux *lib.ServeMux) {
	mux.Handle("POST /api/v1/broker/network", h.authed(tokeninfo.Access{}, h.createNetwork))
	mux.Handle("GET /api/v1/broker/network", h.authed(tokeninfo.Access{}, h.listNetworks))
	mux.Handle("GET /api/v1/broker/network/{networkId}", h.authed(tokeninfo.Access{}, h.getNetwork))
	mux.Handle("PATCH /api/v1/broker/network/{networkId}", h.authed(tokeninfo.Access{}, h.patchNetwork))
	mux.Handle("DELETE /api/v1/broker/network/{networkId}", h.authed(tokeninfo.Access{}, h.deleteNetwork))
}

// a nil/empty UnitID creates a public network; only admins/managers may do so.
func (h *handler) createNetwork(w lib.ResponseWriter, r *lib.Request) {
	id, _ := tokeninfo.FromContext(r.Context())
	var body networkPostBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Code == "" || body.HostURI == "" {
		writeErr(w, errors.ErrParam("code and hostUri are required"))
		return
	}

	var unitID, unitCode *string
	if body.UnitID == nil || *body.UnitID == "" {
		if !id.IsAdminOrManager() {
			writeErr(w, errors.ErrPerm("only admin or manager may create a public network"))
			return
		}
	} else {
		ok, err := h.checkUnitAccess(r, id, *body.UnitID, true)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ok {
			writeErr(w, errors.ErrNotFound("unit not found"))
			return
		}
		unit, err := h.repo.Unit().Get(r.Context(), models.UnitQueryCond{UnitID: *body.UnitID})
		if err != nil {
			writeErr(w, errors.ErrDB(err.Error()))
			return
		}
		if unit == nil {
			writeErr(w, errors.ErrNotFound("unit not found"))
			return
		}
		unitID, unitCode = &unit.UnitID, &unit.Code
	}

	now := time.Now().UTC()
	info := models.Info{}
	if body.Info != nil {
		info = *body.Info
	}
	net := &models.Network{
		NetworkID: newID(), Code: body.Code, UnitID: unitID, UnitCode: unitCode,
		HostURI: body.HostURI, Name: body.Name, Info: info, CreatedAt: now, ModifiedAt: now,
	}
	if err := h.repo.Network().Add(r.Context(), net); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	opts := control.ManagerOptions{ID: net.NetworkID, Name: net.Code}
	if unitID != nil {
		opts.UnitID, opts.UnitCode = *unitID, *unitCode
	}
	if err := publishAddManager(h.net, net.HostURI, opts); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish add-manager failed")
	}
	writeData(w, lib.StatusOK, map[string]string{"networkId": net.NetworkID})
}

func (h *handler) listNetworks(w lib.ResponseWriter, r *lib.Request) {
	id, _ := tokeninfo.FromContext(r.Context())
	cond := models.NetworkListCond{UnitID: r.URL.Query().Get("unit")}
	if !id.IsAdminOrManager() && cond.UnitID == "" {
		cond.PublicOnly = true
	}
	nets, err := h.repo.Network().List(r.Context(), cond, listOptsFromQuery(r))
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, nets)
}

func (h *handler) getNetwork(w lib.ResponseWriter, r *lib.Request) {
	net, err := h.repo.Network().Get(r.Context(), models.NetworkQueryCond{NetworkID: r.PathValue("networkId")})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if net == nil {
		writeErr(w, errors.ErrNotFound("network not found"))
		return
	}
	if net.UnitID != nil {
		id, _ := tokeninfo.FromContext(r.Context())
		ok, err := h.checkUnitAccess(r, id, *net.UnitID, false)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ok {
			writeErr(w, errors.ErrNotFound("network not found"))
			return
		}
	}
	writeData(w, lib.StatusOK, net)
}

func (h *handler) networkOwnerCheck(r *lib.Request, net *models.Network) (bool, error) {
	id, _ := tokeninfo.FromContext(r.Context())
	if net.UnitID == nil {
		return id.IsAdminOrManager(), nil
	}
	return h.checkUnitAccess(r, id, *net.UnitID, true)
}

func (h *handler) patchNetwork(w lib.ResponseWriter, r *lib.Request) {
	networkID := r.PathValue("networkId")
	net, err := h.repo.Network().Get(r.Context(), models.NetworkQueryCond{NetworkID: networkID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if net == nil {
		writeErr(w, errors.ErrNotFound("network not found"))
		return
	}
	ok, err := h.networkOwnerCheck(r, net)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("network not found"))
		return
	}
	var body networkPatchBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	now := time.Now().UTC()
	updates := models.NetworkUpdates{ModifiedAt: &now, HostURI: body.HostURI, Name: body.Name, Info: body.Info}
	if err := h.repo.Network().Update(r.Context(), networkID, updates); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if body.HostURI != nil {
		opts := control.ManagerOptions{ID: net.NetworkID, Name: net.Code}
		if net.UnitID != nil {
			opts.UnitID, opts.UnitCode = *net.UnitID, *net.UnitCode
		}
		if err := publishAddManager(h.net, *body.HostURI, opts); err != nil {
			h.log.WithField("error", err.Error()).Warning("publish add-manager (reopen) failed")
		}
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

func (h *handler) deleteNetwork(w lib.ResponseWriter, r *lib.Request) {
	networkID := r.PathValue("networkId")
	net, err := h.repo.Network().Get(r.Context(), models.NetworkQueryCond{NetworkID: networkID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if net == nil {
		writeErr(w, errors.ErrNotFound("network not found"))
		return
	}
	ok, err := h.networkOwnerCheck(r, net)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("network not found"))
		return
	}
	if err := h.repo.Network().Delete(r.Context(), models.NetworkQueryCond{NetworkID: networkID}); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if err := h.repo.Device().DeleteByNetwork(r.Context(), networkID); err != nil {
		h.log.WithField("error", err.Error()).Warning("delete devices by network failed")
	}
	if err := h.repo.DeviceRoute().DeleteByNetwork(r.Context(), networkID); err != nil {
		h.log.WithField("error", err.Error()).Warning("delete device routes by network failed")
	}
	if err := h.repo.NetworkRoute().DeleteByNetwork(r.Context(), networkID); err != nil {
		h.log.WithField("error", err.Error()).Warning("delete network routes by network failed")
	}
	unitCode := ""
	if net.UnitCode != nil {
		unitCode = *net.UnitCode
	}
	if err := publishDelManager(h.net, unitCode, net.Code); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-manager failed")
	}
	if err := publishDelNetworkRoute(h.app, networkID); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-network-route failed")
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

package routes

import (
	lib "net/http"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

type unitPostBody struct {
	Code    string       `json:"code"`
	OwnerID string       `json:"ownerId"`
	Name    string       `json:"name"`
	Info    *models.Info `json:"info"`
}

type unitPatchBody struct {
	OwnerID   *string      `json:"ownerId"`
	MemberIDs *[]string    `json:"memberIds"`
	Name      *string      `json:"name"`
	Info      *models.Info `json:"info"`
}

func (h *handler) mountUnitRoutes(mux *lib.ServeMux) {
	adminOnly := tokeninfo.Access{Roles: []string{"admin", "manager"}}
	mux.Handle("POST /api/v1/broker/unit", h.authed(adminOnly, h.createUnit))
	mux.Handle("GET /api/v1/broker/unit", h.authed(tokeninfo.Access{}, h.listUnits))
	mux.Handle("GET /api/v1/broker/unit/{unitId}", h.authed(tokeninfo.Access{}, h.getUnit))
	mux.Handle("PATCH /api/v1/broker/unit/{unitId}", h.authed(tokeninfo.Access{}, h.patchUnit))
	mux.Handle("DELETE /api/v1/broker/unit/{unitId}", h.authed(adminOnly, h.deleteUnit))
}

func (h *handler) createUnit(w lib.ResponseWriter, r *lib.Request) {
	var body unitPostBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Code == "" || body.OwnerID == "" {
		writeErr(w, errors.ErrParam("code and ownerId are required"))
		return
	}
	now := time.Now().UTC()
	info := models.Info{}
	if body.Info != nil {
		info = *body.Info
	}
	unit := &models.Unit{
		UnitID: newID(), Code: body.Code, OwnerID: body.OwnerID, Name: body.Name,
		MemberIDs: []string{}, Info: info, CreatedAt: now, ModifiedAt: now,
	}
	if err := h.repo.Unit().Add(r.Context(), unit); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, map[string]string{"unitId": unit.UnitID})
}

func (h *handler) listUnits(w lib.ResponseWriter, r *lib.Request) {
	id, _ := tokeninfo.FromContext(r.Context())
	cond := models.UnitListCond{}
	if !id.IsAdminOrManager() {
		cond.MemberID = id.UserID
	}
	units, err := h.repo.Unit().List(r.Context(), cond, listOptsFromQuery(r))
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, units)
}

func (h *handler) getUnit(w lib.ResponseWriter, r *lib.Request) {
	id, _ := tokeninfo.FromContext(r.Context())
	unitID := r.PathValue("unitId")
	ok, err := h.checkUnitAccess(r, id, unitID, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("unit not found"))
		return
	}
	unit, err := h.repo.Unit().Get(r.Context(), models.UnitQueryCond{UnitID: unitID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if unit == nil {
		writeErr(w, errors.ErrNotFound("unit not found"))
		return
	}
	writeData(w, lib.StatusOK, unit)
}

func (h *handler) patchUnit(w lib.ResponseWriter, r *lib.Request) {
	id, _ := tokeninfo.FromContext(r.Context())
	unitID := r.PathValue("unitId")
	ok, err := h.checkUnitAccess(r, id, unitID, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("unit not found"))
		return
	}
	var body unitPatchBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	now := time.Now().UTC()
	updates := models.UnitUpdates{ModifiedAt: &now, OwnerID: body.OwnerID, MemberIDs: body.MemberIDs, Name: body.Name, Info: body.Info}
	if err := h.repo.Unit().Update(r.Context(), unitID, updates); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

func (h *handler) deleteUnit(w lib.ResponseWriter, r *lib.Request) {
	unitID := r.PathValue("unitId")
	if err := h.repo.Unit().Delete(r.Context(), models.UnitQueryCond{UnitID: unitID}); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

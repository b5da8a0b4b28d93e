package routes

import (
	lib "net/http"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/control"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

type applicationPostBody struct {
	Code    string       `json:"code"`
	UnitID  string       `json:"unitId"`
	HostURI string       `json:"hostUri"`
	Name    string       `json:"name"`
	Info    *models.Info `json:"info"`
}

type applicationPatchBody struct {
	HostURI *string      `json:"hostUri"`
	Name    *string      `json:"name"`
	Info    *models.Info `json:"info"`
}

func (h *handler) mountApplicationRoutes(mux *lib.ServeMux) {
	mux.Handle("POST /api/v1/broker/application", h.authed(tokeninfo.Access{}, h.createApplication))
	mux.Handle("GET /api/v1/broker/application", h.authed(tokeninfo.Access{}, h.listApplications))
	mux.Handle("GET /api/v1/broker/application/{applicationId}", h.authed(tokeninfo.Access{}, h.getApplication))
	mux.Handle("PATCH /api/v1/broker/application/{applicationId}", h.authed(tokeninfo.Access{}, h.patchApplication))
	mux.Handle("DELETE /api/v1/broker/application/{applicationId}", h.authed(tokeninfo.Access{}, h.deleteApplication))
}

func (h *handler) createApplication(w lib.ResponseWriter, r *lib.Request) {
	id, _ := tokeninfo.FromContext(r.Context())
	var body applicationPostBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Code == "" || body.UnitID == "" || body.HostURI == "" {
		writeErr(w, errors.ErrParam("code, unitId and hostUri are required"))
		return
	}
	ok, err := h.checkUnitAccess(r, id, body.UnitID, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("unit not found"))
		return
	}
	unit, err := h.repo.Unit().Get(r.Context(), models.UnitQueryCond{UnitID: body.UnitID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if unit == nil {
		writeErr(w, errors.ErrNotFound("unit not found"))
		return
	}

	now := time.Now().UTC()
	info := models.Info{}
	if body.Info != nil {
		info = *body.Info
	}
	app := &models.Application{
		ApplicationID: newID(), Code: body.Code, UnitID: unit.UnitID, UnitCode: unit.Code,
		HostURI: body.HostURI, Name: body.Name, Info: info, CreatedAt: now, ModifiedAt: now,
	}
	if err := h.repo.Application().Add(r.Context(), app); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if err := publishAddManager(h.app, app.HostURI, control.ManagerOptions{
		UnitID: app.UnitID, UnitCode: app.UnitCode, ID: app.ApplicationID, Name: app.Code,
	}); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish add-manager failed")
	}
	writeData(w, lib.StatusOK, map[string]string{"applicationId": app.ApplicationID})
}

func (h *handler) listApplications(w lib.ResponseWriter, r *lib.Request) {
	cond := models.ApplicationListCond{UnitID: r.URL.Query().Get("unit")}
	apps, err := h.repo.Application().List(r.Context(), cond, listOptsFromQuery(r))
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, apps)
}

func (h *handler) getApplication(w lib.ResponseWriter, r *lib.Request) {
	app, err := h.repo.Application().Get(r.Context(), models.ApplicationQueryCond{ApplicationID: r.PathValue("applicationId")})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if app == nil {
		writeErr(w, errors.ErrNotFound("application not found"))
		return
	}
	id, _ := tokeninfo.FromContext(r.Context())
	ok, err := h.checkUnitAccess(r, id, app.UnitID, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, errors.ErrNotFound("application not found"))
		return
	}
	writeData(w, lib.StatusOK, app)
}

func (h *handler) patchApplication(w lib.ResponseWriter, r *lib.Request) {
	applicationID := r.PathValue("applicationId")
	app, err := h.repo.Application().Get(r.Context(), models.ApplicationQueryCond{ApplicationID: applicationID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if app == nil {
		writeErr(w, errors.ErrNotFound("application not found"))
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
	var body applicationPatchBody
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	now := time.Now().UTC()
	updates := models.ApplicationUpdates{ModifiedAt: &now, HostURI: body.HostURI, Name: body.Name, Info: body.Info}
	if err := h.repo.Application().Update(r.Context(), applicationID, updates); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if body.HostURI != nil {
		hostURI := *body.HostURI
		if err := publishAddManager(h.app, hostURI, control.ManagerOptions{
			UnitID: app.UnitID, UnitCode: app.UnitCode, ID: app.ApplicationID, Name: app.Code,
		}); err != nil {
			h.log.WithField("error", err.Error()).Warning("publish add-manager (reopen) failed")
		}
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

func (h *handler) deleteApplication(w lib.ResponseWriter, r *lib.Request) {
	applicationID := r.PathValue("applicationId")
	app, err := h.repo.Application().Get(r.Context(), models.ApplicationQueryCond{ApplicationID: applicationID})
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if app == nil {
		writeErr(w, errors.ErrNotFound("application not found"))
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
	if err := h.repo.Application().Delete(r.Context(), models.ApplicationQueryCond{ApplicationID: applicationID}); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	if err := h.repo.DeviceRoute().DeleteByApplication(r.Context(), applicationID); err != nil {
		h.log.WithField("error", err.Error()).Warning("delete device routes by application failed")
	}
	if err := h.repo.NetworkRoute().DeleteByApplication(r.Context(), applicationID); err != nil {
		h.log.WithField("error", err.Error()).Warning("delete network routes by application failed")
	}
	if err := publishDelManager(h.app, app.UnitCode, app.Code); err != nil {
		h.log.WithField("error", err.Error()).Warning("publish del-manager failed")
	}
	writeData(w, lib.StatusOK, map[string]string{})
}

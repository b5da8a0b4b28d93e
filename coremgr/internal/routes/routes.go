// Package routes implements coremgr's thin HTTP edge: a health check and
// one illustrative proxy endpoint standing in for the "fronts external
// brokers" role spec.md §1 assigns it. Per SPEC_FULL.md §2.2, the full
// external-broker protocol surface is out of scope — this demonstrates
// the request/audit/response shape every real proxy endpoint would share.
package routes

import (
	"encoding/json"
	lib "net/http"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/coremgr/internal/audit"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware/recovery"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

// Config wires the dependencies the handler needs.
type Config struct {
	Tokeninfo *tokeninfo.Client
	Audit     *audit.Emitter
	Log       xlog.Logger
}

type handler struct {
	ti  *tokeninfo.Client
	aud *audit.Emitter
	log xlog.Logger
}

// NewRouter builds coremgr's HTTP handler.
func NewRouter(cfg Config) lib.Handler {
	ll := cfg.Log
	if ll == nil {
		ll = xlog.Discard()
	}
	h := &handler{ti: cfg.Tokeninfo, aud: cfg.Audit, log: ll}

	mux := lib.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("POST /api/v1/coremgr/networks/{networkCode}/forward",
		tokeninfo.Middleware(h.ti, tokeninfo.Access{})(lib.HandlerFunc(h.forward)))

	var top lib.Handler = mux
	top = middleware.Headers(map[string]string{"X-Content-Type-Options": "nosniff"})(top)
	top = middleware.Logging(ll, nil)(top)
	top = recovery.Handler()(top)
	return top
}

func (h *handler) health(w lib.ResponseWriter, r *lib.Request) {
	writeData(w, lib.StatusOK, map[string]string{"status": "ok"})
}

// forward stands in for proxying a downlink/control call to the external
// broker fronted by this networkCode. It emits the canonical audit
// record spec.md §4.H requires of every coremgr HTTP call and echoes the
// payload back, since there is no real external broker in this module.
func (h *handler) forward(w lib.ResponseWriter, r *lib.Request) {
	networkCode := r.PathValue("networkCode")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && err.Error() != "EOF" {
		writeErr(w, errors.ErrParam("invalid request body"))
		return
	}

	h.aud.Emit(map[string]any{
		"networkCode": networkCode,
		"payload":     payload,
		"forwardedAt": time.Now().UTC(),
	})

	writeData(w, lib.StatusAccepted, map[string]any{"networkCode": networkCode, "forwarded": true})
}

func writeData(w lib.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeErr(w lib.ResponseWriter, err error) {
	if resp, ok := err.(*errors.Resp); ok {
		resp.Write(w)
		return
	}
	errors.ErrIntMsg(err.Error()).Write(w)
}

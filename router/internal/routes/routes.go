// Package routes implements the router service's HTTP edge: a health
// check and a caller-identity echo. spec.md §1 names "the router's
// system-metrics endpoints" as an explicit non-goal, so this package
// stops at the minimum needed to prove the service is real and
// authenticated, rather than modeling the full system-metrics surface.
package routes

import (
	"encoding/json"
	lib "net/http"

	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware/recovery"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

// Config wires the dependencies the handler needs.
type Config struct {
	Tokeninfo *tokeninfo.Client
	Log       xlog.Logger
}

type handler struct {
	ti  *tokeninfo.Client
	log xlog.Logger
}

// NewRouter builds the router service's HTTP handler.
func NewRouter(cfg Config) lib.Handler {
	ll := cfg.Log
	if ll == nil {
		ll = xlog.Discard()
	}
	h := &handler{ti: cfg.Tokeninfo, log: ll}

	mux := lib.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /api/v1/router/whoami", tokeninfo.Middleware(h.ti, tokeninfo.Access{})(lib.HandlerFunc(h.whoami)))

	var top lib.Handler = mux
	top = middleware.Headers(map[string]string{"X-Content-Type-Options": "nosniff"})(top)
	top = middleware.Logging(ll, nil)(top)
	top = recovery.Handler()(top)
	return top
}

func (h *handler) health(w lib.ResponseWriter, r *lib.Request) {
	writeData(w, lib.StatusOK, map[string]string{"status": "ok"})
}

// whoami returns the caller's resolved identity, demonstrating that the
// router service shares the platform's tokeninfo authentication like
// every other HTTP edge, without claiming any system-metrics surface.
func (h *handler) whoami(w lib.ResponseWriter, r *lib.Request) {
	id, _ := tokeninfo.FromContext(r.Context())
	writeData(w, lib.StatusOK, id)
}

func writeData(w lib.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

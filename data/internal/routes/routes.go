// Package routes implements the archive service's one real HTTP edge: a
// listing over persisted audit records, gated the same way every other
// platform service gates its HTTP edges. Query/filter shapes beyond
// kind/since/until/offset/limit are out of scope per SPEC_FULL.md §2.2.
package routes

import (
	"encoding/json"
	lib "net/http"
	"strconv"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/data/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware/recovery"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

// Config wires the dependencies the handler needs.
type Config struct {
	Repo      models.Repo
	Tokeninfo *tokeninfo.Client
	Log       xlog.Logger
}

type handler struct {
	repo models.Repo
	ti   *tokeninfo.Client
	log  xlog.Logger
}

// NewRouter builds the archive service's HTTP handler.
func NewRouter(cfg Config) lib.Handler {
	ll := cfg.Log
	if ll == nil {
		ll = xlog.Discard()
	}
	h := &handler{repo: cfg.Repo, ti: cfg.Tokeninfo, log: ll}

	mux := lib.NewServeMux()
	mux.Handle("GET /api/v1/data/records", tokeninfo.Middleware(h.ti, tokeninfo.Access{})(lib.HandlerFunc(h.list)))

	var top lib.Handler = mux
	top = middleware.Headers(map[string]string{"X-Content-Type-Options": "nosniff"})(top)
	top = middleware.Logging(ll, nil)(top)
	top = recovery.Handler()(top)
	return top
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

func (h *handler) list(w lib.ResponseWriter, r *lib.Request) {
	q := r.URL.Query()

	cond := models.ListCond{Kind: q.Get("kind")}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeErr(w, errors.ErrParam("since must be RFC3339"))
			return
		}
		cond.Since = t
	}
	if s := q.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeErr(w, errors.ErrParam("until must be RFC3339"))
			return
		}
		cond.Until = t
	}

	opts := models.ListOptions{}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeErr(w, errors.ErrParam("offset must be a non-negative integer"))
			return
		}
		opts.Offset = n
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeErr(w, errors.ErrParam("limit must be a non-negative integer"))
			return
		}
		opts.Limit = n
	}

	records, err := h.repo.Record().List(r.Context(), cond, opts)
	if err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	writeData(w, lib.StatusOK, records)
}

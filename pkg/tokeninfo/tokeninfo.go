// Package tokeninfo implements the token-info middleware shared by every
// HTTP service (broker, coremgr, data, router): it exchanges the inbound
// bearer token for the caller's identity via the authorization service's
// /api/v1/auth/tokeninfo endpoint, per SPEC_FULL.md §4.I.
package tokeninfo

import (
	"context"
	"encoding/json"
	lib "net/http"
	"strings"

	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
)

// Identity is the caller identity resolved from tokeninfo, attached to the
// request context by Middleware.
type Identity struct {
	UserID   string          `json:"userId"`
	Account  string          `json:"account"`
	Roles    map[string]bool `json:"roles"`
	Name     string          `json:"name"`
	ClientID string          `json:"clientId"`
	Scopes   []string        `json:"scopes"`
}

// HasAnyRole reports whether the identity holds any of roles. An empty
// roles set never matches on its own — see Access.Satisfies for how an
// entirely empty requirement (both roles and scopes) is handled.
func (id Identity) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if id.Roles[r] {
			return true
		}
	}
	return false
}

// HasAnyScope reports whether the identity holds any of scopes. An empty
// scopes set never matches on its own.
func (id Identity) HasAnyScope(scopes ...string) bool {
	for _, want := range scopes {
		for _, have := range id.Scopes {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsAdminOrManager reports whether the identity implicitly satisfies unit
// ownership checks for read operations, per spec.md §4.I.
func (id Identity) IsAdminOrManager() bool {
	return id.Roles["admin"] || id.Roles["manager"]
}

type contextKey struct{}

// FromContext returns the Identity attached by Middleware, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

type tokenInfoResp struct {
	Data Identity `json:"data"`
}

// Access declares a route's authorization requirement: any of Roles or
// any of Scopes is sufficient. Both empty means "authenticated only".
type Access struct {
	Roles  []string
	Scopes []string
}

// Satisfies reports whether id meets required: any declared role matches,
// or any declared scope matches, or neither is declared at all
// (authenticated only). A route that declares only a role requirement is
// not satisfied by scopes alone, and vice versa.
func (a Access) Satisfies(id Identity) bool {
	if len(a.Roles) == 0 && len(a.Scopes) == 0 {
		return true
	}
	if len(a.Roles) > 0 && id.HasAnyRole(a.Roles...) {
		return true
	}
	if len(a.Scopes) > 0 && id.HasAnyScope(a.Scopes...) {
		return true
	}
	return false
}

// Client resolves a bearer token into an Identity by calling the
// authorization service. Grounded on pkg/httpx.Client rather than the bare
// standard library http.Client, matching every other outbound call in this
// module.
type Client struct {
	hc      *httpx.Client
	authURL string
}

// NewClient builds a tokeninfo client. hc should be constructed with
// httpx.WithTimeout to bound the outbound call per spec.md §5 (default
// 30s); authURL is the authorization service's base URL, e.g.
// "http://auth:1080".
func NewClient(hc *httpx.Client, authURL string) *Client {
	return &Client{hc: hc, authURL: strings.TrimRight(authURL, "/")}
}

// Resolve exchanges authorization (the verbatim "Bearer <token>" header
// value) for the caller's Identity.
func (c *Client) Resolve(ctx context.Context, authorization string) (Identity, error) {
	req, err := lib.NewRequestWithContext(ctx, lib.MethodGet, c.authURL+"/api/v1/auth/tokeninfo", nil)
	if err != nil {
		return Identity{}, errors.Wrap(err, "build tokeninfo request")
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.hc.Do(req)
	if err != nil {
		return Identity{}, errors.ErrIntMsg("tokeninfo request failed: " + err.Error())
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case lib.StatusOK:
	case lib.StatusUnauthorized:
		return Identity{}, errors.ErrAuth("invalid or expired token")
	default:
		return Identity{}, errors.ErrIntMsg("tokeninfo returned unexpected status")
	}

	var body tokenInfoResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Identity{}, errors.ErrIntMsg("tokeninfo response is not valid JSON: " + err.Error())
	}
	return body.Data, nil
}

// Middleware extracts the bearer token, resolves it via client, checks it
// against required, and attaches the resulting Identity to the request
// context. Missing/multiple Authorization headers yield ErrParam; a
// resolve failure propagates the error Resp Client.Resolve produced;
// failing the access check yields ErrPerm.
func Middleware(client *Client, required Access) func(lib.Handler) lib.Handler {
	return func(next lib.Handler) lib.Handler {
		fn := func(w lib.ResponseWriter, r *lib.Request) {
			headers := r.Header.Values("Authorization")
			if len(headers) != 1 || headers[0] == "" {
				errors.ErrParam("missing or duplicate Authorization header").Write(w)
				return
			}

			id, err := client.Resolve(r.Context(), headers[0])
			if err != nil {
				if resp, ok := err.(*errors.Resp); ok {
					resp.Write(w)
					return
				}
				errors.ErrIntMsg(err.Error()).Write(w)
				return
			}

			if !required.Satisfies(id) {
				errors.ErrPerm("caller lacks required role or scope").Write(w)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return lib.HandlerFunc(fn)
	}
}

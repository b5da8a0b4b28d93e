// Package sdk is the platform's reusable client SDK: a thin wrapper over
// pkg/httpx.Client for the auth and broker HTTP APIs, shared by the CLI
// (sdk/cmd/sylvia-iot-cli) and by any external Go caller that wants a
// typed client instead of hand-rolled HTTP calls. Per SPEC_FULL.md §2.1's
// "reusable client SDK + CLI helpers (contracts only)" scoping, only the
// handful of operations the CLI actually exercises are implemented —
// unit listing/creation and login/tokeninfo — not the full CRUD surface
// broker/internal/routes exposes.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	lib "net/http"
	"strings"

	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
)

// Client talks to one auth service and one broker service over HTTP.
type Client struct {
	hc        *httpx.Client
	authURL   string
	brokerURL string
	token     string
}

// Options configures a Client.
type Options struct {
	// AuthURL and BrokerURL are the two services' base URLs, e.g.
	// "http://localhost:1080" and "http://localhost:3080".
	AuthURL   string
	BrokerURL string
	HTTP      *httpx.Client
}

// New builds a Client. If opts.HTTP is nil, a default httpx.Client with no
// special options is built.
func New(opts Options) (*Client, error) {
	hc := opts.HTTP
	if hc == nil {
		var err error
		hc, err = httpx.NewClient()
		if err != nil {
			return nil, errors.Wrap(err, "build http client")
		}
	}
	return &Client{
		hc:        hc,
		authURL:   strings.TrimRight(opts.AuthURL, "/"),
		brokerURL: strings.TrimRight(opts.BrokerURL, "/"),
	}, nil
}

// SetToken attaches a bearer token to every subsequent call. Login sets it
// automatically on success.
func (c *Client) SetToken(token string) {
	c.token = token
}

type respEnvelope[T any] struct {
	Data T `json:"data"`
}

type errEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do issues req, decoding a successful {"data": ...} body into out (which
// may be nil to discard the body) and translating a response with status
// 300 or above into a plain error whose text carries the body's code and
// message and the HTTP status.
func (c *Client) do(req *lib.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errEnvelope
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s (status %d)", e.Code, e.Message, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	env := respEnvelope[any]{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// LoginResult is what Login returns on success.
type LoginResult struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// Login authenticates against the auth service and stores the returned
// token on the client for subsequent calls.
func (c *Client) Login(ctx context.Context, account, password string) (*LoginResult, error) {
	body, _ := json.Marshal(map[string]string{"account": account, "password": password})
	req, err := lib.NewRequestWithContext(ctx, lib.MethodPost, c.authURL+"/api/v1/auth/login", strings.NewReader(string(body)))
	if err != nil {
		return nil, errors.Wrap(err, "build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	var result LoginResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	c.token = result.AccessToken
	return &result, nil
}

// Identity is the caller identity resolved from the auth service's
// tokeninfo endpoint, matching pkg/tokeninfo.Identity's wire shape.
type Identity struct {
	UserID   string          `json:"userId"`
	Account  string          `json:"account"`
	Roles    map[string]bool `json:"roles"`
	Name     string          `json:"name"`
	ClientID string          `json:"clientId"`
	Scopes   []string        `json:"scopes"`
}

// TokenInfo resolves the client's current token into its Identity.
func (c *Client) TokenInfo(ctx context.Context) (*Identity, error) {
	req, err := lib.NewRequestWithContext(ctx, lib.MethodGet, c.authURL+"/api/v1/auth/tokeninfo", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build tokeninfo request")
	}

	var id Identity
	if err := c.do(req, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Unit is the broker's unit entity, trimmed to what the CLI displays.
type Unit struct {
	UnitID  string `json:"unitId"`
	Code    string `json:"code"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
}

// ListUnits lists units visible to the current caller.
func (c *Client) ListUnits(ctx context.Context) ([]Unit, error) {
	req, err := lib.NewRequestWithContext(ctx, lib.MethodGet, c.brokerURL+"/api/v1/broker/unit", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build list units request")
	}

	var units []Unit
	if err := c.do(req, &units); err != nil {
		return nil, err
	}
	return units, nil
}

// CreateUnit creates a unit owned by ownerID.
func (c *Client) CreateUnit(ctx context.Context, code, ownerID, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"code": code, "ownerId": ownerID, "name": name})
	req, err := lib.NewRequestWithContext(ctx, lib.MethodPost, c.brokerURL+"/api/v1/broker/unit", strings.NewReader(string(body)))
	if err != nil {
		return "", errors.Wrap(err, "build create unit request")
	}
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		UnitID string `json:"unitId"`
	}
	if err := c.do(req, &created); err != nil {
		return "", err
	}
	return created.UnitID, nil
}

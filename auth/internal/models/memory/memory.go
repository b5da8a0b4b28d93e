// Package memory implements auth/internal/models.Repo entirely in-memory,
// styled after broker/internal/models/memory: mutex-guarded maps good
// enough to drive the tokeninfo and login flows without a real backend.
package memory

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/sylvia-iot/sylvia-iot-core/auth/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

var (
	errNotFound          = errors.New("token not found")
	errInvalidCredential = errors.New("invalid account or password")
)

// Repo is an in-memory auth models.Repo. The zero value is not usable; use New.
type Repo struct {
	token *tokenRepo
	user  *userRepo
}

// New returns an empty in-memory repository.
func New() *Repo {
	return &Repo{
		token: &tokenRepo{items: map[string]models.AccessToken{}},
		user:  &userRepo{items: map[string]models.User{}},
	}
}

func (r *Repo) Close(context.Context) error { return nil }
func (r *Repo) Token() models.TokenRepo     { return r.token }
func (r *Repo) User() models.UserRepo       { return r.user }

// AddUser seeds an account with a bcrypt-hashed password, for tests and
// the binary's startup bootstrap of a default admin account.
func (r *Repo) AddUser(account, password, userID, name string, roles map[string]bool, scopes []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	r.user.mu.Lock()
	defer r.user.mu.Unlock()
	r.user.items[account] = models.User{
		UserID:       userID,
		Account:      account,
		PasswordHash: string(hash),
		Name:         name,
		Roles:        roles,
		Scopes:       scopes,
	}
	return nil
}

// --- token ---

type tokenRepo struct {
	mu    sync.RWMutex
	items map[string]models.AccessToken
}

func (r *tokenRepo) Get(_ context.Context, token string) (*models.AccessToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[token]
	if !ok {
		return nil, errNotFound
	}
	return &t, nil
}

func (r *tokenRepo) Add(_ context.Context, t *models.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[t.Token] = *t
	return nil
}

func (r *tokenRepo) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, token)
	return nil
}

// --- user ---

type userRepo struct {
	mu    sync.RWMutex
	items map[string]models.User
}

func (r *userRepo) Authenticate(_ context.Context, account, password string) (*models.User, error) {
	r.mu.RLock()
	u, ok := r.items[account]
	r.mu.RUnlock()
	if !ok {
		return nil, errInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredential
	}
	return &u, nil
}

package memory

import (
	"context"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/auth/internal/models"
)

func TestUserAuthenticate(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := New()

	assert.Nil(repo.AddUser("alice", "s3cret", "u1", "Alice", map[string]bool{"admin": true}, []string{"admin"}))

	u, err := repo.User().Authenticate(ctx, "alice", "s3cret")
	assert.Nil(err)
	assert.NotNil(u)
	assert.Equal("u1", u.UserID)
	assert.True(u.Roles["admin"])

	_, err = repo.User().Authenticate(ctx, "alice", "wrong")
	assert.NotNil(err)

	_, err = repo.User().Authenticate(ctx, "nobody", "whatever")
	assert.NotNil(err)
}

func TestTokenCRUD(t *testing.T) {
	assert := tdd.New(t)
	ctx := context.Background()
	repo := New()

	at := &models.AccessToken{
		Token:     "tok-1",
		ClientID:  "sylvia-iot-auth",
		UserID:    "u1",
		Account:   "alice",
		Roles:     map[string]bool{"admin": true},
		Scopes:    []string{"admin"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	assert.Nil(repo.Token().Add(ctx, at))

	got, err := repo.Token().Get(ctx, "tok-1")
	assert.Nil(err)
	assert.NotNil(got)
	assert.Equal("alice", got.Account)
	assert.False(got.Expired(time.Now()))

	assert.Nil(repo.Token().Delete(ctx, "tok-1"))
	_, err = repo.Token().Get(ctx, "tok-1")
	assert.NotNil(err)
}

func TestAccessTokenExpired(t *testing.T) {
	assert := tdd.New(t)
	past := models.AccessToken{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(past.Expired(time.Now()))

	future := models.AccessToken{ExpiresAt: time.Now().Add(time.Minute)}
	assert.False(future.Expired(time.Now()))

	noExpiry := models.AccessToken{}
	assert.False(noExpiry.Expired(time.Now()))
}

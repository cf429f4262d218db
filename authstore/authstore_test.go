package authstore

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestStore_RegisterThenAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	account, err := s.Register(ctx, id, "alice@example.com", "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, id, account.ID)
	assert.NotEqual(t, "correct horse battery staple", account.PasswordHash)

	got, err := s.Authenticate(ctx, "alice@example.com", "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestStore_Register_DuplicateEmailRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Register(ctx, uuid.NewString(), "bob@example.com", "password1")
	require.NoError(t, err)

	_, err = s.Register(ctx, uuid.NewString(), "bob@example.com", "password2")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestStore_Authenticate_WrongPassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Register(ctx, uuid.NewString(), "carol@example.com", "right-password")
	require.NoError(t, err)

	_, err = s.Authenticate(ctx, "carol@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestStore_Authenticate_UnknownEmail(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Authenticate(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

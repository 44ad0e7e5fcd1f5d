// Package envtokens implements the TokenStore port on process environment
// variables. The store is read-only: the environment cannot outlive the
// process, so Save is rejected.
package envtokens

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

// Environment variable names read by the store.
const (
	SessionTokenVar = "SPLATAUTH_SESSION_TOKEN"
	GtokenVar       = "SPLATAUTH_GTOKEN"
	BulletTokenVar  = "SPLATAUTH_BULLET_TOKEN"
)

// Compile-time interface satisfaction check.
var _ driven.TokenStore = (*Store)(nil)

// Store reads the token set from environment variables. The environment
// carries no issue timestamps, so loaded tokens are stamped at load time and
// lazily replaced if the platform rejects them.
type Store struct {
	now func() time.Time
}

// NewStore creates an environment-variable store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Load reads the token set from the environment. Returns ErrNoSessionToken
// if SPLATAUTH_SESSION_TOKEN is unset or empty.
func (s *Store) Load(_ context.Context) (driven.StoredTokens, error) {
	session := os.Getenv(SessionTokenVar)
	if session == "" {
		return driven.StoredTokens{}, fmt.Errorf("%w: %s is not set", driven.ErrNoSessionToken, SessionTokenVar)
	}

	now := s.now()
	out := driven.StoredTokens{
		SessionToken: model.Token{Name: model.SessionToken, Value: session, IssuedAt: now},
	}
	if v := os.Getenv(GtokenVar); v != "" {
		out.Gtoken = model.Token{Name: model.Gtoken, Value: v, IssuedAt: now}
	}
	if v := os.Getenv(BulletTokenVar); v != "" {
		out.BulletToken = model.Token{Name: model.BulletToken, Value: v, IssuedAt: now}
	}
	return out, nil
}

// Save always fails with ErrReadOnlyStore.
func (s *Store) Save(_ context.Context, _ driven.StoredTokens) error {
	return driven.ErrReadOnlyStore
}

// Origin reports an environment origin.
func (s *Store) Origin() model.Origin {
	return model.Origin{Kind: model.OriginEnv}
}

package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
)

// ErrNoSessionToken is returned by TokenStore.Load when the backing source
// holds no session token. Derived tokens can be regenerated lazily; the
// session token cannot, so a store without one cannot bootstrap a manager.
var ErrNoSessionToken = errors.New("no session token in store")

// ErrReadOnlyStore is returned by Save on stores that cannot persist, such as
// the environment-variable store.
var ErrReadOnlyStore = errors.New("token store is read-only")

// ErrEncryptionKeyNotSet is returned by encrypted store operations when no
// encryption key has been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set SPLATAUTH_SECRET_KEY")

// StoredTokens is the persisted credential set. SessionToken is required;
// Gtoken and BulletToken entries may be zero-valued, in which case the
// manager regenerates them lazily on first use.
type StoredTokens struct {
	SessionToken model.Token
	Gtoken       model.Token
	BulletToken  model.Token
}

// Tokens returns the non-empty entries in chain order.
func (s StoredTokens) Tokens() []model.Token {
	var out []model.Token
	for _, t := range []model.Token{s.SessionToken, s.Gtoken, s.BulletToken} {
		if t.Value != "" {
			out = append(out, t)
		}
	}
	return out
}

// TokenStore defines the driven port for credential persistence. Each
// implementation reports the Origin a manager bootstrapped from it should be
// flagged with. The manager itself never calls Save; durability is the
// caller's decision after a successful regeneration.
type TokenStore interface {
	// Load reads the persisted credential set. Returns ErrNoSessionToken if
	// the source has no session token.
	Load(ctx context.Context) (StoredTokens, error)

	// Save writes the credential set back to the source, replacing whatever
	// was there. Read-only sources return ErrReadOnlyStore.
	Save(ctx context.Context, tokens StoredTokens) error

	// Origin describes this store for manager origin flagging.
	Origin() model.Origin
}

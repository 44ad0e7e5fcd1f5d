// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

// TokenManager orchestrates the credential chain. It owns the keychain and a
// GameSessionClient, and regenerates expired or absent tokens on demand in
// dependency order: session token → gtoken → bullet token. The session token
// is never regenerated, only injected from outside.
//
// Concurrent callers are supported. Regeneration is serialized per token name
// through a singleflight group, so simultaneous expiry observed by many
// callers produces one derivation whose result all of them share.
type TokenManager struct {
	keychain *model.Keychain
	session  driven.GameSessionClient
	flight   singleflight.Group
	now      func() time.Time

	mu     sync.RWMutex
	origin model.Origin
	user   model.UserInfo
}

// NewTokenManager creates a manager with an empty keychain and a memory
// origin. The session token must be injected via AddToken or AddValue before
// any derived token can be produced.
func NewTokenManager(session driven.GameSessionClient) *TokenManager {
	return NewTokenManagerWithClock(session, time.Now)
}

// NewTokenManagerWithClock creates a manager with an injected clock. Tests
// use this to control expiry without sleeping.
func NewTokenManagerWithClock(session driven.GameSessionClient, now func() time.Time) *TokenManager {
	return &TokenManager{
		keychain: model.NewKeychain(),
		session:  session,
		now:      now,
		origin:   model.Origin{Kind: model.OriginMemory},
	}
}

// NewTokenManagerFromStore creates a manager bootstrapped from a token store:
// the stored tokens are injected into the keychain and the manager's origin
// is flagged from the store. Missing gtoken or bullet token entries are fine;
// they regenerate lazily on first Get.
func NewTokenManagerFromStore(ctx context.Context, store driven.TokenStore, session driven.GameSessionClient) (*TokenManager, error) {
	stored, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tokens: %w", err)
	}

	m := NewTokenManager(session)
	for _, t := range stored.Tokens() {
		if err := m.AddToken(t); err != nil {
			return nil, fmt.Errorf("injecting stored %s: %w", t.Name, err)
		}
	}
	origin := store.Origin()
	m.FlagOrigin(origin.Kind, origin.Locator)
	return m, nil
}

// Get returns the current value for the named token, regenerating it and any
// expired or absent ancestors first. It returns ErrTokenNotFound for an
// unrecognized name or when the session token was never supplied, and
// propagates derivation failures unchanged.
func (m *TokenManager) Get(ctx context.Context, name model.TokenName) (string, error) {
	tok, err := m.GetToken(ctx, name)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// GetToken is Get returning the full token record instead of the bare value.
func (m *TokenManager) GetToken(ctx context.Context, name model.TokenName) (model.Token, error) {
	if !name.Valid() {
		return model.Token{}, fmt.Errorf("%w: unrecognized name %q", model.ErrTokenNotFound, name)
	}

	if tok, err := m.keychain.Get(name); err == nil && !tok.Expired(m.now()) {
		return tok, nil
	}

	if err := m.ensureFresh(ctx, name); err != nil {
		return model.Token{}, err
	}
	return m.keychain.Get(name)
}

// AddToken injects a token directly into the keychain, replacing any current
// entry for its name, and synchronizes the session client's cached copy. A
// zero IssuedAt is stamped with the current time.
func (m *TokenManager) AddToken(t model.Token) error {
	if t.IssuedAt.IsZero() {
		t.IssuedAt = m.now()
	}
	tok, err := model.NewToken(t.Name, t.Value, t.IssuedAt)
	if err != nil {
		return err
	}
	m.keychain.Add(tok)
	m.session.UpdateCachedToken(tok.Name, tok.Value)
	slog.Debug("token added to keychain", "name", tok.Name)
	return nil
}

// AddValue injects a bare name and value as a token issued now.
func (m *TokenManager) AddValue(name model.TokenName, value string) error {
	return m.AddToken(model.Token{Name: name, Value: value, IssuedAt: m.now()})
}

// RegenerateTokens forces regeneration of the gtoken and then the bullet
// token, in that order, regardless of freshness. The session token is never
// touched. The first failure short-circuits and propagates; a gtoken already
// installed by the time the bullet derivation fails stays installed, since it
// is independently valid.
func (m *TokenManager) RegenerateTokens(ctx context.Context) error {
	if _, err := m.regenerate(ctx, model.Gtoken, true); err != nil {
		return err
	}
	if _, err := m.regenerate(ctx, model.BulletToken, true); err != nil {
		return err
	}
	return nil
}

// FlagOrigin records where the manager's state came from, overwriting any
// prior origin. Pure bookkeeping; regeneration never consults it.
func (m *TokenManager) FlagOrigin(kind model.OriginKind, locator string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slog.Debug("flagging manager origin", "kind", kind, "locator", locator)
	m.origin = model.Origin{Kind: kind, Locator: locator}
}

// Origin returns the manager's current origin.
func (m *TokenManager) Origin() model.Origin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.origin
}

// Tokens returns a snapshot of the keychain's current entries in chain order.
func (m *TokenManager) Tokens() []model.Token {
	return m.keychain.All()
}

// Snapshot returns the keychain's current entries in the persistence shape
// used by token stores. Callers pass this to a store's Save after a
// regeneration they want to make durable; the manager never persists itself.
func (m *TokenManager) Snapshot() driven.StoredTokens {
	var out driven.StoredTokens
	for _, t := range m.keychain.All() {
		switch t.Name {
		case model.SessionToken:
			out.SessionToken = t
		case model.Gtoken:
			out.Gtoken = t
		case model.BulletToken:
			out.BulletToken = t
		}
	}
	return out
}

// ensureFresh walks the dependency chain up to and including target and
// regenerates every expired or absent token along the way, ancestors first.
// An absent session token is fatal: only the user can supply one.
func (m *TokenManager) ensureFresh(ctx context.Context, target model.TokenName) error {
	for _, name := range model.Chain {
		if name == model.SessionToken {
			if !m.keychain.Has(model.SessionToken) {
				return fmt.Errorf("%w: session token has not been supplied", model.ErrTokenNotFound)
			}
		} else if tok, err := m.keychain.Get(name); err != nil || tok.Expired(m.now()) {
			if _, err := m.regenerate(ctx, name, false); err != nil {
				return err
			}
		}
		if name == target {
			return nil
		}
	}
	return nil
}

// regenerate derives a fresh token for name and installs it in the keychain.
// Calls for the same name are collapsed through the singleflight group; when
// force is false the winning call re-checks freshness first, so callers that
// queued behind a completed regeneration are served the fresh result without
// a second derivation. Nothing is written to the keychain unless the full
// derivation succeeds.
func (m *TokenManager) regenerate(ctx context.Context, name model.TokenName, force bool) (model.Token, error) {
	v, err, _ := m.flight.Do(string(name), func() (any, error) {
		start := m.now()

		if !force {
			if tok, err := m.keychain.Get(name); err == nil && !tok.Expired(start) {
				return tok, nil
			}
		}

		switch name {
		case model.Gtoken:
			return m.deriveGtoken(ctx, start)
		case model.BulletToken:
			return m.deriveBulletToken(ctx, start)
		default:
			return model.Token{}, fmt.Errorf("%w: %s cannot be regenerated", model.ErrTokenNotFound, name)
		}
	})
	if err != nil {
		return model.Token{}, err
	}
	return v.(model.Token), nil
}

func (m *TokenManager) deriveGtoken(ctx context.Context, start time.Time) (model.Token, error) {
	sess, err := m.keychain.Get(model.SessionToken)
	if err != nil {
		return model.Token{}, fmt.Errorf("%w: session token has not been supplied", model.ErrTokenNotFound)
	}

	result, err := m.session.DeriveGtoken(ctx, sess.Value)
	if err != nil {
		return model.Token{}, err
	}

	m.mu.Lock()
	m.user = result.User
	m.mu.Unlock()

	tok, err := m.keychain.AddValue(model.Gtoken, result.Gtoken, start)
	if err != nil {
		return model.Token{}, err
	}
	slog.Info("gtoken regenerated", "issued_at", tok.IssuedAt)
	return tok, nil
}

func (m *TokenManager) deriveBulletToken(ctx context.Context, start time.Time) (model.Token, error) {
	m.mu.RLock()
	user := m.user
	m.mu.RUnlock()

	// A gtoken restored from persistence comes without user context. The
	// bullet exchange needs it, so re-derive the gtoken once to capture it.
	if user.ID == "" {
		if _, err := m.deriveGtoken(ctx, start); err != nil {
			return model.Token{}, err
		}
		m.mu.RLock()
		user = m.user
		m.mu.RUnlock()
	}

	gtok, err := m.keychain.Get(model.Gtoken)
	if err != nil {
		return model.Token{}, fmt.Errorf("%w: gtoken missing during bullet token derivation", model.ErrTokenNotFound)
	}

	value, err := m.session.DeriveBulletToken(ctx, gtok.Value, user)
	if err != nil {
		return model.Token{}, err
	}

	tok, err := m.keychain.AddValue(model.BulletToken, value, start)
	if err != nil {
		return model.Token{}, err
	}
	slog.Info("bullet token regenerated", "issued_at", tok.IssuedAt)
	return tok, nil
}

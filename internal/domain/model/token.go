// Package model contains the domain types for the credential chain.
package model

import (
	"errors"
	"time"
)

// ErrTokenNotFound is returned when a keychain lookup references a token name
// that has no current entry.
var ErrTokenNotFound = errors.New("token not found in keychain")

// ErrInvalidToken is returned when a token is constructed from malformed
// input, such as an unknown name or an empty value.
var ErrInvalidToken = errors.New("invalid token")

// TokenName identifies a credential in the derivation chain.
type TokenName string

const (
	SessionToken TokenName = "session_token"
	Gtoken       TokenName = "gtoken"
	BulletToken  TokenName = "bullet_token"
)

// Chain lists the credential names in dependency order: each token is derived
// from the one before it. Regeneration must walk this slice left to right.
var Chain = []TokenName{SessionToken, Gtoken, BulletToken}

// Lifetimes maps each token name to its time-to-live. The session token is
// absent because it never auto-expires; it is only ever replaced by the user.
var Lifetimes = map[TokenName]time.Duration{
	Gtoken:      6*time.Hour + 30*time.Minute,
	BulletToken: 2 * time.Hour,
}

// Valid reports whether n is a recognized token name.
func (n TokenName) Valid() bool {
	switch n {
	case SessionToken, Gtoken, BulletToken:
		return true
	}
	return false
}

// Token is an immutable credential record: a name, its current value, and the
// time it was issued. Expiry is derived from the Lifetimes table, never stored.
type Token struct {
	Name     TokenName
	Value    string
	IssuedAt time.Time
}

// NewToken constructs a Token issued at the given time. It returns
// ErrInvalidToken if the name is unknown or the value is empty.
func NewToken(name TokenName, value string, issuedAt time.Time) (Token, error) {
	if !name.Valid() {
		return Token{}, errors.Join(ErrInvalidToken, errors.New("unknown token name "+string(name)))
	}
	if value == "" {
		return Token{}, errors.Join(ErrInvalidToken, errors.New("empty value for token "+string(name)))
	}
	return Token{Name: name, Value: value, IssuedAt: issuedAt}, nil
}

// Expired reports whether the token has outlived its TTL as of now. Tokens
// without an entry in Lifetimes never expire.
func (t Token) Expired(now time.Time) bool {
	ttl, ok := Lifetimes[t.Name]
	if !ok {
		return false
	}
	return now.Sub(t.IssuedAt) > ttl
}

// TimeLeft returns the remaining lifetime of the token as of now. It returns
// a negative duration for expired tokens and the maximum duration for tokens
// that never expire.
func (t Token) TimeLeft(now time.Time) time.Duration {
	ttl, ok := Lifetimes[t.Name]
	if !ok {
		return time.Duration(1<<63 - 1)
	}
	return ttl - now.Sub(t.IssuedAt)
}

package model

import (
	"sync"
	"time"
)

// Keychain holds at most one current Token per name. Inserting a token for a
// name that already has an entry replaces the old entry whole; entries are
// never mutated in place and never proactively evicted. Safe for concurrent
// use.
type Keychain struct {
	mu     sync.RWMutex
	tokens map[TokenName]Token
}

// NewKeychain creates an empty keychain.
func NewKeychain() *Keychain {
	return &Keychain{tokens: make(map[TokenName]Token)}
}

// Add stores the token, replacing any existing entry for the same name, and
// returns the stored token.
func (k *Keychain) Add(t Token) Token {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tokens[t.Name] = t
	return t
}

// AddValue constructs a token from a bare name and value, issued at the given
// time, and stores it. It returns ErrInvalidToken if the name is unknown or
// the value is empty.
func (k *Keychain) AddValue(name TokenName, value string, issuedAt time.Time) (Token, error) {
	t, err := NewToken(name, value, issuedAt)
	if err != nil {
		return Token{}, err
	}
	return k.Add(t), nil
}

// Get returns the current token for the given name, or ErrTokenNotFound if
// the keychain has no entry for it.
func (k *Keychain) Get(name TokenName) (Token, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	t, ok := k.tokens[name]
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return t, nil
}

// Has reports whether the keychain holds an entry for the given name.
func (k *Keychain) Has(name TokenName) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.tokens[name]
	return ok
}

// All returns a snapshot of the current entries in chain order. Names without
// an entry are skipped.
func (k *Keychain) All() []Token {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]Token, 0, len(k.tokens))
	for _, name := range Chain {
		if t, ok := k.tokens[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

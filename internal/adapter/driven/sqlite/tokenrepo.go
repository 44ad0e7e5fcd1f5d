package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenStore = (*TokenRepo)(nil)

// TokenRepo is the SQLite implementation of the TokenStore port. Token
// values are encrypted with AES-256-GCM before write and decrypted after
// read, so session secrets never touch disk in plaintext.
type TokenRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewTokenRepo creates a TokenRepo. key must be 32 bytes for AES-256-GCM, or
// nil to disable the store (all operations return ErrEncryptionKeyNotSet).
func NewTokenRepo(db *DB, key []byte) *TokenRepo {
	return &TokenRepo{db: db, key: key}
}

// Load reads the persisted token set, decrypting each value. Returns
// ErrNoSessionToken if the tokens table holds no session token row.
func (r *TokenRepo) Load(ctx context.Context) (driven.StoredTokens, error) {
	if r.key == nil {
		return driven.StoredTokens{}, driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT name, value, issued_at FROM tokens`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return driven.StoredTokens{}, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	var out driven.StoredTokens
	for rows.Next() {
		var name, encrypted, issuedAt string
		if err := rows.Scan(&name, &encrypted, &issuedAt); err != nil {
			return driven.StoredTokens{}, fmt.Errorf("scan token row: %w", err)
		}

		value, err := r.decrypt(encrypted)
		if err != nil {
			return driven.StoredTokens{}, fmt.Errorf("decrypt token %q: %w", name, err)
		}
		issued, err := time.Parse(time.RFC3339Nano, issuedAt)
		if err != nil {
			return driven.StoredTokens{}, fmt.Errorf("parse issued_at for token %q: %w", name, err)
		}

		tok := model.Token{Name: model.TokenName(name), Value: value, IssuedAt: issued}
		switch tok.Name {
		case model.SessionToken:
			out.SessionToken = tok
		case model.Gtoken:
			out.Gtoken = tok
		case model.BulletToken:
			out.BulletToken = tok
		}
	}
	if err := rows.Err(); err != nil {
		return driven.StoredTokens{}, fmt.Errorf("iterate token rows: %w", err)
	}

	if out.SessionToken.Value == "" {
		return driven.StoredTokens{}, fmt.Errorf("%w: database %s", driven.ErrNoSessionToken, r.db.Path())
	}
	return out, nil
}

// Save upserts each non-empty token with its value encrypted. Rows for token
// names absent from the set are left untouched.
func (r *TokenRepo) Save(ctx context.Context, tokens driven.StoredTokens) error {
	if r.key == nil {
		return driven.ErrEncryptionKeyNotSet
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `INSERT OR REPLACE INTO tokens (name, value, issued_at) VALUES (?, ?, ?)`
	for _, t := range tokens.Tokens() {
		encrypted, err := r.encrypt(t.Value)
		if err != nil {
			return fmt.Errorf("encrypt token %q: %w", t.Name, err)
		}
		if _, err := tx.ExecContext(ctx, query, string(t.Name), encrypted, t.IssuedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("save token %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Origin reports a file origin with the database path.
func (r *TokenRepo) Origin() model.Origin {
	return model.Origin{Kind: model.OriginFile, Locator: r.db.Path()}
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded
// string containing the nonce (12 bytes) prepended to the ciphertext.
func (r *TokenRepo) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *TokenRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

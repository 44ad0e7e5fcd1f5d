// Package configfile implements the TokenStore port on a YAML file.
package configfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenStore = (*Store)(nil)

// Store persists the token set as a YAML document at a fixed path. Missing
// derived tokens are tolerated on load; the manager regenerates them lazily.
type Store struct {
	path string
}

// NewStore creates a store backed by the file at path. The file need not
// exist until the first Save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// fileEntry is one persisted token.
type fileEntry struct {
	Value    string    `yaml:"value"`
	IssuedAt time.Time `yaml:"issued_at"`
}

// fileDoc is the on-disk document shape.
type fileDoc struct {
	SessionToken *fileEntry `yaml:"session_token,omitempty"`
	Gtoken       *fileEntry `yaml:"gtoken,omitempty"`
	BulletToken  *fileEntry `yaml:"bullet_token,omitempty"`
}

// Load reads the token set from the file. A missing file or a file without a
// session token yields ErrNoSessionToken.
func (s *Store) Load(_ context.Context) (driven.StoredTokens, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return driven.StoredTokens{}, fmt.Errorf("%w: %s does not exist", driven.ErrNoSessionToken, s.path)
	}
	if err != nil {
		return driven.StoredTokens{}, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return driven.StoredTokens{}, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if doc.SessionToken == nil || doc.SessionToken.Value == "" {
		return driven.StoredTokens{}, fmt.Errorf("%w: %s", driven.ErrNoSessionToken, s.path)
	}

	var out driven.StoredTokens
	out.SessionToken = entryToken(model.SessionToken, doc.SessionToken)
	out.Gtoken = entryToken(model.Gtoken, doc.Gtoken)
	out.BulletToken = entryToken(model.BulletToken, doc.BulletToken)
	return out, nil
}

// Save writes the token set back to the file with owner-only permissions,
// replacing any previous contents.
func (s *Store) Save(_ context.Context, tokens driven.StoredTokens) error {
	doc := fileDoc{
		SessionToken: tokenEntry(tokens.SessionToken),
		Gtoken:       tokenEntry(tokens.Gtoken),
		BulletToken:  tokenEntry(tokens.BulletToken),
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// Origin reports a file origin with the store's path.
func (s *Store) Origin() model.Origin {
	return model.Origin{Kind: model.OriginFile, Locator: s.path}
}

func entryToken(name model.TokenName, e *fileEntry) model.Token {
	if e == nil || e.Value == "" {
		return model.Token{}
	}
	return model.Token{Name: name, Value: e.Value, IssuedAt: e.IssuedAt}
}

func tokenEntry(t model.Token) *fileEntry {
	if t.Value == "" {
		return nil
	}
	return &fileEntry{Value: t.Value, IssuedAt: t.IssuedAt}
}

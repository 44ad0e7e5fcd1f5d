package nso_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/splatauth/internal/adapter/driven/nso"
	"github.com/ericfisherdev/splatauth/internal/domain/model"
	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

// stubSigner records Sign calls and returns canned attestations keyed by hash
// method.
type stubSigner struct {
	calls   []driven.SignRequest
	results map[string]driven.SignResult
	err     error
}

func (s *stubSigner) Sign(_ context.Context, req driven.SignRequest) (driven.SignResult, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return driven.SignResult{}, s.err
	}
	return s.results[req.HashMethod], nil
}

// platformHandler builds an httptest handler covering the full derivation
// flow with canned responses.
func platformHandler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /connect/1.0.0/api/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer-session-token", body["grant_type"])
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "access-1",
			"id_token":     "id-1",
		})
	})
	mux.HandleFunc("GET /2.0.0/users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{
			"id":       "user-1",
			"nickname": "tester",
			"language": "en-US",
			"country":  "US",
			"birthday": "2000-01-01",
		})
	})
	mux.HandleFunc("POST /v3/Account/Login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Parameter map[string]any `json:"parameter"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "f-login", body.Parameter["f"])
		assert.Equal(t, "id-1", body.Parameter["naIdToken"])
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"webApiServerCredential": map[string]string{"accessToken": "webapi-1"},
			},
		})
	})
	mux.HandleFunc("POST /v2/Game/GetWebServiceToken", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer webapi-1", r.Header.Get("Authorization"))
		var body struct {
			Parameter map[string]any `json:"parameter"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "f-web", body.Parameter["f"])
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]string{"accessToken": "gtoken-1"},
		})
	})
	mux.HandleFunc("POST /api/bullet_tokens", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "_gtoken=gtoken-1", r.Header.Get("Cookie"))
		json.NewEncoder(w).Encode(map[string]string{"bulletToken": "bullet-1"})
	})
	return mux
}

func newTestClient(t *testing.T, handler http.Handler, signer driven.AttestationSigner) *nso.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return nso.NewClientWithHTTPClient(signer, server.Client(), server.URL)
}

func TestDeriveGtoken_FullFlow(t *testing.T) {
	signer := &stubSigner{results: map[string]driven.SignResult{
		"1": {F: "f-login", RequestID: "r1", Timestamp: "100"},
		"2": {F: "f-web", RequestID: "r2", Timestamp: "200"},
	}}
	client := newTestClient(t, platformHandler(t), signer)

	result, err := client.DeriveGtoken(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Equal(t, "gtoken-1", result.Gtoken)
	assert.Equal(t, "user-1", result.User.ID)
	assert.Equal(t, "en-US", result.User.Language)
	assert.Equal(t, "US", result.User.Country)

	// Two attestation stages, in protocol order.
	require.Len(t, signer.calls, 2)
	assert.Equal(t, "1", signer.calls[0].HashMethod)
	assert.Equal(t, "id-1", signer.calls[0].Token)
	assert.Equal(t, "2", signer.calls[1].HashMethod)
	assert.Equal(t, "webapi-1", signer.calls[1].Token)

	// Successful derivation refreshes the client's cached tokens.
	cachedSession, cachedGtoken := client.CachedTokens()
	assert.Equal(t, "sess-1", cachedSession)
	assert.Equal(t, "gtoken-1", cachedGtoken)
}

func TestDeriveGtoken_SignerErrorSurfacedUnchanged(t *testing.T) {
	signer := &stubSigner{err: driven.ErrSigningUnavailable}
	client := newTestClient(t, platformHandler(t), signer)

	_, err := client.DeriveGtoken(context.Background(), "sess-1")

	assert.ErrorIs(t, err, driven.ErrSigningUnavailable)
}

func TestDeriveGtoken_PlatformErrorIsDerivationFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /connect/1.0.0/api/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	signer := &stubSigner{results: map[string]driven.SignResult{}}
	client := newTestClient(t, mux, signer)

	_, err := client.DeriveGtoken(context.Background(), "sess-expired")

	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrTokenDerivationFailed)
	// The signer must not have been consulted for a failed session exchange.
	assert.Empty(t, signer.calls)
}

func TestDeriveBulletToken_Success(t *testing.T) {
	signer := &stubSigner{}
	client := newTestClient(t, platformHandler(t), signer)

	bullet, err := client.DeriveBulletToken(context.Background(), "gtoken-1", model.UserInfo{
		Language: "en-US",
		Country:  "US",
	})

	require.NoError(t, err)
	assert.Equal(t, "bullet-1", bullet)
	assert.Empty(t, signer.calls)
}

func TestDeriveBulletToken_Non2xxFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bullet_tokens", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux, &stubSigner{})

	_, err := client.DeriveBulletToken(context.Background(), "stale-gtoken", model.UserInfo{})

	assert.ErrorIs(t, err, driven.ErrTokenDerivationFailed)
}

func TestDeriveBulletToken_EmptyTokenFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bullet_tokens", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"bulletToken": ""})
	})
	client := newTestClient(t, mux, &stubSigner{})

	_, err := client.DeriveBulletToken(context.Background(), "gtoken-1", model.UserInfo{})

	assert.ErrorIs(t, err, driven.ErrTokenDerivationFailed)
}

func TestUpdateCachedToken(t *testing.T) {
	client := nso.NewClient(&stubSigner{})

	client.UpdateCachedToken(model.SessionToken, "s-1")
	client.UpdateCachedToken(model.Gtoken, "g-1")
	// Bullet tokens are not cached by the client; the update is a no-op.
	client.UpdateCachedToken(model.BulletToken, "b-1")

	cachedSession, cachedGtoken := client.CachedTokens()
	assert.Equal(t, "s-1", cachedSession)
	assert.Equal(t, "g-1", cachedGtoken)
}

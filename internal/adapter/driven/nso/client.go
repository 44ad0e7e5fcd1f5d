// Package nso implements the GameSessionClient port against the platform's
// account and game-web APIs. It drives the gtoken and bullet-token derivation
// flows; the attestation sub-step is delegated to an AttestationSigner, which
// owns all retry behavior. Nothing in this package retries.
package nso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
	cleanhttp "github.com/hashicorp/go-cleanhttp"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

const (
	defaultAccountsURL    = "https://accounts.nintendo.com"
	defaultAccountsAPIURL = "https://api.accounts.nintendo.com"
	defaultWebAPIURL      = "https://api-lp1.znc.srv.nintendo.net"
	defaultGameWebURL     = "https://api.lp1.av5ja.srv.nintendo.net"

	clientID      = "71b963c1b7b6d119"
	gameServiceID = 4834290508791808

	defaultAppVersion     = "2.10.1"
	defaultWebViewVersion = "4.0.0-d5178440"

	requestTimeout = 30 * time.Second
)

// Compile-time interface satisfaction check.
var _ driven.GameSessionClient = (*Client)(nil)

// Client implements the driven.GameSessionClient port. It holds cached copies
// of the session token and gtoken so externally injected values flow into
// subsequent derivations.
type Client struct {
	signer driven.AttestationSigner

	httpClient *http.Client
	// userInfoClient wraps httpClient's transport in an in-memory httpcache
	// so repeated derivations reuse the conditional-GET cached user profile.
	userInfoClient *http.Client

	accountsURL    string
	accountsAPIURL string
	webAPIURL      string
	gameWebURL     string

	appVersion     string
	webViewVersion string

	mu           sync.RWMutex
	sessionToken string
	gtoken       string
}

// NewClient creates a Client against the production platform endpoints.
func NewClient(signer driven.AttestationSigner) *Client {
	base := cleanhttp.DefaultPooledClient()
	base.Timeout = requestTimeout

	cacheTransport := httpcache.NewMemoryCacheTransport()
	cacheTransport.Transport = base.Transport

	return &Client{
		signer:         signer,
		httpClient:     base,
		userInfoClient: &http.Client{Transport: cacheTransport, Timeout: requestTimeout},
		accountsURL:    defaultAccountsURL,
		accountsAPIURL: defaultAccountsAPIURL,
		webAPIURL:      defaultWebAPIURL,
		gameWebURL:     defaultGameWebURL,
		appVersion:     defaultAppVersion,
		webViewVersion: defaultWebViewVersion,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and a
// single base URL for all platform endpoints. This constructor is intended
// for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(signer driven.AttestationSigner, httpClient *http.Client, baseURL string) *Client {
	return &Client{
		signer:         signer,
		httpClient:     httpClient,
		userInfoClient: httpClient,
		accountsURL:    baseURL,
		accountsAPIURL: baseURL,
		webAPIURL:      baseURL,
		gameWebURL:     baseURL,
		appVersion:     defaultAppVersion,
		webViewVersion: defaultWebViewVersion,
	}
}

// UpdateCachedToken synchronizes the client's cached session token or gtoken
// with a value injected from outside. Other names are ignored.
func (c *Client) UpdateCachedToken(name model.TokenName, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case model.SessionToken:
		c.sessionToken = value
	case model.Gtoken:
		c.gtoken = value
	}
}

// CachedTokens returns the client's current cached session token and gtoken.
func (c *Client) CachedTokens() (sessionToken, gtoken string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken, c.gtoken
}

// DeriveGtoken exchanges the session token for a fresh gtoken:
// session token → API access token → user info → attestation (stage 1) →
// account login → attestation (stage 2) → web service token (the gtoken).
// The first failing step aborts the derivation; signer errors are surfaced
// unchanged.
func (c *Client) DeriveGtoken(ctx context.Context, sessionToken string) (driven.GtokenResult, error) {
	accessToken, idToken, err := c.apiToken(ctx, sessionToken)
	if err != nil {
		return driven.GtokenResult{}, err
	}

	user, err := c.userInfo(ctx, accessToken)
	if err != nil {
		return driven.GtokenResult{}, err
	}

	loginSig, err := c.signer.Sign(ctx, driven.SignRequest{
		HashMethod: "1",
		Token:      idToken,
		UserID:     user.ID,
	})
	if err != nil {
		return driven.GtokenResult{}, err
	}

	webAPIToken, err := c.accountLogin(ctx, idToken, user, loginSig)
	if err != nil {
		return driven.GtokenResult{}, err
	}

	webServiceSig, err := c.signer.Sign(ctx, driven.SignRequest{
		HashMethod: "2",
		Token:      webAPIToken,
		UserID:     user.ID,
	})
	if err != nil {
		return driven.GtokenResult{}, err
	}

	gtoken, err := c.webServiceToken(ctx, webAPIToken, webServiceSig)
	if err != nil {
		return driven.GtokenResult{}, err
	}

	c.mu.Lock()
	c.sessionToken = sessionToken
	c.gtoken = gtoken
	c.mu.Unlock()

	return driven.GtokenResult{Gtoken: gtoken, User: user}, nil
}

// DeriveBulletToken exchanges a gtoken for a fresh bullet token.
func (c *Client) DeriveBulletToken(ctx context.Context, gtoken string, user model.UserInfo) (string, error) {
	url := c.gameWebURL + "/api/bullet_tokens"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating bullet token request: %w", err)
	}
	httpReq.Header.Set("Cookie", "_gtoken="+gtoken)
	httpReq.Header.Set("X-Web-View-Ver", c.webViewVersion)
	httpReq.Header.Set("X-NACOUNTRY", user.Country)
	httpReq.Header.Set("Accept-Language", user.Language)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: bullet token request: %v", driven.ErrTokenDerivationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: bullet token endpoint returned HTTP %d", driven.ErrTokenDerivationFailed, resp.StatusCode)
	}

	var decoded struct {
		BulletToken string `json:"bulletToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decoding bullet token response: %v", driven.ErrTokenDerivationFailed, err)
	}
	if decoded.BulletToken == "" {
		return "", fmt.Errorf("%w: bullet token endpoint returned an empty token", driven.ErrTokenDerivationFailed)
	}

	return decoded.BulletToken, nil
}

// apiToken exchanges the session token for an API access token and ID token.
func (c *Client) apiToken(ctx context.Context, sessionToken string) (accessToken, idToken string, err error) {
	body := map[string]string{
		"client_id":     clientID,
		"session_token": sessionToken,
		"grant_type":    "urn:ietf:params:oauth:grant-type:jwt-bearer-session-token",
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
	}
	if err := c.postJSON(ctx, c.httpClient, c.accountsURL+"/connect/1.0.0/api/token", "", body, &decoded); err != nil {
		return "", "", fmt.Errorf("%w: api token exchange: %v", driven.ErrTokenDerivationFailed, err)
	}
	if decoded.AccessToken == "" || decoded.IDToken == "" {
		return "", "", fmt.Errorf("%w: api token response missing tokens", driven.ErrTokenDerivationFailed)
	}
	return decoded.AccessToken, decoded.IDToken, nil
}

// userInfo fetches the account profile for the authenticated user. The GET
// goes through the caching client, so an unchanged profile is served from the
// conditional-request cache on repeat derivations.
func (c *Client) userInfo(ctx context.Context, accessToken string) (model.UserInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountsAPIURL+"/2.0.0/users/me", nil)
	if err != nil {
		return model.UserInfo{}, fmt.Errorf("creating user info request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.userInfoClient.Do(httpReq)
	if err != nil {
		return model.UserInfo{}, fmt.Errorf("%w: user info request: %v", driven.ErrTokenDerivationFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.UserInfo{}, fmt.Errorf("%w: user info endpoint returned HTTP %d", driven.ErrTokenDerivationFailed, resp.StatusCode)
	}

	var decoded struct {
		ID       string `json:"id"`
		Nickname string `json:"nickname"`
		Language string `json:"language"`
		Country  string `json:"country"`
		Birthday string `json:"birthday"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return model.UserInfo{}, fmt.Errorf("%w: decoding user info response: %v", driven.ErrTokenDerivationFailed, err)
	}

	return model.UserInfo{
		ID:       decoded.ID,
		Nickname: decoded.Nickname,
		Language: decoded.Language,
		Country:  decoded.Country,
		Birthday: decoded.Birthday,
	}, nil
}

// accountLogin exchanges the ID token plus stage-1 attestation for a web API
// server credential.
func (c *Client) accountLogin(ctx context.Context, idToken string, user model.UserInfo, sig driven.SignResult) (string, error) {
	body := map[string]any{
		"parameter": map[string]any{
			"f":          sig.F,
			"naIdToken":  idToken,
			"timestamp":  sig.Timestamp,
			"requestId":  sig.RequestID,
			"language":   user.Language,
			"naCountry":  user.Country,
			"naBirthday": user.Birthday,
		},
	}

	var decoded struct {
		Result struct {
			WebAPIServerCredential struct {
				AccessToken string `json:"accessToken"`
			} `json:"webApiServerCredential"`
		} `json:"result"`
	}
	if err := c.postJSON(ctx, c.httpClient, c.webAPIURL+"/v3/Account/Login", "", body, &decoded); err != nil {
		return "", fmt.Errorf("%w: account login: %v", driven.ErrTokenDerivationFailed, err)
	}
	if decoded.Result.WebAPIServerCredential.AccessToken == "" {
		return "", fmt.Errorf("%w: account login response missing credential", driven.ErrTokenDerivationFailed)
	}
	return decoded.Result.WebAPIServerCredential.AccessToken, nil
}

// webServiceToken exchanges the web API credential plus stage-2 attestation
// for the game web service token, i.e. the gtoken.
func (c *Client) webServiceToken(ctx context.Context, webAPIToken string, sig driven.SignResult) (string, error) {
	body := map[string]any{
		"parameter": map[string]any{
			"f":                 sig.F,
			"registrationToken": webAPIToken,
			"timestamp":         sig.Timestamp,
			"requestId":         sig.RequestID,
			"id":                gameServiceID,
		},
	}

	var decoded struct {
		Result struct {
			AccessToken string `json:"accessToken"`
		} `json:"result"`
	}
	if err := c.postJSON(ctx, c.httpClient, c.webAPIURL+"/v2/Game/GetWebServiceToken", webAPIToken, body, &decoded); err != nil {
		return "", fmt.Errorf("%w: web service token exchange: %v", driven.ErrTokenDerivationFailed, err)
	}
	if decoded.Result.AccessToken == "" {
		return "", fmt.Errorf("%w: web service token response missing token", driven.ErrTokenDerivationFailed)
	}
	return decoded.Result.AccessToken, nil
}

// postJSON performs a JSON POST and decodes a 2xx response into out.
// bearer, when non-empty, is sent as the Authorization header.
func (c *Client) postJSON(ctx context.Context, client *http.Client, url, bearer string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-ProductVersion", c.appVersion)
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

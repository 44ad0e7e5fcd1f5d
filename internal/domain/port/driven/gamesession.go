package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
)

// ErrTokenDerivationFailed is returned when a platform endpoint produces an
// unusable response during gtoken or bullet-token derivation: a non-2xx
// status, an empty body, or a body missing the expected credential field.
var ErrTokenDerivationFailed = errors.New("token derivation failed")

// GtokenResult is the outcome of a successful gtoken derivation: the gtoken
// itself plus the user context captured along the way, which the bullet-token
// exchange needs.
type GtokenResult struct {
	Gtoken string
	User   model.UserInfo
}

// GameSessionClient defines the driven port for the platform's token
// derivation flow. Implementations perform the remote exchanges but do not
// retry them; retry and failover live behind the AttestationSigner used for
// the signing sub-step.
type GameSessionClient interface {
	// DeriveGtoken exchanges the session token for a fresh gtoken. Failures
	// from any step, including the signing sub-step, are surfaced unchanged.
	DeriveGtoken(ctx context.Context, sessionToken string) (GtokenResult, error)

	// DeriveBulletToken exchanges a gtoken for a fresh bullet token using the
	// given user context.
	DeriveBulletToken(ctx context.Context, gtoken string, user model.UserInfo) (string, error)

	// UpdateCachedToken synchronizes the client's cached copy of a credential
	// with a value injected from outside (e.g. a session token supplied by
	// configuration). Unknown names are ignored.
	UpdateCachedToken(name model.TokenName, value string)
}

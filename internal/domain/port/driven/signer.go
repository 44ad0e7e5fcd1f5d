package driven

import (
	"context"
	"errors"
)

// ErrSigningUnavailable is returned when every configured signing endpoint
// has exhausted its retry budget. The condition is transient; callers may
// retry the whole operation later.
var ErrSigningUnavailable = errors.New("signing service unavailable: all endpoints exhausted")

// ErrSigningRejected is returned when the signing service explicitly rejects
// the input, for example a malformed session-derived token. The condition is
// not retryable; the root session credential needs external replacement.
var ErrSigningRejected = errors.New("signing service rejected the request")

// SignRequest is the payload for one attestation exchange. HashMethod selects
// the protocol stage: "1" for the account-login exchange, "2" for the
// web-service (gtoken) exchange. Token is the session-derived token for that
// stage. RequestID and Timestamp are echoed from a prior stage when the
// protocol version requires them, and empty otherwise.
type SignRequest struct {
	HashMethod string
	Token      string
	UserID     string
	RequestID  string
	Timestamp  string
}

// SignResult is the attestation produced by the signing service. F is the
// attestation value itself; RequestID and Timestamp are echoed metadata
// needed by the following platform exchange.
type SignResult struct {
	F         string
	RequestID string
	Timestamp string
}

// AttestationSigner defines the driven port for the external signing service
// that produces device-attestation values. Implementations own endpoint
// failover and retry; callers treat a single Sign call as the complete
// negotiation.
type AttestationSigner interface {
	// Sign obtains an attestation for the given request. It returns
	// ErrSigningUnavailable when all endpoints are exhausted and
	// ErrSigningRejected when the service reports the input invalid.
	Sign(ctx context.Context, req SignRequest) (SignResult, error)
}

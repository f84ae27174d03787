package oauth

import "errors"

// Expected failure modes of otherwise well-formed requests. These are
// surfaced to callers as structured error responses, never as unhandled
// failures.
var (
	// ErrRedirectMismatch is returned by Authorize when the requested
	// redirect URI is not registered for the client.
	ErrRedirectMismatch = errors.New("redirect_uri is not registered for this client")
	// ErrInvalidGrant is returned when an authorization code is missing,
	// expired, already consumed, or fails a validation that the caller
	// must not be able to distinguish from those cases.
	ErrInvalidGrant = errors.New("invalid authorization code")
	// ErrClientMismatch marks a code presented by a client other than the
	// one it was issued to. It is always wrapped inside ErrInvalidGrant so
	// external callers see a single invalid-grant outcome.
	ErrClientMismatch = errors.New("authorization code was not issued to this client")
	// ErrInvalidState is returned by the federated callback when the state
	// value is unknown, expired, or already consumed.
	ErrInvalidState = errors.New("invalid state parameter")
	// ErrUpstreamIdentity is returned when the external identity provider
	// rejects the exchange, times out, or returns malformed data.
	ErrUpstreamIdentity = errors.New("external identity provider error")
	// ErrUnsupportedGrantType is returned for refresh token grants.
	// Refresh is intentionally not implemented.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")
	// ErrInvalidToken is returned when an access token is missing or expired.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// ErrorCode maps a provider error onto the RFC 6749 error code carried in
// OAuth error response bodies. Unexpected failures map to server_error and
// must not leak internal detail to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRedirectMismatch):
		return "invalid_request"
	case errors.Is(err, ErrInvalidGrant):
		return "invalid_grant"
	case errors.Is(err, ErrInvalidState):
		return "invalid_request"
	case errors.Is(err, ErrUnsupportedGrantType):
		return "unsupported_grant_type"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "server_error"
	}
}

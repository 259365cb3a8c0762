package resolver

import "fmt"

const (
	CodeUnauthenticated       = "UNAUTHENTICATED"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeInvalidSignature      = "TOKEN_INVALID_SIGNATURE"
	CodeSessionExpired        = "SESSION_EXPIRED"
	CodeRefreshMismatch       = "REFRESH_MISMATCH"
	CodeInvalidFederatedToken = "INVALID_FEDERATED_TOKEN"
	CodeIdentityNotFound      = "IDENTITY_NOT_FOUND"
	CodeIdentityBanned        = "IDENTITY_BANNED"
)

// AuthError is a terminal resolution failure. Every state of the resolver
// maps onto exactly one code; the HTTP layer translates the code into a
// response and stops the pipeline.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

func authErr(code, message string, err error) *AuthError {
	return &AuthError{Code: code, Message: message, Err: err}
}

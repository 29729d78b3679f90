// Package apperr holds the sentinel errors shared across examvault and the
// machine-readable reason codes reported for them.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyEncrypted = errors.New("document already encrypted")
	ErrAccessDenied     = errors.New("release gate closed")
	ErrConfiguration    = errors.New("configuration error")
	ErrDecryption       = errors.New("decryption failed")
	ErrIntegrity        = errors.New("content digest mismatch")
	ErrIndexConflict    = errors.New("block index conflict")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Reason codes.
const (
	CodeNotFound         = "not_found"
	CodeAlreadyEncrypted = "already_encrypted"
	CodeAccessDenied     = "access_denied"
	CodeConfiguration    = "configuration_error"
	CodeDecryption       = "decryption_failed"
	CodeIntegrity        = "integrity_failed"
	CodeConflict         = "conflict"
	CodeInvalidRequest   = "invalid_request"
	CodeUnauthorized     = "unauthorized"
	CodeInternal         = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyEncrypted, CodeAlreadyEncrypted},
	{ErrAccessDenied, CodeAccessDenied},
	{ErrConfiguration, CodeConfiguration},
	{ErrDecryption, CodeDecryption},
	{ErrIntegrity, CodeIntegrity},
	{ErrIndexConflict, CodeConflict},
	{ErrInvalidRequest, CodeInvalidRequest},
}

// Code returns the reason code for the first known sentinel in err's chain,
// or CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

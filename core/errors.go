package core

import "errors"

// ErrorKind values are the taxonomy from the design's error-handling section.
// They are sentinel errors, not a closed set of Go types, so callers use
// errors.Is against them and wrap with additional context via fmt.Errorf.
var (
	ErrSchemaInvalid     = errors.New("schema_invalid")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrNotFound          = errors.New("not_found")
	ErrClockSkewRejected = errors.New("clock_skew_rejected")
	ErrDecrypt           = errors.New("decrypt_error")
	ErrCommandFailed     = errors.New("command_failed")
	ErrTransient         = errors.New("transient")
)

// HTTPStatus maps an ErrorKind sentinel to the status code the HTTP API
// surfaces to callers (§7 propagation policy: API errors get a status code,
// gossip-origin errors never propagate back to the sender).
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrSchemaInvalid):
		return 400
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrInsufficientFunds):
		return 402
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrClockSkewRejected):
		return 409
	case errors.Is(err, ErrDecrypt):
		return 500
	case errors.Is(err, ErrCommandFailed):
		return 500
	case errors.Is(err, ErrTransient):
		return 503
	default:
		return 500
	}
}

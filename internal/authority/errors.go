package authority

import "errors"

// Credential failures. Callers at the HTTP boundary collapse these into
// generic messages; they exist so tests and logs can tell them apart.
var (
	ErrExpired             = errors.New("credential expired")
	ErrAlreadyConsumed     = errors.New("credential already consumed")
	ErrAlreadyConfirmed    = errors.New("pairing code already confirmed")
	ErrInvalid             = errors.New("credential invalid")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidPasscode     = errors.New("invalid passcode")
	ErrValidation          = errors.New("validation failed")
	ErrDeviceAlreadyPaired = errors.New("device already paired to another member")
)

// IsCredentialError reports whether err is an expected outcome of probing a
// credential, as opposed to a storage failure.
func IsCredentialError(err error) bool {
	for _, target := range []error{
		ErrExpired, ErrAlreadyConsumed, ErrAlreadyConfirmed, ErrInvalid,
		ErrUnauthorized, ErrInvalidPasscode, ErrDeviceAlreadyPaired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

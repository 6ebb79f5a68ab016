package auth

import "errors"

var (
	// ErrAuthNotConfigured means no credential is configured and no
	// platform-native fallback was found. The user must log in.
	ErrAuthNotConfigured = errors.New("no credential configured")

	// ErrAuthExpired means a refresh failed and the stored credential is no
	// longer usable. The user must re-authenticate; no automatic retry.
	ErrAuthExpired = errors.New("credential expired, re-authentication required")

	// ErrDeviceAuthExpired means the device authorization was denied or
	// timed out before the user completed it.
	ErrDeviceAuthExpired = errors.New("device authorization expired")
)

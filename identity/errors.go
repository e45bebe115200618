package identity

import "errors"

var (
	// ErrNotFound is returned by each key-resolution strategy when its
	// source has no key configured; the manager falls through to the next
	// strategy on this error only.
	ErrNotFound = errors.New("identity: key source not found")
	// ErrMalformedKey indicates a key source was found but its contents
	// could not be parsed as a private key.
	ErrMalformedKey = errors.New("identity: malformed private key")
	// ErrStoreTimeout indicates the OS credential store did not respond
	// within the configured timeout.
	ErrStoreTimeout = errors.New("identity: credential store timeout")
	// ErrNoKeySource indicates every configured resolution strategy was
	// disabled or exhausted without locating or generating a key.
	ErrNoKeySource = errors.New("identity: no usable key source configured")
	// ErrVerification wraps a signature verification failure.
	ErrVerification = errors.New("identity: verification failed")
)

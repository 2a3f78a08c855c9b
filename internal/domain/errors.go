package domain

import "errors"

var (
	ErrInvalidIdentifier = errors.New("invalid session identifier")
	ErrPairingFailed     = errors.New("pairing failed")
	ErrAlreadyRegistered = errors.New("session already registered")
	ErrPairingInProgress = errors.New("pairing already in progress")
	ErrTimeout           = errors.New("timed out waiting for pairing code")
	ErrLoggedOut         = errors.New("session logged out")
	ErrStorage           = errors.New("credential storage failure")
	ErrSessionNotFound   = errors.New("session not found")
	ErrRegistryClosed    = errors.New("session registry closed")
	ErrSecretNotFound    = errors.New("secret not found")
)

package services

import "errors"

var (
	// ErrUnknownPersona is returned when a persona switch references a bot
	// id that is not configured.
	ErrUnknownPersona = errors.New("unknown persona")

	// ErrUnknownCredential is returned when a persona maps to a credential
	// key the pool was not built with.
	ErrUnknownCredential = errors.New("unknown credential")
)

package app

import "errors"

var (
	// ErrNotFound reports a missing game. Reads of someone else's game
	// also surface as not-found so ids cannot be probed.
	ErrNotFound = errors.New("game not found")

	// ErrUnauthorized reports a mutation attempted against a game the
	// caller does not own.
	ErrUnauthorized = errors.New("not authorized")

	ErrInvalidInput = errors.New("invalid input")

	// ErrNotReady is returned when chat is attempted against a game
	// whose rulebook has not finished processing.
	ErrNotReady = errors.New("game is not ready")
)

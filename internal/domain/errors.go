package domain

import "errors"

// Error taxonomy. Callers match with errors.Is; the relay maps these to
// distinct HTTP error codes so clients recover the same values.
var (
	// ErrPoolExhausted: the target identity has no available, non-expired
	// credential. Actionable: retry after the target replenishes.
	ErrPoolExhausted = errors.New("credential pool exhausted")

	// ErrDuplicateCredential: an upload reused a credential id with a
	// different payload. Rejected with no state change.
	ErrDuplicateCredential = errors.New("duplicate credential id")

	// ErrInvalidReservation: spend of a reservation that lapsed, was never
	// made, or is held by another caller.
	ErrInvalidReservation = errors.New("invalid or expired reservation")

	// ErrValidation: an incoming record, ticket or ciphertext failed
	// cryptographic validation or arrived at the wrong generation. The
	// message is dropped; session state is never touched.
	ErrValidation = errors.New("validation failed")

	// ErrOwnMessage: an attempt to decrypt the local identity's own
	// ciphertext. This is a property of the engine, not a failure; callers
	// discard the message silently.
	ErrOwnMessage = errors.New("own message")

	// ErrUnknownGroup: a record or message referenced a group the local
	// client holds no session for.
	ErrUnknownGroup = errors.New("unknown group")
)

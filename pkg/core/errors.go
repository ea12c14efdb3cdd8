package core

import "errors"

var (
	// ErrUnknownEvent is a protocol violation: the contract emitted an event outside the vocabulary.
	ErrUnknownEvent = errors.New("unknown contract event")

	// ErrMalformedEvent means a recognised event carried an undecodable payload.
	ErrMalformedEvent = errors.New("malformed contract event")

	// ErrInvariant is returned when a mutation would break the projection's invariants.
	ErrInvariant = errors.New("projection invariant violated")

	// ErrHeadUnavailable is returned once the chain head could not be read too many times in a row.
	ErrHeadUnavailable = errors.New("chain head unavailable")

	// ErrDeploymentNotFound is returned when the deployment event is absent from the searched range.
	ErrDeploymentNotFound = errors.New("contract deployment event not found")
)

package auth

import "errors"

// ErrInvalidState is returned for a state that is malformed, expired,
// signed with another key or already used.
var ErrInvalidState = errors.New("invalid or expired oauth state")

// States issues and checks the state parameter of an OAuth authorize round trip.
// Handlers depend on this interface so tests can swap the implementation.
type States interface {
	Issue() (string, error)
	// Consume verifies state and marks it used. A second call with the same
	// state fails.
	Consume(state string) error
}

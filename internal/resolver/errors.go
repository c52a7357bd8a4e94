// ABOUTME: Client-facing authentication failure type
// ABOUTME: Carries the mapped HTTP status for the gateway boundary

package resolver

// AuthError is an authentication rejection destined for the client. The
// gateway boundary converts it into the fixed plain-text response; it is
// never recovered internally.
type AuthError struct {
	// Status is the HTTP status to answer with (400, 401, 418, or 500).
	Status int

	// Message is the client-visible failure description.
	Message string

	// Err is the underlying cause, for logs only.
	Err error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

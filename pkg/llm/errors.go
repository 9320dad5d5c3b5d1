package llm

import "fmt"

// AuthError signals a credential problem with the configured backend.
// Hint tells the operator how to fix it.
type AuthError struct {
	Message string
	Hint    string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Hint)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

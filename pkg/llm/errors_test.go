package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthErrorFormat(t *testing.T) {
	err := &AuthError{Message: "AWS SSO token has expired", Hint: "Run 'aws sso login' to refresh your credentials"}
	assert.Equal(t, "AWS SSO token has expired (Run 'aws sso login' to refresh your credentials)", err.Error())

	bare := &AuthError{Message: "Anthropic API key not found"}
	assert.Equal(t, "Anthropic API key not found", bare.Error())
}

func TestAuthErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := fmt.Errorf("agent turn 1: %w", &AuthError{Message: "bad credentials", Err: cause})

	var authErr *AuthError
	assert.True(t, errors.As(wrapped, &authErr))
	assert.True(t, errors.Is(wrapped, cause))
}

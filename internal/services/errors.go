package services

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the conversation does not exist or is outside the
// caller's property scope. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("conversation not found")

// ErrValidation indicates a malformed request; no side effects occurred
var ErrValidation = errors.New("validation failed")

// ProviderError wraps a gateway rejection or network failure. The outbound
// row has already been marked failed by the time this is returned; a retry
// is a new send with a fresh idempotency key.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider send failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

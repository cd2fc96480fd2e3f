package vault

import (
	"errors"
	"fmt"
)

// ErrIntegrity indicates a secret could not be authenticated under the configured key.
var ErrIntegrity = errors.New("secret integrity check failed")

// IntegrityError wraps a decryption failure with the stage it happened at.
type IntegrityError struct {
	Op  string
	Err error
}

func newIntegrityError(op string, err error) *IntegrityError {
	return &IntegrityError{Op: op, Err: err}
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrIntegrity, e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// IsIntegrityError checks if an error indicates a wrong key or tampered secret.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

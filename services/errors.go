package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateAchievement means a mint record for (user, achievement) already exists.
	// It is the expected outcome of a lost create-if-absent race, not a failure.
	ErrDuplicateAchievement = errors.New("achievement already recorded for user")
	// ErrAlreadyMinted is returned by the minting service when (owner, achievement) is claimed.
	ErrAlreadyMinted = errors.New("achievement token already minted for owner")
	// ErrNotFound is a generic sentinel for missing rows.
	ErrNotFound = errors.New("not found")
	// ErrNoWallet means the user has no active wallet to receive a token yet.
	ErrNoWallet = errors.New("no active wallet for user")
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidationError rejects malformed input. It is never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StorageError wraps a failure of the durable store. Callers decide whether to retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// TransientExternalError is a retryable failure of the metadata or minting service
// (network errors, timeouts, 5xx, nonce conflicts).
type TransientExternalError struct {
	Service string
	Err     error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Service, e.Err)
}
func (e *TransientExternalError) Unwrap() error { return e.Err }

// PermanentExternalError is a rejected call that retrying cannot fix.
type PermanentExternalError struct {
	Service string
	Err     error
}

func (e *PermanentExternalError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Service, e.Err)
}
func (e *PermanentExternalError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(service string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientExternalError{Service: service, Err: err}
}

// Permanent marks err as non-retryable.
func Permanent(service string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentExternalError{Service: service, Err: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target *PermanentExternalError
	return errors.As(err, &target)
}

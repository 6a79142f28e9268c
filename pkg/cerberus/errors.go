package cerberus

import (
	"errors"
	"fmt"
)

// ErrLocked indicates another instance holds the lock.
var ErrLocked = errors.New("another instance is running")

// LockError wraps failures to acquire or release a lock.
type LockError struct {
	Name  string
	Cause error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s: %v", e.Name, e.Cause)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// NewLockError creates a new lock error.
func NewLockError(name string, cause error) *LockError {
	return &LockError{
		Name:  name,
		Cause: cause,
	}
}

package engine

import "fmt"

// ValidationError rejects an action before any write happens.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

func validationErrorf(format string, args ...any) ValidationError {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// QuotaExceededError rejects a swap once the phase budget is spent.
type QuotaExceededError struct {
	UserID string
	Phase  int
}

func (e QuotaExceededError) Error() string {
	return fmt.Sprintf("no swaps remaining for user %s in phase %d", e.UserID, e.Phase)
}

// GenerationError aborts a catalog generation batch; nothing is committed.
type GenerationError struct {
	Phase int
	Err   error
}

func (e GenerationError) Error() string {
	return fmt.Sprintf("catalog generation for phase %d failed: %v", e.Phase, e.Err)
}

func (e GenerationError) Unwrap() error { return e.Err }

package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for executor failures. Typed wrappers below carry the
// element detail; callers match with errors.Is / errors.As.
var (
	ErrNoExecutor       = errors.New("no executor for element kind")
	ErrReceiveTimeout   = errors.New("receive timeout")
	ErrLowConfidence    = errors.New("confidence below threshold")
	ErrUserTaskRejected = errors.New("user task rejected")
)

// ReceiveTimeoutError reports a receive task whose deadline elapsed before
// a matching message arrived.
type ReceiveTimeoutError struct {
	ElementID      string
	MessageRef     string
	CorrelationKey string
	Timeout        time.Duration
}

func (e *ReceiveTimeoutError) Error() string {
	return fmt.Sprintf("element %s: no message for (%s, %s) within %s",
		e.ElementID, e.MessageRef, e.CorrelationKey, e.Timeout)
}

func (e *ReceiveTimeoutError) Unwrap() error { return ErrReceiveTimeout }

// LowConfidenceError reports an agentic task that exhausted its retries
// without reaching the confidence threshold.
type LowConfidenceError struct {
	ElementID string
	Attempts  int
	Best      float64
	Threshold float64
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("element %s: confidence %.2f below threshold %.2f after %d attempts",
		e.ElementID, e.Best, e.Threshold, e.Attempts)
}

func (e *LowConfidenceError) Unwrap() error { return ErrLowConfidence }

// RejectionError reports a user task decided as rejected; the scheduler
// terminates the instance as failed.
type RejectionError struct {
	ElementID string
	Comments  string
	User      string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("element %s: rejected by %s", e.ElementID, e.User)
}

func (e *RejectionError) Unwrap() error { return ErrUserTaskRejected }

// CancelledError reports an executor stopped by a cancellation request,
// carrying whatever partial content had been produced. Not a failure.
type CancelledError struct {
	ElementID      string
	PartialContent string
	Reason         string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("element %s: cancelled (%s)", e.ElementID, e.Reason)
}

func (e *CancelledError) Unwrap() error { return context.Canceled }

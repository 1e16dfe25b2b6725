// ABOUTME: Error taxonomy shared by the store, queue, sync, and gateway packages
// ABOUTME: Sentinels are matched with errors.Is; RemoteError and ViolationsError carry details
package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrRemoteRejected     = errors.New("rejected by server")
	ErrApprovalRequired   = errors.New("approval required")
	ErrStaleReferenceData = errors.New("reference data may be stale")
	ErrSyncInProgress     = errors.New("sync already in progress")
	ErrDrainInProgress    = errors.New("drain already in progress")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyResponded   = errors.New("approval already responded")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrNotApprover        = errors.New("user is not the selected approver")
)

// RemoteError is a validation failure reported by the gateway. Message is the
// server's reason, shown to the seller unchanged.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// ViolationsError is returned when an order needs an approval before it can be queued.
type ViolationsError struct {
	Violations []Violation
}

func (e *ViolationsError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("approval required: %s", strings.Join(msgs, "; "))
}

func (e *ViolationsError) Is(target error) bool {
	return target == ErrApprovalRequired
}

// ClassifyError maps a submission error to the failure kind stored on the order.
func ClassifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrRemoteRejected):
		return ErrorKindRejected
	case errors.Is(err, ErrNetworkUnavailable),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, context.DeadlineExceeded):
		return ErrorKindNetwork
	default:
		return ErrorKindInternal
	}
}

package workflow

import (
	"errors"
	"fmt"
)

// Every workflow failure wraps one of these sentinels so the command layer
// can turn it into a rejection text with errors.Is.
var (
	ErrValidation = errors.New("invalid request")
	ErrConflict   = errors.New("conflicting request")
	ErrNoChange   = errors.New("request matches current grant")
	ErrNotAllowed = errors.New("not allowed")
	ErrNotFound   = errors.New("request not found")
)

// UnknownServiceError rejects a target name outside the service catalog.
type UnknownServiceError struct {
	Name string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q", e.Name)
}

func (e *UnknownServiceError) Is(target error) bool {
	return target == ErrValidation
}

// PendingExistsError rejects a submission while an earlier request from the
// same requester is still awaiting a decision.
type PendingExistsError struct {
	RequestID int64
}

func (e *PendingExistsError) Error() string {
	return fmt.Sprintf("request #%d is still pending", e.RequestID)
}

func (e *PendingExistsError) Is(target error) bool {
	return target == ErrConflict
}

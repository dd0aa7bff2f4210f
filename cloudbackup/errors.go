package cloudbackup

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/recoverykit/cloudstore"
)

// ErrArchiveExists is returned when an archive key is already taken.
var ErrArchiveExists = errors.New("archived backup already exists")

// RectifiableError is a storage failure the user can fix, for example by
// granting storage access again. The operation should be retried as is once
// the rectification flow completes.
type RectifiableError struct {
	Err           error
	Rectification cloudstore.Rectification
}

// Error returns the failure and the required action.
func (e *RectifiableError) Error() string {
	return fmt.Sprintf("backup storage failure (rectify: %v): %v",
		e.Rectification.Kind, e.Err)
}

// Unwrap returns the store error.
func (e *RectifiableError) Unwrap() error {
	return e.Err
}

// UnrectifiableError is a storage failure with no known user remedy.
type UnrectifiableError struct {
	Err error
}

// Error returns the failure.
func (e *UnrectifiableError) Error() string {
	return fmt.Sprintf("backup storage failure: %v", e.Err)
}

// Unwrap returns the store error.
func (e *UnrectifiableError) Unwrap() error {
	return e.Err
}

// classifyStoreError maps a cloud store failure to RectifiableError or
// UnrectifiableError. Context errors are returned unchanged.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {

		return err
	}

	var cloudErr *cloudstore.CloudError
	if errors.As(err, &cloudErr) && cloudErr.Rectification.IsSome() {
		return &RectifiableError{
			Err: err,
			Rectification: cloudErr.Rectification.UnwrapOr(
				cloudstore.Rectification{},
			),
		}
	}

	return &UnrectifiableError{Err: err}
}

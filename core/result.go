package core

import (
	"context"
	"errors"
)

// ErrBailed signals that a hook quietly discarded the current execution. It
// is control flow, not a failure; callers stop work without surfacing an
// error to the customer.
var ErrBailed = errors.New("execution bailed")

// IsCancelled reports whether err stems from context cancellation or a
// deadline, the silent early-return path of a superseded cycle.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsBail reports whether err is a hook bail.
func IsBail(err error) bool { return errors.Is(err, ErrBailed) }

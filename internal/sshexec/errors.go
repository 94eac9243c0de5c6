package sshexec

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chrisreddington/ssh-mcp/internal/shellpath"
	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
)

// Kind is the caller-facing category of a failure.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindCapacity     Kind = "capacity"
	KindTimeout      Kind = "timeout"
	KindConnection   Kind = "connection"
	KindInternal     Kind = "internal"
)

// ErrInvalidInput is wrapped by errors for missing or malformed arguments.
var ErrInvalidInput = errors.New("invalid input")

// InvalidInput returns an error wrapping ErrInvalidInput.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

// TimeoutError reports that a command did not finish within its bound. The
// remote command may still be running.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %ss", strconv.FormatFloat(e.After.Seconds(), 'f', -1, 64))
}

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	var te *TimeoutError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case shellpath.IsValidationError(err):
		return KindValidation
	case errors.Is(err, sshsession.ErrNotFound):
		return KindNotFound
	case errors.Is(err, sshsession.ErrCapacity):
		return KindCapacity
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case sshconn.IsConnError(err):
		return KindConnection
	}
	return KindInternal
}

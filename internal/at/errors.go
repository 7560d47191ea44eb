package at

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched by the typed request failures.
var (
	ErrTimeout     = errors.New("request timed out")
	ErrDeviceError = errors.New("device replied ERROR")
)

// TimeoutError is returned when no terminator arrived before the deadline.
type TimeoutError struct {
	Command string
	Timeout time.Duration
	Partial string // bytes received before giving up
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("at: %q: no OK/ERROR within %v", e.Command, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// DeviceError is returned when the module terminated its reply with ERROR.
type DeviceError struct {
	Command string
	Raw     string // full accumulated reply, terminator included
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("at: %q: device replied ERROR", e.Command)
}

func (e *DeviceError) Is(target error) bool { return target == ErrDeviceError }

// Status is the terminal state of one exchange.
type Status int

const (
	// StatusUnterminated means the deadline passed, or the request never got
	// far enough to see a terminator.
	StatusUnterminated Status = iota
	StatusOK
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNTERMINATED"
	}
}

// StatusOf maps the error returned by Request to a status tag. A nil error
// is StatusOK; a transport fault is StatusUnterminated.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrDeviceError):
		return StatusError
	default:
		return StatusUnterminated
	}
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsDeviceError reports whether err is an ERROR reply from the module.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrDeviceError)
}

package main

import (
	"errors"
	"fmt"

	"github.com/shaunagostinho/bleat/internal/at"
	"github.com/shaunagostinho/bleat/internal/module"
	"github.com/shaunagostinho/bleat/internal/wire"
)

// Process exit codes.
const (
	exitFailure     = 1
	exitTimeout     = 2
	exitDeviceError = 3
	exitBadInput    = 4
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, at.ErrTimeout):
		return exitTimeout
	case errors.Is(err, at.ErrDeviceError):
		return exitDeviceError
	case errors.Is(err, wire.ErrMalformedHex):
		return exitBadInput
	default:
		return exitFailure
	}
}

// FormatUserError turns engine failures into short messages for the terminal.
func FormatUserError(err error) string {
	var te *at.TimeoutError
	var de *at.DeviceError
	var re *module.ReplyError
	switch {
	case errors.As(err, &te):
		return fmt.Sprintf("no reply to %q within %v (check port, baud rate and wiring)", te.Command, te.Timeout)
	case errors.As(err, &de):
		return fmt.Sprintf("module rejected %q", de.Command)
	case errors.As(err, &re):
		return fmt.Sprintf("could not understand the reply to %s: %q", re.Command, re.Reply)
	case errors.Is(err, wire.ErrMalformedHex):
		return fmt.Sprintf("invalid hex input: %v", err)
	}
	return err.Error()
}

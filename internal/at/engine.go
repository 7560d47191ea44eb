// Package at runs single command/response exchanges with an AT-style BLE
// radio module.
//
// A request writes one command line, then polls the transport for reply
// bytes until the reply ends in "OK\r\n" or "ERROR\r\n" or the deadline
// passes. The engine is synchronous and not reentrant: callers serialize
// requests on a given transport themselves.
//
// The module is assumed never to emit a payload line that itself ends in
// "OK" or "ERROR" followed by CRLF. Such a line would be taken for the
// status terminator.
package at

import (
	"bytes"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// LineTerminator is appended to every command by the engine.
	LineTerminator = "\r\n"

	// CmdAttention is the bare liveness command.
	CmdAttention = "AT"

	// DefaultTimeout bounds a request when Config.Timeout is unset.
	DefaultTimeout = 1000 * time.Millisecond

	// DefaultPollInterval is the sleep between empty receive polls.
	DefaultPollInterval = 1 * time.Millisecond
)

var (
	termOK    = []byte("OK\r\n")
	termError = []byte("ERROR\r\n")
)

// Transport is the duplex byte channel a request runs over. It is opened
// and framed by the caller.
type Transport interface {
	io.Writer

	// Buffered returns the number of received bytes that can be read
	// without blocking.
	Buffered() (int, error)

	// ReadByte returns the next received byte.
	ReadByte() (byte, error)
}

// Recorder receives every finished exchange.
type Recorder interface {
	Record(Exchange)
}

// Exchange describes one finished request.
type Exchange struct {
	Command  string
	Raw      string
	Payload  string
	Status   Status
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Config holds per-engine settings. Zero fields take defaults.
type Config struct {
	Timeout time.Duration

	// Debug mirrors the outgoing command and every received byte to Echo.
	Debug bool
	Echo  EchoSink

	// Now and Sleep drive the poll loop; tests replace them to simulate
	// elapsed time.
	Now          func() time.Time
	Sleep        func(time.Duration)
	PollInterval time.Duration

	Recorder Recorder
	Logger   logrus.FieldLogger
}

// Engine sends commands and collects replies over one transport.
type Engine struct {
	t   Transport
	cfg Config
	log logrus.FieldLogger
}

// New creates an engine over an already opened transport.
func New(t Transport, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Engine{
		t:   t,
		cfg: cfg,
		log: log.WithField("component", "at"),
	}
}

// Timeout returns the configured per-request timeout.
func (e *Engine) Timeout() time.Duration { return e.cfg.Timeout }

// Test sends a bare AT and succeeds iff the module answers OK.
func (e *Engine) Test() error {
	_, err := e.Request(CmdAttention)
	return err
}

// Request sends command and waits for the module's reply. On success it
// returns the reply body with the trailing OK and its line breaks removed.
// An ERROR reply yields *DeviceError, a missing terminator *TimeoutError,
// and transport faults are returned as is.
func (e *Engine) Request(command string) (string, error) {
	started := e.cfg.Now()
	raw, payload, err := e.exchange(command, started.Add(e.cfg.Timeout))

	x := Exchange{
		Command:  command,
		Raw:      raw,
		Payload:  payload,
		Status:   StatusOf(err),
		Started:  started,
		Duration: e.cfg.Now().Sub(started),
		Err:      err,
	}
	e.log.WithFields(logrus.Fields{
		"command":  command,
		"status":   x.Status.String(),
		"duration": x.Duration,
		"bytes":    len(raw),
	}).Debug("request finished")
	if e.cfg.Recorder != nil {
		e.cfg.Recorder.Record(x)
	}
	return payload, err
}

func (e *Engine) exchange(command string, deadline time.Time) (raw, payload string, err error) {
	if e.echoing() {
		if err := e.cfg.Echo.WriteLine(command); err != nil {
			return "", "", err
		}
	}
	if _, err := io.WriteString(e.t, command+LineTerminator); err != nil {
		return "", "", err
	}

	var buf []byte
	for {
		n, err := e.t.Buffered()
		if err != nil {
			return string(buf), "", err
		}
		if n > 0 {
			b, err := e.t.ReadByte()
			if err != nil {
				return string(buf), "", err
			}
			if e.echoing() {
				if err := e.cfg.Echo.WriteChar(b); err != nil {
					return string(buf), "", err
				}
			}
			buf = append(buf, b)
			if terminated(buf) {
				break
			}
			continue
		}
		if !e.cfg.Now().Before(deadline) {
			return string(buf), "", &TimeoutError{
				Command: command,
				Timeout: e.cfg.Timeout,
				Partial: string(buf),
			}
		}
		e.cfg.Sleep(e.cfg.PollInterval)
	}

	raw = string(buf)
	if trailingStatus(buf) == StatusError {
		return raw, "", &DeviceError{Command: command, Raw: raw}
	}
	return raw, stripOK(raw), nil
}

func (e *Engine) echoing() bool {
	return e.cfg.Debug && e.cfg.Echo != nil
}

// terminated reports whether buf ends with a status terminator. Only the
// tail is inspected, so a terminator-like sequence earlier in the reply
// cannot end the read once more bytes have followed it.
func terminated(buf []byte) bool {
	return bytes.HasSuffix(buf, termOK) || bytes.HasSuffix(buf, termError)
}

// trailingStatus reads the status token at the end of buf, ignoring any
// trailing CR/LF.
func trailingStatus(buf []byte) Status {
	body := bytes.TrimRight(buf, "\r\n")
	switch {
	case bytes.HasSuffix(body, []byte("ERROR")):
		return StatusError
	case bytes.HasSuffix(body, []byte("OK")):
		return StatusOK
	default:
		return StatusUnterminated
	}
}

// stripOK removes every trailing group of optional line break, "OK",
// optional line break.
func stripOK(s string) string {
	for {
		t := trimLineBreak(s)
		if len(t) < 2 || t[len(t)-2:] != "OK" {
			return s
		}
		s = trimLineBreak(t[:len(t)-2])
	}
}

func trimLineBreak(s string) string {
	switch {
	case len(s) >= 2 && s[len(s)-2:] == "\r\n":
		return s[:len(s)-2]
	case len(s) >= 1 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r'):
		return s[:len(s)-1]
	}
	return s
}

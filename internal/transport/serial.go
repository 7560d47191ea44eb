package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	drainSilence = 100 * time.Millisecond  // silence threshold for drain loop
	drainTimeout = 1500 * time.Millisecond // max time to spend draining
)

// SerialConfig holds the port settings. Framing is always 8N1 with RTS
// asserted for hardware flow control.
type SerialConfig struct {
	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// Serial is a line to a BLE module over a hardware serial port.
//
// Reads never block: the port read timeout is zero, so Buffered polls the
// driver and parks whatever arrived in a pending buffer that ReadByte
// drains one byte at a time.
type Serial struct {
	port    serial.Port
	pending []byte
	chunk   []byte
	log     logrus.FieldLogger
}

// OpenSerial opens and frames the port.
func OpenSerial(cfg SerialConfig, log logrus.FieldLogger) (*Serial, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"component": "serial", "port": cfg.Port})

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", cfg.Port, err)
	}
	if err := port.SetRTS(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to assert RTS on %s: %w", cfg.Port, err)
	}

	s := &Serial{
		port:  port,
		chunk: make([]byte, 256),
		log:   log,
	}
	s.drain()

	if err := port.SetReadTimeout(0); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to set timeout: %w", err)
	}

	log.WithFields(logrus.Fields{"baud": cfg.BaudRate}).Info("port opened")
	return s, nil
}

// drain discards boot banners and stale output until the line is silent
// for drainSilence or drainTimeout has elapsed.
func (s *Serial) drain() {
	s.port.ResetInputBuffer()
	s.port.SetReadTimeout(drainSilence)

	total := 0
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		n, _ := s.port.Read(s.chunk)
		if n == 0 {
			break
		}
		if total == 0 {
			s.log.Debugf("drain first bytes: % X", s.chunk[:n])
		}
		total += n
	}
	if total > 0 {
		s.log.WithField("bytes", total).Debug("drained stale input")
	}
}

// Write sends p to the module.
func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// Buffered polls the port and returns the number of bytes ready to read.
func (s *Serial) Buffered() (int, error) {
	if len(s.pending) == 0 {
		n, err := s.port.Read(s.chunk)
		if err != nil {
			return 0, err
		}
		s.pending = append(s.pending, s.chunk[:n]...)
	}
	return len(s.pending), nil
}

// ReadByte returns the next pending byte. Call Buffered first.
func (s *Serial) ReadByte() (byte, error) {
	if len(s.pending) == 0 {
		if _, err := s.Buffered(); err != nil {
			return 0, err
		}
		if len(s.pending) == 0 {
			return 0, ErrNoData
		}
	}
	b := s.pending[0]
	s.pending = s.pending[1:]
	return b, nil
}

// Close releases the port.
func (s *Serial) Close() error {
	return s.port.Close()
}

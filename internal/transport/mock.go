// Package transport provides byte channels to a BLE module: a hardware
// serial port, an in-memory simulated module, and a scripted mock for tests.
package transport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrNoData is returned by ReadByte when nothing has been received.
var ErrNoData = errors.New("transport: no data buffered")

// Burst is a chunk of reply bytes that becomes readable At after the
// command write that triggered it.
type Burst struct {
	At   time.Duration
	Data string
}

// Reply returns a script that makes data readable immediately.
func Reply(data string) []Burst {
	return []Burst{{Data: data}}
}

// Mock is a scripted transport. Each Write consumes the next entry of
// Replies and schedules its bursts relative to Now at the time of the write.
type Mock struct {
	mu sync.Mutex

	Replies [][]Burst
	Now     func() time.Time

	// OnWrite runs at the start of every Write, before the reply is
	// scheduled. Tests use it to model a slow write.
	OnWrite func(p []byte)

	WriteErr    error
	BufferedErr error
	ReadErr     error

	written   bytes.Buffer
	writes    int
	writeAt   time.Time
	scheduled []Burst
	rx        []byte
}

func (m *Mock) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Mock) Write(p []byte) (int, error) {
	if m.OnWrite != nil {
		m.OnWrite(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.written.Write(p)
	m.writeAt = m.now()
	if m.writes < len(m.Replies) {
		m.scheduled = append(m.scheduled, m.Replies[m.writes]...)
	}
	m.writes++
	return len(p), nil
}

func (m *Mock) Buffered() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BufferedErr != nil {
		return 0, m.BufferedErr
	}
	elapsed := m.now().Sub(m.writeAt)
	due := m.scheduled[:0]
	var later []Burst
	for _, b := range m.scheduled {
		if b.At <= elapsed {
			due = append(due, b)
		} else {
			later = append(later, b)
		}
	}
	for _, b := range due {
		m.rx = append(m.rx, b.Data...)
	}
	m.scheduled = later
	return len(m.rx), nil
}

func (m *Mock) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	if len(m.rx) == 0 {
		return 0, ErrNoData
	}
	b := m.rx[0]
	m.rx = m.rx[1:]
	return b, nil
}

// Written returns everything written so far.
func (m *Mock) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// Writes returns the number of Write calls.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

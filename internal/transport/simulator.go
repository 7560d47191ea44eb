package transport

import (
	"bytes"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/shaunagostinho/bleat/internal/wire"
)

const (
	simVersion   = "1.4.2"
	simAddress   = "C8:FD:19:4A:22:7E"
	maxNameLen   = 29
	maxBeaconLen = 31
)

var validTxPower = map[int]bool{-20: true, -16: true, -12: true, -8: true, -4: true, 0: true, 4: true}

// Simulator is an in-memory BLE module that answers the AT command set
// without hardware. Replies become readable as soon as the command line
// has been written.
type Simulator struct {
	mu sync.Mutex

	name        string
	txPower     int
	advertising bool
	serviceUUID uint16
	beacon      []byte
	chars       map[uint16][]byte

	line bytes.Buffer
	rx   []byte
}

// NewSimulator returns a module in its power-on state.
func NewSimulator() *Simulator {
	s := &Simulator{}
	s.reset()
	return s
}

func (s *Simulator) reset() {
	s.name = "bleat-sim"
	s.txPower = 0
	s.advertising = false
	s.serviceUUID = 0
	s.beacon = nil
	s.chars = make(map[uint16][]byte)
}

// ServiceUUID returns the last service UUID set with AT+UUID.
func (s *Simulator) ServiceUUID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceUUID
}

// Beacon returns a copy of the advertised beacon payload.
func (s *Simulator) Beacon() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.beacon...)
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.line.Write(p)
	for {
		buf := s.line.Bytes()
		idx := bytes.Index(buf, []byte("\r\n"))
		if idx < 0 {
			break
		}
		cmd := string(buf[:idx])
		s.line.Next(idx + 2)
		s.rx = append(s.rx, s.handle(cmd)...)
	}
	return len(p), nil
}

func (s *Simulator) Buffered() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rx), nil
}

func (s *Simulator) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 {
		return 0, ErrNoData
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	return b, nil
}

// Close is a no-op.
func (s *Simulator) Close() error { return nil }

func okReply(lines ...string) string {
	if len(lines) == 0 {
		return "OK\r\n"
	}
	return strings.Join(lines, "\r\n") + "\r\nOK\r\n"
}

const fail = "ERROR\r\n"

func (s *Simulator) handle(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "AT" {
		return okReply()
	}
	if !strings.HasPrefix(cmd, "AT+") {
		return fail
	}
	name, arg, hasArg := strings.Cut(cmd[3:], "=")

	switch name {
	case "VER?":
		return okReply("+VER:" + simVersion)
	case "ADDR?":
		return okReply("+ADDR:" + simAddress)
	case "NAME?":
		return okReply("+NAME:" + s.name)
	case "NAME":
		if !hasArg || arg == "" || len(arg) > maxNameLen {
			return fail
		}
		s.name = arg
		return okReply()
	case "RSSI?":
		return okReply(fmt.Sprintf("+RSSI:%d", -55-rand.Intn(20)))
	case "TXPWR?":
		return okReply(fmt.Sprintf("+TXPWR:%d", s.txPower))
	case "TXPWR":
		n, err := strconv.Atoi(arg)
		if err != nil || !validTxPower[n] {
			return fail
		}
		s.txPower = n
		return okReply()
	case "ADV":
		switch arg {
		case "1":
			s.advertising = true
		case "0":
			s.advertising = false
		default:
			return fail
		}
		return okReply()
	case "ADV?":
		if s.advertising {
			return okReply("+ADV:1")
		}
		return okReply("+ADV:0")
	case "UUID":
		v, valid := parseShort(arg)
		if !valid {
			return fail
		}
		s.serviceUUID = v
		return okReply()
	case "BEACON":
		b, err := wire.DecodeHex(wire.StripSeparators(arg))
		if err != nil || len(b) == 0 || len(b) > maxBeaconLen {
			return fail
		}
		s.beacon = b
		return okReply()
	case "CHARW":
		handle, data, found := strings.Cut(arg, ",")
		h, valid := parseShort(handle)
		if !found || !valid {
			return fail
		}
		b, err := wire.DecodeHex(wire.StripSeparators(data))
		if err != nil {
			return fail
		}
		s.chars[h] = b
		return okReply()
	case "CHARR":
		h, valid := parseShort(arg)
		if !valid {
			return fail
		}
		v, found := s.chars[h]
		if !found {
			return fail
		}
		return okReply("+CHAR:" + wire.EncodeBytesCompact(v))
	case "RESET":
		s.reset()
		return okReply()
	}
	return fail
}

// parseShort accepts the "0xHHHH" form produced by wire.EncodeShort.
func parseShort(s string) (uint16, bool) {
	if len(s) != 6 || !strings.HasPrefix(s, "0x") {
		return 0, false
	}
	v, err := strconv.ParseUint(s[2:], 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

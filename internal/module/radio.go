// Package module is the command catalogue for the BLE radio. Every method
// formats one AT command line, embeds binary fields with the wire codec and
// delegates to the engine's Request.
package module

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaunagostinho/bleat/internal/at"
	"github.com/shaunagostinho/bleat/internal/wire"
)

// Requester runs one command/response exchange. *at.Engine satisfies it.
type Requester interface {
	Request(command string) (string, error)
}

// ReplyError reports an OK reply whose body could not be parsed.
type ReplyError struct {
	Command string
	Reply   string
	Err     error
}

func (e *ReplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("module: %s: unexpected reply %q: %v", e.Command, e.Reply, e.Err)
	}
	return fmt.Sprintf("module: %s: unexpected reply %q", e.Command, e.Reply)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// Info is what the module reports about itself.
type Info struct {
	Version string `json:"version"`
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Radio issues catalogue commands through a Requester.
type Radio struct {
	r Requester
}

// New wraps r.
func New(r Requester) *Radio {
	return &Radio{r: r}
}

// Test sends a bare AT.
func (m *Radio) Test() error {
	_, err := m.r.Request(at.CmdAttention)
	return err
}

func (m *Radio) Version() (string, error) { return m.query("AT+VER?", "+VER:") }
func (m *Radio) Address() (string, error) { return m.query("AT+ADDR?", "+ADDR:") }
func (m *Radio) Name() (string, error)    { return m.query("AT+NAME?", "+NAME:") }

// Info collects version, address and name.
func (m *Radio) Info() (*Info, error) {
	var info Info
	var err error
	if info.Version, err = m.Version(); err != nil {
		return nil, err
	}
	if info.Address, err = m.Address(); err != nil {
		return nil, err
	}
	if info.Name, err = m.Name(); err != nil {
		return nil, err
	}
	return &info, nil
}

// SetName sets the advertised device name.
func (m *Radio) SetName(name string) error {
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("module: invalid device name %q", name)
	}
	return m.exec("AT+NAME=" + name)
}

// RSSI returns the signal strength of the current link in dBm.
func (m *Radio) RSSI() (int, error) { return m.queryInt("AT+RSSI?", "+RSSI:") }

// TxPower returns the transmit power in dBm.
func (m *Radio) TxPower() (int, error) { return m.queryInt("AT+TXPWR?", "+TXPWR:") }

func (m *Radio) SetTxPower(dbm int) error {
	return m.exec("AT+TXPWR=" + strconv.Itoa(dbm))
}

// Advertise switches advertising on or off.
func (m *Radio) Advertise(on bool) error {
	if on {
		return m.exec("AT+ADV=1")
	}
	return m.exec("AT+ADV=0")
}

// SetServiceUUID sets the 16-bit primary service UUID.
func (m *Radio) SetServiceUUID(uuid uint16) error {
	return m.exec("AT+UUID=" + wire.EncodeShort(uuid))
}

// SetBeacon sets the raw advertising payload.
func (m *Radio) SetBeacon(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("module: empty beacon payload")
	}
	return m.exec("AT+BEACON=" + wire.EncodeBytes(data))
}

// WriteCharacteristic writes value to the characteristic at handle.
func (m *Radio) WriteCharacteristic(handle uint16, value []byte) error {
	return m.exec("AT+CHARW=" + wire.EncodeShort(handle) + "," + wire.EncodeBytes(value))
}

// ReadCharacteristic reads the characteristic at handle.
func (m *Radio) ReadCharacteristic(handle uint16) ([]byte, error) {
	cmd := "AT+CHARR=" + wire.EncodeShort(handle)
	hex, err := m.query(cmd, "+CHAR:")
	if err != nil {
		return nil, err
	}
	b, err := wire.DecodeHex(hex)
	if err != nil {
		return nil, &ReplyError{Command: cmd, Reply: hex, Err: err}
	}
	return b, nil
}

// Reset restores power-on defaults.
func (m *Radio) Reset() error { return m.exec("AT+RESET") }

// Raw sends command unchanged and returns the reply body.
func (m *Radio) Raw(command string) (string, error) {
	return m.r.Request(command)
}

func (m *Radio) exec(cmd string) error {
	_, err := m.r.Request(cmd)
	return err
}

// query returns the value of the first reply line carrying prefix.
func (m *Radio) query(cmd, prefix string) (string, error) {
	reply, err := m.r.Request(cmd)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if v, found := strings.CutPrefix(line, prefix); found {
			return strings.TrimSpace(v), nil
		}
	}
	return "", &ReplyError{Command: cmd, Reply: reply}
}

func (m *Radio) queryInt(cmd, prefix string) (int, error) {
	v, err := m.query(cmd, prefix)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ReplyError{Command: cmd, Reply: v, Err: err}
	}
	return n, nil
}

package module

import (
	"errors"
	"testing"
	"time"

	"github.com/shaunagostinho/bleat/internal/at"
	"github.com/shaunagostinho/bleat/internal/transport"
	"github.com/shaunagostinho/bleat/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted records commands and answers from a fixed table.
type scripted struct {
	sent    []string
	replies map[string]string
	errs    map[string]error
}

func (s *scripted) Request(cmd string) (string, error) {
	s.sent = append(s.sent, cmd)
	if err := s.errs[cmd]; err != nil {
		return "", err
	}
	return s.replies[cmd], nil
}

func newSimRadio(t *testing.T) (*Radio, *transport.Simulator) {
	t.Helper()
	sim := transport.NewSimulator()
	return New(at.New(sim, at.Config{Timeout: 200 * time.Millisecond})), sim
}

func TestRadio_CommandFormatting(t *testing.T) {
	s := &scripted{}
	r := New(s)

	require.NoError(t, r.SetServiceUUID(0x180A))
	require.NoError(t, r.SetBeacon([]byte{0x02, 0x01, 0x06}))
	require.NoError(t, r.WriteCharacteristic(0x2A00, []byte{0xDE, 0xAD}))
	require.NoError(t, r.SetTxPower(-4))
	require.NoError(t, r.Advertise(true))
	require.NoError(t, r.Advertise(false))
	require.NoError(t, r.SetName("probe"))
	require.NoError(t, r.Reset())

	assert.Equal(t, []string{
		"AT+UUID=0x180A",
		"AT+BEACON=02-01-06",
		"AT+CHARW=0x2A00,DE-AD",
		"AT+TXPWR=-4",
		"AT+ADV=1",
		"AT+ADV=0",
		"AT+NAME=probe",
		"AT+RESET",
	}, s.sent)
}

func TestRadio_InputValidation(t *testing.T) {
	s := &scripted{}
	r := New(s)
	assert.Error(t, r.SetName(""))
	assert.Error(t, r.SetName("a\r\nAT+RESET"))
	assert.Error(t, r.SetBeacon(nil))
	assert.Empty(t, s.sent)
}

func TestRadio_QueryParsing(t *testing.T) {
	s := &scripted{replies: map[string]string{
		"AT+RSSI?":        "+RSSI:-61",
		"AT+TXPWR?":       "\r\n+TXPWR: 4 ",
		"AT+NAME?":        "garbage",
		"AT+CHARR=0x0001": "+CHAR:ABC",
		"AT+CHARR=0x0002": "+CHAR:0A0B",
	}}
	r := New(s)

	rssi, err := r.RSSI()
	require.NoError(t, err)
	assert.Equal(t, -61, rssi)

	tx, err := r.TxPower()
	require.NoError(t, err)
	assert.Equal(t, 4, tx)

	_, err = r.Name()
	var re *ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "AT+NAME?", re.Command)

	_, err = r.ReadCharacteristic(1)
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, wire.ErrMalformedHex)

	v, err := r.ReadCharacteristic(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x0B}, v)
}

func TestRadio_ErrorsPassThrough(t *testing.T) {
	boom := errors.New("io")
	s := &scripted{errs: map[string]error{"AT+VER?": boom}}
	_, err := New(s).Info()
	assert.ErrorIs(t, err, boom)
}

func TestRadio_AgainstSimulator(t *testing.T) {
	r, sim := newSimRadio(t)

	require.NoError(t, r.Test())

	info, err := r.Info()
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", info.Version)
	assert.Equal(t, "C8:FD:19:4A:22:7E", info.Address)
	assert.Equal(t, "bleat-sim", info.Name)

	require.NoError(t, r.SetName("kitchen"))
	name, err := r.Name()
	require.NoError(t, err)
	assert.Equal(t, "kitchen", name)

	rssi, err := r.RSSI()
	require.NoError(t, err)
	assert.LessOrEqual(t, rssi, -55)

	require.NoError(t, r.SetServiceUUID(0xFEAA))
	assert.Equal(t, uint16(0xFEAA), sim.ServiceUUID())

	require.NoError(t, r.SetBeacon([]byte{0x02, 0x01, 0x06, 0x03, 0x03, 0xAA, 0xFE}))
	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x03, 0x03, 0xAA, 0xFE}, sim.Beacon())

	require.NoError(t, r.WriteCharacteristic(0x2A19, []byte{0x64}))
	v, err := r.ReadCharacteristic(0x2A19)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x64}, v)

	err = r.SetTxPower(7)
	assert.True(t, at.IsDeviceError(err))

	_, err = r.Raw("AT+NOPE")
	assert.True(t, at.IsDeviceError(err))
}

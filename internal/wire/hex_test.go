package wire

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeShort(t *testing.T) {
	tests := []struct {
		in   uint16
		want string
	}{
		{0x0041, "0x0041"},
		{0xFFFF, "0xFFFF"},
		{0x0000, "0x0000"},
		{0x180A, "0x180A"},
		{0xABCD, "0xABCD"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeShort(tt.in))
	}
}

func TestEncodeBytes(t *testing.T) {
	assert.Equal(t, "01-02-AB", EncodeBytes([]byte{0x01, 0x02, 0xAB}))
	assert.Equal(t, "", EncodeBytes(nil))
	assert.Equal(t, "", EncodeBytes([]byte{}))
	assert.Equal(t, "FF", EncodeBytes([]byte{0xFF}))
	assert.Equal(t, "0102AB", EncodeBytesCompact([]byte{0x01, 0x02, 0xAB}))
}

func TestDecodeHex(t *testing.T) {
	b, err := DecodeHex("0102AB")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0xAB}, b)

	b, err = DecodeHex("")
	require.NoError(t, err)
	assert.Empty(t, b)

	b, err = DecodeHex("deadBEEF")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, b)
}

func TestDecodeHex_Malformed(t *testing.T) {
	for _, in := range []string{"0", "ABC", "12345", "0G", "zz00", "01-02", "+1"} {
		_, err := DecodeHex(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrMalformedHex), in)

		var mhe *MalformedHexError
		require.ErrorAs(t, err, &mhe)
		assert.Equal(t, in, mhe.Input)
	}

	_, err := DecodeHex("01ZZ")
	var mhe *MalformedHexError
	require.ErrorAs(t, err, &mhe)
	assert.Equal(t, 2, mhe.Offset)

	_, err = DecodeHex("012")
	require.ErrorAs(t, err, &mhe)
	assert.Equal(t, -1, mhe.Offset)
}

func TestRoundTripAfterStrippingSeparators(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for n := 0; n < 64; n++ {
		b := make([]byte, n)
		r.Read(b)
		got, err := DecodeHex(StripSeparators(EncodeBytes(b)))
		require.NoError(t, err)
		assert.Equal(t, len(b), len(got))
		if n > 0 {
			assert.Equal(t, b, got)
		}
	}
}

func TestDecodeHex_LengthAndOrder(t *testing.T) {
	const digits = "0123456789ABCDEF"
	r := rand.New(rand.NewSource(11))
	for n := 0; n < 40; n += 2 {
		s := make([]byte, n)
		for i := range s {
			s[i] = digits[r.Intn(len(digits))]
		}
		got, err := DecodeHex(string(s))
		require.NoError(t, err)
		require.Len(t, got, n/2)
		assert.Equal(t, string(s), EncodeBytesCompact(got))
	}
}

func TestHexBytes_Restartable(t *testing.T) {
	seq := HexBytes("A1B2C3")
	collect := func() []byte {
		var out []byte
		for b, err := range seq {
			require.NoError(t, err)
			out = append(out, b)
		}
		return out
	}
	first := collect()
	assert.Equal(t, []byte{0xA1, 0xB2, 0xC3}, first)
	assert.Equal(t, first, collect())
}

func TestHexBytes_EarlyStopAndError(t *testing.T) {
	var got []byte
	for b, err := range HexBytes("0102030405") {
		require.NoError(t, err)
		got = append(got, b)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []byte{0x01, 0x02}, got)

	var errs int
	var good []byte
	for b, err := range HexBytes("01XY03") {
		if err != nil {
			errs++
			continue
		}
		good = append(good, b)
	}
	assert.Equal(t, 1, errs)
	assert.Equal(t, []byte{0x01}, good)
}

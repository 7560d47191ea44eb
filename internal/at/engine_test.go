package at_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shaunagostinho/bleat/internal/at"
	"github.com/shaunagostinho/bleat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the engine sleeps.
type fakeClock struct {
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.now = c.now.Add(d)
}

type recorder struct{ got []at.Exchange }

func (r *recorder) Record(x at.Exchange) { r.got = append(r.got, x) }

func newEngine(clk *fakeClock, replies ...[]transport.Burst) (*at.Engine, *transport.Mock) {
	m := &transport.Mock{Now: clk.Now, Replies: replies}
	e := at.New(m, at.Config{
		Timeout: 100 * time.Millisecond,
		Now:     clk.Now,
		Sleep:   clk.Sleep,
	})
	return e, m
}

func TestRequest_ReturnsPayload(t *testing.T) {
	clk := newFakeClock()
	e, m := newEngine(clk, transport.Reply("value\r\nOK\r\n"))

	got, err := e.Request("AT+NAME?")
	require.NoError(t, err)
	assert.Equal(t, "value", got)
	assert.Equal(t, "AT+NAME?\r\n", m.Written())
}

func TestRequest_PayloadShapes(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"bare ok", "OK\r\n", ""},
		{"leading crlf", "\r\n+RSSI:-60\r\n\r\nOK\r\n", "\r\n+RSSI:-60\r\n"},
		{"multi line", "line1\r\nline2\r\nOK\r\n", "line1\r\nline2"},
		{"no break before ok", "42OK\r\n", "42"},
		{"stacked ok", "data\r\nOKOK\r\n", "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(newFakeClock(), transport.Reply(tt.reply))
			got, err := e.Request("AT+X")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequest_DeviceError(t *testing.T) {
	e, _ := newEngine(newFakeClock(), transport.Reply("ERROR\r\n"))

	got, err := e.Request("AT+BOGUS")
	require.Error(t, err)
	assert.Empty(t, got)
	assert.True(t, at.IsDeviceError(err))
	assert.Equal(t, at.StatusError, at.StatusOf(err))

	var de *at.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "ERROR\r\n", de.Raw)
	assert.Equal(t, "AT+BOGUS", de.Command)
}

func TestRequest_Timeout(t *testing.T) {
	clk := newFakeClock()
	e, _ := newEngine(clk, transport.Reply("partial"))

	start := clk.Now()
	_, err := e.Request("AT")
	require.Error(t, err)
	assert.True(t, at.IsTimeout(err))
	assert.Equal(t, at.StatusUnterminated, at.StatusOf(err))
	assert.GreaterOrEqual(t, clk.Now().Sub(start), 100*time.Millisecond)
	assert.Positive(t, clk.sleeps)

	var te *at.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "partial", te.Partial)
	assert.Equal(t, 100*time.Millisecond, te.Timeout)
}

func TestRequest_TimeoutRealClock(t *testing.T) {
	m := &transport.Mock{}
	e := at.New(m, at.Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := e.Request("AT")
	assert.ErrorIs(t, err, at.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRequest_DeadlineCountsFromWrite(t *testing.T) {
	clk := newFakeClock()
	m := &transport.Mock{
		Now:     clk.Now,
		OnWrite: func([]byte) { clk.now = clk.now.Add(150 * time.Millisecond) },
	}
	e := at.New(m, at.Config{Timeout: 100 * time.Millisecond, Now: clk.Now, Sleep: clk.Sleep})

	_, err := e.Request("AT")
	var te *at.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Empty(t, te.Partial)
	assert.Zero(t, clk.sleeps, "a write that outlasts the timeout leaves no time to poll")
	assert.Equal(t, 1, m.Writes())
}

func TestRequest_SplitTerminator(t *testing.T) {
	clk := newFakeClock()
	e, m := newEngine(clk, []transport.Burst{
		{At: 0, Data: "OK"},
		{At: 30 * time.Millisecond, Data: "\r\n"},
	})

	got, err := e.Request("AT")
	require.NoError(t, err)
	assert.Equal(t, "", got)
	// the engine kept polling until the CRLF burst was due
	assert.GreaterOrEqual(t, clk.sleeps, 30)
	n, err := m.Buffered()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRequest_OKInsidePayload(t *testing.T) {
	clk := newFakeClock()
	e, _ := newEngine(clk, []transport.Burst{
		{At: 0, Data: "+LIST:OKAY\r\n"},
		{At: 10 * time.Millisecond, Data: "OK\r\n"},
	})
	got, err := e.Request("AT+LIST?")
	require.NoError(t, err)
	assert.Equal(t, "+LIST:OKAY", got)
}

func TestRequest_NoCarryOver(t *testing.T) {
	clk := newFakeClock()
	rec := &recorder{}
	m := &transport.Mock{Now: clk.Now, Replies: [][]transport.Burst{
		transport.Reply("ERROR\r\n"),
		transport.Reply("first\r\nOK\r\n"),
		transport.Reply("second\r\nOK\r\n"),
	}}
	e := at.New(m, at.Config{Timeout: 50 * time.Millisecond, Now: clk.Now, Sleep: clk.Sleep, Recorder: rec})

	_, err := e.Request("AT+A")
	require.Error(t, err)

	got, err := e.Request("AT+B")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = e.Request("AT+C")
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	require.Len(t, rec.got, 3)
	assert.Equal(t, at.StatusError, rec.got[0].Status)
	assert.Equal(t, "ERROR\r\n", rec.got[0].Raw)
	assert.Equal(t, "first\r\nOK\r\n", rec.got[1].Raw)
	assert.Equal(t, "second\r\nOK\r\n", rec.got[2].Raw)
	assert.Equal(t, "AT+C", rec.got[2].Command)
}

func TestRequest_TransportFaultsPropagate(t *testing.T) {
	boom := errors.New("port closed")

	m := &transport.Mock{WriteErr: boom}
	_, err := at.New(m, at.Config{}).Request("AT")
	assert.Same(t, boom, err)

	m = &transport.Mock{BufferedErr: boom}
	_, err = at.New(m, at.Config{}).Request("AT")
	assert.Same(t, boom, err)
	assert.Equal(t, at.StatusUnterminated, at.StatusOf(err))

	m = &transport.Mock{ReadErr: boom, Replies: [][]transport.Burst{transport.Reply("OK\r\n")}}
	_, err = at.New(m, at.Config{}).Request("AT")
	assert.Same(t, boom, err)
}

func TestRequest_EchoInDebugMode(t *testing.T) {
	var echo bytes.Buffer
	clk := newFakeClock()
	m := &transport.Mock{Now: clk.Now, Replies: [][]transport.Burst{transport.Reply("+VER:1\r\nOK\r\n")}}
	e := at.New(m, at.Config{
		Debug: true,
		Echo:  at.WriterEcho(&echo),
		Now:   clk.Now,
		Sleep: clk.Sleep,
	})

	_, err := e.Request("AT+VER?")
	require.NoError(t, err)
	assert.Equal(t, "AT+VER?\n+VER:1\r\nOK\r\n", echo.String())
}

func TestRequest_EchoIgnoredWithoutDebug(t *testing.T) {
	var echo bytes.Buffer
	m := &transport.Mock{Replies: [][]transport.Burst{transport.Reply("OK\r\n")}}
	e := at.New(m, at.Config{Echo: at.WriterEcho(&echo)})

	_, err := e.Request("AT")
	require.NoError(t, err)
	assert.Empty(t, echo.String())
}

func TestTest_UsesAttentionCommand(t *testing.T) {
	e, m := newEngine(newFakeClock(), transport.Reply("OK\r\n"), transport.Reply("ERROR\r\n"))
	require.NoError(t, e.Test())
	assert.True(t, at.IsDeviceError(e.Test()))
	assert.Equal(t, "AT\r\nAT\r\n", m.Written())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "OK", at.StatusOK.String())
	assert.Equal(t, "ERROR", at.StatusError.String())
	assert.Equal(t, "UNTERMINATED", at.StatusUnterminated.String())
	assert.Equal(t, at.StatusOK, at.StatusOf(nil))
}

func TestNew_Defaults(t *testing.T) {
	e := at.New(&transport.Mock{}, at.Config{})
	assert.Equal(t, at.DefaultTimeout, e.Timeout())
}

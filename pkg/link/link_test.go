package link

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// autoClock is a mock clock whose Sleep advances time instead of blocking.
type autoClock struct {
	*clock.Mock
}

func (c autoClock) Sleep(d time.Duration) { c.Add(d) }

func newAutoClock() autoClock { return autoClock{clock.NewMock()} }

func TestParseToken(t *testing.T) {
	for tok := None; tok <= Unrotate; tok++ {
		got, err := ParseToken(tok.String())
		require.NoError(t, err)
		assert.Equal(t, tok, got)
	}

	got, err := ParseToken("  both_parked\r")
	require.NoError(t, err)
	assert.Equal(t, BothParked, got)

	_, err = ParseToken("HELLO")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestSlot(t *testing.T) {
	var s Slot
	assert.Equal(t, None, s.Load())
	_, fresh := s.Take()
	assert.False(t, fresh, "empty slot is never fresh")

	s.Store(Park)
	s.Store(Parked)
	assert.Equal(t, Parked, s.Load(), "last write wins")
	assert.Equal(t, Parked, s.Load(), "load does not consume")

	tok, fresh := s.Take()
	assert.Equal(t, Parked, tok)
	assert.True(t, fresh)

	tok, fresh = s.Take()
	assert.Equal(t, Parked, tok)
	assert.False(t, fresh)

	s.Store(Parked)
	_, fresh = s.Take()
	assert.True(t, fresh, "a repeated token is a new write")
	assert.Equal(t, uint64(3), s.seq())
}

func TestPair(t *testing.T) {
	a, b := Pair()
	require.NoError(t, a.Send(Park))
	assert.Equal(t, Park, b.Read())
	assert.Equal(t, None, a.Read(), "directions are independent")

	require.NoError(t, b.Send(Parked))
	tok, fresh := a.Take()
	assert.Equal(t, Parked, tok)
	assert.True(t, fresh)
}

func TestSendRepeated(t *testing.T) {
	a, b := Pair()
	require.NoError(t, SendRepeated(a, Park, 4))
	assert.Equal(t, uint64(4), b.in.seq())

	require.NoError(t, SendRepeated(a, Park, 0))
	assert.Equal(t, uint64(5), b.in.seq())
}

func TestWaiterAwait(t *testing.T) {
	ctx := context.Background()

	t.Run("wanted token", func(t *testing.T) {
		a, b := Pair()
		require.NoError(t, b.Send(Parked))
		w := Waiter{Clock: newAutoClock(), Interval: time.Second}
		tok, err := w.Await(ctx, a, []Token{Parked}, nil)
		require.NoError(t, err)
		assert.Equal(t, Parked, tok)
	})

	t.Run("stale token is not an acknowledgement", func(t *testing.T) {
		a, b := Pair()
		require.NoError(t, b.Send(Parked))
		a.Take()
		clk := newAutoClock()
		w := Waiter{Clock: clk, Interval: time.Second, Timeout: 3 * time.Second}
		_, err := w.Await(ctx, a, []Token{Parked}, nil)
		assert.ErrorIs(t, err, ErrPeerTimeout)
		assert.GreaterOrEqual(t, clk.Now().Sub(time.Unix(0, 0)), 3*time.Second)
	})

	t.Run("desync", func(t *testing.T) {
		a, b := Pair()
		require.NoError(t, b.Send(Unparked))
		w := Waiter{Clock: newAutoClock(), Interval: time.Second}
		tok, err := w.Await(ctx, a, []Token{Parked}, []Token{Unparked})
		assert.ErrorIs(t, err, ErrProtocolDesync)
		assert.Equal(t, Unparked, tok)
	})

	t.Run("unrelated token is ignored", func(t *testing.T) {
		a, b := Pair()
		require.NoError(t, b.Send(Rotate))
		w := Waiter{Clock: newAutoClock(), Interval: time.Second, Timeout: 2 * time.Second}
		_, err := w.Await(ctx, a, []Token{Parked}, []Token{Unparked})
		assert.ErrorIs(t, err, ErrPeerTimeout)
	})

	t.Run("unbounded wait ends with the context", func(t *testing.T) {
		a, _ := Pair()
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		w := Waiter{Clock: newAutoClock(), Interval: time.Second}
		_, err := w.Await(ctx, a, []Token{Parked}, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even", PortOptions{BaudRate: 9600, Parity: "even"}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	mode, err := PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)
}

func TestSerialOverPipe(t *testing.T) {
	p1, p2 := net.Pipe()
	a, b := NewSerial(p1), NewSerial(p2)

	require.NoError(t, a.Send(Park))
	require.Eventually(t, func() bool { return b.Read() == Park }, time.Second, time.Millisecond)

	require.NoError(t, b.Send(Parked))
	require.Eventually(t, func() bool {
		tok, fresh := a.Take()
		return fresh && tok == Parked
	}, time.Second, time.Millisecond)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(Park), ErrClosed)
	require.NoError(t, b.Close())
}

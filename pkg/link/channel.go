package link

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPeerTimeout is returned when an expected token does not arrive in
	// time.
	ErrPeerTimeout = pkgerrors.New("peer timeout")
	// ErrProtocolDesync is returned when the peer sends a token that cannot
	// follow the current protocol state.
	ErrProtocolDesync = pkgerrors.New("protocol desync")
	// ErrClosed is returned by Send after Close.
	ErrClosed = pkgerrors.New("link closed")
)

// Channel is one vehicle's end of the link.
type Channel interface {
	// Send overwrites the peer's inbound slot.
	Send(t Token) error
	// Read returns the latest inbound token without consuming it.
	Read() Token
	// Take is Read plus whether the token arrived since the last Take.
	Take() (Token, bool)
	Close() error
}

// SendRepeated sends t n times in a row. n < 1 sends once.
func SendRepeated(ch Channel, t Token, n int) error {
	n = max(n, 1)
	for i := 0; i < n; i++ {
		if err := ch.Send(t); err != nil {
			return pkgerrors.Wrapf(err, "send %s (%d/%d)", t, i+1, n)
		}
	}
	return nil
}

// Endpoint is an in-process Channel end.
type Endpoint struct {
	name string
	in   *Slot
	out  *Slot
}

// Pair returns two connected in-process endpoints.
func Pair() (*Endpoint, *Endpoint) {
	a, b := &Slot{}, &Slot{}
	return &Endpoint{name: "a", in: a, out: b}, &Endpoint{name: "b", in: b, out: a}
}

func (e *Endpoint) Send(t Token) error {
	logrus.WithFields(logrus.Fields{
		"endpoint": e.name,
		"token":    t,
	}).Debug("send token")
	e.out.Store(t)
	return nil
}

func (e *Endpoint) Read() Token {
	return e.in.Load()
}

func (e *Endpoint) Take() (Token, bool) {
	return e.in.Take()
}

func (e *Endpoint) Close() error {
	return nil
}

// Package link carries protocol tokens between the two vehicles.
//
// Each direction is a single last-write-wins slot: a send overwrites, a read
// never blocks and never consumes. There is no queue and no delivery
// guarantee.
package link

import (
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Token is one of the closed set of protocol messages.
type Token uint8

const (
	// None is held by a slot before anything was received.
	None Token = iota
	Park
	Parked
	BothParked
	Unpark
	Unparked
	Rotate
	Unrotate
)

var tokenNames = [...]string{
	None:       "NONE",
	Park:       "PARK",
	Parked:     "PARKED",
	BothParked: "BOTH_PARKED",
	Unpark:     "UNPARK",
	Unparked:   "UNPARKED",
	Rotate:     "ROTATE",
	Unrotate:   "UNROTATE",
}

// ErrUnknownToken is returned when parsing a string that names no token.
var ErrUnknownToken = pkgerrors.New("unknown token")

func (t Token) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return "INVALID"
}

// ParseToken is the inverse of String. Surrounding space is ignored.
func ParseToken(s string) (Token, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range tokenNames {
		if name == s {
			return Token(i), nil
		}
	}
	return None, pkgerrors.Wrapf(ErrUnknownToken, "%q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Token) UnmarshalText(b []byte) error {
	v, err := ParseToken(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

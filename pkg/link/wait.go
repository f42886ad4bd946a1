package link

import (
	"context"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Waiter polls a Channel for an acknowledgement.
type Waiter struct {
	Clock    clock.Clock
	Interval time.Duration
	// Timeout bounds the wait. Zero waits until ctx is cancelled.
	Timeout time.Duration
}

// Await polls ch until one of want arrives. Only tokens written since the
// previous Take count. A fresh token listed in desync fails the wait with
// ErrProtocolDesync; any other fresh token is ignored.
func (w Waiter) Await(ctx context.Context, ch Channel, want, desync []Token) (Token, error) {
	var deadline time.Time
	if w.Timeout > 0 {
		deadline = w.Clock.Now().Add(w.Timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return None, err
		}

		t, fresh := ch.Take()
		if fresh {
			switch {
			case slices.Contains(want, t):
				return t, nil
			case slices.Contains(desync, t):
				return t, pkgerrors.Wrapf(ErrProtocolDesync, "got %s while waiting for %v", t, want)
			default:
				logrus.WithField("token", t).Debug("ignoring token while waiting")
			}
		}

		if !deadline.IsZero() && !w.Clock.Now().Before(deadline) {
			return None, pkgerrors.Wrapf(ErrPeerTimeout, "no %v after %s", want, w.Timeout)
		}

		w.Clock.Sleep(w.Interval)
	}
}

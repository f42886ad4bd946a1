package types

import "time"

// Cycle is one finished parking attempt as stored in the journal.
type Cycle struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// Duration is how long the attempt took.
func (c Cycle) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}

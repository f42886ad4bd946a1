package parking

import (
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Role is fixed at startup. The Host owns the link and drives the handshake
// timing; the Peer answers.
type Role int

const (
	Host Role = iota
	Peer
)

func (r Role) String() string {
	if r == Peer {
		return "peer"
	}
	return "host"
}

// ParseRole parses "host" or "peer".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host", "":
		return Host, nil
	case "peer":
		return Peer, nil
	}
	return Host, pkgerrors.Errorf("unknown role %q: expected host or peer", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// State is a step of the parking cycle.
type State int

const (
	Driving State = iota
	ProbingOccupancy
	Parking
	Parked
	AwaitingPeerParked
	NotifyParked
	BothParked
	RandomDwell
	AwaitingUnpark
	Unparking
	AwaitingPeerUnparked
	NotifyUnparked
)

var stateNames = [...]string{
	Driving:              "Driving",
	ProbingOccupancy:     "ProbingOccupancy",
	Parking:              "Parking",
	Parked:               "Parked",
	AwaitingPeerParked:   "AwaitingPeerParked",
	NotifyParked:         "NotifyParked",
	BothParked:           "BothParked",
	RandomDwell:          "RandomDwell",
	AwaitingUnpark:       "AwaitingUnpark",
	Unparking:            "Unparking",
	AwaitingPeerUnparked: "AwaitingPeerUnparked",
	NotifyUnparked:       "NotifyUnparked",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Occupancy is the result of a probe.
type Occupancy int

const (
	Occupied Occupancy = iota
	Empty
)

func (o Occupancy) String() string {
	if o == Empty {
		return "empty"
	}
	return "occupied"
}

// Config tunes the parking cycle.
type Config struct {
	// ManeuverVelocity drives the park and unpark maneuvers.
	ManeuverVelocity float64
	// ProbeVelocity is the rotation speed of the occupancy sweep.
	ProbeVelocity float64
	// SampleCount distance samples are taken SampleInterval apart.
	SampleCount    int
	SampleInterval time.Duration
	// OccupancyThreshold: the bay is empty iff every sample is farther.
	OccupancyThreshold float64
	// ParkDuration is how long to follow the bay line when entering.
	ParkDuration time.Duration
	// UnparkDuration is how long to follow the line when leaving.
	UnparkDuration time.Duration
	// DwellMin and DwellMax bound the Host's random dwell, drawn in whole
	// seconds.
	DwellMin time.Duration
	DwellMax time.Duration
	// AckPollInterval is the poll period while waiting for the peer.
	AckPollInterval time.Duration
	// PeerTimeout bounds each wait for the peer. Zero waits forever.
	PeerTimeout time.Duration
}

// Transition is published on every state change.
type Transition struct {
	Role    Role      `json:"role"`
	CycleID string    `json:"cycleId,omitempty"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
}

// Outcome summarises a finished attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeOccupied  Outcome = "occupied"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFault     Outcome = "fault"
)

// Cycle is the record of one Attempt.
type Cycle struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

package types

import "time"

// Status describes one vehicle controlled by the daemon.
// This struct is shared between the daemon and client packages.
type Status struct {
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	Mode             string    `json:"mode"`
	ParkingEnabled   bool      `json:"parkingEnabled"`
	ParkingAllowed   bool      `json:"parkingAllowed"`
	ParkingState     string    `json:"parkingState"`
	LinePhase        string    `json:"linePhase"`
	DrivingSensor    string    `json:"drivingSensor"`
	ParkingSensor    string    `json:"parkingSensor"`
	LastToken        string    `json:"lastToken"`
	LastParkingEvent time.Time `json:"lastParkingEvent"`
	LastReversal     time.Time `json:"lastReversal"`
	NextReversal     time.Time `json:"nextReversal"`
	// ContinuousTicks counts the recent control ticks without a gap.
	ContinuousTicks int       `json:"continuousTicks"`
	LastTick        time.Time `json:"lastTick"`
	LastFault       string    `json:"lastFault,omitempty"`
	LastCycle       *Cycle    `json:"lastCycle,omitempty"`
}

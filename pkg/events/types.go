package events

import "encoding/json"

// Event names.
const (
	ParkingState    = "parking.state"
	ParkingCycle    = "parking.cycle"
	VehicleReversal = "vehicle.reversal"
)

// Event is one SSE message from the daemon.
type Event struct {
	ID   uint64          // SSE id, increasing per hub
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// ParkingStateEvent is the payload of parking.state.
type ParkingStateEvent struct {
	Role    string `json:"role"`
	CycleID string `json:"cycleId,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Ts      int64  `json:"ts"`
}

// ParkingCycleEvent is the payload of parking.cycle.
type ParkingCycleEvent struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Ts         int64  `json:"ts"`
}

// VehicleReversalEvent is the payload of vehicle.reversal.
type VehicleReversalEvent struct {
	Mode            string `json:"mode"`
	IntervalSeconds int    `json:"intervalSeconds"`
	Mirrored        bool   `json:"mirrored"`
	Ts              int64  `json:"ts"`
}

// DecodeAs decodes the event payload into T. Empty data yields the zero
// value of T.
//
// Example:
//
//	payload, err := events.DecodeAs[events.ParkingStateEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}

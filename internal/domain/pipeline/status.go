package pipeline

import (
	"time"

	"github.com/bytedance/sonic"
)

// Status is a point-in-time snapshot of a pipeline. It is what the
// isolated child reports to its parent and what the API serves.
type Status struct {
	State            string   `cbor:"state" json:"-"`
	Running          bool     `cbor:"running" json:"running"`
	Timestamp        float64  `cbor:"timestamp" json:"timestamp"`
	AvailableSignals []string `cbor:"available_signals" json:"available_signals"`
	AvailableStates  []string `cbor:"available_states" json:"available_states"`
	Error            string   `cbor:"error,omitempty" json:"error,omitempty"`
}

// MarshalJSON renders an unknown state as null
func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	var state *string
	if s.State != "" {
		state = &s.State
	}
	return sonic.Marshal(struct {
		State *string `json:"state"`
		alias
	}{State: state, alias: alias(s)})
}

// UnmarshalJSON accepts a null state
func (s *Status) UnmarshalJSON(data []byte) error {
	type alias Status
	aux := struct {
		State *string `json:"state"`
		*alias
	}{alias: (*alias)(s)}
	if err := sonic.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.State = ""
	if aux.State != nil {
		s.State = *aux.State
	}
	return nil
}

// Clone returns a deep copy
func (s Status) Clone() Status {
	s.AvailableSignals = append([]string(nil), s.AvailableSignals...)
	s.AvailableStates = append([]string(nil), s.AvailableStates...)
	return s
}

// Snapshot builds a status from a live pipeline
func Snapshot(p Pipeline, running bool, errMsg string) Status {
	return Status{
		State:            p.CurrentState(),
		Running:          running,
		Timestamp:        Timestamp(time.Now()),
		AvailableSignals: append([]string(nil), p.AvailableSignals()...),
		AvailableStates:  append([]string(nil), p.AvailableStates()...),
		Error:            errMsg,
	}
}

// Timestamp converts t to fractional Unix seconds
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

package manager

import (
	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
)

// Snapshot is a pipeline's status as served by the control plane
type Snapshot struct {
	Name             string          `json:"name"`
	RunID            string          `json:"run_id,omitempty"`
	State            *string         `json:"state"`
	Running          bool            `json:"running"`
	Timestamp        float64         `json:"timestamp"`
	AvailableSignals []string        `json:"available_signals"`
	AvailableStates  []string        `json:"available_states"`
	Queues           []string        `json:"queues"`
	Config           pipeline.Config `json:"config"`
	Error            string          `json:"error,omitempty"`
}

func newSnapshot(name, runID string, s pipeline.Status, meta pipeline.Meta, cfg pipeline.Config) Snapshot {
	snap := Snapshot{
		Name:             name,
		RunID:            runID,
		Running:          s.Running,
		Timestamp:        s.Timestamp,
		AvailableSignals: s.AvailableSignals,
		AvailableStates:  s.AvailableStates,
		Queues:           append([]string{}, meta.AvailableQueues...),
		Config:           cfg,
		Error:            s.Error,
	}
	if s.State != "" {
		state := s.State
		snap.State = &state
	}
	if snap.AvailableSignals == nil {
		snap.AvailableSignals = []string{}
	}
	if snap.AvailableStates == nil {
		snap.AvailableStates = []string{}
	}
	if snap.Config == nil {
		snap.Config = pipeline.Config{}
	}
	return snap
}

// StateOrEmpty returns the state, or "" when unknown
func (s Snapshot) StateOrEmpty() string {
	if s.State == nil {
		return ""
	}
	return *s.State
}

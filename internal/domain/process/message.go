package process

import "github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"

// MessageType identifies an inbound control message
type MessageType string

const (
	MessageConfig MessageType = "config"
	MessageSignal MessageType = "signal"
	MessageStop   MessageType = "stop"
)

// Inbound is a control message sent from parent to child. The first
// message of every run is MessageConfig.
type Inbound struct {
	Type   MessageType     `cbor:"type"`
	Config pipeline.Config `cbor:"config,omitempty"`
	Signal string          `cbor:"signal,omitempty"`
	// Priority is nil when the sender left it out, which means NORMAL
	Priority *int `cbor:"priority,omitempty"`
}

// SignalPriority returns the message's tier; a missing priority is NORMAL
func (m Inbound) SignalPriority() pipeline.Priority {
	if m.Priority == nil {
		return pipeline.PriorityNormal
	}
	return pipeline.Priority(*m.Priority).Normalize()
}

// ConfigMessage carries the merged pipeline configuration
func ConfigMessage(cfg pipeline.Config) Inbound {
	if cfg == nil {
		cfg = pipeline.Config{}
	}
	return Inbound{Type: MessageConfig, Config: cfg}
}

// SignalMessage builds a signal message
func SignalMessage(signal string, priority pipeline.Priority) Inbound {
	p := int(priority.Normalize())
	return Inbound{Type: MessageSignal, Signal: signal, Priority: &p}
}

// StopMessage builds a stop message
func StopMessage() Inbound {
	return Inbound{Type: MessageStop}
}

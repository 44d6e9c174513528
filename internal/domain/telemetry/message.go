package telemetry

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
)

// Message is a JSON object delivered to subscribers
type Message map[string]any

// Message types
const (
	TypeConnectionStatus = "connection_status"
	TypePipelineStopped  = "pipeline_stopped"
	TypeStatusUpdate     = "status_update"
	TypePubSub           = "pubsub_message"
)

const stoppedText = "Pipeline has been stopped"

func now() float64 {
	return pipeline.Timestamp(time.Now())
}

// stamped returns a shallow copy of msg carrying a timestamp
func stamped(msg Message) Message {
	out := make(Message, len(msg)+1)
	for k, v := range msg {
		out[k] = v
	}
	if _, ok := out["timestamp"]; !ok {
		out["timestamp"] = now()
	}
	return out
}

func connectAck(name, queue string) Message {
	msg := Message{
		"type":      TypeConnectionStatus,
		"connected": true,
		"pipeline":  name,
		"timestamp": now(),
	}
	if queue != "" {
		msg["queue"] = queue
	}
	return msg
}

func stoppedNotice(name, queue string) Message {
	msg := Message{
		"type":      TypePipelineStopped,
		"pipeline":  name,
		"message":   stoppedText,
		"timestamp": now(),
	}
	if queue != "" {
		msg["queue"] = queue
	}
	return msg
}

// StatusMessage renders a status snapshot as a status_update message
func StatusMessage(name string, status pipeline.Status) Message {
	var state any
	if status.State != "" {
		state = status.State
	}
	msg := Message{
		"type":              TypeStatusUpdate,
		"pipeline":          name,
		"state":             state,
		"running":           status.Running,
		"available_signals": status.AvailableSignals,
		"available_states":  status.AvailableStates,
		"timestamp":         status.Timestamp,
	}
	if status.Error != "" {
		msg["error"] = status.Error
	}
	return msg
}

// decodeQueuePayload parses a broker payload and fills in the routing
// fields the producer may have left out.
func decodeQueuePayload(payload []byte, name, queue string) (Message, error) {
	var msg Message
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	if msg == nil {
		msg = Message{}
	}
	if _, ok := msg["type"]; !ok {
		msg["type"] = TypePubSub
	}
	if _, ok := msg["pipeline"]; !ok {
		msg["pipeline"] = name
	}
	if _, ok := msg["queue"]; !ok {
		msg["queue"] = queue
	}
	return msg, nil
}

package broker

import (
	"context"
	"errors"
	"fmt"
)

var ErrClosed = errors.New("broker closed")

// Broker is a fire-and-forget pub/sub transport
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Subscription delivers raw payloads for one channel. Messages is closed
// when the subscription ends, either through Close or because the
// underlying connection failed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// QueueChannel names the pub/sub channel for a pipeline queue
func QueueChannel(pipeline, queue string) string {
	return fmt.Sprintf("pipeline:%s:queue:%s", pipeline, queue)
}

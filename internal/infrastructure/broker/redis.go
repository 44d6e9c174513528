package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker implements Broker on Redis pub/sub
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis connects to the Redis server at url (redis://host:port/db)
func NewRedis(url string, logger *zap.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: redis.NewClient(opts), logger: logger}, nil
}

// Ping checks connectivity
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish sends payload to every current subscriber of channel
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe waits for the subscription to be confirmed before returning
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		pubsub: pubsub,
		cancel: cancel,
		out:    make(chan []byte, 64),
	}
	go sub.pump(subCtx, b.logger.With(zap.String("channel", channel)))
	return sub, nil
}

// Close releases the connection pool
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	out    chan []byte
	once   sync.Once
}

func (s *redisSubscription) pump(ctx context.Context, logger *zap.Logger) {
	defer close(s.out)

	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Pub/sub receive failed", zap.Error(err))
			}
			return
		}

		select {
		case s.out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}

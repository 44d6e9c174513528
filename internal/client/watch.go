package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// CloseNotFound is the close code for an unknown pipeline
const CloseNotFound = 4004

// Message is one decoded telemetry frame
type Message = map[string]any

type websocketDialer struct {
	dialer *websocket.Dialer
}

func newWebsocketDialer(timeout time.Duration) *websocketDialer {
	return &websocketDialer{dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}}
}

// Watch streams the pipeline's status feed, or one of its queues when
// queue is non-empty, calling fn for every frame. It returns nil when the
// server ends the feed normally (pipeline stopped or server shutdown) and
// ctx.Err() when ctx ends first. An error from fn stops the watch.
func (c *Client) Watch(ctx context.Context, name, queue string, fn func(Message) error) error {
	conn, _, err := c.ws.dialer.DialContext(ctx, c.watchURL(name, queue), nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return closeErr(name, err)
		}

		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func (c *Client) watchURL(name, queue string) string {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = c.base.Path + "/ws/pipeline/" + name
	if queue != "" {
		u.Path += "/queue/" + queue
	}
	return u.String()
}

func closeErr(name string, err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway:
		return nil
	case CloseNotFound:
		return &APIError{Status: http.StatusNotFound, Message: ce.Text}
	}
	return fmt.Errorf("feed for '%s' closed: %w", name, err)
}

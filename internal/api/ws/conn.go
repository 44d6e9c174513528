package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/telemetry"
)

// errConnClosed is returned when sending on a closed connection
var errConnClosed = errors.New("websocket connection closed")

// maxCloseReason is the control frame payload limit minus the status code
const maxCloseReason = 123

// conn adapts a websocket connection to telemetry.Subscriber. Writes are
// serialized because gorilla connections allow only one concurrent writer.
type conn struct {
	id      string
	ws      *websocket.Conn
	timeout time.Duration

	mu     sync.Mutex
	closed bool // Protected by mu
}

func newConn(id string, ws *websocket.Conn, timeout time.Duration) *conn {
	return &conn{id: id, ws: ws, timeout: timeout}
}

func (c *conn) ID() string { return c.id }

// Send writes msg as a JSON text frame within the write timeout
func (c *conn) Send(msg telemetry.Message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure with reason and closes the socket
func (c *conn) Close(reason string) error {
	return c.closeWith(websocket.CloseNormalClosure, reason)
}

func (c *conn) closeWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(c.timeout))
	return c.ws.Close()
}

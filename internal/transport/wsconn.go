package transport

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/util"
)

// WSConn runs the peer protocol directly over a WebSocket connection. Text
// frames are envelopes; other frames are ignored.
type WSConn struct {
	channel.Listeners

	conn         *websocket.Conn
	remoteOrigin string

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// NewWSConn wraps conn. remoteOrigin labels inbound events and is checked
// against the targetOrigin of outbound posts. Reading starts with the first
// Subscribe, so no message is lost before a peer is listening.
func NewWSConn(conn *websocket.Conn, remoteOrigin string) *WSConn {
	return &WSConn{
		conn:         conn,
		remoteOrigin: remoteOrigin,
		done:         make(chan struct{}),
	}
}

// Subscribe implements channel.Bus and starts the read loop on first use.
func (c *WSConn) Subscribe(fn func(channel.Event)) func() {
	unsubscribe := c.Listeners.Subscribe(fn)
	c.startOnce.Do(func() { go c.readLoop() })
	return unsubscribe
}

// RemoteOrigin returns the origin of the other end.
func (c *WSConn) RemoteOrigin() string { return c.remoteOrigin }

// PostMessage implements channel.Target.
func (c *WSConn) PostMessage(message string, targetOrigin string) error {
	if !channel.OriginMatches(targetOrigin, c.remoteOrigin) {
		util.LogDebug("dropping message for origin %q (remote is %q)", targetOrigin, c.remoteOrigin)
		return nil
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		return err
	}
	util.Stats.AddSent(len(message))
	return nil
}

// readLoop is the only reader of the connection; it delivers events one at
// a time.
func (c *WSConn) readLoop() {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		util.Stats.AddRecv(len(data))
		c.Emit(channel.Event{
			Origin: c.remoteOrigin,
			Data:   string(data),
			Source: c,
		})
	}
}

func (c *WSConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		c.conn.Close()
	})
}

// Done returns a channel that is closed when the connection has ended.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, once Done is closed.
func (c *WSConn) Err() error {
	<-c.done
	return c.err
}

// Close sends a close frame and tears the connection down.
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

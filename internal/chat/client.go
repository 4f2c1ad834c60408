package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 << 10
	sendBuffer     = 256

	closeGoingAway       = websocket.CloseGoingAway
	closePolicyViolation = websocket.ClosePolicyViolation
)

// Client is one websocket connection. Reads happen on the read pump, writes
// only on the write pump; everything else talks to it through Send.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Session *Session

	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	flush     chan closeFrame
	flushOnce sync.Once
}

type closeFrame struct {
	code   int
	reason string
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:      uuid.NewString(),
		Conn:    conn,
		Session: NewSession(),
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		flush:   make(chan closeFrame, 1),
	}
}

func (c *Client) UserID() string { return c.Session.Identity().ID }

// Send enqueues payload without blocking. A full buffer means the peer is not
// keeping up, and the connection is closed.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.Close()
		return false
	}
}

// Close tears the connection down immediately. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

// Shutdown writes what is already queued, then a close frame, then closes.
func (c *Client) Shutdown(code int, reason string) {
	c.flushOnce.Do(func() {
		c.flush <- closeFrame{code: code, reason: reason}
	})
}

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readPump(handle func([]byte)) {
	defer c.Close()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		handle(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		case f := <-c.flush:
			if err := c.drain(); err != nil {
				return
			}
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(f.code, f.reason))
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) drain() error {
	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

package proxy

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnClosed marks reads that ended because the peer went away: a close
// frame, EOF, or a reset/aborted TCP connection. Everything else surfacing
// from a read is a protocol violation or an internal failure.
var ErrConnClosed = errors.New("connection closed")

type inbound struct {
	data []byte
	err  error
}

// Client wraps one client WebSocket connection. A read pump feeds incoming
// binary frames into a channel, so the supervisor can poll many idle clients
// without blocking while a player actor can read the same connection
// blockingly once a game starts.
type Client struct {
	conn     *websocket.Conn
	addr     string
	incoming chan inbound
	writeMu  sync.Mutex
	closed   bool
}

// NewClient starts the read pump for an accepted connection.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:     conn,
		addr:     conn.RemoteAddr().String(),
		incoming: make(chan inbound, 16),
	}
	go c.readPump()
	return c
}

func (c *Client) readPump() {
	defer close(c.incoming)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.incoming <- inbound{err: classifyReadError(err)}
			return
		}
		if msgType != websocket.BinaryMessage {
			// Text frames are not part of the game protocol; control frames
			// are consumed by the websocket library itself.
			c.incoming <- inbound{err: fmt.Errorf("unsupported message type %d", msgType)}
			return
		}
		c.incoming <- inbound{data: data}
	}
}

func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	return err
}

// Addr is the peer address; it doubles as the client identifier.
func (c *Client) Addr() string { return c.addr }

// TryRecv polls for the next frame without blocking. ok is false when nothing
// is pending. A non-nil error means the connection is unusable.
func (c *Client) TryRecv() (data []byte, err error, ok bool) {
	select {
	case in, open := <-c.incoming:
		if !open {
			return nil, ErrConnClosed, true
		}
		return in.data, in.err, true
	default:
		return nil, nil, false
	}
}

// Recv blocks for the next frame.
func (c *Client) Recv() ([]byte, error) {
	in, open := <-c.incoming
	if !open {
		return nil, ErrConnClosed
	}
	return in.data, in.err
}

// Send writes one binary frame.
func (c *Client) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}

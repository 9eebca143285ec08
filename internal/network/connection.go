// Package network carries protocol messages over a single byte stream per
// peer and keeps track of the live peers a host is talking to.
package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSend wraps a write failure. The connection is closed when it happens.
	ErrSend = errors.New("network: send failed")

	// ErrClosed is returned by Send after the connection has gone away.
	ErrClosed = errors.New("network: connection closed")
)

const (
	// WriteTimeout bounds a single frame write. A peer that stops reading
	// is dropped once it is reached.
	WriteTimeout = 3 * time.Second

	// OutboxSize is how many frames may wait for one peer. A peer that
	// falls this far behind is dropped.
	OutboxSize = 256
)

type outFrame struct {
	data []byte
	typ  protocol.MessageType
}

// Handlers receives a connection's events. OnMessage runs on the receive
// goroutine, one message at a time. OnDisconnect runs exactly once.
type Handlers struct {
	OnMessage    func(conn *Connection, msg protocol.Message)
	OnDisconnect func(conn *Connection, err error)
}

// Connection wraps one socket. Send only queues a frame; a writer goroutine
// owns the socket's write side, so frames never interleave and a slow peer
// never blocks the sender. The receive loop runs on its own goroutine after
// Start.
type Connection struct {
	ID uuid.UUID

	conn         net.Conn
	remote       string
	logger       logrus.FieldLogger
	handlers     Handlers
	writeTimeout time.Duration

	out        chan outFrame
	closing    chan struct{}
	closeReq   sync.Once
	writerDone chan struct{}

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewConnection wraps nc. Frames may be sent right away; nothing is read
// until Start is called.
func NewConnection(nc net.Conn, logger logrus.FieldLogger, handlers Handlers) *Connection {
	id := uuid.New()
	remote := ""
	if addr := nc.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	c := &Connection{
		ID:           id,
		conn:         nc,
		remote:       remote,
		logger:       logger.WithField("conn", id),
		handlers:     handlers,
		writeTimeout: WriteTimeout,
		out:          make(chan outFrame, OutboxSize),
		closing:      make(chan struct{}),
		writerDone:   make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// RemoteAddr is the peer address as reported when the connection was made.
func (c *Connection) RemoteAddr() string { return c.remote }

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns why the connection closed, or nil while it is open or after a
// clean local close.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Start launches the receive loop.
func (c *Connection) Start() {
	go c.readLoop()
}

func (c *Connection) readLoop() {
	dec := protocol.NewDecoder(c.conn)
	for {
		msg, err := dec.Next()
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				c.logger.Warnf("dropping malformed frame: %v", err)
				continue
			}
			if errors.Is(err, protocol.ErrUnknownMessageType) {
				c.logger.Warnf("ignoring frame: %v", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				err = nil
			}
			c.shutdown(err)
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		c.logger.WithField("type", msg.Type()).Debug("frame received")
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(c, msg)
		}
	}
}

// Send encodes msg and queues it for the writer. It is safe to call from
// any goroutine and never waits on the peer. A full outbox closes the
// connection; a failed write closes it later, from the writer.
func (c *Connection) Send(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	case <-c.closing:
		return ErrClosed
	default:
	}

	select {
	case c.out <- outFrame{data: frame, typ: msg.Type()}:
		return nil
	default:
		err = fmt.Errorf("%w: %s to %s: %d frames already queued", ErrSend, msg.Type(), c.remote, OutboxSize)
		c.shutdown(err)
		return err
	}
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case f := <-c.out:
			if !c.write(f, time.Now().Add(c.writeTimeout)) {
				return
			}
		case <-c.closing:
			c.flush()
			return
		case <-c.done:
			return
		}
	}
}

// flush writes whatever is still queued, all under one deadline.
func (c *Connection) flush() {
	deadline := time.Now().Add(c.writeTimeout)
	for {
		select {
		case f := <-c.out:
			if !c.write(f, deadline) {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(f outFrame, deadline time.Time) bool {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		c.logger.Debugf("setting write deadline: %v", err)
	}
	if _, err := c.conn.Write(f.data); err != nil {
		c.shutdown(fmt.Errorf("%w: %s to %s: %v", ErrSend, f.typ, c.remote, err))
		return false
	}
	return true
}

// Close flushes queued frames, then shuts the connection down locally. The
// disconnect handler still runs. Close must not be called from OnDisconnect.
func (c *Connection) Close() error {
	c.closeReq.Do(func() { close(c.closing) })
	<-c.writerDone
	c.shutdown(nil)
	return nil
}

// shutdown is idempotent: the first caller records the reason, closes the
// socket and fires OnDisconnect.
func (c *Connection) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.closeErr = reason
		close(c.done)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debugf("closing socket: %v", err)
		}
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect(c, reason)
		}
	})
}

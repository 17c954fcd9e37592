// Package realtime implements the live transport: per-socket pumps, the
// process-local room hub and the connection gateway.
package realtime

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	errClientClosed = errors.New("realtime: client closed")
	errSlowConsumer = errors.New("realtime: send buffer full")
)

// ClientOptions bounds a single socket.
type ClientOptions struct {
	MaxMessageSize int64
	SendBuffer     int
	RateBurst      int
	RateInterval   time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 10
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
	return o
}

// Client is one live connection. It is the opaque handle the hub indexes
// rooms by; it never outlives its transport session.
type Client struct {
	ID     string
	UserID string

	conn    *websocket.Conn
	addr    string
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	opts    ClientOptions
	log     *logger.Logger
}

// NewClient wraps conn. conn may be nil for a detached client whose outbound
// frames are read through Outbound.
func NewClient(conn *websocket.Conn, userID, addr string, opts ClientOptions, log *logger.Logger) *Client {
	opts = opts.withDefaults()
	id := uuid.Must(uuid.NewV7()).String()
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	refill := rate.Every(opts.RateInterval / time.Duration(opts.RateBurst))
	return &Client{
		ID:      id,
		UserID:  userID,
		conn:    conn,
		addr:    addr,
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(refill, opts.RateBurst),
		opts:    opts,
		log:     log.WithConnection(id, userID),
	}
}

// Outbound exposes queued frames of a detached client.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send enqueues payload without blocking. A full buffer means the peer is
// too slow; the caller is expected to drop the client.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close stops the pumps and closes the socket. It is safe to call repeatedly.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			_ = c.conn.Close()
		}
	})
}

// allow reports whether an inbound frame fits the token bucket.
func (c *Client) allow() bool {
	return c.limiter.Allow()
}

// readPump delivers inbound frames to handle until the socket fails.
func (c *Client) readPump(handle func(raw []byte)) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		handle(raw)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded read limit", zap.Int64("max_bytes", c.opts.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client closed connection")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.log.Debug("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected close", zap.Error(err))
	default:
		c.log.Debug("read failed", zap.Error(err))
	}
}

// writePump owns all writes to the socket: queued frames and keepalive pings.
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
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}

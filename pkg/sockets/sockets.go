package sockets

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("closed connection")

type Connection interface {
	Dial(ctx context.Context, url string) error
	Send(body []byte) error
	io.Closer
}

// Conn is a websocket client. Messages are handed to the OnMessage callback in the
// order they arrive.
type Conn struct {
	mu            sync.Mutex
	ws            *websocket.Conn
	sslSkipVerify bool
	closed        bool
	done          chan struct{}
	pingInterval  time.Duration
	pingMsg       []byte
	onError       func(err error)
	onMessage     func([]byte, Connection)
	onConnected   func(Connection)
}

func New(opts ...func(*Conn)) *Conn {
	c := &Conn{closed: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}

// close must be called with c.mu held.
func (c *Conn) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.ws.Close()
}

func (c *Conn) Send(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
		_ = c.close()
		if c.onError != nil {
			go c.onError(err)
		}
		return err
	}
	return nil
}

func (c *Conn) Dial(ctx context.Context, url string) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.sslSkipVerify,
		},
	}
	conn, res, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if res != nil {
			return fmt.Errorf("dial %s: %w (status %d)", url, err, res.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.ws = conn
	c.closed = false
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	if c.onConnected != nil {
		go c.onConnected(c)
	}
	go c.read(conn)
	c.setupPing(done)
	return nil
}

func (c *Conn) read(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			_ = c.close()
			c.mu.Unlock()
			if !wasClosed && c.onError != nil {
				c.onError(err)
			}
			return
		}
		if c.onMessage != nil {
			c.onMessage(msg, c)
		}
	}
}

func (c *Conn) setupPing(done <-chan struct{}) {
	if c.pingInterval <= 0 || len(c.pingMsg) == 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if c.Send(c.pingMsg) != nil {
					return
				}
			}
		}
	}()
}

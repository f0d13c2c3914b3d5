package sockets

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultMaxClients   = 16
	defaultWriteTimeout = 5 * time.Second
	maxInboundSize      = 512
	peerBuffer          = 8
)

// Hub serves a broadcast-only websocket endpoint. Clients that fall behind are dropped.
type Hub struct {
	upgrader     websocket.Upgrader
	logger       *zap.Logger
	maxClients   int
	writeTimeout time.Duration
	pingInterval time.Duration
	greeting     func() ([]byte, error)

	mu      sync.RWMutex
	peers   map[*peer]struct{}
	stopped bool
}

type peer struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

func NewHub(opts ...func(*Hub)) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:       zap.L(),
		maxClients:   defaultMaxClients,
		writeTimeout: defaultWriteTimeout,
		peers:        map[*peer]struct{}{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.peers) >= h.maxClients
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped || full {
		h.logger.Warn("rejecting websocket client", zap.String("remote_addr", r.RemoteAddr), zap.Bool("full", full))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	p := &peer{ws: ws, send: make(chan []byte, peerBuffer), done: make(chan struct{})}

	// greet and register together so no broadcast falls between them
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		p.close()
		return
	}
	if h.greeting != nil {
		msg, err := h.greeting()
		if err != nil {
			h.mu.Unlock()
			h.logger.Error("failed to build greeting", zap.Error(err))
			p.close()
			return
		}
		p.send <- msg
	}
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", zap.String("remote_addr", r.RemoteAddr))

	go h.write(p)
	h.read(p)

	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
	p.close()
	h.logger.Debug("websocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// read drains the client until it goes away; inbound messages are ignored.
func (h *Hub) read(p *peer) {
	p.ws.SetReadLimit(maxInboundSize)
	for {
		if _, _, err := p.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) write(p *peer) {
	var ping <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.close()
				return
			}
		case <-ping:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				p.close()
				return
			}
		}
	}
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		select {
		case p.send <- msg:
		case <-p.done:
		default:
			h.logger.Warn("dropping slow websocket client")
			p.close()
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for p := range h.peers {
		p.close()
	}
}

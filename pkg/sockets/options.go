package sockets

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

func WithPingInterval(d time.Duration) func(*Conn) {
	return func(s *Conn) {
		s.pingInterval = d
	}
}

func WithPingMsg(msg []byte) func(*Conn) {
	return func(s *Conn) {
		s.pingMsg = msg
	}
}

func InsecureSkipVerify() func(*Conn) {
	return func(s *Conn) {
		s.sslSkipVerify = true
	}
}

func OnMessage(f func([]byte, Connection)) func(*Conn) {
	return func(s *Conn) {
		s.onMessage = f
	}
}

func OnError(f func(error)) func(*Conn) {
	return func(s *Conn) {
		s.onError = f
	}
}

func OnConnected(f func(Connection)) func(*Conn) {
	return func(s *Conn) {
		s.onConnected = f
	}
}

func WithMaxClients(n int) func(*Hub) {
	return func(h *Hub) {
		h.maxClients = n
	}
}

func WithWriteTimeout(d time.Duration) func(*Hub) {
	return func(h *Hub) {
		h.writeTimeout = d
	}
}

func WithKeepAlive(d time.Duration) func(*Hub) {
	return func(h *Hub) {
		h.pingInterval = d
	}
}

// WithGreeting sets the message every new client receives before any broadcast.
func WithGreeting(f func() ([]byte, error)) func(*Hub) {
	return func(h *Hub) {
		h.greeting = f
	}
}

func WithCheckOrigin(f func(*http.Request) bool) func(*Hub) {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = f
	}
}

func WithHubLogger(l *zap.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = l
	}
}

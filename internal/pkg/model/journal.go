package model

import "time"

type Direction string

const (
	Outbound Direction = "out"
	Inbound  Direction = "in"
)

// JournalEntry is one command sent to, or acknowledgement received from, the controller.
type JournalEntry struct {
	ID        string      `json:"id"`
	Direction Direction   `json:"direction"`
	Topic     string      `json:"topic"`
	Type      CommandType `json:"type,omitempty"`
	Payload   string      `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

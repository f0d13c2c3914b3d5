package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCommand = errors.New("invalid command")

// Command is the JSON body sent to the controller on <ns>/ui/cmd.
type Command struct {
	Type CommandType `json:"type"`
	Item string      `json:"item,omitempty"`
	Wing string      `json:"wing,omitempty"`
	TS   int64       `json:"ts,omitempty"`
}

func NewPing(now time.Time) Command {
	return Command{Type: Ping, TS: now.UnixMilli()}
}

func NewItemCommand(t CommandType, item string) Command {
	return Command{Type: t, Item: item}
}

func NewWingCommand(t CommandType, wing string) Command {
	return Command{Type: t, Wing: wing}
}

func (c Command) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, c.Type)
	}
	if c.Type.needsItem() && c.Item == "" {
		return fmt.Errorf("%w: %s requires item", ErrInvalidCommand, c.Type)
	}
	if c.Type.needsWing() && c.Wing == "" {
		return fmt.Errorf("%w: %s requires wing", ErrInvalidCommand, c.Type)
	}
	return nil
}

// Ack is whatever the controller answers on <ns>/ui/ack. Every field is optional;
// any message on the topic counts for liveness.
type Ack struct {
	Type CommandType `json:"type,omitempty"`
	OK   *bool       `json:"ok,omitempty"`
	TS   int64       `json:"ts,omitempty"`
}

func ParseAck(payload []byte) (Ack, error) {
	ack := Ack{}
	if err := json.Unmarshal(payload, &ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// Status is the snapshot handed to status subscribers.
type Status struct {
	State           ConnectionState `json:"state"`
	BrokerConnected bool            `json:"broker_connected"`
	DeviceAlive     bool            `json:"device_alive"`
	LastAck         *time.Time      `json:"last_ack,omitempty"`
}

func (s Status) Equal(o Status) bool {
	if s.State != o.State || s.BrokerConnected != o.BrokerConnected || s.DeviceAlive != o.DeviceAlive {
		return false
	}
	if s.LastAck == nil || o.LastAck == nil {
		return s.LastAck == o.LastAck
	}
	return s.LastAck.Equal(*o.LastAck)
}

package model

import "fmt"

type CommandType string

func (ct CommandType) String() string {
	return string(ct)
}

const (
	Ping       CommandType = "ping"
	Pattern    CommandType = "pattern"
	Surround   CommandType = "surround"
	AllOn      CommandType = "all_on"
	AllOff     CommandType = "all_off"
	Podium     CommandType = "podium"      // needs item
	BHK        CommandType = "bhk"         // needs item
	WingSelect CommandType = "wing_select" // needs wing
	WingClick  CommandType = "wing_click"  // needs wing
)

var CommandTypes = []CommandType{
	Ping,
	Pattern,
	Surround,
	AllOn,
	AllOff,
	Podium,
	BHK,
	WingSelect,
	WingClick,
}

func (ct CommandType) Valid() bool {
	for _, t := range CommandTypes {
		if t == ct {
			return true
		}
	}
	return false
}

func (ct CommandType) needsItem() bool {
	return ct == Podium || ct == BHK
}

func (ct CommandType) needsWing() bool {
	return ct == WingSelect || ct == WingClick
}

// DeviceStatus is the retained presence payload published by the controller on <ns>/ui/status.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
)

type ConnectionState int

const (
	StateUncreated ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateUncreated:
		return "uncreated"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

func (cs ConnectionState) MarshalText() ([]byte, error) {
	return []byte(cs.String()), nil
}

func (cs *ConnectionState) UnmarshalText(text []byte) error {
	for _, state := range []ConnectionState{StateUncreated, StateConnecting, StateConnected, StateDisconnected} {
		if state.String() == string(text) {
			*cs = state
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

package model

import "strings"

const (
	CommandPath = "ui/cmd"
	AckPath     = "ui/ack"
	StatusPath  = "ui/status"
)

// Namespace is the project prefix shared by every topic, e.g. "rsandesh".
type Namespace string

func (ns Namespace) Topic(path string) string {
	return strings.TrimSuffix(string(ns), "/") + "/" + strings.TrimPrefix(path, "/")
}

func (ns Namespace) CommandTopic() string {
	return ns.Topic(CommandPath)
}

func (ns Namespace) AckTopic() string {
	return ns.Topic(AckPath)
}

func (ns Namespace) StatusTopic() string {
	return ns.Topic(StatusPath)
}

// Package bus wraps the message-bus connection used for task intake, result
// publication and unit-agent messaging.
package bus

import (
	"time"
)

// Settings is the bus endpoint configuration.
type Settings struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Login       string `yaml:"login"`
	Password    string `yaml:"password"`
	VirtualHost string `yaml:"virtual_host"`
	SSL         bool   `yaml:"ssl"`
	CACerts     string `yaml:"ca_certs"`
}

// Message is one bus message: an id, a JSON object body, and the ack handle
// of the underlying delivery (nil for outbound messages).
type Message struct {
	ID   string
	Body map[string]any

	ack func() error
}

// Ack acknowledges the delivery. A message constructed locally acks as a
// no-op.
func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// NewMessageWithAck builds a message with an explicit ack hook. Used by
// in-process bus implementations and tests.
func NewMessageWithAck(id string, body map[string]any, ack func() error) *Message {
	return &Message{ID: id, Body: body, ack: ack}
}

// Subscription is an open consumer on one queue.
type Subscription interface {
	// Get waits for one message. A zero timeout waits indefinitely. Returns
	// (nil, nil) when the timeout elapses without a message.
	Get(timeout time.Duration) (*Message, error)
	Close() error
}

// Client is one logical bus connection. Each task owns its own client so
// task teardown cannot disturb its neighbours.
type Client interface {
	// Declare ensures a queue exists.
	Declare(queue string) error
	// Publish sends a message to a queue (exchange "" routes by queue name).
	Publish(exchange, key string, msg *Message) error
	// Subscribe opens a consumer on a queue.
	Subscribe(queue string) (Subscription, error)
	// Consume opens a long-lived consumer with a prefetch window; messages
	// stay unacknowledged until their task completes.
	Consume(queue string, prefetch int) (<-chan *Message, error)
	Close() error
}

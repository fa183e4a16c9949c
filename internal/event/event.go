// Package event defines the notification event model shared by the buffer,
// the stream sessions, and the client.
package event

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"
)

// Event type constants
const (
	TypeMessage = "message"
	TypeSystem  = "system"
)

// System event subtypes
const (
	SystemPing      = "ping"
	SystemHeartbeat = "heartbeat"
)

// Payload carries the purely presentational part of a notification.
type Payload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Type     string `json:"type"`
	Position string `json:"position"`
	Timeout  int    `json:"timeout"`
	Icon     string `json:"icon"`
}

// Defaults fills presentation fields left empty by the producer.
type Defaults struct {
	Type     string
	Position string
	Timeout  int
	Icon     string
}

// Apply returns p with empty presentation fields replaced by defaults.
func (d Defaults) Apply(p Payload) Payload {
	if p.Type == "" {
		p.Type = d.Type
	}
	if p.Position == "" {
		p.Position = d.Position
	}
	if p.Timeout == 0 {
		p.Timeout = d.Timeout
	}
	if p.Icon == "" {
		p.Icon = d.Icon
	}
	return p
}

// Event is one notification-worthy occurrence. Order-linked events carry a
// deterministic UID so re-dispatch for the same order is idempotent.
type Event struct {
	UID         string  `json:"uid"`
	Timestamp   int64   `json:"timestamp"`
	EventType   string  `json:"event_type"`
	OrderID     int64   `json:"order_id,omitempty"`
	Reload      bool    `json:"reload"`
	IsProcessed bool    `json:"is_processed"`
	Payload     Payload `json:"payload"`
}

// OrderLinked reports whether the event is tied to a concrete order.
func (e *Event) OrderLinked() bool {
	return e.OrderID != 0
}

// OrderUID derives the deterministic uid for an order-linked event.
func OrderUID(eventType string, orderID int64) string {
	sum := sha1.Sum([]byte(eventType + strconv.FormatInt(orderID, 10)))
	return hex.EncodeToString(sum[:])
}

// SystemEvent is the wire shape of ping/heartbeat frames. It shares the
// "event_type" discriminator with Event but carries no payload.
type SystemEvent struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewPing returns a ping system event stamped with the current time.
func NewPing() SystemEvent {
	return SystemEvent{EventType: TypeSystem, Type: SystemPing, Timestamp: time.Now().Unix()}
}

// NewHeartbeat returns a heartbeat system event stamped with the current time.
func NewHeartbeat() SystemEvent {
	return SystemEvent{EventType: TypeSystem, Type: SystemHeartbeat, Timestamp: time.Now().Unix()}
}

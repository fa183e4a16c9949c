// Package broadcast is a process-local message bus that mirrors how
// browser tabs coordinate over a shared channel: every participant gets a
// unique sender id, and a participant never receives its own messages.
package broadcast

import (
	"sync"

	"github.com/google/uuid"
)

// Message is one broadcast payload.
type Message struct {
	Sender string
	Kind   string
	Data   any
}

// Message kinds used by the notification client.
const (
	KindEventShown  = "event_shown"
	KindAckRecorded = "ack_recorded"
	KindActivity    = "activity"
)

// Bus fans messages out to all joined channels except the sender.
type Bus struct {
	mu       sync.RWMutex
	channels map[*Channel]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{channels: make(map[*Channel]struct{})}
}

// Join attaches a new channel with a fresh sender id.
func (b *Bus) Join() *Channel {
	c := &Channel{
		id:  uuid.NewString(),
		bus: b,
		ch:  make(chan Message, 16),
	}
	b.mu.Lock()
	b.channels[c] = struct{}{}
	b.mu.Unlock()
	return c
}

func (b *Bus) send(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for c := range b.channels {
		if c.id == msg.Sender {
			continue
		}
		select {
		case c.ch <- msg:
		default:
			// Slow consumer, drop rather than block the sender.
		}
	}
}

func (b *Bus) leave(c *Channel) {
	b.mu.Lock()
	if _, ok := b.channels[c]; ok {
		delete(b.channels, c)
		close(c.ch)
	}
	b.mu.Unlock()
}

// Channel is one participant on the bus.
type Channel struct {
	id  string
	bus *Bus
	ch  chan Message
}

// ID returns the channel's sender id.
func (c *Channel) ID() string {
	return c.id
}

// Send broadcasts to every other channel on the bus.
func (c *Channel) Send(kind string, data any) {
	c.bus.send(Message{Sender: c.id, Kind: kind, Data: data})
}

// Recv returns the channel's receive side. It is closed by Close.
func (c *Channel) Recv() <-chan Message {
	return c.ch
}

// Close detaches the channel from the bus.
func (c *Channel) Close() {
	c.bus.leave(c)
}

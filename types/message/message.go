package message

import (
	"sync/atomic"
	"time"

	"github.com/byiringiro-aloys/mqtt-core-service/encoding"
)

var idCounter atomic.Uint64

func nextID() uint64 {
	return idCounter.Add(1)
}

// Message represents an application message carried by a PUBLISH, along
// with the delivery metadata the QoS Engine needs to track a single
// outbound or inbound delivery attempt.
type Message struct {
	ID            uint64 // locally unique, assigned at ingress
	PacketID      uint16 // wire packet identifier, only meaningful when QoS > 0
	Topic         string
	Payload       []byte
	QoS           encoding.QoS
	Retain        bool
	DUP           bool
	ClientID      string // publisher's client-id
	CreatedAt     time.Time
	LastAttemptAt time.Time
	AttemptCount  int
}

// NewMessage creates a new application message. packetID is the wire packet
// identifier at ingress (0 for QoS 0); it is reassigned per-subscriber by
// the QoS Engine on outbound delivery for QoS > 0.
func NewMessage(packetID uint16, topic string, payload []byte, qos encoding.QoS, retain bool, clientID string) *Message {
	now := time.Now()
	return &Message{
		ID:            nextID(),
		PacketID:      packetID,
		Topic:         topic,
		Payload:       payload,
		QoS:           qos,
		Retain:        retain,
		DUP:           false,
		ClientID:      clientID,
		CreatedAt:     now,
		LastAttemptAt: now,
		AttemptCount:  0,
	}
}

// MarkAttempt marks a delivery attempt, setting DUP once a message has been
// (re)sent more than once.
func (m *Message) MarkAttempt() {
	m.AttemptCount++
	m.LastAttemptAt = time.Now()
	if m.AttemptCount > 1 {
		m.DUP = true
	}
}

// Clone creates a deep copy of the message, suitable for handing a single
// published message to multiple subscribers each with their own packet-id
// and DUP/attempt state.
func (m *Message) Clone() *Message {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)

	return &Message{
		ID:            m.ID,
		PacketID:      m.PacketID,
		Topic:         m.Topic,
		Payload:       payload,
		QoS:           m.QoS,
		Retain:        m.Retain,
		DUP:           m.DUP,
		ClientID:      m.ClientID,
		CreatedAt:     m.CreatedAt,
		LastAttemptAt: m.LastAttemptAt,
		AttemptCount:  m.AttemptCount,
	}
}

package session

import (
	"sync"
	"time"
)

// State represents the session state
type State byte

const (
	StateNew          State = iota // Session is newly created
	StateActive                    // Session is active with a connected client
	StateDisconnected              // Session is disconnected but not expired
	StateExpired                   // Session has expired
)

// DefaultOfflineQueueSize bounds the per-session offline message queue.
// Oldest messages are evicted once the bound is reached.
const DefaultOfflineQueueSize = 1000

// qos2ReceivedTTL bounds how long an inbound QoS 2 packet-id is remembered
// while waiting for the matching PUBREL, so a session that never sends one
// cannot grow this set without bound.
const qos2ReceivedTTL = 5 * time.Minute

// WillMessage represents the MQTT last will and testament.
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Session represents an MQTT session
type Session struct {
	mu sync.RWMutex

	ClientID       string
	CleanStart     bool
	State          State
	ExpiryInterval uint32 // Session expiry interval in seconds (0 = no expiry for persistent session)
	CreatedAt      time.Time
	LastAccessedAt time.Time
	DisconnectedAt time.Time
	WillMessage    *WillMessage

	// Subscription data
	Subscriptions map[string]*Subscription // topic filter -> subscription

	// QoS message state
	PendingPublish map[uint16]*PendingMessage // PacketID -> message (QoS 1,2 outbound not acked)
	PendingPubrel  map[uint16]struct{}        // PacketID -> marker (QoS 2 outbound: PUBREC received, PUBREL sent, awaiting PUBCOMP)
	PendingPubcomp map[uint16]struct{}        // PacketID -> marker (generic QoS 2 outbound-PUBCOMP wait primitive)
	qos2Received   map[uint16]time.Time       // PacketID -> receipt time, deduplicates inbound QoS 2 PUBLISH

	// offlineQueue holds messages for a disconnected persistent session,
	// replayed in FIFO order on reconnect. Bounded; oldest is evicted on
	// overflow.
	offlineQueue     []*PendingMessage
	offlineQueueSize int

	// Packet ID generator
	nextPacketID uint16

	// Maximum packet size
	MaxPacketSize uint32

	// Receive maximum (max inflight)
	ReceiveMaximum uint16

	// Protocol version
	ProtocolVersion byte
}

// Subscription represents a topic subscription
type Subscription struct {
	TopicFilter  string
	QoS          byte
	SubscribedAt time.Time
}

// PendingMessage represents a message waiting for acknowledgment, or a
// queued offline message awaiting replay.
type PendingMessage struct {
	PacketID      uint16
	Topic         string
	Payload       []byte
	QoS           byte
	Retain        bool
	DUP           bool
	Timestamp     time.Time
	AttemptCount  int
	LastAttemptAt time.Time
}

// MarkAttempt records a (re)transmission attempt for retry accounting.
func (p *PendingMessage) MarkAttempt() {
	p.AttemptCount++
	p.LastAttemptAt = time.Now()
}

// New creates a new session
func New(clientID string, cleanStart bool, expiryInterval uint32, protocolVersion byte) *Session {
	now := time.Now()
	return &Session{
		ClientID:         clientID,
		CleanStart:       cleanStart,
		State:            StateNew,
		ExpiryInterval:   expiryInterval,
		CreatedAt:        now,
		LastAccessedAt:   now,
		Subscriptions:    make(map[string]*Subscription),
		PendingPublish:   make(map[uint16]*PendingMessage),
		PendingPubrel:    make(map[uint16]struct{}),
		PendingPubcomp:   make(map[uint16]struct{}),
		qos2Received:     make(map[uint16]time.Time),
		offlineQueueSize: DefaultOfflineQueueSize,
		nextPacketID:     1,
		ReceiveMaximum:   65535, // Default maximum
		ProtocolVersion:  protocolVersion,
	}
}

// SetActive marks the session as active
func (s *Session) SetActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateActive
	s.LastAccessedAt = time.Now()
}

// SetDisconnected marks the session as disconnected
func (s *Session) SetDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateDisconnected
	s.DisconnectedAt = time.Now()
}

// SetExpired marks the session as expired
func (s *Session) SetExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateExpired
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ExpiryInterval == 0 && !s.CleanStart {
		return false // Persistent session with no expiry
	}

	if s.State == StateDisconnected && s.ExpiryInterval > 0 {
		return time.Since(s.DisconnectedAt) > time.Duration(s.ExpiryInterval)*time.Second
	}

	return s.State == StateExpired
}

// Touch updates the last accessed time
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastAccessedAt = time.Now()
}

// SetWillMessage sets the will message for the session. MQTT 3.1.1 has no
// will delay: the will is published immediately on ungraceful disconnect.
func (s *Session) SetWillMessage(will *WillMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WillMessage = will
}

// ClearWillMessage clears the will message
func (s *Session) ClearWillMessage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WillMessage = nil
}

// GetWillMessage returns the will message if present
func (s *Session) GetWillMessage() *WillMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WillMessage
}

// AddSubscription adds a subscription to the session
func (s *Session) AddSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions[sub.TopicFilter] = sub
}

// RemoveSubscription removes a subscription from the session
func (s *Session) RemoveSubscription(topicFilter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Subscriptions, topicFilter)
}

// GetSubscription returns a subscription by topic filter
func (s *Session) GetSubscription(topicFilter string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.Subscriptions[topicFilter]
	return sub, ok
}

// GetAllSubscriptions returns all subscriptions
func (s *Session) GetAllSubscriptions() map[string]*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make(map[string]*Subscription, len(s.Subscriptions))
	for k, v := range s.Subscriptions {
		subs[k] = v
	}
	return subs
}

// ClearSubscriptions removes all subscriptions
func (s *Session) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]*Subscription)
}

// NextPacketID generates the next packet ID
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPacketIDLocked()
}

func (s *Session) nextPacketIDLocked() uint16 {
	for {
		id := s.nextPacketID
		s.nextPacketID++
		if s.nextPacketID == 0 {
			s.nextPacketID = 1
		}

		// Check if ID is already in use
		if _, ok := s.PendingPublish[id]; !ok {
			if _, ok := s.PendingPubrel[id]; !ok {
				if _, ok := s.PendingPubcomp[id]; !ok {
					return id
				}
			}
		}
	}
}

// AddPendingPublish adds a pending publish message
func (s *Session) AddPendingPublish(msg *PendingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPublish[msg.PacketID] = msg
}

// RemovePendingPublish removes a pending publish message
func (s *Session) RemovePendingPublish(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPublish, packetID)
}

// GetPendingPublish returns a pending publish message
func (s *Session) GetPendingPublish(packetID uint16) (*PendingMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.PendingPublish[packetID]
	return msg, ok
}

// GetAllPendingPublish returns all pending publish messages
func (s *Session) GetAllPendingPublish() map[uint16]*PendingMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make(map[uint16]*PendingMessage, len(s.PendingPublish))
	for k, v := range s.PendingPublish {
		msgs[k] = v
	}
	return msgs
}

// AddPendingPubrel adds a pending PUBREL marker
func (s *Session) AddPendingPubrel(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPubrel[packetID] = struct{}{}
}

// RemovePendingPubrel removes a pending PUBREL marker
func (s *Session) RemovePendingPubrel(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPubrel, packetID)
}

// HasPendingPubrel checks if a PUBREL is pending
func (s *Session) HasPendingPubrel(packetID uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.PendingPubrel[packetID]
	return ok
}

// AddPendingPubcomp adds a pending PUBCOMP marker
func (s *Session) AddPendingPubcomp(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPubcomp[packetID] = struct{}{}
}

// RemovePendingPubcomp removes a pending PUBCOMP marker
func (s *Session) RemovePendingPubcomp(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPubcomp, packetID)
}

// HasPendingPubcomp checks if a PUBCOMP is pending
func (s *Session) HasPendingPubcomp(packetID uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.PendingPubcomp[packetID]
	return ok
}

// MarkQoS2Received records an inbound QoS 2 PUBLISH packet-id so a
// retransmission before the matching PUBREL is recognized as a duplicate
// rather than redelivered to subscribers. Returns false if already seen.
func (s *Session) MarkQoS2Received(packetID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.qos2Received[packetID]; exists {
		return false
	}
	s.qos2Received[packetID] = time.Now()
	return true
}

// ClearQoS2Received removes a packet-id once the matching PUBREL has been
// processed, completing the QoS 2 receive flow.
func (s *Session) ClearQoS2Received(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.qos2Received, packetID)
}

// EvictStaleQoS2Received drops receipt-tracking entries older than
// qos2ReceivedTTL, bounding the set for sessions whose peer never sends
// the matching PUBREL.
func (s *Session) EvictStaleQoS2Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-qos2ReceivedTTL)
	evicted := 0
	for id, seenAt := range s.qos2Received {
		if seenAt.Before(cutoff) {
			delete(s.qos2Received, id)
			evicted++
		}
	}
	return evicted
}

// EnqueueOffline appends a message to the offline delivery queue, evicting
// the oldest entry first if the queue is already at capacity.
func (s *Session) EnqueueOffline(msg *PendingMessage) (evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offlineQueue) >= s.offlineQueueSize {
		s.offlineQueue = s.offlineQueue[1:]
		evicted = true
	}
	s.offlineQueue = append(s.offlineQueue, msg)
	return evicted
}

// DrainOfflineQueue removes and returns all queued offline messages in
// FIFO order, for replay on reconnect.
func (s *Session) DrainOfflineQueue() []*PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.offlineQueue
	s.offlineQueue = nil
	return drained
}

// OfflineQueueLen reports the number of messages currently queued.
func (s *Session) OfflineQueueLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.offlineQueue)
}

// Clear clears all session data
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]*Subscription)
	s.PendingPublish = make(map[uint16]*PendingMessage)
	s.PendingPubrel = make(map[uint16]struct{})
	s.PendingPubcomp = make(map[uint16]struct{})
	s.qos2Received = make(map[uint16]time.Time)
	s.offlineQueue = nil
	s.WillMessage = nil
}

// GetState returns the current state
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// GetClientID returns the client ID
func (s *Session) GetClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ClientID
}

// GetCleanStart returns the clean start flag
func (s *Session) GetCleanStart() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CleanStart
}

// GetExpiryInterval returns the expiry interval
func (s *Session) GetExpiryInterval() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ExpiryInterval
}

// UpdateExpiryInterval updates the session expiry interval
func (s *Session) UpdateExpiryInterval(interval uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpiryInterval = interval
}

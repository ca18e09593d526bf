package qos

import (
	"context"
	"sync"
	"time"

	"github.com/byiringiro-aloys/mqtt-core-service/encoding"
	"github.com/byiringiro-aloys/mqtt-core-service/session"
	"github.com/byiringiro-aloys/mqtt-core-service/types/message"
)

// Config holds QoS Engine configuration.
type Config struct {
	MaxInflight     uint16
	RetryInterval   time.Duration
	MaxRetries      int
	CleanupInterval time.Duration
}

// DefaultConfig returns the default QoS Engine configuration: a flat
// 5-second retry interval and 3 retries before an inflight entry is
// abandoned.
func DefaultConfig() *Config {
	return &Config{
		MaxInflight:     65535,
		RetryInterval:   5 * time.Second,
		MaxRetries:      3,
		CleanupInterval: 30 * time.Second,
	}
}

// SessionProvider enumerates active sessions for the retry sweep.
// session.Manager satisfies this interface.
type SessionProvider interface {
	GetAllActiveSessions() []string
	GetSession(ctx context.Context, clientID string) (*session.Session, error)
}

// callbacks holds the event handlers the QoS Engine invokes to move packets
// onto the wire. clientID identifies which connection to send on; the
// Handler itself holds no per-connection state.
type callbacks struct {
	onPublish  func(clientID string, msg *message.Message) error
	onPuback   func(clientID string, packetID uint16) error
	onPubrec   func(clientID string, packetID uint16) error
	onPubrel   func(clientID string, packetID uint16) error
	onPubcomp  func(clientID string, packetID uint16) error
	onMaxRetry func(clientID string, msg *session.PendingMessage)
}

// Handler drives the QoS 0/1/2 state machines. It is stateless with
// respect to any single client: all inflight and dedup state lives on the
// *session.Session passed into each call, so one Handler serves every
// connection.
type Handler struct {
	config *Config

	mu        sync.RWMutex
	sessions  SessionProvider
	callbacks *callbacks
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    bool
}

// NewHandler creates a new QoS Engine. SetSessionProvider must be called
// before the retry sweep can find inflight entries to retransmit.
func NewHandler(config *Config) *Handler {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		config:    config,
		callbacks: &callbacks{},
		ctx:       ctx,
		cancel:    cancel,
	}

	h.wg.Add(2)
	go h.retryLoop()
	go h.cleanupLoop()

	return h
}

// SetSessionProvider registers the source of active sessions scanned by
// the retry and cleanup sweeps.
func (h *Handler) SetSessionProvider(sp SessionProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = sp
}

// SetPublishCallback sets the callback used to deliver a PUBLISH packet.
func (h *Handler) SetPublishCallback(cb func(clientID string, msg *message.Message) error) {
	h.mu.Lock()
	h.callbacks.onPublish = cb
	h.mu.Unlock()
}

// SetPubackCallback sets the callback used to send PUBACK.
func (h *Handler) SetPubackCallback(cb func(clientID string, packetID uint16) error) {
	h.mu.Lock()
	h.callbacks.onPuback = cb
	h.mu.Unlock()
}

// SetPubrecCallback sets the callback used to send PUBREC.
func (h *Handler) SetPubrecCallback(cb func(clientID string, packetID uint16) error) {
	h.mu.Lock()
	h.callbacks.onPubrec = cb
	h.mu.Unlock()
}

// SetPubrelCallback sets the callback used to send PUBREL.
func (h *Handler) SetPubrelCallback(cb func(clientID string, packetID uint16) error) {
	h.mu.Lock()
	h.callbacks.onPubrel = cb
	h.mu.Unlock()
}

// SetPubcompCallback sets the callback used to send PUBCOMP.
func (h *Handler) SetPubcompCallback(cb func(clientID string, packetID uint16) error) {
	h.mu.Lock()
	h.callbacks.onPubcomp = cb
	h.mu.Unlock()
}

// SetMaxRetryCallback sets the callback invoked when an inflight entry is
// abandoned after exhausting its retry budget.
func (h *Handler) SetMaxRetryCallback(cb func(clientID string, msg *session.PendingMessage)) {
	h.mu.Lock()
	h.callbacks.onMaxRetry = cb
	h.mu.Unlock()
}

func (h *Handler) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// HandlePublish handles an incoming PUBLISH addressed to this session
// (broker acting as receiver), branching on QoS level.
func (h *Handler) HandlePublish(sess *session.Session, msg *message.Message) error {
	if h.isClosed() {
		return ErrHandlerClosed
	}

	switch msg.QoS {
	case encoding.QoS0:
		return h.handleQoS0Publish(msg)
	case encoding.QoS1:
		return h.handleQoS1Publish(sess, msg)
	case encoding.QoS2:
		return h.handleQoS2Publish(sess, msg)
	default:
		return ErrInvalidQoS
	}
}

func (h *Handler) handleQoS0Publish(msg *message.Message) error {
	h.mu.RLock()
	cb := h.callbacks.onPublish
	h.mu.RUnlock()

	if cb != nil {
		return cb(msg.ClientID, msg)
	}
	return nil
}

// handleQoS1Publish routes the message once and always acknowledges;
// at-least-once delivery tolerates redundant routing of a retransmitted
// duplicate, so no dedup bookkeeping is kept for QoS 1.
func (h *Handler) handleQoS1Publish(sess *session.Session, msg *message.Message) error {
	h.mu.RLock()
	cb := h.callbacks.onPublish
	h.mu.RUnlock()

	var err error
	if cb != nil {
		err = cb(msg.ClientID, msg)
	}
	if err != nil {
		return err
	}

	return h.sendPuback(sess.GetClientID(), msg.PacketID)
}

// handleQoS2Publish implements the inbound QoS 2 receive state machine: on
// first PUBLISH for a packet-id, route the message once and emit PUBREC.
// On a duplicate PUBLISH (retransmitted before the matching PUBREL), emit
// PUBREC again without re-routing.
func (h *Handler) handleQoS2Publish(sess *session.Session, msg *message.Message) error {
	clientID := sess.GetClientID()

	if !sess.MarkQoS2Received(msg.PacketID) {
		return h.sendPubrec(clientID, msg.PacketID)
	}

	h.mu.RLock()
	cb := h.callbacks.onPublish
	h.mu.RUnlock()

	var err error
	if cb != nil {
		err = cb(clientID, msg)
	}
	if err != nil {
		sess.ClearQoS2Received(msg.PacketID)
		return err
	}

	return h.sendPubrec(clientID, msg.PacketID)
}

// HandlePuback completes the outbound QoS 1 flow.
func (h *Handler) HandlePuback(sess *session.Session, packetID uint16) error {
	if h.isClosed() {
		return ErrHandlerClosed
	}

	pending, ok := sess.GetPendingPublish(packetID)
	if !ok {
		return ErrPacketIDNotFound
	}
	sess.RemovePendingPublish(packetID)

	h.mu.RLock()
	cb := h.callbacks.onPuback
	h.mu.RUnlock()

	if cb != nil {
		return cb(sess.GetClientID(), pending.PacketID)
	}
	return nil
}

// HandlePubrec advances the outbound QoS 2 flow: the PUBLISH is
// acknowledged, so the inflight entry moves from "awaiting PUBREC" to
// "PUBREL sent, awaiting PUBCOMP" and a PUBREL is sent.
func (h *Handler) HandlePubrec(sess *session.Session, packetID uint16) error {
	if h.isClosed() {
		return ErrHandlerClosed
	}

	if _, ok := sess.GetPendingPublish(packetID); !ok {
		return ErrPacketIDNotFound
	}
	sess.RemovePendingPublish(packetID)
	sess.AddPendingPubrel(packetID)

	clientID := sess.GetClientID()

	h.mu.RLock()
	cb := h.callbacks.onPubrec
	h.mu.RUnlock()

	if cb != nil {
		if err := cb(clientID, packetID); err != nil {
			return err
		}
	}

	return h.sendPubrel(clientID, packetID)
}

// HandlePubrel completes the inbound QoS 2 receive flow: clear the
// dedup record and emit PUBCOMP. A PUBREL for an id with no record
// (already completed, or a retransmission after the record expired) still
// gets a PUBCOMP reply, without reprocessing.
func (h *Handler) HandlePubrel(sess *session.Session, packetID uint16) error {
	if h.isClosed() {
		return ErrHandlerClosed
	}

	sess.ClearQoS2Received(packetID)
	clientID := sess.GetClientID()

	h.mu.RLock()
	cb := h.callbacks.onPubrel
	h.mu.RUnlock()

	if cb != nil {
		if err := cb(clientID, packetID); err != nil {
			return err
		}
	}

	return h.sendPubcomp(clientID, packetID)
}

// HandlePubcomp completes the outbound QoS 2 flow.
func (h *Handler) HandlePubcomp(sess *session.Session, packetID uint16) error {
	if h.isClosed() {
		return ErrHandlerClosed
	}

	if !sess.HasPendingPubrel(packetID) {
		return ErrPacketIDNotFound
	}
	sess.RemovePendingPubrel(packetID)

	h.mu.RLock()
	cb := h.callbacks.onPubcomp
	h.mu.RUnlock()

	if cb != nil {
		return cb(sess.GetClientID(), packetID)
	}
	return nil
}

// PublishQoS1 delivers a message to sess with QoS 1, allocating a packet-id
// and recording the inflight entry for retry until PUBACK arrives.
func (h *Handler) PublishQoS1(sess *session.Session, topic string, payload []byte, retain bool) (uint16, error) {
	return h.publishInflight(sess, topic, payload, encoding.QoS1, retain)
}

// PublishQoS2 delivers a message to sess with QoS 2, allocating a packet-id
// and recording the inflight entry for retry until PUBREC arrives.
func (h *Handler) PublishQoS2(sess *session.Session, topic string, payload []byte, retain bool) (uint16, error) {
	return h.publishInflight(sess, topic, payload, encoding.QoS2, retain)
}

func (h *Handler) publishInflight(sess *session.Session, topic string, payload []byte, qos encoding.QoS, retain bool) (uint16, error) {
	if h.isClosed() {
		return 0, ErrHandlerClosed
	}

	if len(sess.GetAllPendingPublish()) >= int(h.config.MaxInflight) {
		return 0, ErrQueueFull
	}

	packetID := sess.NextPacketID()
	now := time.Now()
	pending := &session.PendingMessage{
		PacketID:      packetID,
		Topic:         topic,
		Payload:       payload,
		QoS:           byte(qos),
		Retain:        retain,
		Timestamp:     now,
		AttemptCount:  1,
		LastAttemptAt: now,
	}
	sess.AddPendingPublish(pending)

	clientID := sess.GetClientID()
	msg := message.NewMessage(packetID, topic, payload, qos, retain, clientID)

	h.mu.RLock()
	cb := h.callbacks.onPublish
	h.mu.RUnlock()

	if cb != nil {
		if err := cb(clientID, msg); err != nil {
			sess.RemovePendingPublish(packetID)
			return 0, err
		}
	}

	return packetID, nil
}

func (h *Handler) sendPuback(clientID string, packetID uint16) error {
	h.mu.RLock()
	cb := h.callbacks.onPuback
	h.mu.RUnlock()
	if cb != nil {
		return cb(clientID, packetID)
	}
	return nil
}

func (h *Handler) sendPubrec(clientID string, packetID uint16) error {
	h.mu.RLock()
	cb := h.callbacks.onPubrec
	h.mu.RUnlock()
	if cb != nil {
		return cb(clientID, packetID)
	}
	return nil
}

func (h *Handler) sendPubrel(clientID string, packetID uint16) error {
	h.mu.RLock()
	cb := h.callbacks.onPubrel
	h.mu.RUnlock()
	if cb != nil {
		return cb(clientID, packetID)
	}
	return nil
}

func (h *Handler) sendPubcomp(clientID string, packetID uint16) error {
	h.mu.RLock()
	cb := h.callbacks.onPubcomp
	h.mu.RUnlock()
	if cb != nil {
		return cb(clientID, packetID)
	}
	return nil
}

// retryLoop fires a single timer every RetryInterval and scans every active
// session's inflight table, rather than arming one timer per message.
func (h *Handler) retryLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.retrySweep()
		}
	}
}

func (h *Handler) retrySweep() {
	h.mu.RLock()
	sessions := h.sessions
	cb := h.callbacks.onPublish
	onMaxRetry := h.callbacks.onMaxRetry
	h.mu.RUnlock()

	if sessions == nil {
		return
	}

	ctx := context.Background()
	now := time.Now()

	for _, clientID := range sessions.GetAllActiveSessions() {
		sess, err := sessions.GetSession(ctx, clientID)
		if err != nil {
			continue
		}

		for _, pending := range sess.GetAllPendingPublish() {
			if now.Sub(pending.LastAttemptAt) < h.config.RetryInterval {
				continue
			}

			if pending.AttemptCount > h.config.MaxRetries {
				sess.RemovePendingPublish(pending.PacketID)
				if onMaxRetry != nil {
					onMaxRetry(clientID, pending)
				}
				continue
			}

			pending.DUP = true
			pending.MarkAttempt()

			if cb != nil {
				msg := message.NewMessage(pending.PacketID, pending.Topic, pending.Payload, encoding.QoS(pending.QoS), pending.Retain, clientID)
				msg.DUP = true
				cb(clientID, msg)
			}
		}
	}
}

// cleanupLoop periodically evicts stale inbound QoS 2 dedup entries.
func (h *Handler) cleanupLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.cleanup()
		}
	}
}

func (h *Handler) cleanup() {
	h.mu.RLock()
	sessions := h.sessions
	h.mu.RUnlock()

	if sessions == nil {
		return
	}

	ctx := context.Background()
	for _, clientID := range sessions.GetAllActiveSessions() {
		sess, err := sessions.GetSession(ctx, clientID)
		if err != nil {
			continue
		}
		sess.EvictStaleQoS2Received()
	}
}

// Close stops the handler's background sweeps.
func (h *Handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()

	return nil
}

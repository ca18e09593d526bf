package broker

import (
	"context"

	"github.com/byiringiro-aloys/mqtt-core-service/brokererr"
	"github.com/byiringiro-aloys/mqtt-core-service/encoding"
	"github.com/byiringiro-aloys/mqtt-core-service/hook"
	"github.com/byiringiro-aloys/mqtt-core-service/session"
	"github.com/byiringiro-aloys/mqtt-core-service/types/message"
)

// hookClientFor returns the live client's hook identity, or a minimal
// stand-in keyed only by clientID when the client has already disconnected
// (e.g. a will message published after the socket is gone).
func (b *Broker) hookClientFor(clientID string) *hook.Client {
	if c, ok := b.getClient(clientID); ok && c.hookClient != nil {
		return c.hookClient
	}
	return &hook.Client{ID: clientID}
}

// deliverPublish is the QoS handler's single-recipient wire-delivery
// callback: it writes msg to whichever connection currently owns
// msg.ClientID, or queues it offline if the client isn't connected. It is
// never used for fan-out — routePublish below does that by calling
// PublishQoS1/PublishQoS2 (or writing directly for QoS 0) once per
// matching subscriber, each call landing back here with that
// subscriber's own client ID.
func (b *Broker) deliverPublish(clientID string, msg *message.Message) error {
	c, ok := b.getClient(clientID)
	if !ok {
		return b.queueOffline(clientID, msg)
	}

	pkt := &encoding.PublishPacket311{
		FixedHeader: encoding.FixedHeader{
			QoS:    msg.QoS,
			DUP:    msg.DUP,
			Retain: msg.Retain,
		},
		TopicName: msg.Topic,
		PacketID:  msg.PacketID,
		Payload:   msg.Payload,
	}

	if err := c.write(pkt); err != nil {
		return b.queueOffline(clientID, msg)
	}
	return nil
}

func (b *Broker) queueOffline(clientID string, msg *message.Message) error {
	sess, err := b.sessions.GetSession(context.Background(), clientID)
	if err != nil {
		return err
	}
	evicted := sess.EnqueueOffline(&session.PendingMessage{
		PacketID: msg.PacketID,
		Topic:    msg.Topic,
		Payload:  msg.Payload,
		QoS:      byte(msg.QoS),
		Retain:   msg.Retain,
	})
	if evicted {
		b.metrics.OfflineQueueOverflow.WithLabelValues(clientID).Inc()
		b.log.Warn("offline queue full, dropping oldest pending message",
			"client_id", clientID, "topic", msg.Topic)
	}
	return nil
}

func (b *Broker) deliverPubrel(clientID string, packetID uint16) error {
	c, ok := b.getClient(clientID)
	if !ok {
		return nil
	}
	return c.write(&encoding.PubrelPacket311{PacketID: packetID})
}

func (b *Broker) deliverPubcomp(clientID string, packetID uint16) error {
	c, ok := b.getClient(clientID)
	if !ok {
		return nil
	}
	return c.write(&encoding.PubcompPacket311{PacketID: packetID})
}

func (b *Broker) onMaxRetry(clientID string, msg *session.PendingMessage) {
	b.metrics.RetryExhausted.WithLabelValues(clientID).Inc()
	b.log.Warn("qos retry budget exhausted, dropping message",
		"client_id", clientID, "packet_id", msg.PacketID, "topic", msg.Topic)
	_ = b.hooks.OnQosDropped(b.hookClientFor(clientID), msg.PacketID, hook.DropReasonExpired)
}

// routePublish fans a just-received PUBLISH out to every matching
// subscriber and handles retention; it sends no acknowledgment itself
// (handlePublish in dispatch.go writes the publisher's PUBACK/PUBREC).
// Inbound routing is done here rather than through
// Handler.HandlePublish/HandlePubrel: that callback is shared with
// outbound delivery, so routing an inbound message through it would
// re-enter the same onPublish callback this function's own fan-out
// calls use for single-recipient delivery.
//
// A failure to durably persist a retained message is absorbed here rather
// than returned: the broker continues to route the message in memory and
// only loses the retained copy across a restart, instead of dropping the
// client's connection over a backend hiccup.
func (b *Broker) routePublish(ctx context.Context, publisherID string, msg *message.Message) error {
	if msg.Retain {
		if err := b.persist.SetRetained(ctx, msg.Topic, msg); err != nil {
			storageErr := brokererr.NewStorageError(err, "setting retained message for %s", msg.Topic)
			b.metrics.StorageErrors.WithLabelValues("set_retained").Inc()
			b.log.Error("storage error persisting retained message, continuing with in-memory routing",
				"topic", msg.Topic, "error", storageErr.Error())
		}
	}

	for _, sub := range b.router.Match(msg.Topic) {
		deliverQoS := msg.QoS
		if encoding.QoS(sub.QoS) < deliverQoS {
			deliverQoS = encoding.QoS(sub.QoS)
		}

		if deliverQoS == encoding.QoS0 {
			out := &message.Message{
				Topic:   msg.Topic,
				Payload: msg.Payload,
				QoS:     encoding.QoS0,
				Retain:  false,
			}
			_ = b.deliverPublish(sub.ClientID, out)
			continue
		}

		sess, err := b.sessions.GetSession(ctx, sub.ClientID)
		if err != nil {
			continue
		}

		if deliverQoS == encoding.QoS1 {
			_, _ = b.qos.PublishQoS1(sess, msg.Topic, msg.Payload, false)
		} else {
			_, _ = b.qos.PublishQoS2(sess, msg.Topic, msg.Payload, false)
		}
	}

	b.hooks.OnPublished(b.hookClientFor(publisherID), &hook.PublishPacket{
		PacketID: msg.PacketID,
		Topic:    msg.Topic,
		Payload:  msg.Payload,
		QoS:      byte(msg.QoS),
		Retain:   msg.Retain,
	})
	return nil
}

// deliverRetained sends every retained message matching filter to a newly
// subscribed client, at the subscription's granted QoS.
func (b *Broker) deliverRetained(ctx context.Context, c *client, filter string, grantedQoS byte) error {
	matches, err := b.persist.MatchRetained(ctx, filter)
	if err != nil {
		storageErr := brokererr.NewStorageError(err, "matching retained messages for %s", filter)
		b.metrics.StorageErrors.WithLabelValues("match_retained").Inc()
		b.log.Error("storage error matching retained messages, subscriber gets none",
			"filter", filter, "client_id", c.ID(), "error", storageErr.Error())
		return nil
	}

	for _, rm := range matches {
		deliverQoS := rm.QoS
		if encoding.QoS(grantedQoS) < deliverQoS {
			deliverQoS = encoding.QoS(grantedQoS)
		}

		if deliverQoS == encoding.QoS0 {
			out := &message.Message{Topic: rm.Topic, Payload: rm.Payload, QoS: encoding.QoS0, Retain: true}
			_ = b.deliverPublish(c.ID(), out)
			continue
		}

		if deliverQoS == encoding.QoS1 {
			_, _ = b.qos.PublishQoS1(c.session, rm.Topic, rm.Payload, true)
		} else {
			_, _ = b.qos.PublishQoS2(c.session, rm.Topic, rm.Payload, true)
		}
	}
	return nil
}

// PublishWill satisfies session.WillPublisher: it is invoked by the
// session manager when a client disconnects (or times out) with an
// unclean session and a stored will message.
func (b *Broker) PublishWill(ctx context.Context, will *session.WillMessage, clientID string) error {
	msg := &message.Message{
		Topic:    will.Topic,
		Payload:  will.Payload,
		QoS:      encoding.QoS(will.QoS),
		Retain:   will.Retain,
		ClientID: clientID,
	}
	return b.routePublish(ctx, clientID, msg)
}

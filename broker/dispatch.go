package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/byiringiro-aloys/mqtt-core-service/brokererr"
	"github.com/byiringiro-aloys/mqtt-core-service/encoding"
	"github.com/byiringiro-aloys/mqtt-core-service/hook"
	"github.com/byiringiro-aloys/mqtt-core-service/network"
	"github.com/byiringiro-aloys/mqtt-core-service/session"
	"github.com/byiringiro-aloys/mqtt-core-service/topic"
	"github.com/byiringiro-aloys/mqtt-core-service/types/message"
)

// handleConnection is the network.ConnectionHandler registered on both the
// TCP and WebSocket listeners: it runs the CONNECT handshake synchronously
// (each listener calls this on the connection's own goroutine, not in the
// accept loop itself, and returning an error makes the listener remove the
// connection from the pool, which closes it) and then hands off to the
// per-connection read loop on its own goroutine.
func (b *Broker) handleConnection(conn *network.Connection) error {
	c, connack, err := b.handshake(conn)
	if err != nil {
		if connack != nil {
			_ = connack.Encode(conn)
		}
		return err
	}
	if err := connack.Encode(conn); err != nil {
		return err
	}

	go b.readLoop(c)
	return nil
}

func (b *Broker) handshake(conn *network.Connection) (*client, *encoding.ConnackPacket311, error) {
	fh, err := encoding.ParseFixedHeader311(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: reading CONNECT fixed header: %w", err)
	}
	if fh.Type != encoding.CONNECT {
		return nil, nil, fmt.Errorf("broker: expected CONNECT, got packet type %d", fh.Type)
	}

	buf := make([]byte, fh.RemainingLength)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, nil, fmt.Errorf("broker: reading CONNECT body: %w", err)
	}

	pkt, err := encoding.DecodeConnectPacket311(fh, bytes.NewReader(buf))
	if err != nil {
		return nil, &encoding.ConnackPacket311{ReturnCode: encoding.ConnectRefusedUnacceptableProtocol311}, err
	}

	clientID := pkt.ClientID
	if clientID == "" {
		if !pkt.CleanSession {
			return nil, &encoding.ConnackPacket311{ReturnCode: encoding.ConnectRefusedIdentifierRejected311},
				errors.New("broker: empty client id requires clean session")
		}
		clientID, err = b.sessions.GenerateClientID(context.Background())
		if err != nil {
			return nil, &encoding.ConnackPacket311{ReturnCode: encoding.ConnectRefusedServerUnavailable311}, err
		}
	}

	hc := &hook.Client{
		ID:              clientID,
		RemoteAddr:      conn.RemoteAddr().String(),
		LocalAddr:       conn.LocalAddr().String(),
		Username:        pkt.Username,
		CleanStart:      pkt.CleanSession,
		ProtocolVersion: byte(pkt.ProtocolVersion),
		KeepAlive:       pkt.KeepAlive,
		ConnectedAt:     time.Now(),
	}
	if pkt.WillFlag {
		hc.Will = &hook.WillMessage{Topic: pkt.WillTopic, Payload: pkt.WillPayload, QoS: byte(pkt.WillQoS), Retain: pkt.WillRetain}
	}

	hookConnect := &hook.ConnectPacket{
		ProtocolName:    pkt.ProtocolName,
		ProtocolVersion: byte(pkt.ProtocolVersion),
		CleanStart:      pkt.CleanSession,
		KeepAlive:       pkt.KeepAlive,
		ClientID:        clientID,
		Username:        pkt.Username,
		Password:        pkt.Password,
	}

	if !b.hooks.OnConnectAuthenticate(hc, hookConnect) {
		return nil, &encoding.ConnackPacket311{ReturnCode: encoding.ConnectRefusedBadUsernamePassword311},
			errors.New("broker: authentication rejected")
	}

	sess, reused, err := b.sessions.CreateSession(context.Background(), clientID, pkt.CleanSession, uint32(b.config.SessionExpiry.Seconds()), byte(pkt.ProtocolVersion))
	if err != nil {
		return nil, &encoding.ConnackPacket311{ReturnCode: encoding.ConnectRefusedServerUnavailable311}, err
	}

	if pkt.WillFlag {
		sess.SetWillMessage(&session.WillMessage{Topic: pkt.WillTopic, Payload: pkt.WillPayload, QoS: byte(pkt.WillQoS), Retain: pkt.WillRetain})
	}

	if err := conn.SetKeepAlive(time.Duration(pkt.KeepAlive) * time.Second); err != nil {
		return nil, &encoding.ConnackPacket311{ReturnCode: encoding.ConnectRefusedServerUnavailable311}, err
	}

	hc.SessionPresent = reused && !pkt.CleanSession
	c := newClient(conn, sess, pkt.ProtocolVersion, hc)
	conn.SetMetadata("client_id", clientID)

	b.registerClient(c)
	if err := b.hooks.OnConnect(hc, hookConnect); err != nil {
		b.unregisterClient(clientID)
		return nil, &encoding.ConnackPacket311{ReturnCode: encoding.ConnectRefusedNotAuthorized311}, err
	}
	_ = b.hooks.OnSessionEstablished(hc, hookConnect)

	b.drainOffline(c)

	return c, &encoding.ConnackPacket311{SessionPresent: hc.SessionPresent, ReturnCode: encoding.ConnectAccepted311}, nil
}

// drainOffline flushes whatever accumulated in the session's offline queue
// while the client was disconnected.
func (b *Broker) drainOffline(c *client) {
	for _, pm := range c.session.DrainOfflineQueue() {
		out := &message.Message{
			PacketID: pm.PacketID,
			Topic:    pm.Topic,
			Payload:  pm.Payload,
			QoS:      encoding.QoS(pm.QoS),
			Retain:   pm.Retain,
		}
		if out.QoS == encoding.QoS0 {
			_ = b.deliverPublish(c.ID(), out)
		} else if out.QoS == encoding.QoS1 {
			_, _ = b.qos.PublishQoS1(c.session, out.Topic, out.Payload, out.Retain)
		} else {
			_, _ = b.qos.PublishQoS2(c.session, out.Topic, out.Payload, out.Retain)
		}
	}
}

// readLoop owns the connection until it closes or a fatal protocol error
// occurs, parsing one MQTT packet at a time: a bounded fixed-header parse
// followed by an exact io.ReadFull of RemainingLength bytes, so a
// malformed length never blocks the loop waiting on bytes that will never
// arrive.
func (b *Broker) readLoop(c *client) {
	defer b.closeClient(c, nil)

	for {
		fh, err := encoding.ParseFixedHeader311(c.conn)
		if err != nil {
			return
		}
		if fh.RemainingLength > b.config.MaxPacketSize {
			return
		}

		buf := make([]byte, fh.RemainingLength)
		if _, err := io.ReadFull(c.conn, buf); err != nil {
			return
		}

		if err := b.dispatch(c, fh, buf); err != nil {
			if brokererr.IsAbsorbable(err) {
				b.log.Error("absorbed storage error, keeping connection open",
					"client_id", c.ID(), "error", err.Error())
				continue
			}
			return
		}
	}
}

func (b *Broker) dispatch(c *client, fh *encoding.FixedHeader, buf []byte) error {
	r := bytes.NewReader(buf)
	ctx := context.Background()

	switch fh.Type {
	case encoding.PUBLISH:
		pkt, err := encoding.DecodePublishPacket311(fh, r)
		if err != nil {
			return brokererr.NewProtocolError(err, "decoding PUBLISH from %s", c.ID())
		}
		return b.handlePublish(ctx, c, pkt)

	case encoding.PUBACK:
		pkt, err := encoding.DecodePubackPacket311(fh, r)
		if err != nil {
			return brokererr.NewProtocolError(err, "decoding PUBACK from %s", c.ID())
		}
		return b.qos.HandlePuback(c.session, pkt.PacketID)

	case encoding.PUBREC:
		pkt, err := encoding.DecodePubrecPacket311(fh, r)
		if err != nil {
			return brokererr.NewProtocolError(err, "decoding PUBREC from %s", c.ID())
		}
		return b.qos.HandlePubrec(c.session, pkt.PacketID)

	case encoding.PUBREL:
		pkt, err := encoding.DecodePubrelPacket311(fh, r)
		if err != nil {
			return brokererr.NewProtocolError(err, "decoding PUBREL from %s", c.ID())
		}
		return b.qos.HandlePubrel(c.session, pkt.PacketID)

	case encoding.PUBCOMP:
		pkt, err := encoding.DecodePubcompPacket311(fh, r)
		if err != nil {
			return brokererr.NewProtocolError(err, "decoding PUBCOMP from %s", c.ID())
		}
		return b.qos.HandlePubcomp(c.session, pkt.PacketID)

	case encoding.SUBSCRIBE:
		pkt, err := encoding.DecodeSubscribePacket311(fh, r)
		if err != nil {
			return brokererr.NewProtocolError(err, "decoding SUBSCRIBE from %s", c.ID())
		}
		return b.handleSubscribe(ctx, c, pkt)

	case encoding.UNSUBSCRIBE:
		pkt, err := encoding.DecodeUnsubscribePacket311(fh, r)
		if err != nil {
			return brokererr.NewProtocolError(err, "decoding UNSUBSCRIBE from %s", c.ID())
		}
		return b.handleUnsubscribe(c, pkt)

	case encoding.PINGREQ:
		return c.write(&encoding.PingrespPacket{})

	case encoding.DISCONNECT:
		c.cleanDisconnect = true
		return errors.New("broker: client disconnected")

	default:
		return brokererr.NewProtocolError(
			fmt.Errorf("broker: unsupported packet type %d from %s", fh.Type, c.ID()),
			"dispatching packet from %s", c.ID())
	}
}

// handlePublish implements the inbound side of PUBLISH: fan the message
// out to subscribers and acknowledge the publisher directly, without going
// through Handler.HandlePublish/HandlePubrel (see routePublish's doc
// comment for why those are reserved for outbound delivery only).
func (b *Broker) handlePublish(ctx context.Context, c *client, pkt *encoding.PublishPacket311) error {
	if err := topic.ValidateTopic(pkt.TopicName); err != nil {
		return nil
	}
	if !b.hooks.OnACLCheck(c.hookClient, pkt.TopicName, hook.AccessTypeWrite) {
		return nil
	}

	msg := &message.Message{
		PacketID: pkt.PacketID,
		Topic:    pkt.TopicName,
		Payload:  pkt.Payload,
		QoS:      pkt.FixedHeader.QoS,
		Retain:   pkt.FixedHeader.Retain,
		DUP:      pkt.FixedHeader.DUP,
		ClientID: c.ID(),
	}

	switch msg.QoS {
	case encoding.QoS0:
		return b.routePublish(ctx, c.ID(), msg)

	case encoding.QoS1:
		if err := b.routePublish(ctx, c.ID(), msg); err != nil {
			return err
		}
		return c.write(&encoding.PubackPacket311{PacketID: pkt.PacketID})

	case encoding.QoS2:
		if !c.session.MarkQoS2Received(pkt.PacketID) {
			return c.write(&encoding.PubrecPacket311{PacketID: pkt.PacketID})
		}
		if err := b.routePublish(ctx, c.ID(), msg); err != nil {
			c.session.ClearQoS2Received(pkt.PacketID)
			return err
		}
		return c.write(&encoding.PubrecPacket311{PacketID: pkt.PacketID})

	default:
		return fmt.Errorf("broker: invalid QoS from %s", c.ID())
	}
}

func (b *Broker) handleSubscribe(ctx context.Context, c *client, pkt *encoding.SubscribePacket311) error {
	returnCodes := make([]byte, len(pkt.Subscriptions))

	for i, s := range pkt.Subscriptions {
		if err := topic.ValidateTopicFilter(s.TopicFilter); err != nil {
			returnCodes[i] = 0x80
			continue
		}
		if !b.hooks.OnACLCheck(c.hookClient, s.TopicFilter, hook.AccessTypeRead) {
			returnCodes[i] = 0x80
			continue
		}

		hookSub := &hook.Subscription{ClientID: c.ID(), TopicFilter: s.TopicFilter, QoS: byte(s.QoS)}
		if err := b.hooks.OnSubscribe(c.hookClient, hookSub); err != nil {
			returnCodes[i] = 0x80
			continue
		}

		sub := &topic.Subscription{ClientID: c.ID(), TopicFilter: s.TopicFilter, QoS: byte(s.QoS)}
		if err := b.router.Subscribe(sub); err != nil {
			returnCodes[i] = 0x80
			continue
		}
		c.session.AddSubscription(&session.Subscription{TopicFilter: s.TopicFilter, QoS: byte(s.QoS)})
		b.hooks.OnSubscribed(c.hookClient, hookSub)

		returnCodes[i] = byte(s.QoS)
		_ = b.deliverRetained(ctx, c, s.TopicFilter, byte(s.QoS))
	}

	return c.write(&encoding.SubackPacket311{PacketID: pkt.PacketID, ReturnCodes: returnCodes})
}

func (b *Broker) handleUnsubscribe(c *client, pkt *encoding.UnsubscribePacket311) error {
	for _, filter := range pkt.TopicFilters {
		if err := b.hooks.OnUnsubscribe(c.hookClient, filter); err != nil {
			continue
		}
		b.router.Unsubscribe(c.ID(), filter)
		c.session.RemoveSubscription(filter)
		b.hooks.OnUnsubscribed(c.hookClient, filter)
	}
	return c.write(&encoding.UnsubackPacket311{PacketID: pkt.PacketID})
}

// closeClient tears down one connection: removes it from the pool and the
// broker's client registry, and — unless the client sent DISCONNECT first
// — publishes its will message. cause is nil for an ordinary client-driven
// close and network.ErrKeepAliveTimeout when the keep-alive sweeper is the
// one tearing the connection down; either way it is only surfaced to the
// OnDisconnect hook, never treated specially by closeClient itself.
func (b *Broker) closeClient(c *client, cause error) {
	_ = c.conn.Close()
	_ = b.pool.Remove(c.conn.ID())
	b.unregisterClient(c.ID())

	sendWill := !c.cleanDisconnect
	_ = b.sessions.DisconnectSession(context.Background(), c.ID(), sendWill)
	b.hooks.OnDisconnect(c.hookClient, cause, false)
}

func (b *Broker) onKeepAliveTimeout(conn *network.Connection) {
	if c, ok := b.getClient(connClientID(conn)); ok {
		b.closeClient(c, network.ErrKeepAliveTimeout)
	}
}

// connClientID recovers the broker client ID for a raw connection handed
// back by the keep-alive sweeper, which only knows about network.Connection
// and not about sessions.
func connClientID(conn *network.Connection) string {
	if v, ok := conn.GetMetadata("client_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

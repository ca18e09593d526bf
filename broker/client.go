package broker

import (
	"io"
	"sync"

	"github.com/byiringiro-aloys/mqtt-core-service/encoding"
	"github.com/byiringiro-aloys/mqtt-core-service/hook"
	"github.com/byiringiro-aloys/mqtt-core-service/network"
	"github.com/byiringiro-aloys/mqtt-core-service/session"
)

// client holds everything the broker needs about one live connection: the
// byte pipe, the session backing it, the hook-visible identity recorded at
// CONNECT time, and a write lock so the read loop and the QoS retry sweep
// (running on a separate goroutine) never interleave writes on the same
// socket.
type client struct {
	conn            *network.Connection
	session         *session.Session
	protocolVersion encoding.ProtocolVersion
	hookClient      *hook.Client

	// cleanDisconnect is set once a DISCONNECT packet is read, telling
	// closeClient to skip the will message per the MQTT 3.1.1 spec.
	cleanDisconnect bool

	writeMu sync.Mutex
}

func newClient(conn *network.Connection, sess *session.Session, version encoding.ProtocolVersion, hc *hook.Client) *client {
	return &client{conn: conn, session: sess, protocolVersion: version, hookClient: hc}
}

func (c *client) ID() string {
	return c.session.GetClientID()
}

// write serializes pkt and sends it, holding writeMu for the duration so
// concurrent callers (the read loop replying to a PINGREQ, the QoS retry
// sweep retransmitting an inflight PUBLISH) can't tear a packet in half.
func (c *client) write(pkt interface{ Encode(w io.Writer) error }) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return pkt.Encode(c.conn)
}

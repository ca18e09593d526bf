// Package broker wires the codec, topic index, session store, QoS engine,
// connection layer, persistence and hook packages into a running MQTT
// 3.1.1 server: it owns the TCP/WebSocket listeners, the per-connection
// read loop, and the CONNECT/PUBLISH/SUBSCRIBE/UNSUBSCRIBE dispatch that
// the lower-level packages only provide the primitives for.
package broker

import (
	"log/slog"
	"time"

	"github.com/byiringiro-aloys/mqtt-core-service/network"
	"github.com/byiringiro-aloys/mqtt-core-service/pkg/logger"
	"github.com/byiringiro-aloys/mqtt-core-service/qos"
)

// Config controls how a Broker starts its listeners and the defaults it
// hands to new sessions.
type Config struct {
	// TCPAddress is the address the plain TCP listener binds, e.g. ":1883".
	// Leave empty to disable the TCP listener.
	TCPAddress string

	// WebSocketAddress is the address the WebSocket listener binds, e.g.
	// ":8883". Leave empty to disable the WebSocket listener.
	WebSocketAddress string
	WebSocketPath    string

	ListenerConfig  *network.ListenerConfig
	PoolConfig      *network.PoolConfig
	KeepAlive       *network.KeepAliveConfig
	QoS             *qos.Config
	SessionExpiry   time.Duration
	MaxPacketSize   uint32
	AllowAnonymous  bool
	RateLimitPerMin int

	// Logger receives warnings for storage-backend failures absorbed
	// during PUBLISH ingestion, retry exhaustion, offline-queue overflow
	// and admission-control rejections. Defaults to a colored stdout
	// logger at info level if left nil.
	Logger logger.Logger
}

// DefaultConfig returns a Config listening on the standard MQTT port with
// the teacher's package-level defaults for everything else.
func DefaultConfig() *Config {
	return &Config{
		TCPAddress:      ":1883",
		ListenerConfig:  network.DefaultListenerConfig(":1883"),
		PoolConfig:      network.DefaultPoolConfig(),
		KeepAlive:       network.DefaultKeepAliveConfig(),
		QoS:             qos.DefaultConfig(),
		SessionExpiry:   30 * time.Second,
		MaxPacketSize:   268435455,
		AllowAnonymous:  true,
		RateLimitPerMin: 0,
		Logger:          logger.NewSlogLogger(slog.LevelInfo, nil),
	}
}

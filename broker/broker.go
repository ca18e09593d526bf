package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/byiringiro-aloys/mqtt-core-service/hook"
	"github.com/byiringiro-aloys/mqtt-core-service/metrics"
	"github.com/byiringiro-aloys/mqtt-core-service/network"
	"github.com/byiringiro-aloys/mqtt-core-service/persistence"
	"github.com/byiringiro-aloys/mqtt-core-service/pkg/logger"
	"github.com/byiringiro-aloys/mqtt-core-service/qos"
	"github.com/byiringiro-aloys/mqtt-core-service/session"
	"github.com/byiringiro-aloys/mqtt-core-service/topic"
	"golang.org/x/sync/errgroup"
)

// Broker is the MQTT 3.1.1 server: it owns the listeners and wires the
// codec, topic index, session store, QoS engine, persistence and hook
// packages together behind the CONNECT/PUBLISH/SUBSCRIBE/UNSUBSCRIBE
// dispatch in dispatch.go and the fan-out logic in publish.go.
type Broker struct {
	config *Config

	pool       *network.Pool
	listener   *network.Listener
	wsListener *network.WebSocketListener
	sweeper    *network.KeepAliveSweeper

	sessions *session.Manager
	router   *topic.Router
	qos      *qos.Handler
	persist  *persistence.Backend
	hooks    *hook.Manager
	metrics  *metrics.Registry
	log      logger.Logger

	disconnectMgr *network.DisconnectManager
	shutdown      *network.GracefulShutdown

	mu      sync.RWMutex
	clients map[string]*client
}

// New builds a Broker. persist and hooks are constructed by the caller
// (the persistence backend depends on a choice of Pebble vs Redis that
// this package has no opinion on; the hook manager depends on which auth
// and rate-limit hooks the deployment wants registered) — New only wires
// them into the dispatch path.
func New(cfg *Config, persist *persistence.Backend, hooks *hook.Manager, reg *metrics.Registry) (*Broker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if hooks == nil {
		hooks = hook.NewManager()
	}
	if reg == nil {
		reg = metrics.New()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogLogger(slog.LevelInfo, nil)
	}

	pool, err := network.NewPool(cfg.PoolConfig)
	if err != nil {
		return nil, fmt.Errorf("broker: creating connection pool: %w", err)
	}

	b := &Broker{
		config:  cfg,
		pool:    pool,
		router:  topic.NewRouter(),
		qos:     qos.NewHandler(cfg.QoS),
		persist: persist,
		hooks:   hooks,
		metrics: reg,
		log:     log,
		clients: make(map[string]*client),
	}

	b.disconnectMgr = network.NewDisconnectManager(5 * time.Second)
	b.disconnectMgr.OnDisconnect(b.onGracefulDisconnect)
	b.shutdown = network.NewGracefulShutdown(pool, b.disconnectMgr, 30*time.Second)

	// b satisfies session.WillPublisher; the manager only calls it once a
	// client actually disconnects, by which point b is fully wired.
	b.sessions = session.NewManager(session.ManagerConfig{
		Store:               persist.Sessions,
		ExpiryCheckInterval: cfg.SessionExpiry,
		WillPublisher:       b,
	})

	b.qos.SetSessionProvider(b.sessions)
	b.qos.SetPublishCallback(b.deliverPublish)
	b.qos.SetPubrelCallback(b.deliverPubrel)
	b.qos.SetPubcompCallback(b.deliverPubcomp)
	b.qos.SetMaxRetryCallback(b.onMaxRetry)

	keepAliveCfg := cfg.KeepAlive
	if keepAliveCfg == nil {
		keepAliveCfg = network.DefaultKeepAliveConfig()
	}
	kaCfg := *keepAliveCfg
	kaCfg.OnTimeout = b.onKeepAliveTimeout
	b.sweeper = network.NewKeepAliveSweeper(pool, &kaCfg)

	return b, nil
}

// Start restores retained messages, brings up whichever listeners are
// configured (concurrently, torn down together on first failure) and
// starts the keep-alive sweep.
func (b *Broker) Start(ctx context.Context) error {
	recovery, err := network.NewRecovery(&network.RecoveryConfig{
		BackoffConfig:  network.DefaultBackoffConfig(),
		EnableRecovery: true,
	})
	if err != nil {
		return fmt.Errorf("broker: building startup recovery policy: %w", err)
	}
	if err := recovery.Retry(ctx, func() error {
		_, err := b.persist.RestoreRetained(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("broker: restoring retained messages: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)

	if b.config.TCPAddress != "" {
		lc := b.config.ListenerConfig
		if lc == nil {
			lc = network.DefaultListenerConfig(b.config.TCPAddress)
		}
		if lc.Logger == nil {
			lc.Logger = b.log
		}
		listener, err := network.NewListener(lc, b.pool)
		if err != nil {
			return fmt.Errorf("broker: creating TCP listener: %w", err)
		}
		listener.OnConnection(b.handleConnection)
		b.listener = listener
		g.Go(listener.Start)
	}

	if b.config.WebSocketAddress != "" {
		wsCfg := network.DefaultWebSocketListenerConfig(b.config.WebSocketAddress)
		if b.config.WebSocketPath != "" {
			wsCfg.Path = b.config.WebSocketPath
		}
		wsListener, err := network.NewWebSocketListener(wsCfg, b.pool)
		if err != nil {
			return fmt.Errorf("broker: creating WebSocket listener: %w", err)
		}
		wsListener.OnConnection(b.handleConnection)
		b.wsListener = wsListener
		g.Go(wsListener.Start)
	}

	if err := g.Wait(); err != nil {
		return err
	}

	b.sweeper.Start()
	b.hooks.OnStarted()
	return nil
}

// Stop tears down both listeners, the keep-alive sweep and the QoS retry
// loop, then closes the session store and persistence backend.
func (b *Broker) Stop() error {
	b.sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.shutdown.Shutdown(shutdownCtx); err != nil {
		b.log.Warn("graceful shutdown did not complete cleanly, forcing hard close", "error", err.Error())
	}

	if b.listener != nil {
		_ = b.listener.Close()
	}
	if b.wsListener != nil {
		_ = b.wsListener.Close()
	}

	_ = b.qos.Close()
	_ = b.pool.Close()
	_ = b.sessions.Close()

	b.hooks.OnStopped(nil)

	return b.persist.Close()
}

// onGracefulDisconnect is registered on the broker's DisconnectManager and
// runs for every connection GracefulShutdown tears down: it looks up the
// broker-level client for conn and reuses the same teardown path ordinary
// disconnects go through, so a clean shutdown and a client-driven
// disconnect send the same will/session/hook sequence.
func (b *Broker) onGracefulDisconnect(conn *network.Connection, _ *network.DisconnectPacket) error {
	if c, ok := b.getClient(connClientID(conn)); ok {
		c.cleanDisconnect = true
		b.closeClient(c, nil)
	}
	return nil
}

func (b *Broker) registerClient(c *client) {
	b.mu.Lock()
	b.clients[c.ID()] = c
	b.mu.Unlock()
	b.metrics.ConnectionsActive.Inc()
	b.metrics.SessionsActive.Set(float64(b.sessions.GetActiveSessionCount()))
}

func (b *Broker) unregisterClient(clientID string) {
	b.mu.Lock()
	if _, ok := b.clients[clientID]; ok {
		delete(b.clients, clientID)
	}
	b.mu.Unlock()
	b.metrics.ConnectionsActive.Dec()
}

func (b *Broker) getClient(clientID string) (*client, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[clientID]
	return c, ok
}

package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const mqttSubprotocol = "mqtt"

// WebSocketListenerConfig mirrors ListenerConfig for the WebSocket
// acceptor: an http.Server fronted by a gorilla/websocket upgrader
// negotiating the "mqtt" subprotocol, per §6's WebSocket requirement.
type WebSocketListenerConfig struct {
	Address        string
	Path           string
	TLSConfig      *tls.Config
	MaxConnections int
	CheckOrigin    func(r *http.Request) bool
}

func DefaultWebSocketListenerConfig(address string) *WebSocketListenerConfig {
	return &WebSocketListenerConfig{
		Address:        address,
		Path:           "/mqtt",
		MaxConnections: 10000,
	}
}

// WebSocketListener accepts MQTT-over-WebSocket connections and feeds them
// into the same Pool and ConnectionHandler pipeline as the TCP Listener.
type WebSocketListener struct {
	config   *WebSocketListenerConfig
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	pool     *Pool

	connSeq  atomic.Uint64
	accepted atomic.Uint64
	rejected atomic.Uint64

	mu       sync.RWMutex
	handlers []ConnectionHandler

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewWebSocketListener(config *WebSocketListenerConfig, pool *Pool) (*WebSocketListener, error) {
	if config == nil {
		return nil, ErrInvalidAddress
	}

	if pool == nil {
		var err error
		pool, err = NewPool(DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	l := &WebSocketListener{
		config: config,
		pool:   pool,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{mqttSubprotocol},
			CheckOrigin:  checkOrigin,
		},
		handlers: make([]ConnectionHandler, 0),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, l.handleUpgrade)

	l.server = &http.Server{
		Addr:      config.Address,
		Handler:   mux,
		TLSConfig: config.TLSConfig,
	}

	return l, nil
}

func (l *WebSocketListener) Start() error {
	if l.closed.Load() {
		return ErrListenerClosed
	}

	ln, err := net.Listen("tcp", l.config.Address)
	if err != nil {
		return fmt.Errorf("failed to start websocket listener: %w", err)
	}

	if l.config.TLSConfig != nil {
		ln = tls.NewListener(ln, l.config.TLSConfig)
	}

	l.listener = ln

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = l.server.Serve(ln)
	}()

	return nil
}

func (l *WebSocketListener) Addr() net.Addr {
	if l.listener != nil {
		return l.listener.Addr()
	}
	return nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if l.config.MaxConnections > 0 && int(l.pool.total.Load()) >= l.config.MaxConnections {
		l.rejected.Add(1)
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	wsc, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.rejected.Add(1)
		return
	}

	connID := l.generateConnectionID()
	conn := NewConnection(newWSConn(wsc), connID, &ConnectionConfig{})

	if err := l.pool.Add(conn); err != nil {
		conn.Close()
		l.rejected.Add(1)
		return
	}

	l.accepted.Add(1)

	l.mu.RLock()
	handlers := make([]ConnectionHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(conn); err != nil {
			l.pool.Remove(conn.ID())
			return
		}
	}
}

func (l *WebSocketListener) generateConnectionID() string {
	seq := l.connSeq.Add(1)
	return fmt.Sprintf("ws-conn-%d-%d", time.Now().UnixNano(), seq)
}

func (l *WebSocketListener) OnConnection(handler ConnectionHandler) {
	l.mu.Lock()
	l.handlers = append(l.handlers, handler)
	l.mu.Unlock()
}

func (l *WebSocketListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = l.server.Shutdown(ctx)
		l.wg.Wait()
	})

	return err
}

func (l *WebSocketListener) Stats() ListenerStats {
	return ListenerStats{
		Accepted: l.accepted.Load(),
		Rejected: l.rejected.Load(),
		Active:   uint64(l.pool.active.Load()),
	}
}

// wsConn adapts a gorilla/websocket.Conn, which is message-framed, to the
// net.Conn stream interface the rest of the Connection Layer expects.
// Reads drain the current inbound message before fetching the next one.
// Callers must serialize one complete MQTT Control Packet per Write call
// (buffer the packet first, then write it in one call) so each packet maps
// to exactly one WebSocket binary frame.
type wsConn struct {
	conn *websocket.Conn

	mu      sync.Mutex
	reader  []byte
	readPos int
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) Read(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.readPos >= len(w.reader) {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.reader = data
		w.readPos = 0
	}

	n := copy(b, w.reader[w.readPos:])
	w.readPos += n
	return n, nil
}

func (w *wsConn) Write(b []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

func (w *wsConn) LocalAddr() net.Addr {
	return w.conn.LocalAddr()
}

func (w *wsConn) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *wsConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w *wsConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *wsConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

var _ net.Conn = (*wsConn)(nil)

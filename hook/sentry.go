package hook

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryHook reports disconnects carrying a non-nil error, dropped
// messages, and expired sessions/retained messages to Sentry. It embeds
// Base so it only needs to override the events it actually provides.
type SentryHook struct {
	*Base
}

// NewSentryHook initializes the global Sentry SDK against dsn and returns
// a hook that reports through it. Pass an empty dsn to get a hook that is
// registered but never sends anything — useful for local/dev deployments
// that still want the hook wired so CaptureError/CapturePanic call sites
// don't need to branch on whether error reporting is enabled.
func NewSentryHook(dsn, environment string) (*SentryHook, error) {
	if dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: environment,
		}); err != nil {
			return nil, fmt.Errorf("hook: initializing sentry: %w", err)
		}
	}
	return &SentryHook{Base: &Base{id: "sentry"}}, nil
}

func (h *SentryHook) ID() string {
	return h.id
}

func (h *SentryHook) Provides(event Event) bool {
	switch event {
	case OnDisconnect, OnPublishDropped, OnQosDropped, OnClientExpired, OnRetainedExpired:
		return true
	default:
		return false
	}
}

func (h *SentryHook) OnDisconnect(client *Client, err error, expire bool) error {
	if err == nil {
		return nil
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("client_id", client.ID)
		scope.SetTag("event", "disconnect")
		sentry.CaptureException(err)
	})
	return nil
}

func (h *SentryHook) OnPublishDropped(client *Client, packet *PublishPacket, reason DropReason) error {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("client_id", client.ID)
		scope.SetTag("event", "publish_dropped")
		scope.SetTag("reason", reason.String())
		scope.SetExtra("topic", packet.Topic)
		sentry.CaptureMessage(fmt.Sprintf("publish dropped: %s", reason))
	})
	return nil
}

func (h *SentryHook) OnQosDropped(client *Client, packetID uint16, reason DropReason) error {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("client_id", client.ID)
		scope.SetTag("event", "qos_dropped")
		scope.SetTag("reason", reason.String())
		scope.SetExtra("packet_id", packetID)
		sentry.CaptureMessage(fmt.Sprintf("qos message dropped: %s", reason))
	})
	return nil
}

func (h *SentryHook) OnClientExpired(clientID string) error {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("client_id", clientID)
		scope.SetTag("event", "client_expired")
		sentry.CaptureMessage("session expired")
	})
	return nil
}

func (h *SentryHook) OnRetainedExpired(topic string) error {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("topic", topic)
		scope.SetTag("event", "retained_expired")
		sentry.CaptureMessage("retained message expired")
	})
	return nil
}

// CaptureError reports an out-of-band error — a storage failure that has
// no associated client or packet context — directly, bypassing the Hook
// event path.
func (h *SentryHook) CaptureError(err error) {
	sentry.CaptureException(err)
}

// CapturePanic reports a recovered panic. Callers recover() the panic
// themselves and pass the recovered value here before deciding whether to
// re-panic.
func (h *SentryHook) CapturePanic(recovered any) {
	sentry.CurrentHub().Recover(recovered)
}

// Flush blocks until pending events are sent or timeout elapses, for use
// during graceful shutdown.
func (h *SentryHook) Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

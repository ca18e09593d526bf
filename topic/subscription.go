package topic

import (
	"time"

	"github.com/byiringiro-aloys/mqtt-core-service/types/message"
)

// Subscription represents an active client subscription to a topic filter.
type Subscription struct {
	ClientID     string
	TopicFilter  string
	QoS          byte
	SubscribedAt time.Time
}

// RetainedMessage represents a retained message associated with a topic.
type RetainedMessage struct {
	Message *message.Message
}

// SubscriberInfo contains subscriber metadata used by the trie for routing.
type SubscriberInfo struct {
	ClientID string
	QoS      byte
}

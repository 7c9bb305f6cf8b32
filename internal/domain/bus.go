package domain

import (
	"context"
)

// EventBus defines the interface for the monitoring stream.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic within a namespace.
	Publish(ctx context.Context, namespace string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, namespace string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, namespace string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the investigation pipeline. The bus prefixes
// each topic with the deployment namespace on the wire.
const (
	TopicRequested = "investigation.requested"
	TopicProgress  = "investigation.progress"
	TopicVerdict   = "investigation.verdict"
	TopicAlert     = "investigation.alert"
)

// ProgressEvent is the per-step monitoring payload published on
// TopicProgress. The wire format beyond this envelope is owned by the
// API layer.
type ProgressEvent struct {
	InvestigationID  string  `json:"investigationId"`
	Phase            Phase   `json:"phase"`
	DomainsCompleted int     `json:"domainsCompleted"`
	RiskScore        float64 `json:"riskScore"`
	Timestamp        int64   `json:"timestamp"`
}

// VerdictEvent is the terminal payload published on TopicVerdict when an
// investigation concludes, and again on TopicAlert when flagged.
type VerdictEvent struct {
	InvestigationID string    `json:"investigationId"`
	EntityID        string    `json:"entityId"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	RiskScore       float64   `json:"riskScore"`
	Confidence      float64   `json:"confidence"`
	Flagged         bool      `json:"flagged"`
	Timestamp       int64     `json:"timestamp"`
}

package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes workflow events to NATS for the
// notifications service.
//
// Subject convention: notifications.requests.<event_type>
// Event types: request_submitted, step_approved, request_approved,
//              request_rejected, request_paid
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt workflow operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher on the given NATS connection.
// A nil connection disables publishing.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log}
}

// PublishRequestEvent publishes a money-request workflow event.
func (p *NotificationPublisher) PublishRequestEvent(ctx context.Context, eventType, requestID, actorID string, payload map[string]any) {
	if p.nc == nil {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		ResourceType: "money_request",
		ResourceID:   requestID,
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.requests.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", requestID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", requestID).
		Msg("notification: event published")
}

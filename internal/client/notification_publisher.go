package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/aalicav/conecta-backend-sub000/internal/repository"
	"github.com/aalicav/conecta-backend-sub000/internal/service"
)

// NotificationPublisher publishes negotiation lifecycle events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.negotiations.<event>
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never affect a committed transition.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType     string         `json:"event_type"`
	NegotiationID string         `json:"negotiation_id"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Status        string         `json:"status"`
	Title         string         `json:"title"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// Notify publishes one negotiation event. Implements
// service.NotificationGateway.
func (p *NotificationPublisher) Notify(ctx context.Context, event service.NotificationEvent, n *repository.Negotiation, extra map[string]any) {
	if p.conn == nil || n == nil {
		return
	}

	msg := &NotificationEvent{
		EventType:     string(event),
		NegotiationID: n.ID,
		EntityType:    string(n.EntityType),
		EntityID:      n.EntityID,
		Status:        string(n.Status),
		Title:         n.Title,
		OccurredAt:    time.Now(),
		Payload:       extra,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn().Err(err).Str("event", string(event)).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.negotiations.%s", event)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("negotiation_id", n.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("negotiation_id", n.ID).
		Msg("notification: event published")
}

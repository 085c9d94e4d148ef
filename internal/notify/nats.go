package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS backend.
type NATSConfig struct {
	URL     string
	Subject string
}

// natsEvent is the JSON document published per remote notification.
type natsEvent struct {
	ID       string    `json:"id"`
	Endpoint string    `json:"endpoint"`
	Guardian string    `json:"guardian"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

// natsConn is the subset of *nats.Conn used by the publisher.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes remote notifications to a NATS subject for a
// downstream push gateway.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

// DialNATS connects to cfg.URL and returns a publisher on cfg.Subject.
func DialNATS(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("safespaces-notify"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: cfg.Subject}, nil
}

// Publish implements RemotePublisher.
func (p *NATSPublisher) Publish(ctx context.Context, endpoint string, msg Message) error {
	data, err := json.Marshal(natsEvent{
		ID:       msg.ID,
		Endpoint: endpoint,
		Guardian: msg.Guardian.Name,
		Title:    msg.Title,
		Body:     msg.Body,
		SentAt:   msg.At,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Close closes the connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}

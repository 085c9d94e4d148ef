// Package notify delivers engine notifications. The Dispatcher implements
// the engine's NotificationSink: local halves go to local channels (the feed
// and the log), remote halves are addressed to a guardian endpoint and
// handed to a RemotePublisher selected by configuration.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/safespaces/model"
)

var (
	// ErrEndpointNotFound is returned when a guardian has no usable push
	// endpoint.
	ErrEndpointNotFound = errors.New("guardian endpoint not found")
	// ErrQueueFull is returned when the dispatcher queue cannot accept more
	// work; the notification is dropped.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed is returned after the dispatcher has been closed.
	ErrClosed = errors.New("dispatcher closed")
)

// Channel names used in metrics and logs.
const (
	ChannelLocal  = "local"
	ChannelRemote = "remote"
)

// Message is one half of a notification ready for delivery.
type Message struct {
	ID       string
	Title    string
	Body     string
	Guardian model.Guardian
	At       time.Time
}

// LocalChannel shows a message to the monitored person.
type LocalChannel interface {
	Show(ctx context.Context, msg Message) error
}

// RemotePublisher delivers a message to a resolved guardian endpoint.
type RemotePublisher interface {
	Publish(ctx context.Context, endpoint string, msg Message) error
}

// EndpointResolver maps a guardian to an opaque push endpoint. It returns
// ErrEndpointNotFound when none exists.
type EndpointResolver interface {
	Resolve(ctx context.Context, g model.Guardian) (string, error)
}

// MetricsRecorder receives delivery outcomes.
type MetricsRecorder interface {
	ObserveSent(channel string)
	ObserveFailed(channel, reason string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSent(string)           {}
func (noopMetrics) ObserveFailed(string, string) {}

package notify

import (
	"context"

	"github.com/signalsfoundry/safespaces/internal/logging"
)

// LogChannel writes notifications to the structured log. It serves both as
// a local channel and as the "log" remote backend.
type LogChannel struct {
	log logging.Logger
}

// NewLogChannel returns a LogChannel writing to l.
func NewLogChannel(l logging.Logger) *LogChannel {
	if l == nil {
		l = logging.Noop()
	}
	return &LogChannel{log: l}
}

// Show implements LocalChannel.
func (c *LogChannel) Show(ctx context.Context, msg Message) error {
	c.log.Info(ctx, "local notification",
		logging.String("notification_id", msg.ID),
		logging.String("title", msg.Title),
		logging.String("body", msg.Body),
	)
	return nil
}

// Publish implements RemotePublisher.
func (c *LogChannel) Publish(ctx context.Context, endpoint string, msg Message) error {
	c.log.Info(ctx, "remote notification",
		logging.String("notification_id", msg.ID),
		logging.String("endpoint", endpoint),
		logging.String("guardian", msg.Guardian.Name),
		logging.String("title", msg.Title),
		logging.String("body", msg.Body),
	)
	return nil
}

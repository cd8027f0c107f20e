package notify

import (
	"context"

	"github.com/streamgraph/corepipeline/internal/pipelineerr"
	"github.com/streamgraph/corepipeline/pkg/logging"
	"github.com/streamgraph/corepipeline/pkg/telemetry"
)

// Dispatcher routes rule-triggered events to named channels. Delivery is
// at-least-once with no internal retry; callers that want retries layer
// their own policy on top of the returned errors.
type Dispatcher struct {
	channels map[string]Channel
	log      *logging.Logger
}

// NewDispatcher builds a dispatcher over a named channel set.
func NewDispatcher(channels map[string]Channel, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewDefault("notify-dispatcher")
	}
	return &Dispatcher{channels: channels, log: log}
}

// Dispatch delivers event to every channel named in names whose
// configured Events() include it, returning one error per failed
// delivery. An unknown channel name is itself a delivery error rather
// than a silent skip.
func (d *Dispatcher) Dispatch(ctx context.Context, names []string, event Kind, tctx Context) []error {
	var errs []error
	for _, name := range names {
		channel, ok := d.channels[name]
		if !ok {
			errs = append(errs, pipelineerr.ChannelError(nil, "channel %q is not configured", name))
			continue
		}
		if !hasEvent(channel.Events(), event) {
			continue
		}
		if err := channel.Deliver(ctx, event, tctx); err != nil {
			d.log.WithField("channel", name).WithError(err).Warn("notification delivery failed")
			errs = append(errs, pipelineerr.ChannelError(err, "channel %q", name))
			telemetry.NotificationsSent.WithLabelValues(name, "error").Inc()
			continue
		}
		telemetry.NotificationsSent.WithLabelValues(name, "ok").Inc()
	}
	return errs
}

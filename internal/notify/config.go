package notify

import (
	"fmt"

	"github.com/streamgraph/corepipeline/internal/pipelineerr"
	"github.com/streamgraph/corepipeline/pkg/logging"
)

// ChannelSpec is the on-disk (YAML) shape of one named channel in the
// pipeline's notification configuration. Exactly one of the per-type
// blocks should be populated, matching Type; Events lists the event
// kinds as plain strings since the rest of the config file is untyped
// YAML.
type ChannelSpec struct {
	Type     string         `yaml:"type"`
	Events   []string       `yaml:"events,omitempty"`
	Webhook  WebhookConfig  `yaml:"webhook,omitempty"`
	Email    EmailConfig    `yaml:"email,omitempty"`
	Telegram TelegramConfig `yaml:"telegram,omitempty"`
}

func parseEvents(raw []string) []Kind {
	if len(raw) == 0 {
		return nil
	}
	events := make([]Kind, len(raw))
	for i, e := range raw {
		events[i] = Kind(e)
	}
	return events
}

// BuildChannels constructs one Channel per entry in specs, keyed by the
// same name a rule references in spec.channels. A single malformed
// channel fails the whole config load rather than silently running with
// a partial channel set, since a rule referencing a missing channel name
// would otherwise fail much later, at dispatch time.
func BuildChannels(specs map[string]ChannelSpec) (map[string]Channel, error) {
	logger := logging.NewDefault("notify")

	channels := make(map[string]Channel, len(specs))
	for name, spec := range specs {
		events := parseEvents(spec.Events)
		var (
			ch  Channel
			err error
		)
		switch spec.Type {
		case "webhook":
			cfg := spec.Webhook
			cfg.Events = events
			ch, err = NewWebhookChannel(cfg, logger)
		case "email":
			cfg := spec.Email
			cfg.Events = events
			ch, err = NewEmailChannel(cfg, logger)
		case "telegram":
			cfg := spec.Telegram
			cfg.Events = events
			ch, err = NewTelegramChannel(cfg, logger)
		default:
			err = fmt.Errorf("unknown channel type %q", spec.Type)
		}
		if err != nil {
			return nil, pipelineerr.ChannelError(err, "channel %q", name)
		}
		channels[name] = ch
	}
	return channels, nil
}

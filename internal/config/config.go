// Package config loads the pipeline daemon's YAML configuration: on-disk
// layout, the warm-compute cadence, logging, and the named notification
// channels rules reference by name.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streamgraph/corepipeline/internal/notify"
	"github.com/streamgraph/corepipeline/internal/pipeline"
	"github.com/streamgraph/corepipeline/internal/pipelineerr"
	"github.com/streamgraph/corepipeline/pkg/logging"
)

// Config is the top-level shape of the daemon's config file.
type Config struct {
	RulesDir       string                        `yaml:"rules_dir"`
	FileDropDir    string                        `yaml:"file_drop_dir"`
	ListenAddr     string                        `yaml:"listen_addr"`
	TickInterval   string                        `yaml:"tick_interval"`
	WarmInterval   string                        `yaml:"warm_interval"`
	EntityKeyField string                        `yaml:"entity_key_field"`
	Logging        logging.Config                `yaml:"logging"`
	Channels       map[string]notify.ChannelSpec `yaml:"channels"`
}

// Default returns conservative defaults, overridden field-by-field by
// whatever the config file sets.
func Default() Config {
	return Config{
		RulesDir:       "rules",
		FileDropDir:    "incoming",
		ListenAddr:     ":8080",
		TickInterval:   "30s",
		WarmInterval:   "60s",
		EntityKeyField: pipeline.DefaultConfig().EntityKeyField,
		Logging:        logging.Config{Level: "info", Format: "json"},
	}
}

// Load reads and parses the YAML file at path, layering it over Default.
// A missing file is not an error; the daemon runs on defaults alone, which
// is convenient for local experimentation and matches the rule loader's
// own tolerance for an absent or empty directory.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, pipelineerr.IOError(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, pipelineerr.ConfigError(err, "parse config %s", path)
	}
	return cfg, nil
}

// TickDuration parses TickInterval, falling back to 30s on an empty or
// malformed value.
func (c Config) TickDuration() time.Duration {
	return parseDurationOr(c.TickInterval, 30*time.Second)
}

// WarmDuration parses WarmInterval, falling back to 60s.
func (c Config) WarmDuration() time.Duration {
	return parseDurationOr(c.WarmInterval, 60*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// TASKFLOW_EVENTS_TOPIC overrides events.topic.
const EnvPrefix = "TASKFLOW"

var defaults = map[string]any{
	"service.http_port": 8080,
	"service.log_level": "info",

	"events.pubsub_system":          "kafka",
	"events.hostname":               "localhost",
	"events.port":                   9092,
	"events.topic":                  "events",
	"events.consumer_group":         "",
	"events.initial_offset":         OffsetLatest,
	"events.replay_on_start":        false,
	"events.on_failure":             OnFailureRetry,
	"events.max_retries":            5,
	"events.retry_initial_interval": "500ms",
	"events.retry_max_interval":     "30s",
	"events.dead_letter_topic":      "",
	"events.rabbitmq_url":           "",
	"events.nats_url":               "",

	"datastore.driver":       "sqlite3",
	"datastore.url":          "file:taskflow.db?_busy_timeout=5000",
	"datastore.match_policy": MatchUUIDThenName,

	"files.stats":     "data/stats.json",
	"files.anomalies": "data/anomalies.json",

	"processing.period_sec":  5,
	"processing.source":      SourceJournal,
	"processing.storage_url": "http://localhost:8090",
	"processing.batch_limit": 1000,

	"metrics.enabled": true,
}

var validate = validator.New()

// Loader reads one configuration file with environment overrides and can watch
// it for changes.
type Loader struct {
	v    *viper.Viper
	path string

	mu sync.Mutex
}

// NewLoader prepares a loader for the YAML file at path. An empty path loads
// defaults and environment only.
func NewLoader(path string) *Loader {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, path: path}
}

// SetDefault overrides a built-in default. Binaries use it for their service
// name and port.
func (l *Loader) SetDefault(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.v.SetDefault(key, value)
}

// Load reads, unmarshals and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", l.path, err)
			}
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	cfg.normalize()

	if err := validate.Struct(&cfg); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}
	return &cfg, nil
}

// OnChange watches the config file and invokes fn with the reloaded
// configuration after every write. A reload that fails validation is passed
// to fn as an error and the caller keeps its previous settings.
func (l *Loader) OnChange(fn func(*Config, error)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		fn(cfg, err)
	})
	l.v.WatchConfig()
}

// Load is a shortcut for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func (c *Config) normalize() {
	c.Events.PubSubSystem = strings.ToLower(strings.TrimSpace(c.Events.PubSubSystem))
	if c.Events.ConsumerGroup == "" {
		c.Events.ConsumerGroup = c.Service.Name
	}
	if len(c.Thresholds) > 0 {
		lowered := make(map[string]float64, len(c.Thresholds))
		for k, v := range c.Thresholds {
			lowered[strings.ToLower(k)] = v
		}
		c.Thresholds = lowered
	}
}

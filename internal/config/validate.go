package config

import (
	"errors"
	"fmt"
	"strings"

	"viewbot/internal/pipeline"
	"viewbot/internal/scheduler"
)

var ErrInvalid = errors.New("invalid config")

// Validate reports every problem it finds, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
		}
	}

	if cfg.Delivery.Workers < 0 {
		add("delivery.workers must be >= 0")
	}
	if cfg.Delivery.RatePerSec < 0 {
		add("delivery.rate_per_sec must be >= 0")
	}
	dur("delivery.send_timeout", cfg.Delivery.SendTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "slack":
		if strings.TrimSpace(cfg.Transport.Slack.Token) == "" {
			add("transport.slack.token is required")
		}
		if cfg.Interaction.Enabled && strings.TrimSpace(cfg.Transport.Slack.SigningSecret) == "" {
			add("transport.slack.signing_secret is required when interaction is enabled")
		}
		dur("transport.slack.timeout", cfg.Transport.Slack.Timeout)
	case "telegram":
		if strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
			add("transport.telegram.token is required")
		}
		dur("transport.telegram.poll_timeout", cfg.Transport.Telegram.PollTimeout)
		dur("transport.telegram.state_ttl", cfg.Transport.Telegram.StateTTL)
	case "log", "":
	default:
		add("unknown transport.driver %q", cfg.Transport.Driver)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required for driver %q", s.Driver)
			}
		default:
			add("unknown storage.driver %q", s.Driver)
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Source.Driver)) {
	case "sql":
		if strings.TrimSpace(cfg.Source.DSN) == "" {
			add("source.dsn is required for the sql driver")
		}
	case "file":
		if strings.TrimSpace(cfg.Source.Path) == "" {
			add("source.path is required for the file driver")
		}
	case "":
	default:
		add("unknown source.driver %q", cfg.Source.Driver)
	}
	dur("source.timeout", cfg.Source.Timeout)

	if cfg.Logging.Ops.Enabled && strings.TrimSpace(cfg.Logging.Ops.Channel) == "" {
		add("logging.ops.channel is required when ops logging is enabled")
	}

	seen := map[string]bool{}
	for i, v := range cfg.Views {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			add("views[%d].name is required", i)
			continue
		}
		if seen[name] {
			add("duplicate view %q", name)
		}
		seen[name] = true
		if strings.TrimSpace(v.Channel) == "" {
			add("view %q: channel is required", name)
		}
		if _, ok := pipeline.ParseStrategy(v.Strategy); !ok {
			add("view %q: unknown strategy %q", name, v.Strategy)
		}
		if err := v.ViewDefaults().Validate(); err != nil {
			add("view %q: %v", name, err)
		}
		if strings.TrimSpace(v.Schedule) != "" {
			if _, err := scheduler.CheckSchedule(v.Schedule); err != nil {
				add("view %q: %v", name, err)
			}
		}
		if _, err := v.RunTimeout(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
		}
	}
	return errors.Join(errs...)
}

package config

import (
	"strings"

	"viewbot/internal/view"
)

type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Delivery    DeliveryConfig    `json:"delivery"`
	Transport   TransportConfig   `json:"transport"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Source      SourceConfig      `json:"source"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Interaction InteractionConfig `json:"interaction"`
	Views       []ViewConfig      `json:"views"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Ops     LoggingOps  `json:"ops"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOps forwards warn+ records to a channel through the active transport.
type LoggingOps struct {
	Enabled    bool   `json:"enabled"`
	Channel    string `json:"channel"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DeliveryConfig controls the coordinator.
//
// Defaults: workers=1, rate_per_sec=0 (unlimited), send_timeout="0s" (none).
type DeliveryConfig struct {
	Workers     int    `json:"workers"`
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout"`
}

// TransportConfig selects where messages go: "slack", "telegram" or "log".
type TransportConfig struct {
	Driver   string         `json:"driver"`
	Slack    SlackConfig    `json:"slack"`
	Telegram TelegramConfig `json:"telegram"`
}

type SlackConfig struct {
	Token         string `json:"token"`
	SigningSecret string `json:"signing_secret"`
	APIURL        string `json:"api_url,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	MaxRetries    int    `json:"max_retries,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// StateTTL bounds how long option buttons stay answerable.
	StateTTL string `json:"state_ttl,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./viewbot.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SourceConfig struct {
	Driver    string `json:"driver"` // sql | file
	SQLDriver string `json:"sql_driver,omitempty"`
	DSN       string `json:"dsn,omitempty"`
	Path      string `json:"path,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// InteractionConfig controls the HTTP listener that serves Slack
// interactivity callbacks and the history API.
type InteractionConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
}

// ViewConfig is one notification view.
type ViewConfig struct {
	Name        string `json:"name"`
	Group       string `json:"group,omitempty"`
	Channel     string `json:"channel"`
	Strategy    string `json:"strategy,omitempty"`
	MessageText string `json:"message_text,omitempty"`
	Schedule    string `json:"schedule,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	// Query is SQL text for the sql source and a row-list key for the file
	// source. Empty means the view name.
	Query string `json:"query,omitempty"`

	ResponseType    string   `json:"response_type,omitempty"`
	ResponseMessage string   `json:"response_message,omitempty"`
	ReplaceOriginal *bool    `json:"replace_original,omitempty"`
	DetailColumns   []string `json:"detail_columns,omitempty"`

	// Custom is merged into every message's custom data.
	Custom map[string]any `json:"custom,omitempty"`
	// Extra adds view-identifying keys to the envelope.
	Extra map[string]any `json:"extra,omitempty"`
	// Disabled views are validated but never scheduled.
	Disabled bool `json:"disabled,omitempty"`
}

// ViewDefaults returns the view-wide defaults the row resolver starts from.
func (v ViewConfig) ViewDefaults() view.Config {
	rt := view.ResponseType(strings.TrimSpace(v.ResponseType))
	if p, ok := view.ParseResponseType(v.ResponseType); ok {
		rt = p
	}
	return view.Config{
		ResponseType:    rt,
		ResponseMessage: v.ResponseMessage,
		ReplaceOriginal: v.ReplaceOriginal,
		DetailColumns:   v.DetailColumns,
	}
}

// QueryOrName returns the source query for the view.
func (v ViewConfig) QueryOrName() string {
	if q := strings.TrimSpace(v.Query); q != "" {
		return q
	}
	return v.Name
}

// View returns the view called name.
func (c *Config) View(name string) (ViewConfig, bool) {
	if c == nil {
		return ViewConfig{}, false
	}
	for _, v := range c.Views {
		if v.Name == name {
			return v, true
		}
	}
	return ViewConfig{}, false
}

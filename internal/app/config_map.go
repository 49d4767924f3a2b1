package app

import (
	"fmt"
	"strings"
	"time"

	"viewbot/internal/config"
	"viewbot/internal/delivery"
	"viewbot/internal/source"
	"viewbot/internal/storage"
	logx "viewbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Ops: logx.OpsConfig{
			Enabled:    l.Ops.Enabled,
			Channel:    l.Ops.Channel,
			MinLevel:   l.Ops.MinLevel,
			RatePerSec: l.Ops.RatePerSec,
		},
	}
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	d := cfg.Delivery
	timeout, err := config.ParseDurationField("delivery.send_timeout", d.SendTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	workers := d.Workers
	if workers <= 0 {
		workers = 1
	}
	return delivery.Config{Workers: workers, RatePerSec: max(0, d.RatePerSec), SendTimeout: timeout}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSourceConfig(cfg *config.Config) (source.Config, bool, error) {
	s := cfg.Source
	if strings.TrimSpace(s.Driver) == "" {
		return source.Config{}, false, nil
	}
	timeout, err := config.ParseDurationField("source.timeout", s.Timeout)
	if err != nil {
		return source.Config{}, false, err
	}
	return source.Config{
		Driver:    s.Driver,
		SQLDriver: s.SQLDriver,
		DSN:       s.DSN,
		Path:      s.Path,
		Timeout:   timeout,
	}, true, nil
}

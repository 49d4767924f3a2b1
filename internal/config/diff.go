package config

import (
	"reflect"
	"sort"
	"strings"

	logx "viewbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe structured attrs
// for logging (never tokens or DSNs) and the names of views that were added,
// removed or modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.ops_enabled", newCfg.Logging.Ops.Enabled),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.workers", newCfg.Delivery.Workers),
			logx.Int("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.String("delivery.send_timeout", strings.TrimSpace(newCfg.Delivery.SendTimeout)),
		)
	}

	// transport: secrets compared but only reported as set/unset
	if oldCfg.Transport != newCfg.Transport {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", newCfg.Transport.Driver),
			logx.Bool("transport.slack_token_set", strings.TrimSpace(newCfg.Transport.Slack.Token) != ""),
			logx.Bool("transport.telegram_token_set", strings.TrimSpace(newCfg.Transport.Telegram.Token) != ""),
		)
	}

	var oStore, nStore StorageConfig
	if oldCfg.Storage != nil {
		oStore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nStore = *newCfg.Storage
	}
	if oStore != nStore {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nStore.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nStore.Path) != ""),
		)
	}

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs, logx.String("source.driver", newCfg.Source.Driver))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.Interaction != newCfg.Interaction {
		changed = append(changed, "interaction")
		attrs = append(attrs, logx.Bool("interaction.enabled", newCfg.Interaction.Enabled))
	}

	views := diffViews(oldCfg.Views, newCfg.Views)
	if len(views) > 0 {
		changed = append(changed, "views")
		attrs = append(attrs, logx.Int("views.count", len(newCfg.Views)))
	}

	sort.Strings(changed)
	return changed, attrs, views
}

func diffViews(oldV, newV []ViewConfig) []string {
	index := func(vs []ViewConfig) map[string]ViewConfig {
		m := make(map[string]ViewConfig, len(vs))
		for _, v := range vs {
			m[v.Name] = v
		}
		return m
	}
	om, nm := index(oldV), index(newV)

	set := map[string]struct{}{}
	for k := range om {
		set[k] = struct{}{}
	}
	for k := range nm {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := om[name]
		n, inNew := nm[name]
		if inOld != inNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"viewbot/internal/config"
	"viewbot/internal/delivery"
	"viewbot/internal/interaction"
	"viewbot/internal/pipeline"
	"viewbot/internal/source"
	"viewbot/internal/storage"
	"viewbot/internal/transport/logsink"
	"viewbot/internal/transport/slack"
	"viewbot/internal/transport/telegram"
	logx "viewbot/pkg/logx"
)

var (
	ErrUnknownView = errors.New("unknown view")
	ErrNoSource    = errors.New("source is not configured")
	ErrNoStorage   = errors.New("storage is not configured")
)

// Transport is what a chat backend must offer: item delivery plus plain
// text for the ops log sink.
type Transport interface {
	delivery.Transport
	logx.Poster
}

type Option func(*options)

type options struct {
	transport Transport
	source    source.Source
	dryRun    io.Writer
	dry       bool
}

// WithTransport replaces the configured transport.
func WithTransport(t Transport) Option { return func(o *options) { o.transport = t } }

// WithSource replaces the configured row source.
func WithSource(s source.Source) Option { return func(o *options) { o.source = s } }

// WithDryRun sends every message to the log transport, dumping JSON lines to
// out when it is non-nil.
func WithDryRun(out io.Writer) Option {
	return func(o *options) { o.dry, o.dryRun = true, out }
}

type App struct {
	cfgm *config.ConfigManager
	log  logx.Logger
	logs *logx.Service

	store storage.Store
	src   source.Source

	tr    Transport
	slack *slack.Client
	tg    *telegram.Bot

	coord *delivery.Coordinator
	pipe  *pipeline.Pipeline
}

// New loads cfgPath and builds every component serve and run need.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	// The ops sink needs the transport, which needs a logger. Start with no
	// poster and attach it once the transport exists.
	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc}
	cfgm.SetLogger(log)

	if err := a.build(cfg, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	logSvc.SetPoster(a.tr)
	return a, nil
}

func (a *App) build(cfg *config.Config, o options) error {
	log := a.logs.Logger()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	switch {
	case o.source != nil:
		a.src = o.source
	default:
		sc, enabled, err := mapSourceConfig(cfg)
		if err != nil {
			return err
		}
		if enabled {
			src, err := source.Open(sc)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			a.src = src
		}
	}

	switch {
	case o.transport != nil:
		a.tr = o.transport
	case o.dry:
		a.tr = logsink.New(o.dryRun, log)
	default:
		if err := a.buildTransport(cfg, log); err != nil {
			return err
		}
	}

	dc, err := mapDeliveryConfig(cfg)
	if err != nil {
		return err
	}
	var history delivery.Logger
	if a.store != nil {
		history = storage.HistoryLogger(a.store)
	}
	a.coord = delivery.New(dc, a.tr, history, log)
	a.pipe = pipeline.New(a.coord, log)
	return nil
}

func (a *App) buildTransport(cfg *config.Config, log logx.Logger) error {
	t := cfg.Transport
	switch strings.ToLower(strings.TrimSpace(t.Driver)) {
	case "slack":
		timeout, err := config.ParseDurationField("transport.slack.timeout", t.Slack.Timeout)
		if err != nil {
			return err
		}
		c, err := slack.New(slack.Config{
			Token:      t.Slack.Token,
			APIURL:     t.Slack.APIURL,
			Timeout:    timeout,
			MaxRetries: t.Slack.MaxRetries,
		}, log)
		if err != nil {
			return err
		}
		a.slack, a.tr = c, c
	case "telegram":
		poll, err := config.ParseDurationOrDefault("transport.telegram.poll_timeout", t.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		ttl, err := config.ParseDurationField("transport.telegram.state_ttl", t.Telegram.StateTTL)
		if err != nil {
			return err
		}
		var persist telegram.Persister
		if a.store != nil {
			persist = a.store
		}
		b, err := telegram.New(telegram.Config{Token: t.Telegram.Token, PollTimeout: poll, StateTTL: ttl},
			telegram.NewMemoryStore(ttl, persist), log)
		if err != nil {
			return err
		}
		b.OnAction = func(_ context.Context, act interaction.Action, r interaction.Response) {
			a.logAction("telegram", act.UserID, act.Value, r)
		}
		a.tg, a.tr = b, b
	default:
		a.tr = logsink.New(nil, log)
	}
	return nil
}

func (a *App) logAction(via, user, value string, r interaction.Response) {
	a.log.Info("action answered",
		logx.String("via", via),
		logx.String("view", r.View),
		logx.String("view_group", r.ViewGroup),
		logx.Int("row", r.RowIndex),
		logx.String("user", user),
		logx.String("value", value),
		logx.String("response_type", string(r.ResponseType)),
	)
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

// RunView fetches the view's rows and delivers them once. The error is only
// non-nil when nothing could be attempted; per-item failures are in the
// result.
func (a *App) RunView(ctx context.Context, name string) (delivery.Result, error) {
	cfg := a.cfgm.Get()
	v, ok := cfg.View(name)
	if !ok {
		return delivery.Result{}, fmt.Errorf("%w: %s", ErrUnknownView, name)
	}
	if a.src == nil {
		return delivery.Result{}, ErrNoSource
	}
	timeout, err := v.RunTimeout()
	if err != nil {
		return delivery.Result{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := a.src.Rows(ctx, v.QueryOrName())
	if err != nil {
		return delivery.Result{}, fmt.Errorf("view %s: %w", name, err)
	}
	strategy, _ := pipeline.ParseStrategy(v.Strategy)
	res, err := a.pipe.Run(ctx, pipeline.Request{
		View:        v.Name,
		ViewGroup:   v.Group,
		Channel:     v.Channel,
		MessageText: v.MessageText,
		Strategy:    strategy,
		Config:      v.ViewDefaults(),
		Custom:      v.Custom,
		ViewExtra:   v.Extra,
		Rows:        rows,
	})
	if err != nil {
		return delivery.Result{}, err
	}

	fields := []logx.Field{
		logx.String("view", name),
		logx.Int("rows", len(rows)),
		logx.Int("failed", res.Failed()),
		logx.Duration("took", time.Since(start)),
	}
	if res.AllSuccess {
		a.log.Info("view delivered", fields...)
	} else {
		a.log.Warn("view delivered with failures", append(fields, logx.Any("errors", res.ErrorMap()))...)
	}
	return res, nil
}

// History returns recent delivery records, newest first.
func (a *App) History(ctx context.Context, view string, limit int) ([]delivery.Record, error) {
	if a.store == nil {
		return nil, ErrNoStorage
	}
	return a.store.RecentDeliveries(ctx, view, limit)
}

// Close releases the source, storage and log outputs.
func (a *App) Close() error {
	var errs []error
	if a.src != nil {
		errs = append(errs, a.src.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

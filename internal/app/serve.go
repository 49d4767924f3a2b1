package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"viewbot/internal/config"
	"viewbot/internal/interaction"
	"viewbot/internal/scheduler"
	"viewbot/internal/transport/slack"
	"viewbot/internal/web"
	logx "viewbot/pkg/logx"
)

const stopTimeout = 5 * time.Second

// Serve runs the scheduler, the HTTP listener, Telegram polling and config
// hot reload until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfgm.Get()

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, a.logs.Logger())
	if cfg.Scheduler.Enabled {
		a.syncSchedules(sched, cfg)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		sched.Stop(sctx)
	}()

	eg, egctx := errgroup.WithContext(ctx)

	if cfg.Interaction.Enabled {
		srv := a.webServer(cfg, sched)
		eg.Go(func() error { return srv.Serve(egctx) })
	}
	if a.tg != nil {
		eg.Go(func() error { return a.tg.Start(egctx) })
	}
	eg.Go(func() error { return a.cfgm.Watch(egctx) })

	sub := a.cfgm.Subscribe(4)
	eg.Go(func() error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(egctx, sub, sched)
		return nil
	})

	a.notify(daemon.SdNotifyReady)
	a.log.Info("serving",
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
		logx.Bool("interaction", cfg.Interaction.Enabled),
		logx.Strs("schedules", sched.Names()),
	)

	<-egctx.Done()
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("stopping")
	return eg.Wait()
}

func (a *App) webServer(cfg *config.Config, sched *scheduler.Service) *web.Server {
	wc := web.Config{Addr: cfg.Interaction.Addr, Schedules: sched.Snapshot}
	if a.store != nil {
		wc.History = a.store
	}
	if a.slack != nil {
		wc.Interactions = &slack.InteractionHandler{
			Secret:    cfg.Transport.Slack.SigningSecret,
			Responder: a.slack,
			Log:       a.logs.Logger(),
			OnAction: func(_ context.Context, act interaction.Action, r interaction.Response) {
				a.logAction("slack", act.UserID, act.Value, r)
			},
		}
	}
	return web.New(wc, a.logs.Logger())
}

func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// syncSchedules makes sched hold exactly the enabled, scheduled views of cfg.
func (a *App) syncSchedules(sched *scheduler.Service, cfg *config.Config) {
	want := map[string]config.ViewConfig{}
	for _, v := range cfg.Views {
		if v.Disabled || strings.TrimSpace(v.Schedule) == "" {
			continue
		}
		want[v.Name] = v
	}
	for _, name := range sched.Names() {
		if _, ok := want[name]; !ok {
			sched.Remove(name)
			a.log.Info("schedule removed", logx.String("view", name))
		}
	}
	for name, v := range want {
		timeout, _ := v.RunTimeout()
		if err := sched.Add(name, v.Schedule, timeout, a.viewJob(name)); err != nil {
			a.log.Warn("schedule rejected", logx.String("view", name), logx.Err(err))
		}
	}
}

// viewJob runs the view by name so a reload that edits the view is picked up
// on the next tick.
func (a *App) viewJob(name string) scheduler.Job {
	return func(ctx context.Context) error {
		res, err := a.RunView(ctx, name)
		if err != nil {
			return err
		}
		if !res.AllSuccess {
			return fmt.Errorf("%d of %d items failed", res.Failed(), len(res.Outcomes))
		}
		return nil
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, sched *scheduler.Service) {
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(ctx, applied, next, sched)
			applied = next
		}
	}
}

// apply pushes a reloaded config into the live components. Sections that
// own connections only take effect after a restart.
func (a *App) apply(ctx context.Context, prev, next *config.Config, sched *scheduler.Service) {
	sections, _, _ := config.SummarizeConfigChange(prev, next)

	a.logs.Apply(mapLoggingConfig(next))
	if dc, err := mapDeliveryConfig(next); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else {
		a.coord.Apply(dc)
	}

	if next.Scheduler.Enabled {
		a.syncSchedules(sched, next)
		if err := sched.Start(ctx); err != nil {
			a.log.Warn("scheduler start failed", logx.Err(err))
		}
	} else {
		for _, name := range sched.Names() {
			sched.Remove(name)
		}
	}

	restart := []string{"transport", "storage", "source", "interaction"}
	for _, s := range sections {
		if slices.Contains(restart, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if prev.Scheduler.Timezone != next.Scheduler.Timezone {
		a.log.Warn("scheduler timezone changed; restart required for it to take effect")
	}
}

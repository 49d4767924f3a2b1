// Package delivery sends a batch of compiled messages and aggregates the
// per-item outcomes. Delivery is best effort: items that were sent stay sent
// and a failed item never stops the others.
package delivery

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "viewbot/pkg/logx"
)

type Config struct {
	// Workers bounds concurrent sends. 1 keeps input order.
	Workers int
	// RatePerSec limits sends across the batch. 0 disables limiting.
	RatePerSec int
	// SendTimeout bounds a single transport call. 0 means no timeout.
	SendTimeout time.Duration
}

type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	transport Transport
	history   Logger
	log       logx.Logger
}

func New(cfg Config, tr Transport, history Logger, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:       cfg,
		transport: tr,
		history:   history,
		log:       log.With(logx.String("comp", "delivery")),
	}
}

// Apply swaps the pool settings for later batches.
func (c *Coordinator) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Deliver sends items and logs each attempted item exactly once. On
// cancellation no further items are dispatched; those are reported failed
// with NotDispatched and are not logged.
func (c *Coordinator) Deliver(ctx context.Context, b Batch, items []Item) Result {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	start := time.Now()
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}

	outcomes := make([]Outcome, len(items))
	dispatched := make([]bool, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				// each index is written by exactly one worker
				dispatched[i] = true
				outcomes[i] = c.process(ctx, cfg, b, i, items[i])
			}
		}()
	}

dispatch:
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		if items[i].Err == nil && lim != nil {
			if err := lim.Wait(ctx); err != nil {
				break
			}
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	skipped := 0
	for i := range items {
		if !dispatched[i] {
			outcomes[i] = Outcome{Index: i, Key: items[i].Key, Detail: NotDispatched}
			skipped++
		}
	}

	res := fold(outcomes)
	fields := []logx.Field{
		logx.String("batch", b.ID),
		logx.String("view", b.View),
		logx.Int("total", len(items)),
		logx.Int("failed", res.Failed()),
		logx.Duration("dur", time.Since(start)),
	}
	switch {
	case skipped > 0:
		c.log.Warn("batch interrupted", append(fields, logx.Int("not_dispatched", skipped))...)
	case !res.AllSuccess:
		c.log.Warn("batch finished with failures", fields...)
	default:
		c.log.Info("batch finished", fields...)
	}
	return res
}

func (c *Coordinator) process(ctx context.Context, cfg Config, b Batch, i int, it Item) Outcome {
	out := Outcome{Index: i, Key: it.Key}
	if it.Err != nil {
		out.Detail = Detail(it.Err)
	} else if err := c.send(ctx, cfg, it); err != nil {
		out.Detail = Detail(err)
		c.log.Debug("send failed", logx.String("batch", b.ID), logx.String("item", it.Key), logx.Err(err))
	} else {
		out.Success = true
	}

	// the history entry is written even when the batch was canceled mid-send
	c.record(context.WithoutCancel(ctx), b, it, out)
	return out
}

func (c *Coordinator) send(ctx context.Context, cfg Config, it Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in transport", logx.String("item", it.Key), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	if c.transport == nil {
		return fmt.Errorf("no transport configured")
	}
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	return c.transport.Send(ctx, it.Message, it.Key)
}

func (c *Coordinator) record(ctx context.Context, b Batch, it Item, out Outcome) {
	if c.history == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Debug("panic in delivery logger", logx.String("item", it.Key), logx.Any("panic", r))
		}
	}()
	channel := it.Message.Channel
	if channel == "" {
		channel = b.Channel
	}
	rec := Record{
		BatchID:       b.ID,
		ItemKey:       it.Key,
		View:          b.View,
		ViewGroup:     b.ViewGroup,
		ChannelID:     channel,
		Success:       out.Success,
		ErrorDetail:   out.Detail,
		FormattedData: it.FormattedData,
		MessageText:   it.Message.Text,
		At:            time.Now().UTC(),
	}
	if err := c.history.LogDelivery(ctx, rec); err != nil {
		c.log.Debug("delivery log failed", logx.String("item", it.Key), logx.Err(err))
	}
}

package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Poster posts plain text to a chat channel. Transports implement it so
// warnings can reach an operations channel.
type Poster interface {
	PostText(ctx context.Context, channel, text string) error
}

type PosterFunc func(ctx context.Context, channel, text string) error

func (f PosterFunc) PostText(ctx context.Context, channel, text string) error {
	return f(ctx, channel, text)
}

type opsItem struct {
	channel string
	text    string
}

// opsSink is a zerolog.LevelWriter that queues records for a background
// poster. It never blocks the caller; a full queue drops the record.
type opsSink struct {
	mu       sync.Mutex
	poster   Poster
	channel  string
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan opsItem
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newOpsSink(p Poster) *opsSink {
	return &opsSink{
		poster:   p,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan opsItem, 256),
	}
}

func (o *opsSink) setPoster(p Poster) {
	o.mu.Lock()
	o.poster = p
	o.mu.Unlock()
}

func (o *opsSink) apply(cfg OpsConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	o.mu.Lock()
	o.channel = strings.TrimSpace(cfg.Channel)
	o.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	o.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	o.mu.Unlock()

	o.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		o.cancel = cancel
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.run(ctx)
		}()
	})
}

func (o *opsSink) stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		o.wg.Wait()
	}
}

func (o *opsSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-o.queue:
			o.mu.Lock()
			p := o.poster
			o.mu.Unlock()
			if p == nil {
				continue
			}
			_ = p.PostText(ctx, it.channel, it.text)
		}
	}
}

func (o *opsSink) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.InfoLevel, p)
}

func (o *opsSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	channel, minLvl, lim, poster := o.channel, o.minLevel, o.limiter, o.poster
	o.mu.Unlock()

	if channel == "" || poster == nil || level < minLvl || !lim.Allow() {
		return len(p), nil
	}
	text := formatOpsRecord(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case o.queue <- opsItem{channel: channel, text: text}:
	default:
	}
	return len(p), nil
}

// formatOpsRecord turns one zerolog JSON line into a short chat message:
// "[LEVEL] message" followed by "- key=value" lines in key order.
func formatOpsRecord(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), limit))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

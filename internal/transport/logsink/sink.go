// Package logsink is the dry-run transport: compiled messages are logged and
// optionally dumped as JSON lines instead of being delivered.
package logsink

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"viewbot/internal/transport"
	logx "viewbot/pkg/logx"
)

type Sink struct {
	mu  sync.Mutex
	out io.Writer
	log logx.Logger
}

type dump struct {
	Item    string            `json:"item"`
	Message transport.Message `json:"message"`
}

// New returns a Sink. out may be nil.
func New(out io.Writer, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{out: out, log: log.With(logx.String("comp", "logsink"))}
}

func (s *Sink) Send(ctx context.Context, msg transport.Message, itemKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("message (dry run)",
		logx.String("item", itemKey),
		logx.String("channel", msg.Channel),
		logx.String("text", msg.Text),
		logx.Int("blocks", len(msg.Blocks)),
		logx.Int("options", len(msg.Options())),
		logx.Bool("metadata", msg.Metadata != nil),
	)
	if s.out == nil {
		return nil
	}
	b, err := json.Marshal(dump{Item: itemKey, Message: msg})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.out.Write(append(b, '\n'))
	return err
}

func (s *Sink) PostText(_ context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return nil
	}
	b, err := json.Marshal(map[string]string{"channel": channel, "text": text})
	if err != nil {
		return err
	}
	_, err = s.out.Write(append(b, '\n'))
	return err
}

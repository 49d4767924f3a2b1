package storage

import (
	"context"
	"errors"
	"time"

	"viewbot/internal/delivery"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the delivery coordinator, the CLI
// and the Telegram transport.
type Store interface {
	AppendDelivery(ctx context.Context, rec delivery.Record) error
	// RecentDeliveries returns up to limit records, newest first. An empty
	// view matches every view.
	RecentDeliveries(ctx context.Context, view string, limit int) ([]delivery.Record, error)
	PutEnvelope(ctx context.Context, token string, data []byte, expires time.Time) error
	GetEnvelope(ctx context.Context, token string) ([]byte, bool, error)
	Close() error
}

// HistoryLogger adapts s to the coordinator's per-item logger.
func HistoryLogger(s Store) delivery.Logger {
	return delivery.LoggerFunc(func(ctx context.Context, rec delivery.Record) error {
		return s.AppendDelivery(ctx, rec)
	})
}

const defaultHistoryLimit = 50

func normLimit(n int) int {
	if n <= 0 {
		return defaultHistoryLimit
	}
	return n
}

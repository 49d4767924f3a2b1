package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"viewbot/internal/delivery"
	logx "viewbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, rec delivery.Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, batch_id, item_key, view, view_group, channel_id, success, error_detail, formatted_data, message_text)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.At.UTC().Format(time.RFC3339Nano), nullStr(rec.BatchID), rec.ItemKey, rec.View, nullStr(rec.ViewGroup),
		nullStr(rec.ChannelID), boolInt(rec.Success), nullStr(rec.ErrorDetail), rec.FormattedData, rec.MessageText,
	)
	return err
}

func (s *sqliteStore) RecentDeliveries(ctx context.Context, view string, limit int) ([]delivery.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, batch_id, item_key, view, view_group, channel_id, success, error_detail, formatted_data, message_text
		 FROM deliveries WHERE (? = '' OR view = ?) ORDER BY id DESC LIMIT ?`,
		view, view, normLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Record
	for rows.Next() {
		var (
			rec                                      delivery.Record
			at                                       string
			batch, group, channel, detail, fmtd, txt sql.NullString
			ok                                       int
		)
		if err := rows.Scan(&at, &batch, &rec.ItemKey, &rec.View, &group, &channel, &ok, &detail, &fmtd, &txt); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		rec.BatchID = batch.String
		rec.ViewGroup = group.String
		rec.ChannelID = channel.String
		rec.Success = ok != 0
		rec.ErrorDetail = detail.String
		rec.FormattedData = fmtd.String
		rec.MessageText = txt.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutEnvelope(ctx context.Context, token string, data []byte, expires time.Time) error {
	if token == "" {
		return nil
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO envelopes(token, data, expires) VALUES(?,?,?)
		 ON CONFLICT(token) DO UPDATE SET data=excluded.data, expires=excluded.expires`,
		token, data, expires.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("envelope prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetEnvelope(ctx context.Context, token string) ([]byte, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	var (
		data    []byte
		expires int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, expires FROM envelopes WHERE token = ?`, token).Scan(&data, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires < time.Now().UnixMilli() {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE expires < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package source loads the rows a view is compiled from.
package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
	_ "modernc.org/sqlite"

	"viewbot/internal/table"
)

var (
	ErrQuery       = errors.New("source query failed")
	ErrUnknownView = errors.New("no rows defined for view")
)

// Source returns the rows for a view's query. What a query is depends on the
// driver: SQL text for "sql", a view key for "file".
type Source interface {
	Rows(ctx context.Context, query string) ([]table.Row, error)
	Close() error
}

type Config struct {
	Driver string // sql | file
	// SQLDriver is the database/sql driver name; "sqlite" is built in.
	SQLDriver string
	DSN       string
	Path      string
	Timeout   time.Duration
}

func Open(cfg Config) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sql":
		drv := cfg.SQLDriver
		if drv == "" {
			drv = "sqlite"
		}
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, errors.New("source.dsn is required for sql driver")
		}
		db, err := sql.Open(drv, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewSQL(db, cfg.Timeout), nil
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("source.path is required for file driver")
		}
		return NewFile(cfg.Path), nil
	case "":
		return nil, errors.New("source.driver is required")
	default:
		return nil, fmt.Errorf("unknown source driver: %s", cfg.Driver)
	}
}

// SQL runs view queries against a database.
type SQL struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQL(db *sql.DB, timeout time.Duration) *SQL {
	return &SQL{db: db, timeout: timeout}
}

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Rows(ctx context.Context, query string) ([]table.Row, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrQuery)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	var out []table.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQuery, err)
		}
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[c] = cell(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	decodeLists(out)
	return out, nil
}

// cell converts a scanned value; drivers hand text back as []byte.
func cell(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// decodeLists turns JSON array text into lists, but only in columns mapped
// to a list role, so option lists can be stored in a text column while other
// text that happens to look like an array is left alone.
func decodeLists(rows []table.Row) {
	cols := table.Normalize(table.Columns(rows)).ListColumns()
	for _, row := range rows {
		for _, c := range cols {
			s, ok := row[c].(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
				continue
			}
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				row[c] = arr
			}
		}
	}
}

// File reads rows from a YAML or JSON document mapping view keys to row
// lists. The file is re-read on every call.
type File struct {
	path string
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Close() error { return nil }

func (f *File) Rows(_ context.Context, query string) ([]table.Row, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	doc := map[string][]map[string]any{}
	switch strings.ToLower(filepath.Ext(f.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &doc)
	default:
		err = json.Unmarshal(b, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrQuery, f.path, err)
	}
	key := strings.TrimSpace(query)
	list, ok := doc[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, key)
	}
	out := make([]table.Row, 0, len(list))
	for _, m := range list {
		row := make(table.Row, len(m))
		for k, v := range m {
			row[k] = cell(v)
		}
		out = append(out, row)
	}
	decodeLists(out)
	return out, nil
}

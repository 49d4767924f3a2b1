package storage

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"viewbot/internal/delivery"
	logx "viewbot/pkg/logx"
)

const compactEvery = 1000

// fileStore keeps everything in plain files next to Path.
//
// Files:
//   - <prefix>.history.jsonl           (append-only JSON Lines)
//   - <prefix>.envelopes.snapshot.json (periodic snapshot)
//   - <prefix>.envelopes.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	historyPath string
	historyFile *os.File

	snapshotPath string
	journalFile  *os.File
	envelopes    map[string]envelopeEntry

	journalWrites int
}

type envelopeEntry struct {
	Data    []byte `json:"data"`
	Expires int64  `json:"expires"` // unix milli
}

type envelopeRecord struct {
	Token   string `json:"token"`
	Data    string `json:"data"` // base64
	Expires int64  `json:"expires"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	historyPath := prefix + ".history.jsonl"
	snapPath := prefix + ".envelopes.snapshot.json"
	journalPath := prefix + ".envelopes.journal.jsonl"

	hf, err := os.OpenFile(historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	envs := map[string]envelopeEntry{}
	if err := loadSnapshot(snapPath, envs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("envelope snapshot unreadable", logx.Err(err))
	}
	if err := replayJournal(journalPath, envs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("envelope journal unreadable", logx.Err(err))
	}
	pruneExpired(envs, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		historyPath:  historyPath,
		historyFile:  hf,
		snapshotPath: snapPath,
		journalFile:  jf,
		envelopes:    envs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.historyFile != nil {
		err1 = s.historyFile.Close()
		s.historyFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendDelivery(_ context.Context, rec delivery.Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.historyFile).Encode(rec)
}

func (s *fileStore) RecentDeliveries(ctx context.Context, view string, limit int) ([]delivery.Record, error) {
	limit = normLimit(limit)
	s.mu.Lock()
	closed := s.historyFile == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	f, err := os.Open(s.historyPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// ring of the last `limit` matches
	ring := make([]delivery.Record, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec delivery.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if view != "" && rec.View != view {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, rec)
			continue
		}
		ring[next] = rec
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]delivery.Record, 0, len(ring))
	for i := range ring {
		// walk backwards from the newest entry
		idx := (next - 1 - i + 2*len(ring)) % len(ring)
		out = append(out, ring[idx])
	}
	return out, nil
}

func (s *fileStore) PutEnvelope(_ context.Context, token string, data []byte, expires time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	ms := expires.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	s.envelopes[token] = envelopeEntry{Data: append([]byte(nil), data...), Expires: ms}

	rec := envelopeRecord{Token: token, Data: base64.StdEncoding.EncodeToString(data), Expires: ms}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.journalWrites++
	if s.journalWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("envelope compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetEnvelope(_ context.Context, token string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.envelopes[strings.TrimSpace(token)]
	if !ok || e.Expires < time.Now().UnixMilli() {
		return nil, false, nil
	}
	return append([]byte(nil), e.Data...), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpired(s.envelopes, time.Now())

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.envelopes); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]envelopeEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]envelopeEntry
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]envelopeEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		var r envelopeRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Token == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			continue
		}
		out[r.Token] = envelopeEntry{Data: data, Expires: r.Expires}
	}
	return sc.Err()
}

func pruneExpired(m map[string]envelopeEntry, now time.Time) {
	ms := now.UnixMilli()
	for k, v := range m {
		if v.Expires < ms {
			delete(m, k)
		}
	}
}

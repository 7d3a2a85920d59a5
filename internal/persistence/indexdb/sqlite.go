package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"railcart.ai/internal/sim/lifecycle"
	"railcart.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of ownership events. Writes are
// queued to a single writer goroutine; JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan lifecycle.Record
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropped atomic.Uint64
	written atomic.Uint64
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	WrittenTotal  uint64 `json:"written_total"`
	DroppedTotal  uint64 `json:"dropped_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan lifecycle.Record, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only workload; NORMAL is enough for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ownership_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			player_id TEXT NOT NULL,
			player_name TEXT,
			vehicle INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ownership_player ON ownership_events(player_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_ownership_kind ON ownership_events(kind, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteOwnership queues rec for indexing. It never blocks; records are
// dropped when the writer falls behind.
func (s *SQLiteIndex) WriteOwnership(rec lifecycle.Record) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	rec.Player = nil
	select {
	case s.ch <- rec:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		WrittenTotal:  s.written.Load(),
		DroppedTotal:  s.dropped.Load(),
	}
}

// UpsertTuning stores the applied configuration with its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// HistoryQuery filters History. Zero values mean "any".
type HistoryQuery struct {
	PlayerID string
	Kind     lifecycle.Kind
	AfterSeq int64
	Limit    int
}

type HistoryRow struct {
	Seq    int64            `json:"seq"`
	Record lifecycle.Record `json:"record"`
}

// History returns indexed events in insertion order.
func (s *SQLiteIndex) History(ctx context.Context, q HistoryQuery) ([]HistoryRow, error) {
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	var (
		where []string
		args  []any
	)
	where = append(where, "seq > ?")
	args = append(args, q.AfterSeq)
	if q.PlayerID != "" {
		where = append(where, "player_id = ?")
		args = append(args, q.PlayerID)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, raw_json FROM ownership_events WHERE `+strings.Join(where, " AND ")+` ORDER BY seq LIMIT ?`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			row HistoryRow
			raw string
		)
		if err := rows.Scan(&row.Seq, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &row.Record); err != nil {
			return nil, fmt.Errorf("event %d: %w", row.Seq, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insert, _ := s.db.Prepare(`INSERT INTO ownership_events(at,kind,player_id,player_name,vehicle,x,y,z,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		batch         = txBatch{written: &s.written, dropped: &s.dropped}
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 250 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		batch.committed(tx.Commit())
		tx = nil
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		batch.rolledBack()
		tx = nil
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				s.dropped.Add(1)
				continue
			}
			begin()
			if tx == nil || insert == nil {
				s.dropped.Add(1)
				continue
			}
			if _, err := tx.Stmt(insert).Exec(
				rec.Time.UTC().Format(time.RFC3339Nano),
				string(rec.Kind),
				rec.PlayerID,
				rec.PlayerName,
				int64(rec.Vehicle),
				rec.Pos.X, rec.Pos.Y, rec.Pos.Z,
				rec.Reason,
				string(raw),
			); err != nil {
				// The failed row and everything staged before it are lost.
				s.dropped.Add(1)
				rollback()
				continue
			}
			if batch.added() >= commitEvery {
				commit()
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

// txBatch counts rows staged in the open transaction. Rows become written
// only when the transaction commits; a failed commit or a rollback drops
// them.
type txBatch struct {
	pending int
	written *atomic.Uint64
	dropped *atomic.Uint64
}

func (b *txBatch) added() int {
	b.pending++
	return b.pending
}

func (b *txBatch) committed(err error) {
	if err != nil {
		b.dropped.Add(uint64(b.pending))
	} else {
		b.written.Add(uint64(b.pending))
	}
	b.pending = 0
}

func (b *txBatch) rolledBack() {
	b.dropped.Add(uint64(b.pending))
	b.pending = 0
}

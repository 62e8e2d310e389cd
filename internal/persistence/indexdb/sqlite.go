package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kmorrisongr/rustcraft-sub000/internal/persistence/snapshot"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/fluid"
)

// SQLiteIndex is a queryable secondary index over the simulation's
// persistence artifacts: snapshot files, per-tick stats, and conservation
// exceptions. All writes go through a single writer goroutine; callers
// never block on the database.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqLoss
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	tick     fluid.TickStats
	loss     fluid.ConservationLoss
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	Seed       int64
	Cells      int
	Chunks     int
	Volume     float64
	RecordedAt string
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
		// Generous buffer: tick stats arrive every tick and must never
		// stall the simulation loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
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
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			awake_patches INTEGER NOT NULL,
			moved_volume REAL NOT NULL,
			regions INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			total_volume REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conservation_losses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			amount REAL NOT NULL,
			reason TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_losses_tick ON conservation_losses(tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			total_volume REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqTick:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO ticks (tick, awake_patches, moved_volume, regions, cells, total_volume)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				r.tick.Tick, r.tick.AwakePatches, r.tick.MovedVolume,
				r.tick.Regions, r.tick.Cells, r.tick.TotalVolume,
			)
		case reqLoss:
			_, _ = s.db.Exec(
				`INSERT INTO conservation_losses (tick, x, y, z, amount, reason)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				r.loss.Tick, r.loss.Pos[0], r.loss.Pos[1], r.loss.Pos[2],
				r.loss.Amount, r.loss.Reason,
			)
		case reqSnapshot:
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO snapshots (tick, path, seed, cells, chunks, total_volume, recorded_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.snapshot.Tick, r.snapshot.Path, r.snapshot.Seed,
				r.snapshot.Cells, r.snapshot.Chunks, r.snapshot.Volume,
				r.snapshot.RecordedAt,
			)
		case reqFlush:
			close(r.done)
		}
	}
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

// WriteTick queues a tick-stats row. Drops when the indexer falls behind;
// the JSONL logs remain the source of truth.
func (s *SQLiteIndex) WriteTick(stats fluid.TickStats) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTick, tick: stats}:
	default:
	}
}

// WriteLoss queues a conservation-exception row.
func (s *SQLiteIndex) WriteLoss(loss fluid.ConservationLoss) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqLoss, loss: loss}:
	default:
	}
}

// RecordSnapshot queues a snapshot-file row.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.WaterV1) {
	if s == nil || s.closed.Load() {
		return
	}
	var vol float64
	for _, c := range snap.Cells {
		vol += c.Volume
	}
	r := snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		Seed:       snap.Seed,
		Cells:      len(snap.Cells),
		Chunks:     len(snap.Chunks),
		Volume:     vol,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

// Flush blocks until every write queued before the call has been applied.
// Intended for tests and shutdown paths that want to query what they just
// wrote.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

// LatestSnapshot returns the most recent snapshot row, if any.
func (s *SQLiteIndex) LatestSnapshot() (tick uint64, path string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT tick, path FROM snapshots ORDER BY tick DESC LIMIT 1`)
	if scanErr := row.Scan(&tick, &path); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, "", false, nil
		}
		return 0, "", false, scanErr
	}
	return tick, path, true, nil
}

// TotalLostVolume sums every recorded conservation exception.
func (s *SQLiteIndex) TotalLostVolume() (float64, error) {
	row := s.db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM conservation_losses`)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

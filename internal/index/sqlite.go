package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by synchronous calls after Close.
var ErrClosed = errors.New("index closed")

// Run describes one generation session.
type Run struct {
	ID        int64
	Digest    string
	Name      string
	Generator string
	Seed      uint32
	Center    [3]int
	Radius    int
	StartedAt time.Time

	FinishedAt   time.Time
	Chunks       int
	TotalSolid   int64
	WithGeometry int
	Err          string
}

// Chunk is the per-chunk diagnostics row. ElapsedMS counts from the start of
// the run until the chunk was stored.
type Chunk struct {
	RunID     int64
	X, Y, Z   int
	Solid     int
	Path      string
	Bytes     int
	ElapsedMS int64
}

// RunResult closes a run row.
type RunResult struct {
	Chunks       int
	TotalSolid   int64
	WithGeometry int
	Err          error
}

// SQLiteIndex is a read model of generation runs. Chunk rows are written
// asynchronously by a single writer goroutine and batched into transactions;
// they are dropped rather than blocking generation when the writer falls
// behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once
	mu   sync.RWMutex

	closed  atomic.Bool
	dropped atomic.Int64
}

type reqKind int

const (
	reqBeginRun reqKind = iota + 1
	reqChunk
	reqFinishRun
	reqFlush
)

type req struct {
	kind   reqKind
	run    Run
	chunk  Chunk
	result RunResult
	reply  chan reply
}

type reply struct {
	id  int64
	err error
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
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
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			digest TEXT NOT NULL,
			name TEXT NOT NULL,
			generator TEXT NOT NULL,
			seed INTEGER NOT NULL,
			center_x INTEGER NOT NULL,
			center_y INTEGER NOT NULL,
			center_z INTEGER NOT NULL,
			radius INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			chunks INTEGER NOT NULL DEFAULT 0,
			total_solid INTEGER NOT NULL DEFAULT 0,
			with_geometry INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(digest);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			solid INTEGER NOT NULL,
			path TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, x, y, z)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init index schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports how many chunk rows were lost: refused by a full writer
// queue or discarded with a batch that failed to write.
func (s *SQLiteIndex) Dropped() int64 {
	return s.dropped.Load()
}

// BeginRun inserts a run row and returns its id.
func (s *SQLiteIndex) BeginRun(ctx context.Context, run Run) (int64, error) {
	r, err := s.call(ctx, req{kind: reqBeginRun, run: run})
	return r.id, err
}

// RecordChunk queues a chunk row. It never blocks.
func (s *SQLiteIndex) RecordChunk(c Chunk) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqChunk, chunk: c}:
	default:
		s.dropped.Add(1)
	}
}

// FinishRun stores the run totals once every chunk queued before it has been
// written.
func (s *SQLiteIndex) FinishRun(ctx context.Context, id int64, res RunResult) error {
	_, err := s.call(ctx, req{kind: reqFinishRun, run: Run{ID: id}, result: res})
	return err
}

// Flush waits until every queued row is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	_, err := s.call(ctx, req{kind: reqFlush})
	return err
}

func (s *SQLiteIndex) call(ctx context.Context, r req) (reply, error) {
	r.reply = make(chan reply, 1)

	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return reply{}, ErrClosed
	}
	select {
	case s.ch <- r:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return reply{}, ctx.Err()
	}

	select {
	case rep := <-r.reply:
		return rep, rep.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertChunk, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunks(run_id,x,y,z,solid,path,bytes,elapsed_ms) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertChunk != nil {
			_ = insertChunk.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 512
	)

	// Rows in an uncommitted batch are lost if the batch fails; they count
	// as dropped like rows refused by a full queue.
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		if err != nil {
			s.dropped.Add(int64(opCount))
		}
		tx = nil
		opCount = 0
		return err
	}

	for r := range s.ch {
		switch r.kind {
		case reqChunk:
			if insertChunk == nil {
				s.dropped.Add(1)
				continue
			}
			if tx == nil {
				txx, err := s.db.BeginTx(ctx, nil)
				if err != nil {
					s.dropped.Add(1)
					continue
				}
				tx = txx
			}
			c := r.chunk
			if _, err := tx.Stmt(insertChunk).Exec(c.RunID, c.X, c.Y, c.Z, c.Solid, c.Path, c.Bytes, c.ElapsedMS); err != nil {
				_ = tx.Rollback()
				s.dropped.Add(int64(opCount) + 1)
				tx = nil
				opCount = 0
				continue
			}
			opCount++

		case reqBeginRun:
			err := commit()
			var id int64
			if err == nil {
				id, err = insertRun(ctx, s.db, r.run)
			}
			r.reply <- reply{id: id, err: err}

		case reqFinishRun:
			err := commit()
			if err == nil {
				err = finishRun(ctx, s.db, r.run.ID, r.result)
			}
			r.reply <- reply{id: r.run.ID, err: err}

		case reqFlush:
			r.reply <- reply{err: commit()}
		}

		// Keep transactions short so readers on the shared connection are
		// not held up once the queue drains.
		if opCount >= commitEvery || len(s.ch) == 0 {
			_ = commit()
		}
	}
	_ = commit()
}

func insertRun(ctx context.Context, db *sql.DB, run Run) (int64, error) {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO runs(digest,name,generator,seed,center_x,center_y,center_z,radius,started_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		run.Digest, run.Name, run.Generator, int64(run.Seed),
		run.Center[0], run.Center[1], run.Center[2], run.Radius,
		started.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

func finishRun(ctx context.Context, db *sql.DB, id int64, res RunResult) error {
	msg := ""
	if res.Err != nil {
		msg = res.Err.Error()
	}
	out, err := db.ExecContext(ctx,
		`UPDATE runs SET finished_at=?, chunks=?, total_solid=?, with_geometry=?, error=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339Nano), res.Chunks, res.TotalSolid, res.WithGeometry, msg, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %d: no such run", id)
	}
	return nil
}

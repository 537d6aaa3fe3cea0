package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = `id,digest,name,generator,seed,center_x,center_y,center_z,radius,
	started_at,finished_at,chunks,total_solid,with_geometry,error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r        Run
		seed     int64
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Digest, &r.Name, &r.Generator, &seed,
		&r.Center[0], &r.Center[1], &r.Center[2], &r.Radius,
		&started, &finished, &r.Chunks, &r.TotalSolid, &r.WithGeometry, &r.Err); err != nil {
		return Run{}, err
	}
	r.Seed = uint32(seed)
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	return r, nil
}

// Runs lists runs, newest first.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRun returns the newest successfully finished run for a terrain digest.
func (s *SQLiteIndex) LatestRun(ctx context.Context, digest string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE digest=? AND finished_at IS NOT NULL AND error=''
		ORDER BY id DESC LIMIT 1`, digest)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("query latest run: %w", err)
	}
	return r, true, nil
}

// Chunks lists the chunk rows of a run ordered by position.
func (s *SQLiteIndex) Chunks(ctx context.Context, runID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,x,y,z,solid,path,bytes,elapsed_ms
		FROM chunks WHERE run_id=? ORDER BY x,y,z`, runID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.RunID, &c.X, &c.Y, &c.Z, &c.Solid, &c.Path, &c.Bytes, &c.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

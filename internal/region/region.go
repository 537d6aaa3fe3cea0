package region

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxelgen/internal/logging"
	"voxelgen/internal/terrain"
	"voxelgen/internal/voxel"
)

// Cube lists every chunk position within radius of center on each axis, in
// ChunkPos.Less order.
func Cube(center voxel.ChunkPos, radius int) []voxel.ChunkPos {
	if radius < 0 {
		return nil
	}
	side := 2*radius + 1
	out := make([]voxel.ChunkPos, 0, side*side*side)
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			for dz := -radius; dz <= radius; dz++ {
				out = append(out, center.Add(dx, dy, dz))
			}
		}
	}
	return out
}

// Summary aggregates the diagnostics of one run.
type Summary struct {
	Chunks       int
	TotalSolid   int64
	WithGeometry int
	Empty        int
	Full         int
	Elapsed      time.Duration
}

func (s *Summary) add(c *voxel.Chunk) {
	s.Chunks++
	s.TotalSolid += int64(c.Solid)
	switch {
	case c.Empty():
		s.Empty++
	case c.Full():
		s.Full++
	default:
		s.WithGeometry++
	}
}

// Runner fans chunk voxelization out over a fixed set of workers.
type Runner struct {
	gen     terrain.Generator
	pool    *voxel.Pool
	workers int
	logger  *zap.Logger
}

type Option func(*Runner)

// WithWorkers fixes the worker count. Zero or less picks GOMAXPROCS*2.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithPool draws chunk buffers from p. Chunks handed to a Stream callback are
// released back to p once the callback returns. Workers wait for a free
// buffer when p's budget is used up, so any budget of at least one buffer
// completes.
func WithPool(p *voxel.Pool) Option {
	return func(r *Runner) { r.pool = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func NewRunner(gen terrain.Generator, opts ...Option) *Runner {
	r := &Runner{gen: gen}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger).Named("region")
	return r
}

func (r *Runner) workerCount(total int) int {
	if total <= 0 {
		return 0
	}
	workers := r.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) * 2
	}
	if workers > total {
		workers = total
	}
	if workers <= 0 {
		workers = 1
	}
	return workers
}

// Result holds every generated chunk sorted by position.
type Result struct {
	Chunks  []*voxel.Chunk
	Summary Summary
}

// Generate voxelizes all positions and returns them sorted by position, so
// the output does not depend on scheduling.
func (r *Runner) Generate(ctx context.Context, positions []voxel.ChunkPos) (*Result, error) {
	chunks := make([]*voxel.Chunk, 0, len(positions))
	summary, err := r.Stream(ctx, positions, func(c *voxel.Chunk) error {
		if r.pool != nil {
			c = clone(c)
		}
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Pos.Less(chunks[j].Pos) })
	return &Result{Chunks: chunks, Summary: summary}, nil
}

func clone(c *voxel.Chunk) *voxel.Chunk {
	buf := make([]voxel.Material, len(c.Voxels))
	copy(buf, c.Voxels)
	return &voxel.Chunk{Pos: c.Pos, Voxels: buf, Solid: c.Solid}
}

// Stream voxelizes positions concurrently and calls fn for each chunk in
// completion order, always from the calling goroutine. The first error from a
// worker, from fn or from ctx cancels the remaining work and is returned.
func (r *Runner) Stream(ctx context.Context, positions []voxel.ChunkPos, fn func(*voxel.Chunk) error) (Summary, error) {
	start := time.Now()
	var summary Summary

	total := len(positions)
	if total == 0 {
		r.logger.Info("region generation progress", zap.Int("percent", 100), zap.Int("chunks", 0))
		return summary, nil
	}

	r.logger.Info("region generation progress", zap.Int("percent", 0), zap.Int("chunks", total))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type chunkResult struct {
		chunk *voxel.Chunk
		err   error
	}

	workers := r.workerCount(total)
	tasks := make(chan voxel.ChunkPos, workers)
	results := make(chan chunkResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range tasks {
				if err := ctx.Err(); err != nil {
					select {
					case results <- chunkResult{err: err}:
					default:
					}
					return
				}

				chunk, err := r.voxelize(ctx, pos)
				if err != nil {
					// The consumer drains results until close, so this
					// send cannot block forever.
					results <- chunkResult{err: err}
					return
				}
				select {
				case results <- chunkResult{chunk: chunk}:
				case <-ctx.Done():
					if r.pool != nil {
						r.pool.Release(chunk)
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer close(tasks)
		for _, pos := range positions {
			select {
			case <-ctx.Done():
				return
			case tasks <- pos:
			}
		}
	}()

	var runErr error
	nextLogPercent := 10
	for res := range results {
		if runErr != nil {
			// Drain so workers can exit; buffers go back to the pool.
			if res.chunk != nil && r.pool != nil {
				r.pool.Release(res.chunk)
			}
			continue
		}
		if res.err != nil {
			runErr = res.err
			cancel()
			continue
		}

		summary.add(res.chunk)
		err := fn(res.chunk)
		if r.pool != nil {
			r.pool.Release(res.chunk)
		}
		if err != nil {
			runErr = fmt.Errorf("chunk %v: %w", res.chunk.Pos, err)
			cancel()
			continue
		}

		progress := summary.Chunks * 100 / total
		if progress >= nextLogPercent {
			r.logger.Info("region generation progress",
				zap.Int("percent", progress),
				zap.Int("done", summary.Chunks),
				zap.Int("chunks", total))
			nextLogPercent = (progress/10 + 1) * 10
		}
	}

	if runErr == nil {
		// A cancelled parent context can stop the feeder before every
		// position was handed out without any worker reporting it.
		if err := ctx.Err(); err != nil && summary.Chunks < total {
			runErr = err
		}
	}
	summary.Elapsed = time.Since(start)
	if runErr != nil {
		r.logger.Warn("region generation aborted", zap.Int("done", summary.Chunks), zap.Error(runErr))
		return summary, runErr
	}

	r.logger.Info("region generation finished",
		zap.Int("chunks", summary.Chunks),
		zap.Int64("total_solid", summary.TotalSolid),
		zap.Int("with_geometry", summary.WithGeometry),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// voxelize waits for a pooled buffer when the budget is used up; every
// chunk this run holds is released once the consumer is done with it.
func (r *Runner) voxelize(ctx context.Context, pos voxel.ChunkPos) (*voxel.Chunk, error) {
	if r.pool != nil {
		return r.pool.VoxelizeWait(ctx, pos, r.gen)
	}
	return voxel.Voxelize(pos, r.gen), nil
}

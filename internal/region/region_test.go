package region

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"voxelgen/internal/config"
	"voxelgen/internal/voxel"
)

// planeGenerator is solid below a tilted plane, cheap enough to voxelize
// many chunks per test.
type planeGenerator struct {
	cfg config.Terrain
}

func newPlaneGenerator() *planeGenerator {
	return &planeGenerator{cfg: config.DefaultTerrain()}
}

func (g *planeGenerator) Density(x, y, z float64) float64 {
	return 30 - y + 0.25*x - 0.1*z
}

func (g *planeGenerator) Config() *config.Terrain { return &g.cfg }

func TestCube(t *testing.T) {
	center := voxel.ChunkPos{X: 3, Y: -1, Z: 0}
	got := Cube(center, 1)
	if len(got) != 27 {
		t.Fatalf("len = %d, want 27", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Less(got[i]) {
			t.Fatalf("positions not ordered at %d: %v then %v", i, got[i-1], got[i])
		}
	}
	if got[0] != center.Add(-1, -1, -1) || got[26] != center.Add(1, 1, 1) {
		t.Fatalf("unexpected bounds %v..%v", got[0], got[26])
	}
	if len(Cube(center, 0)) != 1 || Cube(center, -1) != nil {
		t.Fatalf("unexpected degenerate cubes")
	}
}

func TestGenerateMatchesSequential(t *testing.T) {
	gen := newPlaneGenerator()
	positions := Cube(voxel.ChunkPos{}, 1)

	for _, workers := range []int{1, 3, 16} {
		runner := NewRunner(gen, WithWorkers(workers))
		res, err := runner.Generate(context.Background(), positions)
		if err != nil {
			t.Fatalf("workers=%d: Generate: %v", workers, err)
		}
		if len(res.Chunks) != len(positions) {
			t.Fatalf("workers=%d: got %d chunks", workers, len(res.Chunks))
		}
		for i, pos := range positions {
			c := res.Chunks[i]
			if c.Pos != pos {
				t.Fatalf("workers=%d: chunk %d at %v, want %v", workers, i, c.Pos, pos)
			}
			want := voxel.Voxelize(pos, gen)
			if c.Solid != want.Solid {
				t.Fatalf("workers=%d: chunk %v solid %d, want %d", workers, pos, c.Solid, want.Solid)
			}
			for j := range want.Voxels {
				if c.Voxels[j] != want.Voxels[j] {
					t.Fatalf("workers=%d: chunk %v differs at %d", workers, pos, j)
				}
			}
		}
	}
}

func TestGenerateSummary(t *testing.T) {
	gen := newPlaneGenerator()
	positions := []voxel.ChunkPos{{Y: -3}, {Y: 0}, {Y: 3}}
	res, err := NewRunner(gen).Generate(context.Background(), positions)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	s := res.Summary
	if s.Chunks != 3 || s.Full != 1 || s.Empty != 1 || s.WithGeometry != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	var total int64
	for _, c := range res.Chunks {
		total += int64(c.Solid)
	}
	if s.TotalSolid != total {
		t.Fatalf("total solid %d, want %d", s.TotalSolid, total)
	}
}

func TestGenerateWithPoolReturnsIndependentChunks(t *testing.T) {
	gen := newPlaneGenerator()
	pool := voxel.NewPool(0)
	positions := Cube(voxel.ChunkPos{}, 1)

	res, err := NewRunner(gen, WithPool(pool), WithWorkers(2)).Generate(context.Background(), positions)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pool.Outstanding() != 0 {
		t.Fatalf("outstanding buffers after run: %d", pool.Outstanding())
	}
	for _, c := range res.Chunks {
		want := voxel.Voxelize(c.Pos, gen)
		for j := range want.Voxels {
			if c.Voxels[j] != want.Voxels[j] {
				t.Fatalf("chunk %v differs at %d", c.Pos, j)
			}
		}
	}
}

func TestStreamCompletesWithinBufferBudget(t *testing.T) {
	gen := newPlaneGenerator()
	positions := Cube(voxel.ChunkPos{}, 1)

	for _, tc := range []struct {
		budget, workers int
	}{
		{budget: 1, workers: 4},
		{budget: 2, workers: 4},
		{budget: 4, workers: 4},
		{budget: 3, workers: 16},
	} {
		pool := voxel.NewPool(tc.budget)
		runner := NewRunner(gen, WithPool(pool), WithWorkers(tc.workers))
		peak := 0
		summary, err := runner.Stream(context.Background(), positions, func(*voxel.Chunk) error {
			peak = max(peak, pool.Outstanding())
			return nil
		})
		if err != nil {
			t.Fatalf("budget %d / workers %d: %v", tc.budget, tc.workers, err)
		}
		if summary.Chunks != len(positions) {
			t.Fatalf("budget %d / workers %d: %d chunks, want %d", tc.budget, tc.workers, summary.Chunks, len(positions))
		}
		if peak > tc.budget {
			t.Fatalf("budget %d exceeded: %d buffers outstanding", tc.budget, peak)
		}
		if pool.Outstanding() != 0 {
			t.Fatalf("budget %d / workers %d: %d buffers left outstanding", tc.budget, tc.workers, pool.Outstanding())
		}
	}
}

func TestStreamSurfacesBufferBudget(t *testing.T) {
	gen := newPlaneGenerator()
	pool := voxel.NewPool(1)
	held, err := pool.Voxelize(voxel.ChunkPos{}, gen)
	if err != nil {
		t.Fatalf("prime pool: %v", err)
	}
	defer pool.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	runner := NewRunner(gen, WithPool(pool), WithWorkers(2))
	_, err = runner.Stream(ctx, Cube(voxel.ChunkPos{}, 1), func(*voxel.Chunk) error { return nil })
	if !errors.Is(err, voxel.ErrBufferBudget) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrBufferBudget after the deadline, got %v", err)
	}
	if pool.Outstanding() != 1 {
		t.Fatalf("outstanding = %d, want only the held buffer", pool.Outstanding())
	}
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	sentinel := errors.New("disk full")
	calls := 0
	runner := NewRunner(newPlaneGenerator(), WithWorkers(2))
	_, err := runner.Stream(context.Background(), Cube(voxel.ChunkPos{}, 1), func(*voxel.Chunk) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback called %d times after failing", calls)
	}
}

func TestStreamHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(newPlaneGenerator(), WithWorkers(4))
	_, err := runner.Generate(ctx, Cube(voxel.ChunkPos{}, 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamLogsProgress(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	runner := NewRunner(newPlaneGenerator(), WithWorkers(2), WithLogger(zap.New(core)))

	positions := Cube(voxel.ChunkPos{}, 1)
	if _, err := runner.Generate(context.Background(), positions); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	progress := logs.FilterMessage("region generation progress").All()
	if len(progress) < 2 {
		t.Fatalf("expected start and progress entries, got %d", len(progress))
	}
	first := progress[0].ContextMap()["percent"]
	last := progress[len(progress)-1].ContextMap()["percent"]
	if first != int64(0) || last != int64(100) {
		t.Fatalf("progress ran from %v to %v, want 0 to 100", first, last)
	}
	prev := int64(-1)
	for _, entry := range progress {
		p := entry.ContextMap()["percent"].(int64)
		if p <= prev {
			t.Fatalf("progress not increasing: %d after %d", p, prev)
		}
		prev = p
	}

	done := logs.FilterMessage("region generation finished").All()
	if len(done) != 1 {
		t.Fatalf("expected one finish entry, got %d", len(done))
	}
	if got := done[0].ContextMap()["chunks"]; got != int64(len(positions)) {
		t.Fatalf("finish entry chunks = %v", got)
	}
	if done[0].LoggerName != "region" {
		t.Fatalf("logger name = %q", done[0].LoggerName)
	}
}

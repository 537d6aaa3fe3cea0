package voxel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"voxelgen/internal/terrain"
)

// ErrBufferBudget is returned when a Pool already has its maximum number of
// buffers handed out. The caller must Release chunks before trying again.
var ErrBufferBudget = errors.New("voxel buffer budget exhausted")

// Pool recycles voxel buffers and bounds how many are outstanding at once.
// A zero limit means unbounded.
type Pool struct {
	limit       int64
	outstanding atomic.Int64
	buffers     sync.Pool

	mu    sync.Mutex
	freed chan struct{} // closed and replaced on every Release
}

// NewPool returns a pool that hands out at most maxBuffers buffers at a time.
func NewPool(maxBuffers int) *Pool {
	p := &Pool{limit: int64(maxBuffers), freed: make(chan struct{})}
	p.buffers.New = func() any {
		buf := make([]Material, PaddedVolume)
		return &buf
	}
	return p
}

// Voxelize behaves like the package-level Voxelize but draws its buffer from
// the pool. It fails with ErrBufferBudget rather than allocating past the
// limit.
func (p *Pool) Voxelize(pos ChunkPos, g terrain.Generator) (*Chunk, error) {
	if !p.acquire() {
		return nil, fmt.Errorf("voxelize chunk %v: %w", pos, ErrBufferBudget)
	}
	return p.fill(pos, g), nil
}

// VoxelizeWait is Voxelize for callers that release their own chunks: when
// the budget is exhausted it waits for a Release instead of failing. If ctx
// ends first the error wraps both ErrBufferBudget and ctx.Err().
func (p *Pool) VoxelizeWait(ctx context.Context, pos ChunkPos, g terrain.Generator) (*Chunk, error) {
	for {
		freed := p.released()
		if p.acquire() {
			return p.fill(pos, g), nil
		}
		select {
		case <-freed:
		case <-ctx.Done():
			return nil, fmt.Errorf("voxelize chunk %v: %w: %w", pos, ErrBufferBudget, ctx.Err())
		}
	}
}

func (p *Pool) fill(pos ChunkPos, g terrain.Generator) *Chunk {
	buf := *p.buffers.Get().(*[]Material)
	return &Chunk{Pos: pos, Voxels: buf, Solid: fill(pos, g, buf), pool: p}
}

// Release returns the chunk's buffer to the pool. The chunk must not be used
// afterwards. Chunks this pool did not hand out, and chunks already
// released, are ignored.
func (p *Pool) Release(c *Chunk) {
	if c == nil || c.pool != p || c.Voxels == nil {
		return
	}
	buf := c.Voxels
	c.Voxels = nil
	c.pool = nil
	p.buffers.Put(&buf)
	p.outstanding.Add(-1)

	p.mu.Lock()
	close(p.freed)
	p.freed = make(chan struct{})
	p.mu.Unlock()
}

// Outstanding reports how many buffers are currently handed out.
func (p *Pool) Outstanding() int {
	return int(p.outstanding.Load())
}

func (p *Pool) released() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freed
}

func (p *Pool) acquire() bool {
	for {
		cur := p.outstanding.Load()
		if p.limit > 0 && cur >= p.limit {
			return false
		}
		if p.outstanding.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

package voxel

import (
	"fmt"

	"voxelgen/internal/config"
	"voxelgen/internal/terrain"
)

const (
	// ChunkSize is the nominal edge length of a chunk in voxels.
	ChunkSize = 62
	// PaddedSize adds a one voxel halo on each side of the chunk.
	PaddedSize   = ChunkSize + 2
	PaddedVolume = PaddedSize * PaddedSize * PaddedSize
)

// Material is a voxel material id. Air is reserved for "no matter".
type Material uint8

const (
	Air Material = iota
	Stone
	Dirt
	Grass
)

func (m Material) String() string {
	switch m {
	case Air:
		return "air"
	case Stone:
		return "stone"
	case Dirt:
		return "dirt"
	case Grass:
		return "grass"
	default:
		return fmt.Sprintf("material(%d)", uint8(m))
	}
}

// ChunkPos identifies a chunk on the integer chunk lattice.
type ChunkPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p ChunkPos) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// Less orders positions by X, then Y, then Z.
func (p ChunkPos) Less(o ChunkPos) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.Z < o.Z
}

// Add offsets the position by whole chunks.
func (p ChunkPos) Add(dx, dy, dz int) ChunkPos {
	return ChunkPos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

// WorldOf maps a local padded index to its world coordinate. Local index 0
// lies one voxel before the chunk's nominal start.
func WorldOf(pos ChunkPos, x, y, z int) (int, int, int) {
	return pos.X*ChunkSize + x - 1,
		pos.Y*ChunkSize + y - 1,
		pos.Z*ChunkSize + z - 1
}

// Index returns the buffer offset of a local padded coordinate. X varies
// fastest, then Y, then Z.
func Index(x, y, z int) int {
	return z*PaddedSize*PaddedSize + y*PaddedSize + x
}

// Chunk is a fully populated padded voxel buffer handed to the mesher.
type Chunk struct {
	Pos    ChunkPos
	Voxels []Material
	Solid  int

	pool *Pool // owner of Voxels, nil when allocated directly
}

// At returns the material at a local padded coordinate.
func (c *Chunk) At(x, y, z int) Material {
	return c.Voxels[Index(x, y, z)]
}

func (c *Chunk) Empty() bool {
	return c.Solid == 0
}

func (c *Chunk) Full() bool {
	return c.Solid == PaddedVolume
}

// HasGeometry reports whether the chunk mixes solid and air voxels, i.e.
// whether a mesher would emit faces for it.
func (c *Chunk) HasGeometry() bool {
	return !c.Empty() && !c.Full()
}

// Voxelize samples g over the padded lattice of pos into a fresh buffer.
func Voxelize(pos ChunkPos, g terrain.Generator) *Chunk {
	buf := make([]Material, PaddedVolume)
	return &Chunk{Pos: pos, Voxels: buf, Solid: fill(pos, g, buf)}
}

// fill writes every cell of buf and returns the solid count.
func fill(pos ChunkPos, g terrain.Generator, buf []Material) int {
	cfg := g.Config()
	threshold := cfg.DensityThreshold
	bands := cfg.MaterialThresholds

	solid := 0
	for z := 0; z < PaddedSize; z++ {
		for y := 0; y < PaddedSize; y++ {
			for x := 0; x < PaddedSize; x++ {
				wx, wy, wz := WorldOf(pos, x, y, z)
				idx := Index(x, y, z)
				if g.Density(float64(wx), float64(wy), float64(wz)) > threshold {
					buf[idx] = MaterialFor(wy, bands)
					solid++
				} else {
					buf[idx] = Air
				}
			}
		}
	}
	return solid
}

// MaterialFor picks the material of a solid voxel from its world height
// alone.
func MaterialFor(height int, t config.MaterialThresholds) Material {
	switch {
	case height < t.StoneMax:
		return Stone
	case height < t.GrassMax:
		return Grass
	default:
		return Dirt
	}
}

package terrain

import (
	perlin "github.com/aquilax/go-perlin"

	"voxelgen/internal/config"
	"voxelgen/internal/noise"
)

// Perlin blends classic Perlin continents with a Perlin erosion field that
// lowers density where it is high. Both fields come from go-perlin, which
// folds octaves internally.
type Perlin struct {
	cfg config.Terrain

	contScale, erosScale float64
	contNorm, erosNorm   float64
	cont, eros           *perlin.Perlin
}

// NewPerlin seeds the continent and erosion fields from cfg.Seed.
func NewPerlin(cfg config.Terrain) *Perlin {
	cl := cfg.Continentalness.Layer()
	el := cfg.Erosion.Layer()
	return &Perlin{
		cfg:       cfg,
		contScale: cl.Scale,
		erosScale: el.Scale,
		contNorm:  normaliser(cl),
		erosNorm:  normaliser(el),
		cont:      newPerlinField(cl, cfg.Seed+continentalnessSeed),
		eros:      newPerlinField(el, cfg.Seed+erosionSeed),
	}
}

// newPerlinField maps a layer onto go-perlin's parameters: alpha divides the
// amplitude per octave and beta multiplies the frequency.
func newPerlinField(l noise.Layer, seed uint32) *perlin.Perlin {
	alpha := 2.0
	if l.Gain > 0 {
		alpha = 1 / l.Gain
	}
	beta := l.Lacunarity
	if beta <= 0 {
		beta = 2
	}
	return perlin.NewPerlin(alpha, beta, int32(l.Octaves), int64(seed))
}

func (g *Perlin) Config() *config.Terrain {
	return &g.cfg
}

func (g *Perlin) Density(x, y, z float64) float64 {
	c := g.cont.Noise3D(x/g.contScale, y/g.contScale, z/g.contScale) * g.contNorm
	e := g.eros.Noise3D(x/g.erosScale, y/g.erosScale, z/g.erosScale) * g.erosNorm
	eros01 := noise.Clamp(e/2+0.5, 0, 1)

	w := g.cfg.Weights
	return w.Continentalness*c - w.Erosion*eros01*DefaultTunables().ErosionWeight + verticalBias(y, g.cfg.Vertical)
}

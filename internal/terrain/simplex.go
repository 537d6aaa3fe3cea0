package terrain

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"voxelgen/internal/config"
	"voxelgen/internal/noise"
)

// Simplex is a single-field generator: an OpenSimplex fractal sum over the
// continentalness layer plus the vertical bias. It has no land mask or
// ridges and produces smooth rolling terrain.
type Simplex struct {
	cfg   config.Terrain
	layer noise.Layer
	norm  float64
	src   opensimplex.Noise
}

// NewSimplex seeds an OpenSimplex field from cfg.Seed.
func NewSimplex(cfg config.Terrain) *Simplex {
	layer := cfg.Continentalness.Layer()
	return &Simplex{
		cfg:   cfg,
		layer: layer,
		norm:  normaliser(layer),
		src:   opensimplex.New(int64(cfg.Seed + continentalnessSeed)),
	}
}

func (g *Simplex) Config() *config.Terrain {
	return &g.cfg
}

func (g *Simplex) Density(x, y, z float64) float64 {
	l := g.layer
	sx, sy, sz := x/l.Scale, y/l.Scale, z/l.Scale

	sum := 0.0
	freq, amp := 1.0, 1.0
	for i := 0; i < l.Octaves; i++ {
		sum += g.src.Eval3(sx*freq, sy*freq, sz*freq) * amp
		freq *= l.Lacunarity
		amp *= l.Gain
	}
	return g.cfg.Weights.Continentalness*sum*g.norm + verticalBias(y, g.cfg.Vertical)
}

// normaliser maps a fractal sum back to roughly [-1,1].
func normaliser(l noise.Layer) float64 {
	if m := l.MaxAmplitude(); m > 0 {
		return 1 / m
	}
	return 0
}

package terrain

import (
	"math"

	"voxelgen/internal/config"
	"voxelgen/internal/noise"
)

// Per-layer seed offsets keep the three fields independent under one base seed.
const (
	continentalnessSeed uint32 = 11
	erosionSeed         uint32 = 23
	peaksValleysSeed    uint32 = 37
)

// Tunables are the fixed constants of the compositing formula. The defaults
// reproduce the reference terrain; they are not part of the config file.
type Tunables struct {
	LandEdgeLow    float64 // continentalness01 below this contributes no peaks
	LandEdgeHigh   float64 // continentalness01 above this contributes full peaks
	PeakExponent   float64 // signed power applied to centred peaks/valleys
	ErosionFlatten float64 // share of peak amplitude removed at full erosion
	ErosionWeight  float64 // scale on erosion01 before its weight is applied
}

// DefaultTunables returns the constants the default terrain is tuned for.
func DefaultTunables() Tunables {
	return Tunables{
		LandEdgeLow:    0.45,
		LandEdgeHigh:   0.65,
		PeakExponent:   1.35,
		ErosionFlatten: 0.85,
		ErosionWeight:  0.5,
	}
}

// Option customises a MultiNoise generator.
type Option func(*MultiNoise)

// WithTunables replaces the default compositing constants.
func WithTunables(t Tunables) Option {
	return func(g *MultiNoise) {
		g.tunables = t
	}
}

// MultiNoise stacks continentalness, erosion and ridged peaks/valleys noise
// with a vertical bias into one density field.
type MultiNoise struct {
	cfg      config.Terrain
	tunables Tunables

	continentalness noise.Layer
	erosion         noise.Layer
	peaksValleys    noise.Layer
}

// NewMultiNoise builds the layered generator for cfg.
func NewMultiNoise(cfg config.Terrain, opts ...Option) *MultiNoise {
	g := &MultiNoise{
		cfg:             cfg,
		tunables:        DefaultTunables(),
		continentalness: cfg.Continentalness.Layer(),
		erosion:         cfg.Erosion.Layer(),
		peaksValleys:    cfg.PeaksValleys.Layer(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the terrain the generator was built from.
func (g *MultiNoise) Config() *config.Terrain {
	return &g.cfg
}

// Tunables returns the compositing constants in use.
func (g *MultiNoise) Tunables() Tunables {
	return g.tunables
}

// Breakdown holds every intermediate signal of one density evaluation.
type Breakdown struct {
	Continentalness float64 // [-1,1]
	Erosion         float64 // [0,1]
	PeaksValleys    float64 // [-1,1] after the power curve
	LandMask        float64 // [0,1]
	PeakAmplitude   float64
	Vertical        float64
	Density         float64
}

// Density implements Generator.
func (g *MultiNoise) Density(x, y, z float64) float64 {
	return g.Sample(x, y, z).Density
}

// Sample evaluates the density at a world position and reports the signals
// it was composed from.
func (g *MultiNoise) Sample(x, y, z float64) Breakdown {
	cfg := &g.cfg
	t := &g.tunables

	contRaw := g.continentalness.Sample(x, y, z, cfg.Seed+continentalnessSeed)
	erosRaw := g.erosion.Sample(x, y, z, cfg.Seed+erosionSeed)
	pvRidged := g.peaksValleys.SampleRidged(x, y, z, cfg.Seed+peaksValleysSeed)

	cont := noise.Clamp(contRaw, -2, 2) / 2
	eros01 := noise.Clamp(noise.Clamp(erosRaw, -2, 2)/4+0.5, 0, 1)
	pv01 := noise.Clamp(pvRidged/4, 0, 1)

	pvCentered := pv01*2 - 1
	pv := signedPow(pvCentered, t.PeakExponent)

	cont01 := (cont + 1) / 2
	landMask := noise.Smoothstep(t.LandEdgeLow, t.LandEdgeHigh, cont01)

	peakAmp := 1 - t.ErosionFlatten*eros01

	vertical := verticalBias(y, cfg.Vertical)

	density := cfg.Weights.Continentalness*cont +
		cfg.Weights.PeaksValleys*(pv*landMask*peakAmp) -
		cfg.Weights.Erosion*(eros01*t.ErosionWeight) +
		vertical

	return Breakdown{
		Continentalness: cont,
		Erosion:         eros01,
		PeaksValleys:    pv,
		LandMask:        landMask,
		PeakAmplitude:   peakAmp,
		Vertical:        vertical,
		Density:         density,
	}
}

func signedPow(v, exp float64) float64 {
	switch {
	case v > 0:
		return math.Pow(v, exp)
	case v < 0:
		return -math.Pow(-v, exp)
	default:
		return 0
	}
}

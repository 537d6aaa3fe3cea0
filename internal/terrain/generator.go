package terrain

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"voxelgen/internal/config"
	"voxelgen/internal/noise"
)

// Generator produces a density value for any world position. Values above the
// configured density threshold are solid. Implementations must be pure and
// safe for concurrent use.
type Generator interface {
	Density(x, y, z float64) float64
	Config() *config.Terrain
}

// New builds the generator named by cfg.Generator. The config is copied; later
// changes to cfg do not affect the returned generator.
func New(cfg *config.Terrain) (Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("terrain config is nil")
	}
	switch cfg.Generator {
	case "", config.GeneratorMultiNoise:
		return NewMultiNoise(*cfg), nil
	case config.GeneratorSimplex:
		return NewSimplex(*cfg), nil
	case config.GeneratorPerlin:
		return NewPerlin(*cfg), nil
	default:
		return nil, fmt.Errorf("unknown terrain generator %q", cfg.Generator)
	}
}

// DensityAt evaluates g at a world position.
func DensityAt(g Generator, p mgl64.Vec3) float64 {
	return g.Density(p.X(), p.Y(), p.Z())
}

// verticalBias favours solid matter at low altitude: y is normalised across
// [MinY, MaxY], inverted and scaled by Bias. MinY == MaxY divides by zero.
func verticalBias(y float64, v config.VerticalConfig) float64 {
	ynorm := noise.Clamp((y-v.MinY)/(v.MaxY-v.MinY), 0, 1)
	return (1 - ynorm) * v.Bias
}

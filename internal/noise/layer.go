package noise

// Layer describes one multi-octave noise field sampled in world space.
type Layer struct {
	Scale      float64
	Octaves    int
	Lacunarity float64
	Gain       float64
}

// Sample evaluates the fractal sum at the world position divided by Scale.
func (l Layer) Sample(x, y, z float64, seed uint32) float64 {
	return Fractal(x/l.Scale, y/l.Scale, z/l.Scale, seed, l.Octaves, l.Lacunarity, l.Gain)
}

// SampleRidged evaluates the ridged fractal sum at the world position divided
// by Scale.
func (l Layer) SampleRidged(x, y, z float64, seed uint32) float64 {
	return RidgedFractal(x/l.Scale, y/l.Scale, z/l.Scale, seed, l.Octaves, l.Lacunarity, l.Gain)
}

// MaxAmplitude is the sum of octave amplitudes, the bound on |Sample| when
// every octave returns a unit value.
func (l Layer) MaxAmplitude() float64 {
	total := 0.0
	amp := 1.0
	for i := 0; i < l.Octaves; i++ {
		total += amp
		amp *= l.Gain
	}
	return total
}

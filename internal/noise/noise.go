package noise

import "math"

// Hash mixes key and seed into a well distributed 32-bit value. The chain is a
// multiply/xor-shift avalanche so neighbouring keys land far apart.
func Hash(key, seed uint32) uint32 {
	h := key ^ seed
	h *= 0x9E3779B1
	h ^= h >> 16
	h *= 0x85EBCA6B
	h ^= h >> 13
	h *= 0xC2B2AE35
	h ^= h >> 16
	return h
}

// Per-axis lattice multipliers. Large odd values keep the axes decorrelated
// before the key reaches Hash.
const (
	primeX uint32 = 73856093
	primeY uint32 = 19349663
	primeZ uint32 = 83492791
)

// octaveSeedStep offsets the seed of each successive octave.
const octaveSeedStep uint32 = 1013

func cornerHash(ix, iy, iz int, seed uint32) uint32 {
	key := uint32(ix)*primeX + uint32(iy)*primeY + uint32(iz)*primeZ
	return Hash(key, seed)
}

// The 12 cube-edge gradient directions.
var gradients = [12][3]float64{
	{1, 1, 0}, {-1, 1, 0}, {1, -1, 0}, {-1, -1, 0},
	{1, 0, 1}, {-1, 0, 1}, {1, 0, -1}, {-1, 0, -1},
	{0, 1, 1}, {0, -1, 1}, {0, 1, -1}, {0, -1, -1},
}

func gradDot(h uint32, dx, dy, dz float64) float64 {
	g := gradients[h%12]
	return (g[0]*dx + g[1]*dy + g[2]*dz) / math.Sqrt2
}

// Fade is the quintic smoothing curve 6t^5 - 15t^4 + 10t^3.
func Fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

// Lerp interpolates linearly between a and b.
func Lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// Smoothstep returns the cubic Hermite step of x between edge0 and edge1,
// clamped to [0,1].
func Smoothstep(edge0, edge1, x float64) float64 {
	t := Clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Coherent3D evaluates single-octave gradient noise at (x, y, z). The result
// is roughly within [-1, 1] but not strictly bounded; clamp before treating it
// as normalised.
func Coherent3D(x, y, z float64, seed uint32) float64 {
	fx := math.Floor(x)
	fy := math.Floor(y)
	fz := math.Floor(z)
	x0, y0, z0 := int(fx), int(fy), int(fz)

	xf := x - fx
	yf := y - fy
	zf := z - fz

	n000 := gradDot(cornerHash(x0, y0, z0, seed), xf, yf, zf)
	n100 := gradDot(cornerHash(x0+1, y0, z0, seed), xf-1, yf, zf)
	n010 := gradDot(cornerHash(x0, y0+1, z0, seed), xf, yf-1, zf)
	n110 := gradDot(cornerHash(x0+1, y0+1, z0, seed), xf-1, yf-1, zf)
	n001 := gradDot(cornerHash(x0, y0, z0+1, seed), xf, yf, zf-1)
	n101 := gradDot(cornerHash(x0+1, y0, z0+1, seed), xf-1, yf, zf-1)
	n011 := gradDot(cornerHash(x0, y0+1, z0+1, seed), xf, yf-1, zf-1)
	n111 := gradDot(cornerHash(x0+1, y0+1, z0+1, seed), xf-1, yf-1, zf-1)

	u := Fade(xf)
	v := Fade(yf)
	w := Fade(zf)

	nxy0 := Lerp(Lerp(n000, n100, u), Lerp(n010, n110, u), v)
	nxy1 := Lerp(Lerp(n001, n101, u), Lerp(n011, n111, u), v)
	return Lerp(nxy0, nxy1, w)
}

// Fractal sums octaves of Coherent3D, multiplying frequency by lacunarity and
// amplitude by gain after each octave. Every octave draws from its own seed.
// A non-positive octave count yields exactly 0.
func Fractal(x, y, z float64, seed uint32, octaves int, lacunarity, gain float64) float64 {
	return octaveSum(x, y, z, seed, octaves, lacunarity, gain, func(n float64) float64 { return n })
}

// RidgedFractal is Fractal with each octave folded to 1 - |n|, which turns
// zero crossings into sharp ridges. A non-positive octave count yields 0.
func RidgedFractal(x, y, z float64, seed uint32, octaves int, lacunarity, gain float64) float64 {
	return octaveSum(x, y, z, seed, octaves, lacunarity, gain, func(n float64) float64 { return 1 - math.Abs(n) })
}

func octaveSum(x, y, z float64, seed uint32, octaves int, lacunarity, gain float64, shape func(float64) float64) float64 {
	if octaves <= 0 {
		return 0
	}
	sum := 0.0
	amp := 1.0
	freq := 1.0
	for i := 0; i < octaves; i++ {
		n := Coherent3D(x*freq, y*freq, z*freq, seed+uint32(i)*octaveSeedStep)
		sum += amp * shape(n)
		freq *= lacunarity
		amp *= gain
	}
	return sum
}

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxelgen/internal/noise"
)

// Generator names accepted in terrain.generator.
const (
	GeneratorMultiNoise = "multinoise"
	GeneratorSimplex    = "simplex"
	GeneratorPerlin     = "perlin"
)

// Config captures everything needed to run a generation session: the terrain
// parameters that determine output, plus the surfaces around the core.
type Config struct {
	Terrain    Terrain          `json:"terrain" yaml:"terrain"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Output     OutputConfig     `json:"output" yaml:"output"`
	Index      IndexConfig      `json:"index" yaml:"index"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// Terrain fully determines generated density and materials for given
// coordinates. It is treated as read-only once a session starts.
type Terrain struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Seed        uint32 `json:"seed" yaml:"seed"`
	Generator   string `json:"generator" yaml:"generator"`

	Continentalness NoiseLayer `json:"continentalness" yaml:"continentalness"`
	Erosion         NoiseLayer `json:"erosion" yaml:"erosion"`
	PeaksValleys    NoiseLayer `json:"peaks_valleys" yaml:"peaks_valleys"`

	Weights            Weights            `json:"weights" yaml:"weights"`
	Vertical           VerticalConfig     `json:"vertical" yaml:"vertical"`
	MaterialThresholds MaterialThresholds `json:"material_thresholds" yaml:"material_thresholds"`
	DensityThreshold   float64            `json:"density_threshold" yaml:"density_threshold"`
}

type NoiseLayer struct {
	Scale      float64 `json:"scale" yaml:"scale"`           // world units per noise period
	Octaves    int     `json:"octaves" yaml:"octaves"`       // 0 disables the layer
	Lacunarity float64 `json:"lacunarity" yaml:"lacunarity"` // frequency multiplier per octave
	Gain       float64 `json:"gain" yaml:"gain"`             // amplitude multiplier per octave
}

// Layer converts the configured layer into its noise kernel form.
func (l NoiseLayer) Layer() noise.Layer {
	return noise.Layer{
		Scale:      l.Scale,
		Octaves:    l.Octaves,
		Lacunarity: l.Lacunarity,
		Gain:       l.Gain,
	}
}

type Weights struct {
	Continentalness float64 `json:"continentalness" yaml:"continentalness"`
	PeaksValleys    float64 `json:"peaks_valleys" yaml:"peaks_valleys"`
	Erosion         float64 `json:"erosion" yaml:"erosion"`
}

type VerticalConfig struct {
	Bias float64 `json:"bias" yaml:"bias"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

type MaterialThresholds struct {
	StoneMax int `json:"stone_max" yaml:"stone_max"`
	GrassMax int `json:"grass_max" yaml:"grass_max"`
}

type GenerationConfig struct {
	Workers    int    `json:"workers" yaml:"workers"`         // 0 picks GOMAXPROCS*2
	Radius     int    `json:"radius" yaml:"radius"`           // batch runs cover center±radius chunks
	Center     [3]int `json:"center" yaml:"center"`           // chunk position at the middle of a batch
	MaxBuffers int    `json:"max_buffers" yaml:"max_buffers"` // outstanding voxel buffers, 0 = unlimited
}

type OutputConfig struct {
	Dir           string `json:"dir" yaml:"dir"`
	CompressLevel string `json:"compress_level" yaml:"compress_level"` // fastest|default|better|best
	Previews      bool   `json:"previews" yaml:"previews"`
}

type IndexConfig struct {
	Path     string `json:"path" yaml:"path"`
	Disabled bool   `json:"disabled" yaml:"disabled"`
}

type ServerConfig struct {
	Listen       string   `json:"listen" yaml:"listen"`
	MaxQueue     int      `json:"max_queue" yaml:"max_queue"`
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// Format identifies a configuration file encoding.
type Format int

const (
	FormatYAML Format = iota + 1
	FormatJSON
)

// FormatFor picks the encoding from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// Load reads configuration from a YAML or JSON file. An empty path returns
// defaults. Fields missing from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(data, format, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode checks data against the config schema, overlays it onto cfg and
// validates the result.
func Decode(data []byte, format Format, cfg *Config) error {
	if err := validateSchema(data, format); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		return fmt.Errorf("unknown config format %d", format)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Save writes cfg to path, choosing the encoding from the extension.
func Save(path string, cfg *Config) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(cfg)
	case FormatJSON:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func Default() *Config {
	return &Config{
		Terrain: DefaultTerrain(),
		Generation: GenerationConfig{
			Workers:    0,
			Radius:     2,
			Center:     [3]int{0, 0, 0},
			MaxBuffers: 0,
		},
		Output: OutputConfig{
			Dir:           "./out",
			CompressLevel: "default",
			Previews:      true,
		},
		Index: IndexConfig{
			Path: "./out/index.db",
		},
		Server: ServerConfig{
			Listen:       ":8089",
			MaxQueue:     8,
			ReadTimeout:  Duration(60 * time.Second),
			WriteTimeout: Duration(5 * time.Second),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultTerrain is tuned to produce mixed terrain around the origin.
func DefaultTerrain() Terrain {
	return Terrain{
		Name:        "Default Multi-Noise",
		Description: "Default stacked noise terrain generation",
		Seed:        42,
		Generator:   GeneratorMultiNoise,
		Continentalness: NoiseLayer{
			Scale:      3.0,
			Octaves:    5,
			Lacunarity: 2.0,
			Gain:       0.5,
		},
		Erosion: NoiseLayer{
			Scale:      8.0,
			Octaves:    4,
			Lacunarity: 2.0,
			Gain:       0.5,
		},
		PeaksValleys: NoiseLayer{
			Scale:      18.0,
			Octaves:    5,
			Lacunarity: 2.0,
			Gain:       0.5,
		},
		Weights: Weights{
			Continentalness: 0.9,
			PeaksValleys:    1.0,
			Erosion:         0.35,
		},
		Vertical: VerticalConfig{
			Bias: 1.8,
			MinY: -128,
			MaxY: 128,
		},
		MaterialThresholds: MaterialThresholds{
			StoneMax: 32,
			GrassMax: 64,
		},
		DensityThreshold: -0.2,
	}
}

func (c *Config) Validate() error {
	if err := c.Terrain.Validate(); err != nil {
		return err
	}
	if c.Generation.Workers < 0 {
		return errors.New("generation.workers cannot be negative")
	}
	if c.Generation.Radius < 0 {
		return errors.New("generation.radius cannot be negative")
	}
	if c.Generation.MaxBuffers < 0 {
		return errors.New("generation.max_buffers cannot be negative")
	}
	switch c.Output.CompressLevel {
	case "", "fastest", "default", "better", "best":
	default:
		return fmt.Errorf("output.compress_level %q is not one of fastest|default|better|best", c.Output.CompressLevel)
	}
	if !c.Index.Disabled && c.Index.Path == "" {
		return errors.New("index.path must be set unless index.disabled")
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen must be set")
	}
	if c.Server.MaxQueue < 0 {
		return errors.New("server.max_queue cannot be negative")
	}
	return nil
}

// Validate checks the preconditions the density model relies on but never
// checks itself.
func (t *Terrain) Validate() error {
	switch t.Generator {
	case "", GeneratorMultiNoise, GeneratorSimplex, GeneratorPerlin:
	default:
		return fmt.Errorf("terrain.generator %q is not one of %s|%s|%s", t.Generator, GeneratorMultiNoise, GeneratorSimplex, GeneratorPerlin)
	}
	layers := []struct {
		name  string
		layer NoiseLayer
	}{
		{"continentalness", t.Continentalness},
		{"erosion", t.Erosion},
		{"peaks_valleys", t.PeaksValleys},
	}
	for _, l := range layers {
		if !(l.layer.Scale > 0) {
			return fmt.Errorf("terrain.%s.scale must be positive", l.name)
		}
		if l.layer.Octaves < 0 {
			return fmt.Errorf("terrain.%s.octaves cannot be negative", l.name)
		}
	}
	if !(t.Vertical.MinY < t.Vertical.MaxY) {
		return errors.New("terrain.vertical.min_y must be < max_y")
	}
	return nil
}

// Digest identifies the terrain parameters; two configs with equal digests
// generate identical chunks.
func (t Terrain) Digest() string {
	// Name and description do not affect output.
	t.Name = ""
	t.Description = ""
	if t.Generator == "" {
		t.Generator = GeneratorMultiNoise
	}
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestValidateDetectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "inverted vertical window",
			mutate: func(cfg *Config) {
				cfg.Terrain.Vertical.MinY = 10
				cfg.Terrain.Vertical.MaxY = 10
			},
			wantErr: "terrain.vertical.min_y must be < max_y",
		},
		{
			name: "zero layer scale",
			mutate: func(cfg *Config) {
				cfg.Terrain.Erosion.Scale = 0
			},
			wantErr: "terrain.erosion.scale must be positive",
		},
		{
			name: "negative octaves",
			mutate: func(cfg *Config) {
				cfg.Terrain.PeaksValleys.Octaves = -1
			},
			wantErr: "terrain.peaks_valleys.octaves cannot be negative",
		},
		{
			name: "unknown generator",
			mutate: func(cfg *Config) {
				cfg.Terrain.Generator = "erosion-sim"
			},
			wantErr: "terrain.generator",
		},
		{
			name: "negative workers",
			mutate: func(cfg *Config) {
				cfg.Generation.Workers = -1
			},
			wantErr: "generation.workers cannot be negative",
		},
		{
			name: "negative radius",
			mutate: func(cfg *Config) {
				cfg.Generation.Radius = -2
			},
			wantErr: "generation.radius cannot be negative",
		},
		{
			name: "bad compress level",
			mutate: func(cfg *Config) {
				cfg.Output.CompressLevel = "ultra"
			},
			wantErr: "output.compress_level",
		},
		{
			name: "missing index path",
			mutate: func(cfg *Config) {
				cfg.Index.Path = ""
			},
			wantErr: "index.path must be set",
		},
		{
			name: "missing listen address",
			mutate: func(cfg *Config) {
				cfg.Server.Listen = ""
			},
			wantErr: "server.listen must be set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: got %q want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIndexPathOptionalWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Index.Path = ""
	cfg.Index.Disabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled index should not need a path: %v", err)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terrain.yaml")
	doc := `
terrain:
  seed: 7
  density_threshold: 0.1
  erosion:
    scale: 12
    octaves: 2
    lacunarity: 2.5
    gain: 0.4
server:
  read_timeout: 250ms
  write_timeout: 1000000
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Terrain.Seed != 7 {
		t.Fatalf("seed = %d, want 7", cfg.Terrain.Seed)
	}
	if cfg.Terrain.DensityThreshold != 0.1 {
		t.Fatalf("density threshold = %f, want 0.1", cfg.Terrain.DensityThreshold)
	}
	want := NoiseLayer{Scale: 12, Octaves: 2, Lacunarity: 2.5, Gain: 0.4}
	if cfg.Terrain.Erosion != want {
		t.Fatalf("erosion = %+v, want %+v", cfg.Terrain.Erosion, want)
	}
	if cfg.Terrain.Continentalness != DefaultTerrain().Continentalness {
		t.Fatalf("continentalness should keep defaults, got %+v", cfg.Terrain.Continentalness)
	}
	if got := cfg.Server.ReadTimeout.Duration(); got != 250*time.Millisecond {
		t.Fatalf("read timeout = %v, want 250ms", got)
	}
	if got := cfg.Server.WriteTimeout.Duration(); got != time.Millisecond {
		t.Fatalf("write timeout = %v, want 1ms", got)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		file string
		doc  string
	}{
		{
			name: "unknown top level key",
			file: "c.yaml",
			doc:  "terrian:\n  seed: 1\n",
		},
		{
			name: "unknown layer key",
			file: "c.yaml",
			doc:  "terrain:\n  erosion:\n    persistence: 0.5\n",
		},
		{
			name: "string seed",
			file: "c.json",
			doc:  `{"terrain": {"seed": "forty-two"}}`,
		},
		{
			name: "non positive scale",
			file: "c.json",
			doc:  `{"terrain": {"continentalness": {"scale": 0}}}`,
		},
		{
			name: "bad duration",
			file: "c.yaml",
			doc:  "server:\n  read_timeout: soon\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.doc), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected schema error")
			}
			if !strings.Contains(err.Error(), "schema") {
				t.Fatalf("expected schema error, got %v", err)
			}
		})
	}
}

func TestLoadRejectsSemanticErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	doc := `{"terrain": {"vertical": {"bias": 1, "min_y": 50, "max_y": -50}}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "min_y must be < max_y") {
		t.Fatalf("expected vertical window error, got %v", err)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")
	if err := os.WriteFile(path, []byte("seed = 1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"cfg.yaml", "cfg.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Terrain.Name = "Archipelago"
			cfg.Terrain.Seed = 9001
			cfg.Terrain.Generator = GeneratorSimplex
			cfg.Generation.Center = [3]int{1, -2, 3}
			cfg.Server.ReadTimeout = Duration(1500 * time.Millisecond)

			path := filepath.Join(t.TempDir(), "nested", name)
			if err := Save(path, cfg); err != nil {
				t.Fatalf("Save: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(loaded, cfg) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
			}
		})
	}
}

func TestDurationUnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{in: `"250ms"`, want: 250 * time.Millisecond},
		{in: `""`, want: 0},
		{in: `null`, want: 0},
		{in: `1000`, want: time.Microsecond},
	}
	for _, tt := range tests {
		var d Duration
		if err := d.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Fatalf("UnmarshalJSON(%s): %v", tt.in, err)
		}
		if d.Duration() != tt.want {
			t.Fatalf("UnmarshalJSON(%s) = %v, want %v", tt.in, d.Duration(), tt.want)
		}
	}
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"later"`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTerrainDigest(t *testing.T) {
	a := DefaultTerrain()
	b := DefaultTerrain()
	b.Name = "renamed"
	b.Description = "only cosmetic"
	if a.Digest() != b.Digest() {
		t.Fatalf("name and description must not change the digest")
	}
	b.Generator = ""
	if a.Digest() != b.Digest() {
		t.Fatalf("empty generator should digest as multinoise")
	}
	b.Seed++
	if a.Digest() == b.Digest() {
		t.Fatalf("seed change must change the digest")
	}
}

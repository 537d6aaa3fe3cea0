package preview

import (
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"voxelgen/internal/config"
	"voxelgen/internal/voxel"
)

type stepGenerator struct {
	cfg config.Terrain
}

// Solid below y=20 for x < 31 and below y=40 elsewhere.
func (g *stepGenerator) Density(x, y, _ float64) float64 {
	if x < 31 {
		return 20 - y
	}
	return 40 - y
}

func (g *stepGenerator) Config() *config.Terrain { return &g.cfg }

func TestRenderChunkDimensionsAndShading(t *testing.T) {
	c := voxel.Voxelize(voxel.ChunkPos{}, &stepGenerator{cfg: config.DefaultTerrain()})
	img, err := RenderChunk(c, 2)
	if err != nil {
		t.Fatalf("RenderChunk: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != voxel.ChunkSize*2 || b.Dy() != voxel.ChunkSize*2 {
		t.Fatalf("unexpected bounds %v", b)
	}

	low := img.NRGBAAt(0, 0)
	high := img.NRGBAAt(b.Dx()-1, 0)
	if low == background || high == background {
		t.Fatalf("solid columns rendered as background: %v %v", low, high)
	}
	brightness := func(c color.NRGBA) int { return int(c.R) + int(c.G) + int(c.B) }
	if brightness(high) <= brightness(low) {
		t.Fatalf("higher columns should be brighter: low %v high %v", low, high)
	}
	grass, _ := parseHexColor(Palette[voxel.Grass])
	if high != grass {
		t.Fatalf("highest column should be full-lit grass, got %v", high)
	}
}

func TestRenderEmptyChunkIsBackground(t *testing.T) {
	c := &voxel.Chunk{Voxels: make([]voxel.Material, voxel.PaddedVolume)}
	img, err := RenderChunk(c, 1)
	if err != nil {
		t.Fatalf("RenderChunk: %v", err)
	}
	if img.NRGBAAt(10, 10) != background {
		t.Fatalf("expected background, got %v", img.NRGBAAt(10, 10))
	}
}

func TestRenderChunkRejectsBadBuffer(t *testing.T) {
	if _, err := RenderChunk(&voxel.Chunk{Voxels: make([]voxel.Material, 5)}, 1); err == nil {
		t.Fatalf("expected error for short buffer")
	}
	if _, err := RenderChunk(nil, 1); err == nil {
		t.Fatalf("expected error for nil chunk")
	}
}

func TestRenderRegionMosaic(t *testing.T) {
	gen := &stepGenerator{cfg: config.DefaultTerrain()}
	var chunks []*voxel.Chunk
	for _, pos := range []voxel.ChunkPos{{X: 0, Z: 0}, {X: 1, Z: 0}, {X: 0, Z: 1}, {X: 0, Y: -1, Z: 0}} {
		chunks = append(chunks, voxel.Voxelize(pos, gen))
	}
	img, err := RenderRegion(chunks, 1)
	if err != nil {
		t.Fatalf("RenderRegion: %v", err)
	}
	if img.Bounds().Dx() != 2*voxel.ChunkSize || img.Bounds().Dy() != 2*voxel.ChunkSize {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	// Chunk (1,*,1) was not generated.
	if img.NRGBAAt(voxel.ChunkSize+5, voxel.ChunkSize+5) != background {
		t.Fatalf("missing chunk should stay background")
	}
	if img.NRGBAAt(5, 5) == background {
		t.Fatalf("generated column rendered as background")
	}
	if _, err := RenderRegion(nil, 1); err == nil {
		t.Fatalf("expected error for empty region")
	}
}

func TestSaveChunkWritesPNG(t *testing.T) {
	c := voxel.Voxelize(voxel.ChunkPos{X: 2, Y: 0, Z: -1}, &stepGenerator{cfg: config.DefaultTerrain()})
	dir := filepath.Join(t.TempDir(), "previews")
	path, err := SaveChunk(c, dir, 3)
	if err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	if filepath.Base(path) != "chunk_2_0_-1.png" {
		t.Fatalf("unexpected path %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != voxel.ChunkSize*3 || cfg.Height != voxel.ChunkSize*3 {
		t.Fatalf("png is %dx%d", cfg.Width, cfg.Height)
	}
	if _, err := SaveChunk(c, "", 1); err == nil {
		t.Fatalf("expected error for empty output dir")
	}
}

func TestParseHexColor(t *testing.T) {
	got, ok := parseHexColor(" #4c9a2a ")
	if !ok || got != (color.NRGBA{R: 0x4c, G: 0x9a, B: 0x2a, A: 255}) {
		t.Fatalf("parseHexColor = %v, %v", got, ok)
	}
	if _, ok := parseHexColor("#abc"); ok {
		t.Fatalf("short colour should not parse")
	}
}

package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"voxelgen/internal/voxel"
)

const (
	previewAmbientLight = 0.2
	noSurface           = math.MinInt
)

var background = color.NRGBA{R: 10, G: 10, B: 18, A: 255}

// Palette maps materials to hex colours.
var Palette = map[voxel.Material]string{
	voxel.Stone: "#7a7a80",
	voxel.Dirt:  "#8b5a2b",
	voxel.Grass: "#4c9a2a",
}

// surface is the topmost solid voxel of one world column.
type surface struct {
	height   int
	material voxel.Material
}

// heightmap holds one surface per pixel, row major over (x, z).
type heightmap struct {
	width, depth int
	cells        []surface
}

func newHeightmap(width, depth int) *heightmap {
	cells := make([]surface, width*depth)
	for i := range cells {
		cells[i].height = noSurface
	}
	return &heightmap{width: width, depth: depth, cells: cells}
}

// scanChunk fills unset cells from the chunk interior, offset by (ox, oz)
// pixels. Chunks must be scanned from the highest Y downward.
func (h *heightmap) scanChunk(c *voxel.Chunk, ox, oz int) {
	for z := 1; z <= voxel.ChunkSize; z++ {
		for x := 1; x <= voxel.ChunkSize; x++ {
			cell := &h.cells[(oz+z-1)*h.width+ox+x-1]
			if cell.height != noSurface {
				continue
			}
			for y := voxel.ChunkSize; y >= 1; y-- {
				m := c.At(x, y, z)
				if m == voxel.Air {
					continue
				}
				_, wy, _ := voxel.WorldOf(c.Pos, x, y, z)
				cell.height = wy
				cell.material = m
				break
			}
		}
	}
}

func (h *heightmap) render(scale int) *image.NRGBA {
	if scale < 1 {
		scale = 1
	}
	img := image.NewNRGBA(image.Rect(0, 0, h.width*scale, h.depth*scale))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	lo, hi := math.MaxInt, math.MinInt
	for _, c := range h.cells {
		if c.height == noSurface {
			continue
		}
		lo = min(lo, c.height)
		hi = max(hi, c.height)
	}

	for z := 0; z < h.depth; z++ {
		for x := 0; x < h.width; x++ {
			c := h.cells[z*h.width+x]
			if c.height == noSurface {
				continue
			}
			factor := 1.0
			if hi > lo {
				factor = previewAmbientLight + (1-previewAmbientLight)*float64(c.height-lo)/float64(hi-lo)
			}
			col := applyLighting(resolveColor(c.material), factor)
			rect := image.Rect(x*scale, z*scale, (x+1)*scale, (z+1)*scale)
			draw.Draw(img, rect, &image.Uniform{col}, image.Point{}, draw.Src)
		}
	}
	return img
}

// RenderChunk draws a top-down shaded heightmap of the chunk interior, one
// scale x scale block per column.
func RenderChunk(c *voxel.Chunk, scale int) (*image.NRGBA, error) {
	if c == nil {
		return nil, fmt.Errorf("chunk is nil")
	}
	if len(c.Voxels) != voxel.PaddedVolume {
		return nil, fmt.Errorf("chunk %v has %d voxels, want %d", c.Pos, len(c.Voxels), voxel.PaddedVolume)
	}
	h := newHeightmap(voxel.ChunkSize, voxel.ChunkSize)
	h.scanChunk(c, 0, 0)
	return h.render(scale), nil
}

// RenderRegion draws a top-down mosaic of chunks. Columns are taken from the
// highest chunk in each (X, Z) stack that has a solid voxel.
func RenderRegion(chunks []*voxel.Chunk, scale int) (*image.NRGBA, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to render")
	}
	minX, maxX := chunks[0].Pos.X, chunks[0].Pos.X
	minZ, maxZ := chunks[0].Pos.Z, chunks[0].Pos.Z
	for _, c := range chunks {
		if len(c.Voxels) != voxel.PaddedVolume {
			return nil, fmt.Errorf("chunk %v has %d voxels, want %d", c.Pos, len(c.Voxels), voxel.PaddedVolume)
		}
		minX, maxX = min(minX, c.Pos.X), max(maxX, c.Pos.X)
		minZ, maxZ = min(minZ, c.Pos.Z), max(maxZ, c.Pos.Z)
	}

	ordered := append([]*voxel.Chunk(nil), chunks...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Pos.Y > ordered[j].Pos.Y })

	h := newHeightmap((maxX-minX+1)*voxel.ChunkSize, (maxZ-minZ+1)*voxel.ChunkSize)
	for _, c := range ordered {
		h.scanChunk(c, (c.Pos.X-minX)*voxel.ChunkSize, (c.Pos.Z-minZ)*voxel.ChunkSize)
	}
	return h.render(scale), nil
}

// SaveChunk renders c and writes chunk_X_Y_Z.png beneath outputDir.
func SaveChunk(c *voxel.Chunk, outputDir string, scale int) (string, error) {
	img, err := RenderChunk(c, scale)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("chunk_%d_%d_%d.png", c.Pos.X, c.Pos.Y, c.Pos.Z)
	return writePNG(img, outputDir, name)
}

// SaveRegion renders chunks as one mosaic and writes it to outputDir/name.
func SaveRegion(chunks []*voxel.Chunk, outputDir, name string, scale int) (string, error) {
	img, err := RenderRegion(chunks, scale)
	if err != nil {
		return "", err
	}
	return writePNG(img, outputDir, name)
}

func writePNG(img image.Image, outputDir, name string) (string, error) {
	if err := ensurePreviewDir(outputDir); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create preview: %w", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}
	return path, nil
}

func resolveColor(m voxel.Material) color.NRGBA {
	if hex, ok := Palette[m]; ok {
		if col, ok := parseHexColor(hex); ok {
			return col
		}
	}
	return color.NRGBA{R: 128, G: 128, B: 128, A: 255}
}

func parseHexColor(value string) (color.NRGBA, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(trimmed) != 6 {
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, true
}

func applyLighting(base color.NRGBA, factor float64) color.NRGBA {
	factor = math.Max(0, math.Min(1, factor))
	return color.NRGBA{
		R: uint8(math.Round(float64(base.R) * factor)),
		G: uint8(math.Round(float64(base.G) * factor)),
		B: uint8(math.Round(float64(base.B) * factor)),
		A: 255,
	}
}

func ensurePreviewDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("output directory is empty")
	}
	return os.MkdirAll(dir, 0o755)
}

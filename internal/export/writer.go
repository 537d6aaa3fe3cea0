package export

import (
	"fmt"
	"os"
	"path/filepath"

	"voxelgen/internal/voxel"
)

const fileExt = ".vxc"

// FileName is the on-disk name of the record for pos.
func FileName(pos voxel.ChunkPos) string {
	return fmt.Sprintf("chunk_%d_%d_%d%s", pos.X, pos.Y, pos.Z, fileExt)
}

// Writer stores one record file per chunk beneath a directory.
type Writer struct {
	dir   string
	codec *Codec
}

func NewWriter(dir string, codec *Codec) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &Writer{dir: dir, codec: codec}, nil
}

// Write stores the chunk and returns the file path and its size. The file is
// written to a temporary name first so readers never see a partial record.
func (w *Writer) Write(ch *voxel.Chunk) (string, int, error) {
	data, err := w.codec.Encode(ch)
	if err != nil {
		return "", 0, err
	}
	path := filepath.Join(w.dir, FileName(ch.Pos))

	tmp, err := os.CreateTemp(w.dir, ".chunk-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp chunk file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write chunk %v: %w", ch.Pos, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("close chunk %v: %w", ch.Pos, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("commit chunk %v: %w", ch.Pos, err)
	}
	return path, len(data), nil
}

// Read loads the record for pos from the writer's directory.
func (w *Writer) Read(pos voxel.ChunkPos) (*voxel.Chunk, error) {
	return ReadFile(filepath.Join(w.dir, FileName(pos)), w.codec)
}

func ReadFile(path string, codec *Codec) (*voxel.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk file: %w", err)
	}
	ch, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return ch, nil
}

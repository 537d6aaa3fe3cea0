package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"voxelgen/internal/config"
	"voxelgen/internal/export"
	"voxelgen/internal/index"
	"voxelgen/internal/logging"
	"voxelgen/internal/preview"
	"voxelgen/internal/region"
	"voxelgen/internal/terrain"
	"voxelgen/internal/transport/ws"
	"voxelgen/internal/voxel"
)

const (
	previewDir   = "previews"
	previewScale = 4
	shutdownWait = 5 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// App wires the generator core to its outer surfaces: chunk files, the run
// index, previews and the websocket server.
type App struct {
	cfg    *config.Config
	gen    terrain.Generator
	logger *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	gen, err := terrain.New(&cfg.Terrain)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, gen: gen, logger: logging.OrNop(logger)}, nil
}

func (a *App) Generator() terrain.Generator {
	return a.gen
}

// Report is the outcome of one batch generation.
type Report struct {
	RunID   int64
	Summary region.Summary
	Files   int
	Bytes   int64
}

// Generate voxelizes every chunk within the configured radius, writes one
// record file per chunk, indexes the run and renders previews for chunks with
// geometry.
func (a *App) Generate(ctx context.Context) (*Report, error) {
	cfg := a.cfg
	log := a.logger.Named("generate")

	codec, err := export.NewCodec(cfg.Output.CompressLevel)
	if err != nil {
		return nil, err
	}
	defer codec.Close()

	writer, err := export.NewWriter(cfg.Output.Dir, codec)
	if err != nil {
		return nil, err
	}

	center := voxel.ChunkPos{X: cfg.Generation.Center[0], Y: cfg.Generation.Center[1], Z: cfg.Generation.Center[2]}
	positions := region.Cube(center, cfg.Generation.Radius)
	report := &Report{}

	var idx *index.SQLiteIndex
	if !cfg.Index.Disabled {
		idx, err = index.OpenSQLite(cfg.Index.Path)
		if err != nil {
			log.Warn("index unavailable, continuing without it", zap.String("path", cfg.Index.Path), zap.Error(err))
		} else {
			defer idx.Close()
			report.RunID, err = idx.BeginRun(ctx, index.Run{
				Digest:    cfg.Terrain.Digest(),
				Name:      cfg.Terrain.Name,
				Generator: a.gen.Config().Generator,
				Seed:      cfg.Terrain.Seed,
				Center:    cfg.Generation.Center,
				Radius:    cfg.Generation.Radius,
				StartedAt: time.Now(),
			})
			if err != nil {
				log.Warn("index run not recorded", zap.Error(err))
				idx.Close()
				idx = nil
			}
		}
	}

	log.Info("generation started",
		zap.String("terrain", cfg.Terrain.Name),
		zap.Uint32("seed", cfg.Terrain.Seed),
		zap.Stringer("center", center),
		zap.Int("radius", cfg.Generation.Radius),
		zap.Int("chunks", len(positions)))

	runner := region.NewRunner(a.gen,
		region.WithWorkers(cfg.Generation.Workers),
		region.WithPool(voxel.NewPool(cfg.Generation.MaxBuffers)),
		region.WithLogger(a.logger))

	start := time.Now()
	summary, runErr := runner.Stream(ctx, positions, func(c *voxel.Chunk) error {
		path, n, err := writer.Write(c)
		if err != nil {
			return err
		}
		report.Files++
		report.Bytes += int64(n)

		if cfg.Output.Previews && c.HasGeometry() {
			if _, err := preview.SaveChunk(c, filepath.Join(cfg.Output.Dir, previewDir), previewScale); err != nil {
				log.Warn("preview failed", zap.Stringer("pos", c.Pos), zap.Error(err))
			}
		}
		if idx != nil {
			idx.RecordChunk(index.Chunk{
				RunID:     report.RunID,
				X:         c.Pos.X,
				Y:         c.Pos.Y,
				Z:         c.Pos.Z,
				Solid:     c.Solid,
				Path:      path,
				Bytes:     n,
				ElapsedMS: time.Since(start).Milliseconds(),
			})
		}
		return nil
	})
	report.Summary = summary

	if idx != nil {
		// The run row is closed even when ctx was cancelled.
		finishCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		err := idx.FinishRun(finishCtx, report.RunID, index.RunResult{
			Chunks:       summary.Chunks,
			TotalSolid:   summary.TotalSolid,
			WithGeometry: summary.WithGeometry,
			Err:          runErr,
		})
		cancel()
		if err != nil {
			log.Warn("index run not finalised", zap.Error(err))
		}
		if dropped := idx.Dropped(); dropped > 0 {
			log.Warn("index dropped chunk rows", zap.Int64("dropped", dropped))
		}
	}
	if runErr != nil {
		return report, runErr
	}

	log.Info(fmt.Sprintf("%d chunks, %d total solid voxels, %d chunks with geometry",
		summary.Chunks, summary.TotalSolid, summary.WithGeometry),
		zap.Int("files", report.Files),
		zap.Int64("bytes", report.Bytes),
		zap.Duration("elapsed", summary.Elapsed))
	return report, nil
}

// RenderRegion loads every record file in dir and writes a top-down mosaic.
func RenderRegion(dir, out string) (string, error) {
	codec, err := export.NewCodec("")
	if err != nil {
		return "", err
	}
	defer codec.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read export directory: %w", err)
	}
	var chunks []*voxel.Chunk
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".vxc") {
			continue
		}
		c, err := export.ReadFile(filepath.Join(dir, e.Name()), codec)
		if err != nil {
			return "", err
		}
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("no chunk files in %s", dir)
	}
	if out == "" {
		out = filepath.Join(dir, previewDir, "region.png")
	}
	return preview.SaveRegion(chunks, filepath.Dir(out), filepath.Base(out), 1)
}

// Serve runs the websocket chunk server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfg
	log := a.logger.Named("serve")

	codec, err := export.NewCodec(cfg.Output.CompressLevel)
	if err != nil {
		return err
	}
	defer codec.Close()

	srv := ws.NewServer(a.gen, codec, cfg.Server,
		ws.WithPool(voxel.NewPool(cfg.Generation.MaxBuffers)),
		ws.WithLogger(a.logger))

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()
	log.Info("chunk server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("terrain", cfg.Terrain.Name),
		zap.String("digest", cfg.Terrain.Digest()))

	select {
	case err := <-errCh:
		srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	err = httpSrv.Shutdown(shutdownCtx)
	// Websocket connections are hijacked, so Shutdown does not wait for them.
	srv.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("chunk server stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"voxelgen/internal/app"
	"voxelgen/internal/config"
	"voxelgen/internal/export"
	"voxelgen/internal/logging"
	"voxelgen/internal/terrain"
	"voxelgen/internal/transport/ws"
	"voxelgen/internal/voxel"
)

const usage = `usage: voxelgen <command> [flags]

commands:
  generate     voxelize a cube of chunks and write them to the output directory
  serve        serve chunks over websocket
  fetch        request one chunk from a running server
  sample       print the density breakdown at a world position (voxelgen sample -- X Y Z)
  preview      render a top-down mosaic from exported chunk files
  init-config  write the default configuration file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Commands log through this until their own config is loaded.
	logger, err := logging.New(config.Default().Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "generate":
		err = runGenerate(args)
	case "serve":
		err = runServe(args)
	case "fetch":
		err = runFetch(args)
	case "sample":
		err = runSample(args)
	case "preview":
		err = runPreview(args)
	case "init-config":
		err = runInitConfig(args, logger)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

// setup loads the config named by -config and builds the logger from it.
func setup(fs *flag.FlagSet, args []string, overrides func(*config.Config)) (*config.Config, *zap.Logger, error) {
	cfgPath := fs.String("config", "", "path to a YAML or JSON configuration file")
	level := fs.String("log-level", "", "override log.level")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if *level != "" {
		cfg.Log.Level = *level
	}
	if overrides != nil {
		overrides(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	radius := fs.Int("radius", -1, "override generation.radius")
	workers := fs.Int("workers", -1, "override generation.workers")
	out := fs.String("out", "", "override output.dir")
	noIndex := fs.Bool("no-index", false, "skip the run index")

	cfg, logger, err := setup(fs, args, func(cfg *config.Config) {
		if *radius >= 0 {
			cfg.Generation.Radius = *radius
		}
		if *workers >= 0 {
			cfg.Generation.Workers = *workers
		}
		if *out != "" {
			cfg.Output.Dir = *out
		}
		if *noIndex {
			cfg.Index.Disabled = true
		}
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	_, err = a.Generate(ctx)
	return err
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", "", "override server.listen")

	cfg, logger, err := setup(fs, args, func(cfg *config.Config) {
		if *listen != "" {
			cfg.Server.Listen = *listen
		}
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	return a.Serve(ctx)
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	url := fs.String("url", "ws://127.0.0.1:8089/ws", "chunk server websocket url")
	out := fs.String("out", ".", "directory for the fetched chunk file")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := parseTriple[int](fs.Args(), strconv.Atoi)
	if err != nil {
		return fmt.Errorf("fetch needs chunk coordinates X Y Z: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	codec, err := export.NewCodec("")
	if err != nil {
		return err
	}
	defer codec.Close()

	client, err := ws.Dial(ctx, *url, codec)
	if err != nil {
		return err
	}
	defer client.Close()

	c, err := client.Chunk(ctx, voxel.ChunkPos{X: pos[0], Y: pos[1], Z: pos[2]})
	if err != nil {
		return err
	}
	w, err := export.NewWriter(*out, codec)
	if err != nil {
		return err
	}
	path, n, err := w.Write(c)
	if err != nil {
		return err
	}
	welcome := client.Welcome()
	fmt.Printf("%s: %d solid voxels, %d bytes (terrain %q, digest %s)\n", path, c.Solid, n, welcome.Terrain, welcome.Digest)
	return nil
}

func runSample(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	cfg, logger, err := setup(fs, args, nil)
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := parseTriple[float64](fs.Args(), func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
	if err != nil {
		return fmt.Errorf("sample needs world coordinates X Y Z: %w", err)
	}

	gen, err := terrain.New(&cfg.Terrain)
	if err != nil {
		return err
	}
	density := gen.Density(p[0], p[1], p[2])
	if mn, ok := gen.(*terrain.MultiNoise); ok {
		b := mn.Sample(p[0], p[1], p[2])
		fmt.Printf("continentalness %.6f\nerosion         %.6f\npeaks_valleys   %.6f\nland_mask       %.6f\npeak_amplitude  %.6f\nvertical        %.6f\n",
			b.Continentalness, b.Erosion, b.PeaksValleys, b.LandMask, b.PeakAmplitude, b.Vertical)
	}
	state := voxel.Air
	if density > cfg.Terrain.DensityThreshold {
		state = voxel.MaterialFor(int(math.Floor(p[1])), cfg.Terrain.MaterialThresholds)
	}
	fmt.Printf("density         %.6f (threshold %.3f, %s)\n", density, cfg.Terrain.DensityThreshold, state)
	return nil
}

func runPreview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	dir := fs.String("dir", "./out", "directory holding exported chunk files")
	out := fs.String("out", "", "output png (default <dir>/previews/region.png)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := app.RenderRegion(*dir, *out)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runInitConfig(args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("init-config", flag.ContinueOnError)
	path := fs.String("config", "voxelgen.yml", "file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", *path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := config.Save(*path, config.Default()); err != nil {
		return err
	}
	logger.Info("default configuration written", zap.String("path", *path))
	return nil
}

func parseTriple[T any](args []string, parse func(string) (T, error)) ([3]T, error) {
	var out [3]T
	if len(args) != 3 {
		return out, fmt.Errorf("got %d arguments", len(args))
	}
	for i, a := range args {
		v, err := parse(a)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			logger.Info("shutdown requested")
			cancel()
		case <-ctx.Done():
			return
		}

		// Ensure the process terminates if shutdown stalls.
		time.AfterFunc(10*time.Second, func() {
			logger.Error("forced shutdown after timeout")
			_ = logger.Sync()
			os.Exit(1)
		})
	}()

	return ctx, cancel
}

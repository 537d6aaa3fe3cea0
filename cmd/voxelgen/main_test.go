package main

import (
	"path/filepath"
	"strconv"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"voxelgen/internal/config"
)

func TestInitConfigWritesDefaultsAndLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	path := filepath.Join(t.TempDir(), "voxelgen.yml")

	if err := runInitConfig([]string{"-config", path}, logger); err != nil {
		t.Fatalf("init-config: %v", err)
	}
	entries := logs.FilterMessage("default configuration written").All()
	if len(entries) != 1 || entries[0].ContextMap()["path"] != path {
		t.Fatalf("expected one log entry naming %s, got %+v", path, entries)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Terrain.Digest() != config.DefaultTerrain().Digest() {
		t.Fatalf("written terrain differs from defaults")
	}

	if err := runInitConfig([]string{"-config", path}, logger); err == nil {
		t.Fatalf("expected error when the file exists")
	}
	if err := runInitConfig([]string{"-config", path, "-force"}, logger); err != nil {
		t.Fatalf("init-config -force: %v", err)
	}
	if n := logs.FilterMessage("default configuration written").Len(); n != 2 {
		t.Fatalf("expected 2 log entries, got %d", n)
	}
}

func TestParseTriple(t *testing.T) {
	got, err := parseTriple[float64]([]string{"1.5", "-2", "3"}, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
	if err != nil || got != [3]float64{1.5, -2, 3} {
		t.Fatalf("parseTriple = %v, %v", got, err)
	}
	if _, err := parseTriple[float64]([]string{"1", "2"}, nil); err == nil {
		t.Fatalf("expected error for two arguments")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Model.ContextWindow != DefaultContextWindow {
		t.Errorf("context window = %d", cfg.Model.ContextWindow)
	}
	if cfg.Model.MaxOutputTokens != DefaultMaxOutputTokens {
		t.Errorf("max output tokens = %d", cfg.Model.MaxOutputTokens)
	}
	if cfg.Compression.Threshold != DefaultThreshold {
		t.Errorf("threshold = %v", cfg.Compression.Threshold)
	}
	if cfg.Compression.PreserveRatio != DefaultPreserveRatio {
		t.Errorf("preserve ratio = %v", cfg.Compression.PreserveRatio)
	}
	if cfg.Compression.PreservedPrefix != DefaultPreservedPrefix {
		t.Errorf("preserved prefix = %d", cfg.Compression.PreservedPrefix)
	}
	if cfg.ToolConcurrency != DefaultToolConcurrency {
		t.Errorf("tool concurrency = %d", cfg.ToolConcurrency)
	}
}

func TestApplyDefaultsRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := &Config{Compression: Compression{Threshold: 1.5, PreserveRatio: -0.2}}
	cfg.ApplyDefaults()
	if cfg.Compression.Threshold != DefaultThreshold {
		t.Errorf("threshold above 1 must fall back to default, got %v", cfg.Compression.Threshold)
	}
	if cfg.Compression.PreserveRatio != DefaultPreserveRatio {
		t.Errorf("negative preserve ratio must fall back to default, got %v", cfg.Compression.PreserveRatio)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Model:           Model{ContextWindow: 32000, MaxOutputTokens: 2048},
		Compression:     Compression{Threshold: 0.5, PreserveRatio: 0.4, PreservedPrefix: 1},
		ToolConcurrency: 8,
	}
	cfg.ApplyDefaults()
	if cfg.Model.ContextWindow != 32000 || cfg.Compression.Threshold != 0.5 || cfg.ToolConcurrency != 8 {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestGetToolsetFallsBackToDefault(t *testing.T) {
	cfg := &Config{}
	ts, err := cfg.GetToolset("")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Name != "default" || len(ts.Tools) == 0 {
		t.Errorf("built-in default toolset missing: %+v", ts)
	}

	ts, err = cfg.GetToolset("nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Name != "default" {
		t.Errorf("unknown toolset must fall back to default, got %s", ts.Name)
	}
}

func TestGetToolsetNamed(t *testing.T) {
	cfg := &Config{Toolsets: []Toolset{
		{Name: "readonly", Tools: []string{"read_file", "list_files"}},
	}}
	ts, err := cfg.GetToolset("readonly")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Name != "readonly" || len(ts.Tools) != 2 {
		t.Errorf("got %+v", ts)
	}
}

func TestLoadConfigProjectOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", filepath.Join(dir, "home"))

	if err := os.MkdirAll(".tandem", 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := []byte("provider: anthropic\nmodel:\n  name: test-model\n  context_window: 100000\ntool_concurrency: 2\n")
	if err := os.WriteFile(filepath.Join(".tandem", "config.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "anthropic" || cfg.Model.Name != "test-model" {
		t.Errorf("project config not applied: %+v", cfg)
	}
	if cfg.Model.ContextWindow != 100000 {
		t.Errorf("context window = %d", cfg.Model.ContextWindow)
	}
	if cfg.ToolConcurrency != 2 {
		t.Errorf("tool concurrency = %d", cfg.ToolConcurrency)
	}
	// Unset fields still pick up defaults.
	if cfg.Compression.Threshold != DefaultThreshold {
		t.Errorf("threshold default not applied: %v", cfg.Compression.Threshold)
	}
	// The engine's own dot-directory stays hidden from tools.
	found := false
	for _, h := range cfg.FilesystemAccess.Hidden {
		if h == ".tandem" {
			found = true
		}
	}
	if !found {
		t.Error(".tandem must always be hidden")
	}
}

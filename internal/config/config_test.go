package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validConfig returns a default configuration pointing at fresh temp dirs.
func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Default()
	cfg.TemplateDir = t.TempDir()
	cfg.CandidateDir = t.TempDir()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.AcceptThreshold != 20 {
		t.Errorf("default AcceptThreshold = %d, want 20", cfg.AcceptThreshold)
	}
	if cfg.RansacThreshold != 3.0 {
		t.Errorf("default RansacThreshold = %g, want 3.0", cfg.RansacThreshold)
	}
	if cfg.Metric != "hamming" {
		t.Errorf("default Metric = %q, want hamming", cfg.Metric)
	}
	if cfg.TemplateOpenings != 0 || cfg.CandidateOpenings != 2 {
		t.Errorf("default openings = (%d, %d), want (0, 2)", cfg.TemplateOpenings, cfg.CandidateOpenings)
	}
	if cfg.Workers < 1 {
		t.Errorf("default Workers = %d, want >= 1", cfg.Workers)
	}
	if cfg.Layout != LayoutFlat {
		t.Errorf("default Layout = %q, want %q", cfg.Layout, LayoutFlat)
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidate_MissingDirectory(t *testing.T) {
	cfg := validConfig(t)
	cfg.CandidateDir = filepath.Join(t.TempDir(), "does-not-exist")

	err := cfg.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "candidates" {
		t.Errorf("Field = %q, want candidates", cfgErr.Field)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestValidate_FileInsteadOfDirectory(t *testing.T) {
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	cfg.TemplateDir = file

	var cfgErr *ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "templates" {
		t.Fatalf("expected templates ConfigurationError, got %v", err)
	}
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero keypoints", func(c *Config) { c.MaxKeypoints = 0 }},
		{"fast threshold", func(c *Config) { c.FastThreshold = 300 }},
		{"no levels", func(c *Config) { c.PyramidLevels = 0 }},
		{"scale factor", func(c *Config) { c.ScaleFactor = 1 }},
		{"metric", func(c *Config) { c.Metric = "cosine" }},
		{"tau", func(c *Config) { c.RansacThreshold = 0 }},
		{"iterations", func(c *Config) { c.RansacIterations = 0 }},
		{"confidence", func(c *Config) { c.RansacConfidence = 1 }},
		{"accept", func(c *Config) { c.AcceptThreshold = -1 }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"timeout", func(c *Config) { c.PairTimeout = -time.Second }},
		{"openings", func(c *Config) { c.CandidateOpenings = -1 }},
		{"radius", func(c *Config) { c.OpeningRadius = 0 }},
		{"layout", func(c *Config) { c.Layout = "nested" }},
		{"output", func(c *Config) { c.OutputDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			var cfgErr *ConfigurationError
			if err := cfg.Validate(); !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestValidate_MetricNames(t *testing.T) {
	for _, name := range []string{"hamming", "HAMMING", "l2", "L2", "euclidean", " Hamming "} {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.Metric = name
			if err := cfg.Validate(); err != nil {
				t.Errorf("metric %q should be accepted, got %v", name, err)
			}
		})
	}

	cfg := validConfig(t)
	cfg.Metric = "cosine"
	var cfgErr *ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "metric" {
		t.Errorf("expected metric ConfigurationError, got %v", err)
	}
}

func TestParse_Flags(t *testing.T) {
	cfg, _, err := Parse([]string{
		"--templates", "/tmp/t",
		"--candidates", "/tmp/c",
		"--accept-threshold", "25",
		"--ransac-threshold", "2.5",
		"--seed", "42",
		"--pair-timeout", "3s",
		"--layout", LayoutByTemplate,
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.TemplateDir != "/tmp/t" || cfg.CandidateDir != "/tmp/c" {
		t.Errorf("dirs = (%q, %q)", cfg.TemplateDir, cfg.CandidateDir)
	}
	if cfg.AcceptThreshold != 25 {
		t.Errorf("AcceptThreshold = %d, want 25", cfg.AcceptThreshold)
	}
	if cfg.RansacThreshold != 2.5 {
		t.Errorf("RansacThreshold = %g, want 2.5", cfg.RansacThreshold)
	}
	if cfg.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Seed)
	}
	if cfg.PairTimeout != 3*time.Second {
		t.Errorf("PairTimeout = %s, want 3s", cfg.PairTimeout)
	}
	if cfg.Layout != LayoutByTemplate {
		t.Errorf("Layout = %q", cfg.Layout)
	}
	if cfg.MaxKeypoints != Default().MaxKeypoints {
		t.Errorf("unset flag should keep default, got %d", cfg.MaxKeypoints)
	}
}

func TestParse_Env(t *testing.T) {
	t.Setenv("TEMPLATE_MATCHER_ACCEPT_THRESHOLD", "31")
	t.Setenv("TEMPLATE_MATCHER_METRIC", "l2")

	cfg, _, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.AcceptThreshold != 31 {
		t.Errorf("AcceptThreshold = %d, want 31", cfg.AcceptThreshold)
	}
	if cfg.Metric != "l2" {
		t.Errorf("Metric = %q, want l2", cfg.Metric)
	}
}

func TestParse_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matcher.conf")
	content := "max-keypoints 500\ncandidate-openings 1\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, _, err := Parse([]string{"--config", path})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.MaxKeypoints != 500 {
		t.Errorf("MaxKeypoints = %d, want 500", cfg.MaxKeypoints)
	}
	if cfg.CandidateOpenings != 1 {
		t.Errorf("CandidateOpenings = %d, want 1", cfg.CandidateOpenings)
	}
}

func TestParse_UnknownFlag(t *testing.T) {
	if _, _, err := Parse([]string{"--no-such-flag"}); err == nil {
		t.Error("Parse should fail for an unknown flag")
	}
}

// Package config holds the explicit configuration surface of the matcher and
// parses it from flags, TEMPLATE_MATCHER_* environment variables and an
// optional plain config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/ironsheep/template-matcher/internal/matching"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// TEMPLATE_MATCHER_ACCEPT_THRESHOLD=25.
const EnvPrefix = "TEMPLATE_MATCHER"

// Output layouts.
const (
	// LayoutFlat writes every rendering to <output>/<candidate filename>.
	LayoutFlat = "flat"
	// LayoutByTemplate writes to <output>/<template stem>/<candidate filename>.
	LayoutByTemplate = "by-template"
)

// Config is the complete set of knobs for one run. Nothing is read from
// hidden globals; every component receives the values it needs from here.
type Config struct {
	// TemplateDir holds the reference images.
	TemplateDir string `json:"template_dir"`

	// CandidateDir holds the archive images searched for templates.
	CandidateDir string `json:"candidate_dir"`

	// OutputDir receives one rendering per accepted pair. Created if missing.
	OutputDir string `json:"output_dir"`

	// Layout is LayoutFlat or LayoutByTemplate.
	Layout string `json:"layout"`

	// ReportPath, when set, receives one JSON line per evaluated pair.
	ReportPath string `json:"report_path,omitempty"`

	// CacheDB, when set, is a bbolt file used to persist extracted features
	// across runs.
	CacheDB string `json:"cache_db,omitempty"`

	// MaxKeypoints bounds the number of keypoints kept per image.
	MaxKeypoints int `json:"max_keypoints"`

	// FastThreshold is the FAST segment-test intensity threshold (0-255).
	FastThreshold int `json:"fast_threshold"`

	// PyramidLevels is the number of scale levels searched by the extractor.
	PyramidLevels int `json:"pyramid_levels"`

	// ScaleFactor is the ratio between consecutive pyramid levels.
	ScaleFactor float64 `json:"scale_factor"`

	// Metric names the descriptor distance, as accepted by
	// matching.ParseMetric: "hamming" or "l2".
	Metric string `json:"metric"`

	// RansacThreshold is the reprojection tolerance tau in candidate pixels.
	RansacThreshold float64 `json:"ransac_threshold"`

	// RansacIterations caps the number of RANSAC samples per pair.
	RansacIterations int `json:"ransac_iterations"`

	// RansacConfidence drives the adaptive iteration bound (0-1).
	RansacConfidence float64 `json:"ransac_confidence"`

	// AcceptThreshold is the minimum inlier count for a pair to be accepted.
	AcceptThreshold int `json:"accept_threshold"`

	// Seed makes RANSAC sampling reproducible.
	Seed int64 `json:"seed"`

	// Workers bounds the number of pairs evaluated concurrently.
	Workers int `json:"workers"`

	// PairTimeout is an optional wall-clock budget per pair. Zero disables it.
	PairTimeout time.Duration `json:"pair_timeout"`

	// TemplateOpenings and CandidateOpenings are the number of morphological
	// openings applied to each role before extraction. By default candidates
	// (noisy scans) are opened twice and templates are left untouched.
	TemplateOpenings  int `json:"template_openings"`
	CandidateOpenings int `json:"candidate_openings"`

	// OpeningRadius is the structuring element radius (1 ~ 3x3).
	OpeningRadius float64 `json:"opening_radius"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`
}

// Default returns the configuration used when no flag overrides a value.
func Default() Config {
	return Config{
		TemplateDir:       "template",
		CandidateDir:      "archive",
		OutputDir:         "output",
		Layout:            LayoutFlat,
		MaxKeypoints:      2000,
		FastThreshold:     20,
		PyramidLevels:     4,
		ScaleFactor:       1.2,
		Metric:            "hamming",
		RansacThreshold:   3.0,
		RansacIterations:  2000,
		RansacConfidence:  0.995,
		AcceptThreshold:   20,
		Seed:              1,
		Workers:           DefaultWorkers(),
		PairTimeout:       0,
		TemplateOpenings:  0,
		CandidateOpenings: 2,
		OpeningRadius:     1,
		LogLevel:          "info",
	}
}

// DefaultWorkers returns the number of physical cores, falling back to the
// logical CPU count when the platform does not report cores.
func DefaultWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return n
}

// ConfigurationError is fatal: the run stops before any pair is processed.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate checks value ranges and that both input directories exist and are
// readable. The output directory is not required to exist.
func (c Config) Validate() error {
	if err := checkDir("templates", c.TemplateDir); err != nil {
		return err
	}
	if err := checkDir("candidates", c.CandidateDir); err != nil {
		return err
	}
	if c.OutputDir == "" {
		return invalid("output", "must not be empty")
	}
	if c.Layout != LayoutFlat && c.Layout != LayoutByTemplate {
		return invalid("layout", "unknown layout %q (want %q or %q)", c.Layout, LayoutFlat, LayoutByTemplate)
	}
	if c.MaxKeypoints < 1 {
		return invalid("max-keypoints", "must be positive, got %d", c.MaxKeypoints)
	}
	if c.FastThreshold < 1 || c.FastThreshold > 255 {
		return invalid("fast-threshold", "must be in 1..255, got %d", c.FastThreshold)
	}
	if c.PyramidLevels < 1 {
		return invalid("pyramid-levels", "must be at least 1, got %d", c.PyramidLevels)
	}
	if c.ScaleFactor <= 1 {
		return invalid("scale-factor", "must be greater than 1, got %g", c.ScaleFactor)
	}
	if _, err := matching.ParseMetric(c.Metric); err != nil {
		return &ConfigurationError{Field: "metric", Err: err}
	}
	if c.RansacThreshold <= 0 {
		return invalid("ransac-threshold", "must be positive, got %g", c.RansacThreshold)
	}
	if c.RansacIterations < 1 {
		return invalid("ransac-iterations", "must be positive, got %d", c.RansacIterations)
	}
	if c.RansacConfidence <= 0 || c.RansacConfidence >= 1 {
		return invalid("ransac-confidence", "must be in (0, 1), got %g", c.RansacConfidence)
	}
	if c.AcceptThreshold < 0 {
		return invalid("accept-threshold", "must not be negative, got %d", c.AcceptThreshold)
	}
	if c.Workers < 1 {
		return invalid("workers", "must be positive, got %d", c.Workers)
	}
	if c.PairTimeout < 0 {
		return invalid("pair-timeout", "must not be negative, got %s", c.PairTimeout)
	}
	if c.TemplateOpenings < 0 || c.CandidateOpenings < 0 {
		return invalid("openings", "must not be negative")
	}
	if c.OpeningRadius <= 0 {
		return invalid("opening-radius", "must be positive, got %g", c.OpeningRadius)
	}
	return nil
}

func checkDir(field, path string) error {
	if path == "" {
		return invalid(field, "directory not set")
	}
	info, err := os.Stat(path)
	if err != nil {
		return &ConfigurationError{Field: field, Err: err}
	}
	if !info.IsDir() {
		return invalid(field, "%s is not a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return &ConfigurationError{Field: field, Err: err}
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return &ConfigurationError{Field: field, Err: fmt.Errorf("failed to read directory: %w", err)}
	}
	return nil
}

// Parse builds a Config from command-line arguments, environment variables
// and an optional config file named by --config. Values not mentioned keep
// their Default. The returned FlagSet is useful for rendering help.
func Parse(args []string) (Config, *ff.FlagSet, error) {
	def := Default()
	fs := ff.NewFlagSet("template-matcher")

	var (
		templates   = fs.StringLong("templates", def.TemplateDir, "directory of template images")
		candidates  = fs.StringLong("candidates", def.CandidateDir, "directory of candidate (archive) images")
		output      = fs.StringLong("output", def.OutputDir, "directory for renderings of accepted pairs")
		layout      = fs.StringLong("layout", def.Layout, "output layout: flat or by-template")
		report      = fs.StringLong("report", "", "write one JSON line per evaluated pair to this file")
		cacheDB     = fs.StringLong("cache-db", "", "bbolt file persisting extracted features between runs")
		maxKps      = fs.IntLong("max-keypoints", def.MaxKeypoints, "maximum keypoints per image")
		fastThresh  = fs.IntLong("fast-threshold", def.FastThreshold, "FAST corner intensity threshold")
		levels      = fs.IntLong("pyramid-levels", def.PyramidLevels, "number of pyramid levels")
		scale       = fs.Float64Long("scale-factor", def.ScaleFactor, "scale ratio between pyramid levels")
		metric      = fs.StringLong("metric", def.Metric, "descriptor distance: hamming or l2")
		ransacTol   = fs.Float64Long("ransac-threshold", def.RansacThreshold, "RANSAC reprojection tolerance in pixels")
		ransacIters = fs.IntLong("ransac-iterations", def.RansacIterations, "RANSAC iteration cap")
		ransacConf  = fs.Float64Long("ransac-confidence", def.RansacConfidence, "RANSAC target confidence")
		accept      = fs.IntLong("accept-threshold", def.AcceptThreshold, "minimum inliers to accept a pair")
		seed        = fs.IntLong("seed", int(def.Seed), "random seed for RANSAC sampling")
		workers     = fs.IntLong("workers", def.Workers, "pairs evaluated concurrently")
		timeout     = fs.DurationLong("pair-timeout", def.PairTimeout, "wall-clock budget per pair (0 disables)")
		tmplOpen    = fs.IntLong("template-openings", def.TemplateOpenings, "morphological openings applied to templates")
		candOpen    = fs.IntLong("candidate-openings", def.CandidateOpenings, "morphological openings applied to candidates")
		openRadius  = fs.Float64Long("opening-radius", def.OpeningRadius, "structuring element radius for openings")
		logLevel    = fs.StringLong("log-level", def.LogLevel, "log level: debug, info, warn, error")
		_           = fs.StringLong("config", "", "plain config file (one 'flag value' per line)")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		return Config{}, fs, err
	}

	return Config{
		TemplateDir:       *templates,
		CandidateDir:      *candidates,
		OutputDir:         *output,
		Layout:            *layout,
		ReportPath:        *report,
		CacheDB:           *cacheDB,
		MaxKeypoints:      *maxKps,
		FastThreshold:     *fastThresh,
		PyramidLevels:     *levels,
		ScaleFactor:       *scale,
		Metric:            *metric,
		RansacThreshold:   *ransacTol,
		RansacIterations:  *ransacIters,
		RansacConfidence:  *ransacConf,
		AcceptThreshold:   *accept,
		Seed:              int64(*seed),
		Workers:           *workers,
		PairTimeout:       *timeout,
		TemplateOpenings:  *tmplOpen,
		CandidateOpenings: *candOpen,
		OpeningRadius:     *openRadius,
		LogLevel:          *logLevel,
	}, fs, nil
}

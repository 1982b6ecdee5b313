package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"log/slog"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/template-matcher/internal/config"
	"github.com/ironsheep/template-matcher/internal/features"
	"github.com/ironsheep/template-matcher/internal/homography"
	"github.com/ironsheep/template-matcher/internal/imaging"
	"github.com/ironsheep/template-matcher/internal/matching"
	"github.com/ironsheep/template-matcher/internal/output"
)

// Matcher pairs template descriptors with candidate descriptors.
type Matcher interface {
	Match(templates, candidates []features.Descriptor) []matching.Correspondence
}

// ModelEstimator fits a homography to corresponding points.
type ModelEstimator interface {
	Estimate(ctx context.Context, src, dst []homography.Point) (*homography.Estimate, error)
}

// EstimatorFactory builds a fresh estimator for one pair. The seed is
// derived from the configured seed and the pair's image contents.
type EstimatorFactory func(seed int64) ModelEstimator

// Sink receives renderings of accepted pairs. It returns where the image
// was written.
type Sink interface {
	Emit(templatePath, candidatePath string, img image.Image) (string, error)
}

// Role distinguishes the two sides of a pair. Preprocessing and cache keys
// depend on it.
type Role string

const (
	RoleTemplate  Role = "template"
	RoleCandidate Role = "candidate"
)

// Runner evaluates every template against every candidate.
type Runner struct {
	cfg          config.Config
	extractor    features.Extractor
	matcher      Matcher
	newEstimator EstimatorFactory
	sink         Sink
	store        features.Store
	logger       *slog.Logger
	classifier   Classifier
	prep         map[Role]imaging.Preprocessor
}

// Option customizes a Runner.
type Option func(*Runner)

// WithExtractor replaces the default ORB extractor.
func WithExtractor(e features.Extractor) Option {
	return func(r *Runner) { r.extractor = e }
}

// WithMatcher replaces the default cross-check matcher.
func WithMatcher(m Matcher) Option {
	return func(r *Runner) { r.matcher = m }
}

// WithEstimatorFactory replaces the default RANSAC estimator.
func WithEstimatorFactory(f EstimatorFactory) Option {
	return func(r *Runner) { r.newEstimator = f }
}

// WithSink replaces the default directory sink.
func WithSink(s Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithFeatureStore adds a persistent tier under the feature cache.
func WithFeatureStore(s features.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner builds a runner from cfg. Collaborators that are not injected
// are created from the configuration.
func NewRunner(cfg config.Config, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:        cfg,
		logger:     slog.Default(),
		classifier: Classifier{Threshold: cfg.AcceptThreshold},
		prep: map[Role]imaging.Preprocessor{
			RoleTemplate:  {Openings: cfg.TemplateOpenings, Radius: cfg.OpeningRadius},
			RoleCandidate: {Openings: cfg.CandidateOpenings, Radius: cfg.OpeningRadius},
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.extractor == nil {
		e, err := features.NewDefault(features.ORBConfig{
			MaxKeypoints:  cfg.MaxKeypoints,
			FastThreshold: cfg.FastThreshold,
			PyramidLevels: cfg.PyramidLevels,
			ScaleFactor:   cfg.ScaleFactor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create extractor: %w", err)
		}
		r.extractor = e
	}

	if r.matcher == nil {
		metric, err := matching.ParseMetric(cfg.Metric)
		if err != nil {
			return nil, err
		}
		r.matcher = matching.NewBruteForce(metric)
	}

	if r.newEstimator == nil {
		r.newEstimator = func(seed int64) ModelEstimator {
			return &homography.Estimator{
				Threshold:     cfg.RansacThreshold,
				MaxIterations: cfg.RansacIterations,
				Confidence:    cfg.RansacConfidence,
				Rand:          rand.New(rand.NewSource(seed)),
			}
		}
	}

	if r.sink == nil {
		s, err := output.NewDirSink(cfg.OutputDir, cfg.Layout)
		if err != nil {
			return nil, err
		}
		r.sink = s
	}

	return r, nil
}

type pair struct {
	index     int
	template  string
	candidate string
}

// outcome is everything a worker learned about one pair. Pixels are not
// kept: accepted pairs are decoded again at emission time, in pair order.
type outcome struct {
	pair    pair
	result  MatchResult
	skipped *imaging.DecodeError
	links   []imaging.Link
	outline []image.Point
}

// Run evaluates the cross product of templates and candidates.
//
// Pairs are evaluated concurrently by at most Workers goroutines, candidate
// by candidate. Each image is decoded, preprocessed and described at most
// once per role, however many pairs need it, and its pixels are dropped as
// soon as the last pair using it finishes. After all pairs finish, accepted pairs are rendered and
// handed to the sink in (template, candidate) order, and the report is
// written if configured, so the output does not depend on scheduling.
//
// An image that cannot be decoded is reported once in RunReport.DecodeErrors
// and every pair that needs it is skipped. Per-pair failures are recorded in
// MatchResult.Failure. Run only returns an error when ctx ends or the report
// cannot be written; the partial report is returned alongside.
func (r *Runner) Run(ctx context.Context, templates, candidates []string) (*RunReport, error) {
	templates = sortedCopy(templates)
	candidates = sortedCopy(candidates)

	report := &RunReport{Pairs: len(templates) * len(candidates)}
	if len(templates) == 0 {
		r.logger.Warn("no template images found")
	}
	if len(candidates) == 0 {
		r.logger.Warn("no candidate images found")
	}

	pairs := make([]pair, 0, report.Pairs)
	for _, t := range templates {
		for _, c := range candidates {
			pairs = append(pairs, pair{index: len(pairs), template: t, candidate: c})
		}
	}

	images := imaging.NewImageCache()
	resident := newResidency(images, pairs)
	cache := features.NewCache(r.store, r.logger)
	outcomes := make([]outcome, len(pairs))

	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(workers)
	for _, i := range dispatchOrder(len(templates), len(candidates)) {
		if ctx.Err() != nil {
			break
		}
		p := pairs[i]
		g.Go(func() error {
			outcomes[p.index] = r.evaluate(ctx, p, images, cache)
			resident.release(p.template, p.candidate)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run interrupted: %w", err)
	}

	r.collect(report, outcomes)

	r.logger.Info("run complete",
		"pairs", report.Pairs,
		"evaluated", len(report.Results),
		"accepted", report.Accepted(),
		"skipped", report.Skipped,
		"decode_errors", len(report.DecodeErrors),
		"extractions", cache.Computations(),
		"elapsed", time.Since(start).Round(time.Millisecond))

	if r.cfg.ReportPath != "" {
		if err := output.WriteJSONLines(r.cfg.ReportPath, report.Results); err != nil {
			return report, fmt.Errorf("failed to write report: %w", err)
		}
	}
	return report, nil
}

// collect walks outcomes in pair order: it records decode errors once per
// image, emits accepted pairs and logs one line per evaluated pair.
func (r *Runner) collect(report *RunReport, outcomes []outcome) {
	seen := make(map[string]bool)
	// Templates are reused across emissions; candidates are evicted after
	// their rendering is written.
	rendering := imaging.NewImageCache()
	for i := range outcomes {
		o := &outcomes[i]

		if o.skipped != nil {
			report.Skipped++
			if !seen[o.skipped.Path] {
				seen[o.skipped.Path] = true
				report.DecodeErrors = append(report.DecodeErrors, o.skipped)
				r.logger.Error("failed to load image", "path", o.skipped.Path, "error", o.skipped.Err)
			}
			continue
		}

		if o.result.Accepted {
			r.emit(o, rendering)
			rendering.Evict(o.pair.candidate)
		}

		res := o.result
		attrs := []any{
			"template", res.TemplateID,
			"candidate", res.CandidateID,
			"correspondences", res.TotalCount,
			"inliers", res.InlierCount,
			"accepted", res.Accepted,
		}
		if res.Failure != "" {
			attrs = append(attrs, "failure", res.Failure)
		}
		if res.Accepted && res.Output == "" {
			r.logger.Error("failed to emit rendering", attrs...)
		} else {
			r.logger.Info("pair evaluated", attrs...)
		}

		report.Results = append(report.Results, res)
	}
}

func (r *Runner) emit(o *outcome, images *imaging.ImageCache) {
	res := &o.result
	tImg, err := images.Load(o.pair.template)
	if err != nil {
		res.Failure = fmt.Sprintf("render: %v", err)
		return
	}
	cImg, err := images.Load(o.pair.candidate)
	if err != nil {
		res.Failure = fmt.Sprintf("render: %v", err)
		return
	}

	rendering, err := imaging.RenderMatches(imaging.MatchRendering{
		Template:  tImg.Pixels,
		Candidate: cImg.Pixels,
		Links:     o.links,
		Outline:   o.outline,
		Label:     fmt.Sprintf("%s  %d/%d inliers", tImg.Name(), res.InlierCount, res.TotalCount),
	})
	if err != nil {
		res.Failure = fmt.Sprintf("render: %v", err)
		return
	}

	path, err := r.sink.Emit(tImg.Path, cImg.Path, rendering)
	if err != nil {
		res.Failure = fmt.Sprintf("write: %v", err)
		return
	}
	res.Output = path
}

// evaluate runs one pair through extraction, matching, estimation and
// classification.
func (r *Runner) evaluate(ctx context.Context, p pair, images *imaging.ImageCache, cache *features.Cache) outcome {
	o := outcome{pair: p, result: MatchResult{
		Pair:        p.index,
		TemplateID:  imageID(p.template),
		CandidateID: imageID(p.candidate),
	}}

	if r.cfg.PairTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.PairTimeout)
		defer cancel()
	}

	tImg, tFeat, err := r.prepare(RoleTemplate, p.template, images, cache)
	if err != nil {
		return o.fail(err)
	}
	cImg, cFeat, err := r.prepare(RoleCandidate, p.candidate, images, cache)
	if err != nil {
		return o.fail(err)
	}
	o.result.TemplateKeypoints = tFeat.Len()
	o.result.CandidateKeypoints = cFeat.Len()

	corr := r.matcher.Match(tFeat.Descriptors, cFeat.Descriptors)
	o.result.TotalCount = len(corr)

	src := make([]homography.Point, len(corr))
	dst := make([]homography.Point, len(corr))
	for i, c := range corr {
		tk := tFeat.Keypoints[c.TemplateIndex]
		ck := cFeat.Keypoints[c.CandidateIndex]
		src[i] = homography.Point{X: tk.X, Y: tk.Y}
		dst[i] = homography.Point{X: ck.X, Y: ck.Y}
	}

	est, err := r.newEstimator(pairSeed(r.cfg.Seed, tImg.Digest, cImg.Digest)).Estimate(ctx, src, dst)
	if err != nil {
		return o.fail(err)
	}

	h := est.H
	o.result.Homography = &h
	o.result.InlierCount = est.Inliers
	o.result.Accepted = r.classifier.Accept(est.Inliers)

	if o.result.Accepted {
		for i, c := range corr {
			if !est.Mask[i] {
				continue
			}
			o.links = append(o.links, imaging.Link{
				From: tFeat.Keypoints[c.TemplateIndex].Point(),
				To:   cFeat.Keypoints[c.CandidateIndex].Point(),
			})
		}
		o.outline = projectOutline(h, tImg.Pixels.Bounds())
	}
	return o
}

func (o outcome) fail(err error) outcome {
	var decodeErr *imaging.DecodeError
	if errors.As(err, &decodeErr) {
		o.skipped = decodeErr
		return o
	}
	o.result.Failure = err.Error()
	return o
}

// prepare loads, preprocesses and describes one image for one role, through
// both caches.
func (r *Runner) prepare(role Role, path string, images *imaging.ImageCache, cache *features.Cache) (*imaging.Image, *features.Features, error) {
	img, err := images.Load(path)
	if err != nil {
		return nil, nil, err
	}

	prep := r.prep[role]
	key := fmt.Sprintf("%s/%s/open=%d,r=%g/%s", role, img.Digest, prep.Openings, prep.Radius, r.extractor.Fingerprint())
	f, err := cache.Get(key, func() (*features.Features, error) {
		f, err := r.extractor.Extract(prep.Apply(img.Pixels))
		if err != nil {
			return nil, fmt.Errorf("failed to extract features from %s: %w", path, err)
		}
		r.logger.Debug("features extracted", "role", role, "path", path, "keypoints", f.Len())
		return f, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return img, f, nil
}

// projectOutline maps the template border into candidate coordinates. It
// returns nil when a corner maps to infinity.
func projectOutline(h homography.Matrix, b image.Rectangle) []image.Point {
	w, ht := float64(b.Dx()), float64(b.Dy())
	corners := []homography.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: ht}, {X: 0, Y: ht}}

	out := make([]image.Point, 0, len(corners))
	for _, c := range corners {
		p, ok := h.Apply(c)
		if !ok {
			return nil
		}
		out = append(out, image.Pt(int(p.X+0.5), int(p.Y+0.5)))
	}
	return out
}

// pairSeed mixes the configured seed with the content of both images, so a
// pair draws the same samples whichever worker runs it and whatever else is
// in the directories.
func pairSeed(seed int64, templateDigest, candidateDigest string) int64 {
	h := fnv.New64a()
	h.Write([]byte(templateDigest))
	h.Write([]byte{0})
	h.Write([]byte(candidateDigest))
	return seed ^ int64(h.Sum64())
}

// dispatchOrder lists pair indexes candidate by candidate, so the pairs of
// one candidate run close together and its pixels can be released early.
// Pair indexes themselves stay in template, candidate order.
func dispatchOrder(templates, candidates int) []int {
	order := make([]int, 0, templates*candidates)
	for c := 0; c < candidates; c++ {
		for t := 0; t < templates; t++ {
			order = append(order, t*candidates+c)
		}
	}
	return order
}

// residency evicts a decoded image from the run's cache once every pair that
// needs it has finished. Features outlive the pixels in the feature cache.
type residency struct {
	images *imaging.ImageCache
	left   map[string]*atomic.Int64
}

func newResidency(images *imaging.ImageCache, pairs []pair) *residency {
	r := &residency{images: images, left: make(map[string]*atomic.Int64)}
	for _, p := range pairs {
		for _, path := range [...]string{p.template, p.candidate} {
			n, ok := r.left[path]
			if !ok {
				n = new(atomic.Int64)
				r.left[path] = n
			}
			n.Add(1)
		}
	}
	return r
}

// release marks one use of each path as done. The map is read-only after
// construction, so release is safe for concurrent use.
func (r *residency) release(paths ...string) {
	for _, path := range paths {
		if n, ok := r.left[path]; ok && n.Add(-1) == 0 {
			r.images.Evict(path)
		}
	}
}

func sortedCopy(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}

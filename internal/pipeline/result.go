package pipeline

import (
	"path/filepath"

	"github.com/ironsheep/template-matcher/internal/homography"
	"github.com/ironsheep/template-matcher/internal/imaging"
)

// MatchResult is the outcome of one evaluated template/candidate pair.
type MatchResult struct {
	// Pair is the position of the pair in (template, candidate) order.
	Pair int `json:"pair"`

	TemplateID  string `json:"template"`
	CandidateID string `json:"candidate"`

	TemplateKeypoints  int `json:"template_keypoints"`
	CandidateKeypoints int `json:"candidate_keypoints"`

	// TotalCount is the number of cross-checked correspondences.
	TotalCount int `json:"correspondences"`

	// InlierCount is the size of the RANSAC consensus set.
	InlierCount int `json:"inliers"`

	// Homography maps template pixels to candidate pixels. Nil when no
	// model could be estimated.
	Homography *homography.Matrix `json:"homography,omitempty"`

	Accepted bool `json:"accepted"`

	// Output is the rendering written for an accepted pair, relative to the
	// output directory.
	Output string `json:"output,omitempty"`

	// Failure explains why a pair could not be evaluated or emitted.
	Failure string `json:"failure,omitempty"`
}

// RunReport summarizes a run.
type RunReport struct {
	// Pairs is the size of the template x candidate cross product.
	Pairs int

	// Results holds one entry per evaluated pair, in pair order. Pairs
	// skipped because an image failed to decode are not included.
	Results []MatchResult

	// Skipped counts pairs that needed an undecodable image.
	Skipped int

	// DecodeErrors lists each undecodable image once, in the order first
	// met.
	DecodeErrors []*imaging.DecodeError
}

// Accepted returns the number of accepted pairs.
func (r *RunReport) Accepted() int {
	n := 0
	for _, res := range r.Results {
		if res.Accepted {
			n++
		}
	}
	return n
}

// AcceptedResults returns the accepted pairs in pair order.
func (r *RunReport) AcceptedResults() []MatchResult {
	var out []MatchResult
	for _, res := range r.Results {
		if res.Accepted {
			out = append(out, res)
		}
	}
	return out
}

func imageID(path string) string {
	return filepath.Base(path)
}

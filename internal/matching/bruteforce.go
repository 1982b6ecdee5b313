package matching

import (
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/template-matcher/internal/features"
)

// Correspondence pairs a template keypoint with a candidate keypoint.
type Correspondence struct {
	TemplateIndex  int     `json:"template_index"`
	CandidateIndex int     `json:"candidate_index"`
	Distance       float64 `json:"distance"`
}

// BruteForce compares every template descriptor with every candidate
// descriptor and keeps only mutual best matches (cross-check).
type BruteForce struct {
	Metric Metric

	// Workers splits the template rows into that many blocks evaluated
	// concurrently. Zero or one evaluates sequentially. The output does not
	// depend on this value.
	Workers int
}

// NewBruteForce returns a sequential cross-check matcher.
func NewBruteForce(metric Metric) *BruteForce {
	return &BruteForce{Metric: metric}
}

type best struct {
	index int
	dist  float64
}

func (b *best) offer(index int, dist float64) {
	if b.index < 0 || dist < b.dist {
		b.index = index
		b.dist = dist
	}
}

func newBests(n int) []best {
	out := make([]best, n)
	for i := range out {
		out[i].index = -1
	}
	return out
}

// Match returns the pairs (i, j) such that j is the closest candidate
// descriptor to template descriptor i and i is the closest template
// descriptor to j. Ties resolve to the lowest index. The result is sorted by
// template index, and is empty when either side is empty.
func (m *BruteForce) Match(templates, candidates []features.Descriptor) []Correspondence {
	if len(templates) == 0 || len(candidates) == 0 {
		return nil
	}
	metric := m.Metric
	if metric == nil {
		metric = Hamming{}
	}

	rows := newBests(len(templates))

	blocks := m.Workers
	if blocks < 1 {
		blocks = 1
	}
	if blocks > len(templates) {
		blocks = len(templates)
	}
	size := (len(templates) + blocks - 1) / blocks

	// Each block tracks column minima over its own rows; merging blocks in
	// ascending order keeps the lowest row index on ties.
	cols := make([][]best, blocks)

	var g errgroup.Group
	for k := 0; k < blocks; k++ {
		lo := k * size
		hi := lo + size
		if hi > len(templates) {
			hi = len(templates)
		}
		local := newBests(len(candidates))
		cols[k] = local

		scan := func() error {
			for i := lo; i < hi; i++ {
				for j, c := range candidates {
					d := metric.Distance(templates[i], c)
					rows[i].offer(j, d)
					local[j].offer(i, d)
				}
			}
			return nil
		}
		if blocks == 1 {
			_ = scan()
		} else {
			g.Go(scan)
		}
	}
	_ = g.Wait()

	merged := cols[0]
	for _, local := range cols[1:] {
		for j, b := range local {
			if b.index >= 0 {
				merged[j].offer(b.index, b.dist)
			}
		}
	}

	var out []Correspondence
	for i, r := range rows {
		if r.index < 0 {
			continue
		}
		if merged[r.index].index == i {
			out = append(out, Correspondence{TemplateIndex: i, CandidateIndex: r.index, Distance: r.dist})
		}
	}
	return out
}

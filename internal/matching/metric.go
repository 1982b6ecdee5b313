package matching

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/ironsheep/template-matcher/internal/features"
)

// Metric measures the distance between two descriptors. Smaller is closer.
type Metric interface {
	Name() string
	Distance(a, b features.Descriptor) float64
}

// Hamming counts differing bits. It is the metric for binary descriptors.
type Hamming struct{}

// Name implements Metric.
func (Hamming) Name() string { return "hamming" }

// Distance implements Metric. Descriptors of different length are compared
// over the shorter one, and every missing byte counts as 8 differing bits.
func (Hamming) Distance(a, b features.Descriptor) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d, i := 0, 0
	for ; i+8 <= n; i += 8 {
		d += bits.OnesCount64(binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:]))
	}
	for ; i < n; i++ {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	d += 8 * (len(a) + len(b) - 2*n)
	return float64(d)
}

// L2 is the Euclidean distance over byte components, for numeric
// descriptors.
type L2 struct{}

// Name implements Metric.
func (L2) Name() string { return "l2" }

// Distance implements Metric. Missing components count as zero.
func (L2) Distance(a, b features.Descriptor) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = float64(a[i])
		}
		if i < len(b) {
			y = float64(b[i])
		}
		sum += (x - y) * (x - y)
	}
	return math.Sqrt(sum)
}

// ParseMetric resolves a metric by name, case-insensitively.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hamming", "":
		return Hamming{}, nil
	case "l2", "euclidean":
		return L2{}, nil
	default:
		return nil, fmt.Errorf("unknown metric %q (want hamming or l2)", name)
	}
}

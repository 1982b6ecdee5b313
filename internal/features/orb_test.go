package features

import (
	"bytes"
	"image"
	"math/rand"
	"reflect"
	"testing"
)

// noiseImage fills a plane with seeded uniform noise. Every pixel differs
// from its neighbours, so FAST fires densely.
func noiseImage(width, height int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func uniformImage(width, height int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// pasteGray copies src into dst with its top-left corner at off.
func pasteGray(dst, src *image.Gray, off image.Point) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		copy(dst.Pix[(y+off.Y)*dst.Stride+off.X:], src.Pix[y*src.Stride:y*src.Stride+b.Dx()])
	}
}

func mustORB(t *testing.T, cfg ORBConfig) *ORB {
	t.Helper()
	orb, err := NewORB(cfg)
	if err != nil {
		t.Fatalf("NewORB failed: %v", err)
	}
	return orb
}

func TestNewORB_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ORBConfig)
	}{
		{"zero keypoints", func(c *ORBConfig) { c.MaxKeypoints = 0 }},
		{"zero fast threshold", func(c *ORBConfig) { c.FastThreshold = 0 }},
		{"fast threshold too large", func(c *ORBConfig) { c.FastThreshold = 256 }},
		{"zero levels", func(c *ORBConfig) { c.PyramidLevels = 0 }},
		{"scale factor of one", func(c *ORBConfig) { c.ScaleFactor = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultORBConfig()
			tt.modify(&cfg)
			if _, err := NewORB(cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestORB_BlankImage(t *testing.T) {
	orb := mustORB(t, DefaultORBConfig())

	for _, size := range []int{10, 50, 200} {
		f, err := orb.Extract(uniformImage(size, size, 255))
		if err != nil {
			t.Fatalf("Extract(%dx%d blank) failed: %v", size, size, err)
		}
		if f.Len() != 0 {
			t.Errorf("Extract(%dx%d blank): got %d keypoints, want 0", size, size, f.Len())
		}
	}
}

func TestORB_NilImage(t *testing.T) {
	orb := mustORB(t, DefaultORBConfig())
	if _, err := orb.Extract(nil); err == nil {
		t.Error("expected error for nil image")
	}
}

func TestORB_DescriptorShape(t *testing.T) {
	orb := mustORB(t, DefaultORBConfig())

	f, err := orb.Extract(noiseImage(200, 160, 7))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if f.Len() == 0 {
		t.Fatal("expected keypoints on a noise image")
	}
	if len(f.Descriptors) != len(f.Keypoints) {
		t.Fatalf("descriptors: got %d, want %d", len(f.Descriptors), len(f.Keypoints))
	}

	for i, kp := range f.Keypoints {
		if len(f.Descriptors[i]) != DescriptorBytes {
			t.Fatalf("descriptor %d: got %d bytes, want %d", i, len(f.Descriptors[i]), DescriptorBytes)
		}
		if kp.X < 0 || kp.X >= 200 || kp.Y < 0 || kp.Y >= 160 {
			t.Errorf("keypoint %d out of bounds: (%.1f, %.1f)", i, kp.X, kp.Y)
		}
		if kp.Angle < 0 || kp.Angle >= 360 {
			t.Errorf("keypoint %d angle out of range: %f", i, kp.Angle)
		}
		if i > 0 && kp.Response > f.Keypoints[i-1].Response {
			t.Errorf("keypoint %d: responses not sorted descending", i)
		}
	}
}

func TestORB_Cap(t *testing.T) {
	cfg := DefaultORBConfig()
	cfg.MaxKeypoints = 25
	orb := mustORB(t, cfg)

	f, err := orb.Extract(noiseImage(300, 300, 3))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if f.Len() == 0 || f.Len() > 25 {
		t.Errorf("got %d keypoints, want 1..25", f.Len())
	}
}

func TestORB_Deterministic(t *testing.T) {
	orb := mustORB(t, DefaultORBConfig())
	img := noiseImage(180, 180, 11)

	first, err := orb.Extract(img)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	second, err := orb.Extract(img)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("two extractions of the same image differ")
	}
}

func TestORB_OffsetOrigin(t *testing.T) {
	orb := mustORB(t, DefaultORBConfig())
	img := noiseImage(150, 150, 5)

	shifted := &image.Gray{
		Pix:    img.Pix,
		Stride: img.Stride,
		Rect:   image.Rect(10, 20, 160, 170),
	}

	want, err := orb.Extract(img)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	got, err := orb.Extract(shifted)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Error("extraction depends on the image origin")
	}
}

// Keypoints well inside a pasted patch see exactly the same pixels in the
// composite, so they must be found again with identical descriptors.
func TestORB_TranslationInvariance(t *testing.T) {
	cfg := DefaultORBConfig()
	cfg.PyramidLevels = 1
	cfg.MaxKeypoints = 100000
	orb := mustORB(t, cfg)

	tmpl := noiseImage(120, 100, 21)
	scene := uniformImage(320, 240, 90)
	off := image.Pt(57, 43)
	pasteGray(scene, tmpl, off)

	tf, err := orb.Extract(tmpl)
	if err != nil {
		t.Fatalf("Extract(template) failed: %v", err)
	}
	sf, err := orb.Extract(scene)
	if err != nil {
		t.Fatalf("Extract(scene) failed: %v", err)
	}

	index := make(map[image.Point]Descriptor, sf.Len())
	for i, kp := range sf.Keypoints {
		index[kp.Point()] = sf.Descriptors[i]
	}

	checked := 0
	for i, kp := range tf.Keypoints {
		p := kp.Point()
		if p.X <= edgeMargin || p.Y <= edgeMargin || p.X >= 120-edgeMargin-1 || p.Y >= 100-edgeMargin-1 {
			continue
		}
		checked++
		d, ok := index[p.Add(off)]
		if !ok {
			t.Errorf("keypoint at %v not found at %v in scene", p, p.Add(off))
			continue
		}
		if !bytes.Equal(d, tf.Descriptors[i]) {
			t.Errorf("descriptor at %v differs between template and scene", p)
		}
	}
	if checked < 20 {
		t.Fatalf("only %d interior template keypoints, test is not meaningful", checked)
	}
}

func TestLevelBudgets(t *testing.T) {
	tests := []struct {
		n, levels int
		scale     float64
	}{
		{2000, 1, 1.2},
		{2000, 4, 1.2},
		{500, 8, 1.2},
		{7, 3, 2.0},
	}

	for _, tt := range tests {
		budgets := levelBudgets(tt.n, tt.levels, tt.scale)
		if len(budgets) != tt.levels {
			t.Fatalf("levelBudgets(%d, %d): got %d levels", tt.n, tt.levels, len(budgets))
		}
		sum := 0
		for l, b := range budgets {
			if b < 0 {
				t.Errorf("level %d: negative budget %d", l, b)
			}
			sum += b
		}
		if sum > tt.n {
			t.Errorf("levelBudgets(%d, %d): total %d exceeds cap", tt.n, tt.levels, sum)
		}
		if tt.levels > 1 && budgets[0] <= budgets[1] {
			t.Errorf("levelBudgets(%d, %d): finest level should get the largest share: %v", tt.n, tt.levels, budgets)
		}
	}

	if got := levelBudgets(2000, 1, 1.2); got[0] != 2000 {
		t.Errorf("single level: got %d, want 2000", got[0])
	}
}

func TestIsFASTCorner(t *testing.T) {
	// A bright pixel on a dark background: the whole circle is darker.
	img := uniformImage(9, 9, 10)
	img.Pix[4*img.Stride+4] = 200
	if !isFASTCorner(img, 4, 4, 20) {
		t.Error("isolated bright pixel should be a FAST corner")
	}

	flat := uniformImage(9, 9, 10)
	if isFASTCorner(flat, 4, 4, 20) {
		t.Error("flat patch should not be a FAST corner")
	}

	// A vertical step edge lights up at most 7 contiguous circle pixels.
	edge := uniformImage(9, 9, 10)
	for y := 0; y < 9; y++ {
		for x := 5; x < 9; x++ {
			edge.Pix[y*edge.Stride+x] = 200
		}
	}
	if isFASTCorner(edge, 4, 4, 20) {
		t.Error("straight edge should not be a FAST corner")
	}
}

func TestGaussianBlur_Uniform(t *testing.T) {
	img := uniformImage(12, 9, 77)
	out := gaussianBlur(img)
	for i, v := range out.Pix {
		if v != 77 {
			t.Fatalf("pixel %d: got %d, want 77", i, v)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		val, min, max, want int
	}{
		{5, 0, 10, 5},
		{-3, 0, 10, 0},
		{12, 0, 10, 10},
		{0, 0, 0, 0},
	}
	for _, tt := range tests {
		if got := clamp(tt.val, tt.min, tt.max); got != tt.want {
			t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.want)
		}
	}
}

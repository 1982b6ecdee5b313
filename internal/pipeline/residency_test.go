package pipeline

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/ironsheep/template-matcher/internal/imaging"
)

func writeTestPNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("failed to encode %s: %v", name, err)
	}
	return path
}

func TestDispatchOrder(t *testing.T) {
	got := dispatchOrder(2, 3)
	want := []int{0, 3, 1, 4, 2, 5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dispatchOrder(2, 3) = %v, want %v", got, want)
	}

	// Every pair is visited exactly once.
	order := dispatchOrder(4, 7)
	sorted := append([]int(nil), order...)
	sort.Ints(sorted)
	for i, v := range sorted {
		if v != i {
			t.Fatalf("dispatchOrder(4, 7) is not a permutation: %v", order)
		}
	}

	if len(dispatchOrder(0, 5)) != 0 {
		t.Error("no templates should give no pairs")
	}
}

func TestResidency_EvictsAfterLastPair(t *testing.T) {
	dir := t.TempDir()
	tmpl := writeTestPNG(t, dir, "logo.png")
	a := writeTestPNG(t, dir, "a.png")
	b := writeTestPNG(t, dir, "b.png")

	images := imaging.NewImageCache()
	for _, path := range []string{tmpl, a, b} {
		if _, err := images.Load(path); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}

	pairs := []pair{
		{index: 0, template: tmpl, candidate: a},
		{index: 1, template: tmpl, candidate: b},
	}
	resident := newResidency(images, pairs)

	resident.release(tmpl, a)
	if got := images.Len(); got != 2 {
		t.Fatalf("after the only pair of a.png: Len = %d, want 2", got)
	}

	resident.release(tmpl, b)
	if got := images.Len(); got != 0 {
		t.Fatalf("after the last pair: Len = %d, want 0", got)
	}
}

func TestResidency_SamePathInBothRoles(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPNG(t, dir, "self.png")

	images := imaging.NewImageCache()
	if _, err := images.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	resident := newResidency(images, []pair{{template: path, candidate: path}})
	resident.release(path)
	if images.Len() != 1 {
		t.Fatal("image evicted while its pair still needs it in the other role")
	}
	resident.release(path)
	if images.Len() != 0 {
		t.Fatal("image should be evicted once both roles are done")
	}
}

func TestResidency_UnknownPath(t *testing.T) {
	resident := newResidency(imaging.NewImageCache(), nil)
	// Should not panic
	resident.release("/not/a/pair.png")
}

package features

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryStore struct {
	mu    sync.Mutex
	data  map[string]*Features
	loads int
	saves int
	err   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]*Features)}
}

func (s *memoryStore) Load(key string) (*Features, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.err != nil {
		return nil, false, s.err
	}
	f, ok := s.data[key]
	return f, ok, nil
}

func (s *memoryStore) Save(key string, f *Features) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.err != nil {
		return s.err
	}
	s.data[key] = f
	return nil
}

func sampleFeatures() *Features {
	return &Features{
		Keypoints:   []Keypoint{{X: 1, Y: 2, Angle: 30, Size: 31, Response: 0.5}},
		Descriptors: []Descriptor{make(Descriptor, DescriptorBytes)},
	}
}

func TestCache_ConcurrentAtMostOnce(t *testing.T) {
	cache := NewCache(nil, quietLogger())

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*Features, error) {
		calls.Add(1)
		<-release
		return sampleFeatures(), nil
	}

	const workers = 32
	var wg sync.WaitGroup
	results := make([]*Features, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := cache.Get("template:abc", compute)
			if err != nil {
				t.Errorf("Get failed: %v", err)
			}
			results[i] = f
		}(i)
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("compute called %d times, want 1", got)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("goroutine %d received a different result", i)
		}
	}

	// Later calls hit memory.
	if _, err := cache.Get("template:abc", compute); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("compute called %d times after warm hit, want 1", got)
	}
	if cache.Computations() != 1 {
		t.Errorf("Computations: got %d, want 1", cache.Computations())
	}
}

func TestCache_ErrorsAreRemembered(t *testing.T) {
	cache := NewCache(nil, quietLogger())
	boom := errors.New("boom")

	calls := 0
	compute := func() (*Features, error) {
		calls++
		return nil, boom
	}

	for i := 0; i < 3; i++ {
		_, err := cache.Get("k", compute)
		if !errors.Is(err, boom) {
			t.Fatalf("Get: got %v, want %v", err, boom)
		}
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
	if cache.Len() != 1 {
		t.Errorf("Len: got %d, want 1", cache.Len())
	}
}

func TestCache_DistinctKeys(t *testing.T) {
	cache := NewCache(nil, quietLogger())
	for _, key := range []string{"template:a", "candidate:a", "template:b"} {
		if _, err := cache.Get(key, func() (*Features, error) { return sampleFeatures(), nil }); err != nil {
			t.Fatalf("Get(%s) failed: %v", key, err)
		}
	}
	if cache.Computations() != 3 {
		t.Errorf("Computations: got %d, want 3", cache.Computations())
	}
}

func TestCache_StoreTier(t *testing.T) {
	store := newMemoryStore()
	want := sampleFeatures()

	first := NewCache(store, quietLogger())
	if _, err := first.Get("k", func() (*Features, error) { return want, nil }); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if store.saves != 1 {
		t.Fatalf("saves: got %d, want 1", store.saves)
	}

	// A fresh cache over the same store never computes.
	second := NewCache(store, quietLogger())
	got, err := second.Get("k", func() (*Features, error) {
		t.Error("compute should not run when the store has the key")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != want {
		t.Error("expected the stored features")
	}
	if second.Computations() != 0 {
		t.Errorf("Computations: got %d, want 0", second.Computations())
	}
}

func TestCache_StoreFailureFallsBack(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("disk full")

	cache := NewCache(store, quietLogger())
	f, err := cache.Get("k", func() (*Features, error) { return sampleFeatures(), nil })
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if f.Len() != 1 {
		t.Errorf("Len: got %d, want 1", f.Len())
	}
	if cache.Computations() != 1 {
		t.Errorf("Computations: got %d, want 1", cache.Computations())
	}
}

package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/subwave/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(true)
	os.Exit(m.Run())
}

type fakeModel struct {
	id       string
	inflight int32
	overlap  int32
}

func (m *fakeModel) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	if atomic.AddInt32(&m.inflight, 1) > 1 {
		atomic.StoreInt32(&m.overlap, 1)
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&m.inflight, -1)
	return &Result{Language: "en"}, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	loads   map[string]int
	models  map[string]*fakeModel
	failing map[string]bool
	gate    chan struct{} // when set, Load blocks until closed
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		loads:   make(map[string]int),
		models:  make(map[string]*fakeModel),
		failing: make(map[string]bool),
	}
}

func (e *fakeEngine) Load(ctx context.Context, modelID string) (Model, error) {
	e.mu.Lock()
	e.loads[modelID]++
	failing := e.failing[modelID]
	gate := e.gate
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if failing {
		return nil, errors.New("weights missing")
	}

	m := &fakeModel{id: modelID}
	e.mu.Lock()
	e.models[modelID] = m
	e.mu.Unlock()
	return m, nil
}

func (e *fakeEngine) loadCount(modelID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads[modelID]
}

// TestCacheLoadsOnce has many jobs race for the same model; only one load
// must happen and everyone must share the winner's handle.
func TestCacheLoadsOnce(t *testing.T) {
	eng := newFakeEngine()
	eng.gate = make(chan struct{})
	cache := NewCache(eng, true)

	const callers = 16
	models := make([]Model, callers)
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := cache.Get(context.Background(), "base")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			models[i] = m
		}(i)
	}

	// Let the racers pile up on the in-flight load before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(eng.gate)
	wg.Wait()

	if n := eng.loadCount("base"); n != 1 {
		t.Fatalf("model loaded %d times, want 1", n)
	}
	for i := 1; i < callers; i++ {
		if models[i] != models[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
}

func TestCacheLoadsPerModelID(t *testing.T) {
	eng := newFakeEngine()
	cache := NewCache(eng, true)

	for _, id := range []string{"base", "small", "base", "small", "large-v2"} {
		if _, err := cache.Get(context.Background(), id); err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
	}

	for id, want := range map[string]int{"base": 1, "small": 1, "large-v2": 1} {
		if got := eng.loadCount(id); got != want {
			t.Errorf("%s loaded %d times, want %d", id, got, want)
		}
	}

	if got := len(cache.Loaded()); got != 3 {
		t.Errorf("Loaded() reports %d models, want 3", got)
	}
}

// TestCacheRetriesAfterFailedLoad checks a failed load is not cached.
func TestCacheRetriesAfterFailedLoad(t *testing.T) {
	eng := newFakeEngine()
	eng.failing["base"] = true
	cache := NewCache(eng, true)

	if _, err := cache.Get(context.Background(), "base"); err == nil {
		t.Fatal("expected load failure")
	}

	eng.mu.Lock()
	eng.failing["base"] = false
	eng.mu.Unlock()

	if _, err := cache.Get(context.Background(), "base"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if n := eng.loadCount("base"); n != 2 {
		t.Fatalf("load count = %d, want 2", n)
	}
}

// TestCacheWaiterHonorsContext makes sure a caller waiting on someone
// else's load can still bail out.
func TestCacheWaiterHonorsContext(t *testing.T) {
	eng := newFakeEngine()
	eng.gate = make(chan struct{})
	defer close(eng.gate)
	cache := NewCache(eng, true)

	go cache.Get(context.Background(), "base") // winner, parked on the gate
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cache.Get(ctx, "base"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestSerializedInference verifies the concurrent_inference=false contract:
// transcriptions against one model never overlap.
func TestSerializedInference(t *testing.T) {
	eng := newFakeEngine()
	cache := NewCache(eng, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := cache.Get(context.Background(), "base")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			if _, err := m.Transcribe(context.Background(), "a.wav", Options{}); err != nil {
				t.Errorf("transcribe: %v", err)
			}
		}()
	}
	wg.Wait()

	eng.mu.Lock()
	model := eng.models["base"]
	eng.mu.Unlock()

	if model == nil {
		t.Fatal("model never loaded")
	}
	if atomic.LoadInt32(&model.overlap) != 0 {
		t.Fatal("observed overlapping transcriptions on a serialized model")
	}
}

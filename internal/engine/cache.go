package engine

import (
	"context"
	"sync"

	"github.com/subwave/pkg/logger"
)

// Cache is the load-once-reuse layer over an Engine. Loading a given model
// id happens exactly once at a time: concurrent callers for the same id
// wait for the in-flight load and share its handle. Different ids load
// independently. A failed load is forgotten so a later job can retry it.
type Cache struct {
	engine     Engine
	concurrent bool

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ready chan struct{} // closed once the load attempt finished
	model Model
	err   error

	inferMu sync.Mutex // serializes Transcribe when the engine can't run concurrently
}

// NewCache wraps engine. concurrentInference mirrors the underlying
// engine's contract: when false, transcriptions against one loaded model
// are serialized.
func NewCache(engine Engine, concurrentInference bool) *Cache {
	return &Cache{
		engine:     engine,
		concurrent: concurrentInference,
		entries:    make(map[string]*cacheEntry),
	}
}

// Get returns the loaded handle for modelID, loading it on first use.
// Only the first caller pays the load; losers of the race block on the
// winner's result (or their own context).
func (c *Cache) Get(ctx context.Context, modelID string) (Model, error) {
	c.mu.Lock()
	entry, ok := c.entries[modelID]
	if !ok {
		entry = &cacheEntry{ready: make(chan struct{})}
		c.entries[modelID] = entry
		c.mu.Unlock()

		entry.model, entry.err = c.engine.Load(ctx, modelID)
		if entry.err != nil {
			// Drop the failed entry so the next request retries the load.
			c.mu.Lock()
			delete(c.entries, modelID)
			c.mu.Unlock()
		}
		close(entry.ready)
	} else {
		c.mu.Unlock()

		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err == nil {
			logger.Debugf("♻️ Reusing loaded model: %s", modelID)
		}
	}

	if entry.err != nil {
		return nil, entry.err
	}
	if c.concurrent {
		return entry.model, nil
	}
	return &serializedModel{model: entry.model, mu: &entry.inferMu}, nil
}

// Loaded reports the model ids currently cached.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// serializedModel funnels all inference through one mutex for engines that
// cannot run concurrent transcriptions on a shared model.
type serializedModel struct {
	model Model
	mu    *sync.Mutex
}

func (s *serializedModel) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Transcribe(ctx, audioPath, opts)
}

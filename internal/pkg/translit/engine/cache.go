package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// Loader constructs the engine for one model id.
type Loader func(modelID int) (Engine, error)

// Cache holds at most one engine per model id. Concurrent first use of an
// id runs the loader once; a failed load is forgotten so the next caller
// retries.
type Cache struct {
	load Loader

	mu      sync.Mutex
	entries map[int]*cacheEntry
	closed  bool
}

type cacheEntry struct {
	ready chan struct{}
	eng   Engine
	err   error
}

var ErrCacheClosed = errors.New("engine: cache closed")

func NewCache(load Loader) *Cache {
	return &Cache{
		load:    load,
		entries: make(map[int]*cacheEntry),
	}
}

// ConfigLoader returns a Loader that builds engines with backend, using
// paths to pick the checkpoint for each model id and base for the rest.
func ConfigLoader(backend string, base EngineConfig, paths map[int]string) Loader {
	return func(modelID int) (Engine, error) {
		if _, err := VariantFor(modelID); err != nil {
			return nil, err
		}
		p, ok := paths[modelID]
		if !ok || p == "" {
			return nil, fmt.Errorf("%w: no checkpoint configured for model %d", ErrMisconfigured, modelID)
		}
		cfg := base
		cfg.ModelID = modelID
		cfg.CheckpointPath = p
		return New(backend, cfg)
	}
}

func (c *Cache) Get(ctx context.Context, modelID int) (Engine, error) {
	if _, err := VariantFor(modelID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	e, ok := c.entries[modelID]
	if !ok {
		e = &cacheEntry{ready: make(chan struct{})}
		c.entries[modelID] = e
		c.mu.Unlock()
		c.fill(modelID, e)
	} else {
		c.mu.Unlock()
	}

	select {
	case <-e.ready:
		return e.eng, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fill(modelID int, e *cacheEntry) {
	defer close(e.ready)

	log.Info().Int("model_id", modelID).Msg("Loading engine")
	e.eng, e.err = c.loadRecovered(modelID)
	if e.err == nil && e.eng == nil {
		e.err = fmt.Errorf("%w: loader returned no engine for model %d", ErrMisconfigured, modelID)
	}
	if e.err != nil {
		log.Error().Err(e.err).Int("model_id", modelID).Msg("Failed to load engine")
		c.mu.Lock()
		if c.entries[modelID] == e {
			delete(c.entries, modelID)
		}
		c.mu.Unlock()
		return
	}

	info := e.eng.Info()
	log.Info().
		Int("model_id", modelID).
		Str("backend", info.Backend).
		Stringer("variant", info.Variant).
		Int("input_vocab", info.InputSize).
		Int("target_vocab", info.TargetSize).
		Msg("Engine ready")
}

// loadRecovered runs the loader, turning a panic into ErrCheckpoint.
func (c *Cache) loadRecovered(modelID int) (eng Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng = nil
			err = fmt.Errorf("%w: loading model %d panicked: %v", ErrCheckpoint, modelID, r)
		}
	}()
	return c.load(modelID)
}

// Preload loads every id in ids and stops at the first failure.
func (c *Cache) Preload(ctx context.Context, ids []int) error {
	for _, id := range ids {
		if _, err := c.Get(ctx, id); err != nil {
			return fmt.Errorf("preload model %d: %w", id, err)
		}
	}
	return nil
}

// Loaded returns the ids whose engines finished loading successfully.
func (c *Cache) Loaded() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int
	for id, e := range c.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				ids = append(ids, id)
			}
		default:
		}
	}
	slices.Sort(ids)
	return ids
}

// Close closes every loaded engine. Loads still in flight are waited for.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	entries := c.entries
	c.entries = make(map[int]*cacheEntry)
	c.mu.Unlock()

	var errs []error
	for _, e := range entries {
		<-e.ready
		if e.err == nil {
			errs = append(errs, e.eng.Close())
		}
	}
	return errors.Join(errs...)
}

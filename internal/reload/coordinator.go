// Package reload watches the route directory and rebuilds the route table
// when files change. Changes are debounced into batches and rebuilds are
// serialized: at most one is in flight, and changes arriving during a
// rebuild form the next batch.
package reload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/routegate/routegate/internal/common"
	"github.com/routegate/routegate/internal/routes"
)

// ApplyFunc receives each successfully rebuilt table.
type ApplyFunc func(ctx context.Context, table *routes.Table)

// Coordinator owns the filesystem watcher and the rebuild pipeline.
type Coordinator struct {
	dir      string
	debounce time.Duration
	loader   routes.Loader
	apply    ApplyFunc
	logger   *common.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	pending    map[string]struct{}
	timer      *time.Timer
	rebuilding bool
	generation uint64
}

// NewCoordinator creates a coordinator. The initial table load is the
// caller's responsibility; generation numbering continues from initialGen.
func NewCoordinator(dir string, debounce time.Duration, loader routes.Loader, apply ApplyFunc, initialGen uint64, logger *common.Logger) *Coordinator {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		dir:        dir,
		debounce:   debounce,
		loader:     loader,
		apply:      apply,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]struct{}),
		generation: initialGen,
	}
}

// Start begins watching the route directory.
func (c *Coordinator) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	c.watcher = watcher

	c.wg.Add(1)
	go c.watchLoop()

	c.logger.Info().
		Str("dir", c.dir).
		Str("debounce", c.debounce.String()).
		Msg("route directory watch started")
	return nil
}

// watchLoop translates filesystem events into enqueued paths.
func (c *Coordinator) watchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".route.json") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.enqueue(ev.Name)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Str("error", err.Error()).Msg("watcher error")
		}
	}
}

// enqueue records one changed path and arms the debounce timer. Repeated
// changes to the same path within the window collapse into one entry.
func (c *Coordinator) enqueue(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[path] = struct{}{}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.flush)
}

// flush takes the accumulated batch and starts a rebuild, unless one is
// already running. A running rebuild re-triggers flush when it finishes, so
// the batch is never lost.
func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.rebuilding || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = make(map[string]struct{})
	c.rebuilding = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.rebuild(batch)

		c.mu.Lock()
		c.rebuilding = false
		again := len(c.pending) > 0
		c.mu.Unlock()
		if again {
			c.flush()
		}
	}()
}

// rebuild invalidates the changed files, reloads the full route set, and
// hands a new table to the apply callback. A failed load keeps the previous
// table in service.
func (c *Coordinator) rebuild(batch map[string]struct{}) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	for path := range batch {
		c.loader.Invalidate(path)
	}

	descriptors, err := c.loader.Load(c.ctx)
	if err != nil {
		c.logger.Error().
			Int("changed_files", len(batch)).
			Str("error", err.Error()).
			Msg("route reload failed, keeping current table")
		return
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	table := routes.NewTable(gen, descriptors)
	c.logger.Info().
		Int64("generation", int64(gen)).
		Int("routes", table.Len()).
		Int("changed_files", len(batch)).
		Msg("route table rebuilt")

	c.apply(c.ctx, table)
}

// Close stops the watcher and waits for any in-flight rebuild.
func (c *Coordinator) Close() error {
	c.cancel()
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	var err error
	if c.watcher != nil {
		err = c.watcher.Close()
	}
	c.wg.Wait()
	return err
}

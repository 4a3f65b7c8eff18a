package techdb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/olegrjumin/stackprobe/internal/logging"
)

// ErrNotLoaded is returned by detection when no Database is available
var ErrNotLoaded = errors.New("rule database not loaded")

// LoadFunc produces a Database
type LoadFunc func(ctx context.Context) (*Database, error)

// Store holds the process-wide Database. Concurrent first callers share one
// load; a failed load is not cached so the next call retries.
type Store struct {
	load LoadFunc

	mu sync.RWMutex
	db *Database

	group singleflight.Group

	// DebounceDelay is how long Watch waits for file events to settle
	DebounceDelay time.Duration
}

// NewStore creates a Store for the given source
func NewStore(source, root string) *Store {
	return NewStoreWithLoader(func(ctx context.Context) (*Database, error) {
		return Load(ctx, source, root)
	})
}

// NewStoreWithLoader creates a Store around a custom loader
func NewStoreWithLoader(load LoadFunc) *Store {
	return &Store{load: load, DebounceDelay: 500 * time.Millisecond}
}

// Get returns the cached Database, loading it on first use
func (s *Store) Get(ctx context.Context) (*Database, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := s.group.Do("load", func() (interface{}, error) {
		s.mu.RLock()
		cached := s.db
		s.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		// The load outlives any single caller's cancellation
		loaded, err := s.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.db = loaded
		s.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Database), nil
}

// Loaded returns the cached Database without triggering a load
func (s *Store) Loaded() *Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Invalidate drops the cached Database
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.db = nil
	s.mu.Unlock()
}

// Watch reloads the Database whenever files under root change. It blocks
// until ctx is done.
func (s *Store) Watch(ctx context.Context, root string, logger *logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range []string{root, filepath.Join(root, "technologies")} {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}
	logger.Info("Watching rule database", "root", root)

	var (
		timer  *time.Timer
		reload = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("Rule file changed", "file", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.DebounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			s.Invalidate()
			db, err := s.Get(ctx)
			if err != nil {
				logger.Error("Rule database reload failed", "error", err)
				continue
			}
			logger.Info("Rule database reloaded",
				"technologies", db.Meta.TechCount,
				"categories", db.Meta.CategoryCount,
			)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Rule database watcher error", "error", err)
		}
	}
}

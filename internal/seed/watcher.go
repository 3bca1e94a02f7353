// Package seed applies a declarative seed file to the registry: a JSON list
// of servers that must exist. Ops tooling drops or rewrites the file and the
// watcher folds it in; it never calls the API and never deletes anything.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
)

const defaultDebounce = 200 * time.Millisecond

const (
	actionNone    = ""
	actionCreated = "created"
	actionUpdated = "updated"
)

// Server is one declared server in the seed file.
type Server struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Endpoint    string            `json:"endpoint"`
	Auth        string            `json:"auth,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// File is the seed document.
type File struct {
	Servers []Server `json:"servers"`
}

// Watcher keeps the seed file and the registry in sync. Sync is upsert-only:
// servers missing from the file are left alone, so the file can declare a
// baseline without owning the whole registry.
type Watcher struct {
	registry *registry.Registry
	path     string
	logger   *zap.Logger
	debounce time.Duration
	notify   func(created, updated int)
}

// NewWatcher creates a watcher for the given seed file path.
func NewWatcher(reg *registry.Registry, path string, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		registry: reg,
		path:     path,
		logger:   logger,
		debounce: defaultDebounce,
	}
}

// SetNotify installs a callback invoked after every sync that changed the
// registry.
func (w *Watcher) SetNotify(notify func(created, updated int)) {
	w.notify = notify
}

// Run applies the seed file once, then keeps applying it as it changes.
// Blocks until the context is done. A missing seed file is not an error; it
// is applied when it appears.
func (w *Watcher) Run(ctx context.Context) error {
	if _, _, err := w.Sync(ctx); err != nil {
		w.logger.Warn("Initial seed sync failed", zap.Error(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create seed watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and ops tooling replace
	// files by rename, which silently drops a direct file watch.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch seed directory: %w", err)
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.Errors:
			if err != nil {
				w.logger.Warn("Seed watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timerChan(timer):
			timer = nil
			if _, _, err := w.Sync(ctx); err != nil {
				w.logger.Warn("Seed sync failed", zap.Error(err))
			}
		}
	}
}

// Sync applies the seed file to the registry once. A failing entry is logged
// and skipped, the rest of the file still applies.
func (w *Watcher) Sync(ctx context.Context) (created, updated int, err error) {
	content, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		w.logger.Debug("Seed file not present", zap.String("path", w.path))
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read seed file: %w", err)
	}

	var file File
	if err := json.Unmarshal(content, &file); err != nil {
		return 0, 0, fmt.Errorf("parse seed file: %w", err)
	}

	for _, declared := range file.Servers {
		if ctx.Err() != nil {
			return created, updated, ctx.Err()
		}
		action, applyErr := w.apply(declared)
		switch {
		case applyErr != nil:
			w.logger.Warn("Seed entry failed",
				zap.String("name", declared.Name),
				zap.Error(applyErr))
		case action == actionCreated:
			created++
		case action == actionUpdated:
			updated++
		}
	}

	if created+updated > 0 {
		w.logger.Info("Seed file applied",
			zap.String("path", w.path),
			zap.Int("created", created),
			zap.Int("updated", updated))
		if w.notify != nil {
			w.notify(created, updated)
		}
	}
	return created, updated, nil
}

// apply upserts one declared server. Declared fields are authoritative:
// endpoint, description, auth, and headers follow the file.
func (w *Watcher) apply(declared Server) (string, error) {
	if declared.Name == "" {
		return actionNone, fmt.Errorf("entry missing name")
	}

	existing, err := w.registry.FindByName(declared.Name)
	if registry.IsNotFound(err) {
		_, createErr := w.registry.Create(registry.CreateRequest{
			Name:        declared.Name,
			Description: declared.Description,
			Endpoint:    declared.Endpoint,
			AuthKind:    declared.Auth,
			Headers:     declared.Headers,
		})
		if createErr != nil {
			return actionNone, createErr
		}
		return actionCreated, nil
	}
	if err != nil {
		return actionNone, err
	}

	if seedMatches(existing, declared) {
		return actionNone, nil
	}

	auth := normalizeAuth(declared.Auth)
	headers := declared.Headers
	if headers == nil {
		// Registry updates treat nil headers as keep; declarative sync
		// means absent headers clear them.
		headers = map[string]string{}
	}

	_, err = w.registry.Update(existing.ID, registry.UpdateRequest{
		Description: &declared.Description,
		Endpoint:    &declared.Endpoint,
		AuthKind:    &auth,
		Headers:     headers,
	})
	if err != nil {
		return actionNone, err
	}
	return actionUpdated, nil
}

func seedMatches(record *registry.ServerRecord, declared Server) bool {
	return record.Endpoint == declared.Endpoint &&
		record.Description == declared.Description &&
		normalizeAuth(record.AuthKind) == normalizeAuth(declared.Auth) &&
		maps.Equal(record.Headers, declared.Headers)
}

func normalizeAuth(kind string) string {
	if kind == "" {
		return registry.AuthKindNone
	}
	return kind
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}

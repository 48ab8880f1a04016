// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rulebook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store holds the active rulebook snapshot and swaps it atomically.
//
// # Description
//
// Readers call Current and keep the returned snapshot for the whole request,
// so a reload in the middle of a request never mixes two rule sets. A reload
// replaces the whole snapshot; if the new file fails validation the previous
// snapshot stays active.
//
// # Thread Safety
//
// Safe for concurrent use. Watch should only be called once.
type Store struct {
	path    string
	current atomic.Pointer[Rulebook]
	logger  *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onReload func(*Rulebook)
}

var _ Source = (*Store)(nil)

// NewStore creates a store serving rb. path is the file Reload and Watch read;
// it may be empty for a store that is only ever swapped explicitly.
func NewStore(rb *Rulebook, path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(rb)
	return s
}

// OpenStore loads the rulebook at path (or the embedded default when path is
// empty) and wraps it in a Store.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	rb, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(rb, path, logger), nil
}

// Current returns the active snapshot.
func (s *Store) Current() *Rulebook {
	return s.current.Load()
}

// Swap installs rb as the active snapshot and returns the previous one.
func (s *Store) Swap(rb *Rulebook) *Rulebook {
	prev := s.current.Swap(rb)
	s.mu.Lock()
	cb := s.onReload
	s.mu.Unlock()
	if cb != nil {
		cb(rb)
	}
	return prev
}

// OnReload registers a callback invoked after every successful swap.
func (s *Store) OnReload(fn func(*Rulebook)) {
	s.mu.Lock()
	s.onReload = fn
	s.mu.Unlock()
}

// Reload re-reads the store's file and swaps it in.
//
// # Outputs
//
//   - error: Non-nil when the store has no path or the file is invalid. The
//     active snapshot is unchanged in that case.
func (s *Store) Reload() error {
	if s.path == "" {
		return errors.New("rulebook store has no file path")
	}
	rb, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.Swap(rb)
	s.logger.Info("Rulebook reloaded",
		"path", s.path,
		"version", rb.Version(),
		"rules", rb.Len())
	return nil
}

// Watch reloads the rulebook whenever its file changes.
//
// # Description
//
// The parent directory is watched so editors that replace the file through a
// rename are handled. Blocks until ctx is cancelled or Close is called; run it
// in a goroutine.
//
// # Example
//
//	store, _ := rulebook.OpenStore(path, logger)
//	go store.Watch(ctx)
//	defer store.Close()
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("rulebook store has no file path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rulebook watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	s.logger.Debug("Started watching rulebook", "path", s.path)
	target := filepath.Clean(s.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("Rulebook reload rejected, keeping previous snapshot",
					"path", s.path,
					"error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Rulebook watcher error", "error", err)

		case <-ctx.Done():
			s.logger.Debug("Rulebook watcher stopping")
			return s.Close()
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

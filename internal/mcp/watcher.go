// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Restarter reconnects a server by id.
type Restarter interface {
	Reconnect(ctx context.Context, id string) error
}

// Watcher monitors server source directories and reconnects a server after
// its sources change.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher
	fsWatcher *fsnotify.Watcher

	restarter Restarter
	logger    *slog.Logger

	// debounceDelay is the delay before triggering a restart after file changes
	debounceDelay time.Duration

	ignore    []string
	rateLimit rate.Limit

	// watchedServers maps server ids to their absolute watched directories
	watchedServers map[string][]string

	// pendingRestarts tracks servers with pending debounced restarts
	pendingRestarts map[string]*time.Timer

	limiters map[string]*rate.Limiter

	// mu protects watchedServers, pendingRestarts and limiters
	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Restarter reconnects servers whose sources changed.
	Restarter Restarter

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// DebounceDelay is the quiet period before a restart.
	// Default: 500ms
	DebounceDelay time.Duration

	// Ignore lists doublestar patterns matched against the full path and
	// the base name of a changed file.
	Ignore []string

	// RestartInterval is the minimum time between restarts of one server.
	// Default: 5s
	RestartInterval time.Duration
}

// NewWatcher creates a new source watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Restarter == nil {
		return nil, fmt.Errorf("restarter is required")
	}
	for _, pattern := range cfg.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 500 * time.Millisecond
	}
	interval := cfg.RestartInterval
	if interval == 0 {
		interval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:       fsWatcher,
		restarter:       cfg.Restarter,
		logger:          logger.With("component", "watcher"),
		debounceDelay:   debounceDelay,
		ignore:          cfg.Ignore,
		rateLimit:       rate.Every(interval),
		watchedServers:  make(map[string][]string),
		pendingRestarts: make(map[string]*time.Timer),
		limiters:        make(map[string]*rate.Limiter),
		ctx:             ctx,
		cancel:          cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// SourceDirs returns the directories holding the executable sources of a
// stdio descriptor: the command's directory when absolute, and the
// directory of each absolute script argument.
func SourceDirs(d ServerDescriptor) []string {
	s := d.Transport.Stdio
	if s == nil {
		return nil
	}
	seen := make(map[string]bool)
	var dirs []string
	add := func(p string) {
		if !filepath.IsAbs(p) {
			return
		}
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	add(s.Command)
	for _, arg := range s.Args {
		if filepath.Ext(arg) != "" {
			add(arg)
		}
	}
	return dirs
}

// Watch adds directories to watch for a server. Paths that do not exist
// are skipped.
func (w *Watcher) Watch(serverID string, paths []string) error {
	if serverID == "" {
		return fmt.Errorf("server id is required")
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var watched []string
	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		if _, err := os.Stat(absPath); err != nil {
			w.logger.Debug("skipping missing source path", "server", serverID, "path", absPath)
			continue
		}
		if err := w.fsWatcher.Add(absPath); err != nil {
			return fmt.Errorf("failed to watch path %s: %w", absPath, err)
		}
		watched = append(watched, absPath)

		w.logger.Debug("watching path for mcp server",
			"server", serverID,
			"path", absPath,
		)
	}
	if len(watched) == 0 {
		return fmt.Errorf("none of the paths for %s exist", serverID)
	}

	w.watchedServers[serverID] = watched
	return nil
}

// Unwatch removes the watches of a server and cancels its pending restart.
func (w *Watcher) Unwatch(serverID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, exists := w.watchedServers[serverID]
	if !exists {
		return nil
	}
	delete(w.watchedServers, serverID)

	for _, path := range paths {
		if !w.inUseLocked(path) {
			_ = w.fsWatcher.Remove(path)
		}
	}

	if timer, exists := w.pendingRestarts[serverID]; exists {
		timer.Stop()
		delete(w.pendingRestarts, serverID)
	}
	return nil
}

func (w *Watcher) inUseLocked(path string) bool {
	for _, paths := range w.watchedServers {
		for _, p := range paths {
			if p == path {
				return true
			}
		}
	}
	return false
}

// Watched returns the watched directories of a server.
func (w *Watcher) Watched(serverID string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.watchedServers[serverID]...)
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.handleFileChange(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if matched, _ := doublestar.PathMatch(pattern, path); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) handleFileChange(changedPath string) {
	absPath, err := filepath.Abs(changedPath)
	if err != nil {
		return
	}
	if w.ignored(absPath) {
		return
	}

	var affected []string
	w.mu.RLock()
	for serverID, dirs := range w.watchedServers {
		for _, dir := range dirs {
			if absPath == dir || strings.HasPrefix(absPath, dir+string(filepath.Separator)) {
				affected = append(affected, serverID)
				break
			}
		}
	}
	w.mu.RUnlock()

	for _, serverID := range affected {
		w.logger.Info("mcp server source file changed",
			"server", serverID,
			"file", absPath,
		)
		w.scheduleRestart(serverID)
	}
}

// scheduleRestart (re)arms the debounce timer of a server.
func (w *Watcher) scheduleRestart(serverID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pendingRestarts[serverID]; exists {
		timer.Stop()
	}
	w.pendingRestarts[serverID] = time.AfterFunc(w.debounceDelay, func() {
		w.triggerRestart(serverID)
	})
}

func (w *Watcher) limiter(serverID string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.limiters[serverID]
	if !ok {
		l = rate.NewLimiter(w.rateLimit, 1)
		w.limiters[serverID] = l
	}
	return l
}

func (w *Watcher) triggerRestart(serverID string) {
	w.mu.Lock()
	delete(w.pendingRestarts, serverID)
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}
	if !w.limiter(serverID).Allow() {
		w.logger.Warn("restart rate limited", "server", serverID)
		return
	}

	w.logger.Info("restarting mcp server after file changes", "server", serverID)
	if err := w.restarter.Reconnect(w.ctx, serverID); err != nil {
		w.logger.Error("failed to restart mcp server",
			"server", serverID,
			"error", err,
		)
	}
}

// Close shuts down the watcher.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	for _, timer := range w.pendingRestarts {
		timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}

// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher reloads the configuration when the config file or its profile
// file changes content. A reload that fails to load or validate keeps the
// previous configuration.
type Watcher struct {
	path     string
	profile  string
	rawSets  []string
	sets     []override
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	digests   map[string][sha256.Size]byte
	config    *Config
	listeners []func(*Config)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets how often the files are read.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for reload events.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatchOverrides reapplies --set key=value overrides on every reload.
func WithWatchOverrides(sets ...string) WatcherOption {
	return func(w *Watcher) {
		w.rawSets = append(w.rawSets, sets...)
	}
}

// NewWatcher loads path and its profile file and records their content.
func NewWatcher(path, profile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		profile:  profile,
		interval: time.Second,
		logger:   slog.Default(),
		digests:  make(map[string][sha256.Size]byte),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, raw := range w.rawSets {
		o, err := parseOverride(raw)
		if err != nil {
			return nil, err
		}
		w.sets = append(w.sets, o)
	}

	cfg, err := load(path, profile, w.sets)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	for _, p := range w.files() {
		w.digests[p] = digestFile(p)
	}
	return w, nil
}

func (w *Watcher) files() []string {
	var out []string
	if w.path != "" {
		out = append(out, w.path)
	}
	if p := ProfileConfigPath(w.path, w.profile); p != "" {
		out = append(out, p)
	}
	return out
}

// digestFile hashes the file content. Missing files hash to the zero value,
// so creating or removing a profile file counts as a change.
func digestFile(path string) [sha256.Size]byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(data)
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start polls the files until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				if w.checkForChanges() {
					w.reload()
				}
			}
		}
	}()
}

// Stop ends polling and waits for it. Only call after Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) checkForChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, p := range w.files() {
		if d := digestFile(p); d != w.digests[p] {
			w.digests[p] = d
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := load(w.path, w.profile, w.sets)
	if err != nil {
		w.logger.Error("config.reload.failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := append([]func(*Config)(nil), w.listeners...)
	w.mu.Unlock()

	w.logger.Info("config.reload.complete", slog.String("path", w.path), slog.String("profile", w.profile))
	for _, fn := range listeners {
		fn(cfg)
	}
}

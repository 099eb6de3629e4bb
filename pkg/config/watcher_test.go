// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcherDetectsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	start := time.Now().Add(-time.Hour)
	writeConfig(t, path, "log:\n  level: info\n", start)

	watcher, err := NewWatcher(path, "", WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if watcher.Config().Log.Level != "info" {
		t.Fatalf("unexpected initial level %q", watcher.Config().Log.Level)
	}

	changes := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	writeConfig(t, path, "log:\n  level: debug\n", start.Add(time.Minute))

	select {
	case cfg := <-changes:
		if cfg.Log.Level != "debug" {
			t.Fatalf("expected debug level, got %q", cfg.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config change notification")
	}
	if watcher.Config().Log.Level != "debug" {
		t.Fatalf("watcher did not keep the reloaded config")
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	start := time.Now().Add(-time.Hour)
	writeConfig(t, path, "scheduler:\n  concurrency: 2\n", start)

	watcher, err := NewWatcher(path, "", WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	writeConfig(t, path, "scheduler:\n  concurrency: 0\n", start.Add(time.Minute))
	if !watcher.checkForChanges() {
		t.Fatalf("expected change to be detected")
	}
	watcher.reload()
	if got := watcher.Config().Scheduler.Concurrency; got != 2 {
		t.Fatalf("expected previous config to survive, got concurrency %d", got)
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	watcher, err := NewWatcher("", "", WithWatchInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	watcher.Start(ctx)
	cancel()
	select {
	case <-watcher.doneCh:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	watcher.Stop()
}

func TestWatcherKeepsOverridesAcrossReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	start := time.Now().Add(-time.Hour)
	writeConfig(t, path, "log:\n  level: info\n", start)

	watcher, err := NewWatcher(path, "", WithWatchOverrides("scheduler.concurrency=3"))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := watcher.Config().Scheduler.Concurrency; got != 3 {
		t.Fatalf("expected override to apply, got %d", got)
	}

	// Same content with a newer mtime is not a change.
	writeConfig(t, path, "log:\n  level: info\n", start.Add(time.Minute))
	if watcher.checkForChanges() {
		t.Fatalf("unchanged content must not trigger a reload")
	}

	writeConfig(t, path, "log:\n  level: warn\n", start.Add(2*time.Minute))
	if !watcher.checkForChanges() {
		t.Fatalf("expected change to be detected")
	}
	watcher.reload()
	cfg := watcher.Config()
	if cfg.Log.Level != "warn" || cfg.Scheduler.Concurrency != 3 {
		t.Fatalf("unexpected reloaded config %+v", cfg)
	}

	if _, err := NewWatcher(path, "", WithWatchOverrides("no-equals-sign")); err == nil {
		t.Fatalf("expected malformed override to fail")
	}
}

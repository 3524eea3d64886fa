// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Force the mtime forward so coarse filesystem timestamps cannot
	// hide the rewrite from the poller.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcherDetectsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  path: test.db\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	watcher, err := NewWatcher(path, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := watcher.Config().Store.Path; got != "test.db" {
		t.Fatalf("initial store path = %q, want test.db", got)
	}

	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	writeConfigFile(t, path, "store:\n  path: updated.db\n")

	select {
	case cfg := <-changes:
		if cfg.Store.Path != "updated.db" {
			t.Errorf("reloaded store path = %q, want updated.db", cfg.Store.Path)
		}
		if got := watcher.Config().Store.Path; got != "updated.db" {
			t.Errorf("Config() after reload = %q, want updated.db", got)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for config change notification")
	}
}

func TestWatcherMultipleListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	watcher, err := NewWatcher(path, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	watcher.OnChange(func(*Config) { first <- struct{}{} })
	watcher.OnChange(func(*Config) { second <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	writeConfigFile(t, path, "log:\n  level: debug\n")

	for name, ch := range map[string]chan struct{}{"first": first, "second": second} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Errorf("%s listener never notified", name)
		}
	}
}

func TestWatcherKeepsConfigOnReloadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  path: good.db\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	watcher, err := NewWatcher(path, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	notified := make(chan struct{}, 1)
	watcher.OnChange(func(*Config) { notified <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	writeConfigFile(t, path, "store: [broken")

	select {
	case <-notified:
		t.Error("listener notified for a failed reload")
	case <-time.After(300 * time.Millisecond):
	}
	if got := watcher.Config().Store.Path; got != "good.db" {
		t.Errorf("config after failed reload = %q, want good.db", got)
	}
}

func TestWatcherStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log: {}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	watcher, err := NewWatcher(path, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	watcher.Start(context.Background())

	done := make(chan struct{})
	go func() {
		watcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Stop did not complete in time")
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log: {}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	watcher, err := NewWatcher(path, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	done := make(chan struct{})
	go func() {
		watcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Stop without Start should return immediately")
	}
}

package main

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webagency/opencode-bridge/bridge"
)

func TestWatchConfigAppliesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 5000}`), 0o644))

	var mu sync.Mutex
	var applied []*bridge.Config
	stop, err := watchConfig(path, func(cfg *bridge.Config) {
		mu.Lock()
		applied = append(applied, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"port": 6000}`), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) > 0 && applied[len(applied)-1].Port == 6000
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchConfigIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 5000}`), 0o644))

	var mu sync.Mutex
	calls := 0
	stop, err := watchConfig(path, func(*bridge.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestWatchConfigMissingDir(t *testing.T) {
	_, err := watchConfig(filepath.Join(t.TempDir(), "missing", "bridge.json"), func(*bridge.Config) {})
	assert.Error(t, err)
}

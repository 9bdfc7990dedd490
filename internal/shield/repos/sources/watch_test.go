package sources

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-shield/internal/shield/common/log"
)

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(WatchOptions{OnChange: func() {}})
	assert.Error(t, err)
	_, err = NewWatcher(WatchOptions{Path: "sources.yaml"})
	assert.Error(t, err)
}

func TestWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources: []\n"), 0o600))

	var calls atomic.Int32
	w, err := NewWatcher(WatchOptions{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		OnChange: func() { calls.Add(1) },
		Logger:   log.NewNoopLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// writes to unrelated files in the same directory are ignored
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600)
		_ = os.WriteFile(path, []byte("sources:\n  - url: https://a.example/x\n"), 0o600)
		return calls.Load() > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := NewWatcher(WatchOptions{
		Path:     filepath.Join(t.TempDir(), "nope", "sources.yaml"),
		OnChange: func() {},
		Logger:   log.NewNoopLogger(),
	})
	require.NoError(t, err)
	assert.Error(t, w.Run(context.Background()))
}

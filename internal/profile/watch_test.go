package profile

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLive_Swap(t *testing.T) {
	builtin, err := LoadBuiltin()
	require.NoError(t, err)
	live := NewLive(builtin)

	held, err := live.Get("global")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(validProfile), 0o600))
	next, err := LoadDir(dir)
	require.NoError(t, err)
	live.Store(next)

	assert.Equal(t, []string{"custom", "eu", "global"}, live.Names())
	assert.Same(t, next, live.Registry())
	assert.Equal(t, "global", held.Name, "resolved profile survives the swap")
	assert.Contains(t, live.Catalog(), "honeypot_pattern")
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	r, err := LoadDir(dir)
	require.NoError(t, err)
	live := NewLive(r)

	w, err := NewWatcher(dir, live, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(validProfile), 0o600))

	// A reload can race a half-written file; wait for one that succeeds.
	deadline := time.After(5 * time.Second)
	for loaded := false; !loaded; {
		select {
		case err := <-w.Reloads():
			loaded = err == nil
		case <-deadline:
			t.Fatal("no successful reload after writing a profile")
		}
	}
	_, err = live.Get("custom")
	assert.NoError(t, err)

	cancel()
	<-done
}

func TestWatcher_BadFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(validProfile), 0o600))
	r, err := LoadDir(dir)
	require.NoError(t, err)
	live := NewLive(r)

	w, err := NewWatcher(dir, live, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.watcher.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte("name: custom\nweights: {regulatory: 2}\n"), 0o600))
	assert.Error(t, w.Reload())

	p, err := live.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, 40.0, p.MaxBoost)
}

func TestNewWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), NewLive(&Registry{}), nil)
	assert.Error(t, err)
}

package deimos

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliasWatcherQueuesCheck(t *testing.T) {
	binDir := filepath.Join(t.TempDir(), "binaries")
	installActive(t, binDir, "gubiq", "4.0.0")

	reasons := make(chan string, 4)
	w, err := newAliasWatcher(binDir, "gubiq", func(reason string) { reasons <- reason })
	require.NoError(t, err)
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "gubiq-4.0.1"), []byte("x"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(binDir, "gubiq")))

	select {
	case reason := <-reasons:
		assert.Contains(t, reason, "REMOVE")
	case <-time.After(3 * time.Second):
		t.Fatal("removing the active alias did not queue a check")
	}
	select {
	case reason := <-reasons:
		t.Fatalf("unexpected extra check %q", reason)
	case <-time.After(2 * debounceDelay):
	}
}

func TestAliasWatcherCreatesBinDir(t *testing.T) {
	binDir := filepath.Join(t.TempDir(), "missing", "binaries")
	w, err := newAliasWatcher(binDir, "gubiq", func(string) {})
	require.NoError(t, err)
	defer w.Close()

	info, err := os.Stat(binDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

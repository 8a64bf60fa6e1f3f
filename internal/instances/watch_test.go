package instances

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://a.example.com\n"), 0o644))

	r := NewRegistry(quietLogger())
	_, err := r.LoadFile(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, path) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("https://a.example.com\nhttps://b.example.com\n"), 0o644))

	require.Eventually(t, func() bool { return r.Len() == 2 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"wellness_backend/internal/config"

	"github.com/stretchr/testify/require"
)

const baseConfig = `
database:
  driver: sqlite
  path: %DIR%/test.db
storage:
  local_path: %DIR%/uploads
assessment:
  upstream_timeout: %TIMEOUT%
`

func writeConfig(t *testing.T, dir, timeout string) {
	t.Helper()
	content := strings.NewReplacer("%DIR%", dir, "%TIMEOUT%", timeout).Replace(baseConfig)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))
}

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "5s")

	reloaded := make(chan *config.Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, filepath.Join(dir, "config.yaml"), func(cfg *config.Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "9s")

	select {
	case cfg := <-reloaded:
		require.Equal(t, 9*time.Second, cfg.Assessment.UpstreamTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chemquest_backend/internal/config"
	"chemquest_backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchConfig_ReloadsOnWrite(t *testing.T) {
	logger.InitNop()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("progression:\n  difficulty:\n    cooldown: 1m\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *config.Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, path, func(cfg *config.Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// 等待 watcher 注册完成
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("progression:\n  difficulty:\n    cooldown: 45s\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 45*time.Second, cfg.Progression.Difficulty.Cooldown)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

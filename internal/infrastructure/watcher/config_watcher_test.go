package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatwatch/backend/internal/domain/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detector:\n  threshold: 0.8\n"), 0600))

	bus := NewEventBus()
	defer bus.Close()

	var published atomic.Int32
	bus.Subscribe(events.ConfigReloaded, events.HandlerFunc(func(event events.Event) error {
		published.Add(1)
		return nil
	}))

	var reloads atomic.Int32
	cw, err := NewConfigWatcher(path, 50*time.Millisecond, func(p string) error {
		reloads.Add(1)
		return nil
	}, bus)
	require.NoError(t, err)
	require.NoError(t, cw.Start())
	defer cw.Stop()

	// 连续写入被防抖合并
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("detector:\n  threshold: 0.9\n"), 0600))
	}

	assert.Eventually(t, func() bool { return published.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
	assert.LessOrEqual(t, reloads.Load(), int32(2))
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	var reloads atomic.Int32
	cw, err := NewConfigWatcher(path, 20*time.Millisecond, func(p string) error {
		reloads.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)
	require.NoError(t, cw.Start())
	defer cw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0600))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, reloads.Load())
}

func TestConfigWatcher_RejectedReloadPublishesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	bus := NewEventBus()
	var published atomic.Int32
	bus.Subscribe(events.ConfigReloaded, events.HandlerFunc(func(event events.Event) error {
		published.Add(1)
		return nil
	}))

	var reloads atomic.Int32
	cw, err := NewConfigWatcher(path, 20*time.Millisecond, func(p string) error {
		reloads.Add(1)
		return errors.New("invalid threshold")
	}, bus)
	require.NoError(t, err)
	require.NoError(t, cw.Start())

	require.NoError(t, os.WriteFile(path, []byte("bad"), 0600))
	assert.Eventually(t, func() bool { return reloads.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)

	cw.Stop()
	bus.Close()
	assert.Zero(t, published.Load())
}

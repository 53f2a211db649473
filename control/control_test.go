package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_MergeAndListeners(t *testing.T) {
	cs := NewConfigStore()
	var seen []map[string]any
	cs.OnReload(func(snap map[string]any) { seen = append(seen, snap) })

	cs.SetConfig(map[string]any{"backlog": 128})
	cs.SetConfig(map[string]any{"noDelay": false})

	require.Len(t, seen, 2)
	assert.Equal(t, map[string]any{"backlog": 128, "noDelay": false}, seen[1])

	snap := cs.GetSnapshot()
	snap["backlog"] = 1
	v, ok := cs.Get("backlog")
	assert.True(t, ok)
	assert.Equal(t, 128, v, "snapshots are copies")
}

func TestMetricsRegistry_CountersAndGauges(t *testing.T) {
	mr := NewMetricsRegistry()
	assert.Equal(t, int64(0), mr.Counter("conns"))
	assert.Equal(t, int64(2), mr.Add("conns", 2))
	assert.Equal(t, int64(1), mr.Add("conns", -1))
	mr.Set("loops", 4)

	snap := mr.GetSnapshot()
	assert.Equal(t, int64(1), snap["conns"])
	assert.Equal(t, 4, snap["loops"])
	assert.Contains(t, snap, "updated")
}

func TestDebugHooks_DumpState(t *testing.T) {
	dp := NewDebugHooks()
	RegisterPlatformHooks(dp)
	dp.RegisterHook("answer", func() any { return 42 })
	dp.RegisterHook("broken", func() any { panic("boom") })

	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Contains(t, state["broken"], "boom")
	assert.Contains(t, dp.Names(), "platform.cpus")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backlog":256,"noDelay":false}`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, float64(256), cfg["backlog"])
	assert.Equal(t, false, cfg["noDelay"])

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backlog":128}`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewConfigStore()
	require.NoError(t, Watch(ctx, path, store))

	v, _ := store.Get("backlog")
	assert.Equal(t, float64(128), v)

	require.NoError(t, os.WriteFile(path, []byte(`{"backlog":1024,"keepAlive":false}`), 0o644))
	assert.Eventually(t, func() bool {
		v, _ := store.Get("backlog")
		return v == float64(1024)
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))
	time.Sleep(100 * time.Millisecond)
	v, _ = store.Get("backlog")
	assert.Equal(t, float64(1024), v, "a bad file keeps the previous values")
}

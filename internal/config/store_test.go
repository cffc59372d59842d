package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isic-edge/reader-core/internal/eventbus"
)

func TestLoadFallsBackToDefaultsOnMissingBlob(t *testing.T) {
	bus := eventbus.New(nil)
	sub, err := bus.Subscribe(eventbus.ConfigError, func(eventbus.Event) {})
	require.NoError(t, err)
	defer sub.Cancel()

	store := New(bus, FileKV{Path: filepath.Join(t.TempDir(), "missing.yaml")}, nil)
	store.Load()

	assert.Equal(t, Defaults().Attendance.BatchMaxSize, store.Get().Attendance.BatchMaxSize)
	assert.Equal(t, 1, bus.Pending(eventbus.ConfigError))
}

func TestValidateResetsOutOfRangeFields(t *testing.T) {
	doc := Defaults()
	doc.Attendance.DebounceMs = 1
	doc.Attendance.BatchMaxSize = 0

	fixed := Validate(&doc)
	assert.Contains(t, fixed, "attendance.debounce_ms")
	assert.Contains(t, fixed, "attendance.batch_max_size")
	assert.Equal(t, Defaults().Attendance.DebounceMs, doc.Attendance.DebounceMs)
}

func TestUpdatePublishesConfigChanged(t *testing.T) {
	bus := eventbus.New(nil)
	var got eventbus.ConfigChangedPayload
	delivered := false
	sub, err := bus.Subscribe(eventbus.ConfigChanged, func(e eventbus.Event) {
		got = e.Payload.(eventbus.ConfigChangedPayload)
		delivered = true
	})
	require.NoError(t, err)
	defer sub.Cancel()

	store := New(bus, nil, nil)
	require.NoError(t, store.Update(func(d *Document) {
		d.Device.ID = "reader-42"
	}))
	bus.Dispatch()

	assert.Equal(t, "reader-42", store.Get().Device.ID)
	assert.True(t, delivered, "Update publishes ConfigChanged")
	_ = got
}

func TestEnvOverrideAppliesTypedCoercion(t *testing.T) {
	t.Setenv("ISIC_DEVICE_ID", "env-device")
	t.Setenv("ISIC_ATTENDANCE_BATCH_MAX_SIZE", "7")

	store := New(nil, nil, nil)
	store.Load()

	assert.Equal(t, "env-device", store.Get().Device.ID)
	assert.Equal(t, 7, store.Get().Attendance.BatchMaxSize)
}

func TestFileKVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	kv := FileKV{Path: path}
	require.NoError(t, kv.Put(BlobKey, []byte("device:\n  id: from-disk\n")))

	store := New(nil, kv, nil)
	store.Load()
	assert.Equal(t, "from-disk", store.Get().Device.ID)

	_, err := os.Stat(path)
	require.NoError(t, err)
}

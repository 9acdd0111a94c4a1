package prefs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenEmptyUsesDefaults(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, int64(0), s.Timestamp())
	assert.Equal(t, NetworkAny, s.NetworkType())
	assert.Equal(t, DefaultRescheduleInterval, s.RescheduleInterval())
	assert.True(t, s.BackgroundUpdate())
	assert.False(t, s.AutoDownload())

	_, ok := s.ETag("metadata.json")
	assert.False(t, ok)
}

func TestValuesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.SetETag("metadata.json", `"abc"`))
	require.NoError(t, s.SetTimestamp(1700000000))
	require.NoError(t, s.SetChannel("com.example.app", "beta"))
	require.NoError(t, s.SetNetworkType(NetworkUnmetered))
	require.NoError(t, s.SetRescheduleInterval(4*time.Hour))
	require.NoError(t, s.SetAutoDownload(true))

	reopened, err := Open(dir)
	require.NoError(t, err)

	tag, ok := reopened.ETag("metadata.json")
	assert.True(t, ok)
	assert.Equal(t, `"abc"`, tag)
	assert.Equal(t, int64(1700000000), reopened.Timestamp())
	ch, ok := reopened.Channel("com.example.app")
	assert.True(t, ok)
	assert.Equal(t, "beta", ch)
	assert.Equal(t, NetworkUnmetered, reopened.NetworkType())
	assert.Equal(t, 4*time.Hour, reopened.RescheduleInterval())
	assert.True(t, reopened.AutoDownload())

	_, err = os.Stat(filepath.Join(dir, FileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestEmptyETagRemovesEntry(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SetETag("apps.0.pub", "tag"))
	require.NoError(t, s.SetETag("apps.0.pub", ""))

	_, ok := s.ETag("apps.0.pub")
	assert.False(t, ok)
}

func TestOnChangeReceivesKey(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	var keys []string
	s.OnChange(func(key string) { keys = append(keys, key) })

	require.NoError(t, s.SetBackgroundUpdate(false))
	require.NoError(t, s.SetNetworkType(NetworkNotRoaming))

	assert.Equal(t, []string{KeyBackgroundUpdate, KeyNetworkType}, keys)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("etags: [not a map"), 0600))

	_, err := Open(dir)
	assert.Error(t, err)
}

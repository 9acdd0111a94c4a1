package metadata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/prefs"
)

func TestParse(t *testing.T) {
	data := []byte(`{
		"time": 1700000000,
		"apps": {
			"org.example.b": {
				"stable": {"versionCode": 3, "packages": ["base.apk"], "hashes": ["AA"]},
				"beta": {"versionCode": 4, "packages": ["base.apk", "split.apk"], "hashes": ["bb", "cc"], "dependencies": ["org.example.a"]}
			},
			"org.example.a": {
				"stable": {"versionCode": 1, "packages": ["base.apk"], "hashes": ["dd"]}
			}
		}
	}`)

	catalog, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000), catalog.Timestamp)
	assert.Equal(t, []string{"org.example.a", "org.example.b"}, catalog.Order)

	b := catalog.Packages["org.example.b"]
	require.Len(t, b.Variants, 2)
	assert.Equal(t, "beta", b.Variants[0].Channel)
	assert.Equal(t, []string{"base.apk", "split.apk"}, b.Variants[0].FileNames())
	assert.Equal(t, []string{"org.example.a"}, b.Variants[0].Dependencies)

	stable, ok := b.Variant("stable")
	require.True(t, ok)
	assert.Equal(t, "aa", stable.Files[0].SHA256, "hashes are normalised to lower case")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		cause error
	}{
		{"not json", `{"time":`, nil},
		{"no time", `{"apps":{}}`, models.ErrMissingTimestamp},
		{"no apps", `{"time":1}`, nil},
		{"count mismatch", `{"time":1,"apps":{"a":{"stable":{"versionCode":1,"packages":["a.apk"],"hashes":[]}}}}`, models.ErrCountMismatch},
		{"path traversal", `{"time":1,"apps":{"a":{"stable":{"versionCode":1,"packages":["../x"],"hashes":["00"]}}}}`, nil},
		{"bad package id", `{"time":1,"apps":{"../a":{}}}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, models.ErrMalformedData, models.TypeOf(err))
			if tt.cause != nil {
				assert.True(t, errors.Is(err, tt.cause))
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp([]byte(`{"time": 42, "apps": "ignored"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), ts)

	_, err = ParseTimestamp([]byte(`{"apps": {}}`))
	assert.ErrorIs(t, err, models.ErrMissingTimestamp)

	_, err = ParseTimestamp([]byte(`garbage`))
	assert.Equal(t, models.ErrMalformedData, models.TypeOf(err))
	assert.NotErrorIs(t, err, models.ErrMissingTimestamp)
}

func TestSelectVariant(t *testing.T) {
	store, err := prefs.Open(t.TempDir())
	require.NoError(t, err)

	pkg := models.Package{ID: "app", Variants: []models.PackageVariant{
		{PackageID: "app", Channel: "beta", VersionCode: 6},
		{PackageID: "app", Channel: "stable", VersionCode: 5},
	}}

	v, ok, err := SelectVariant(pkg, store, "stable")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stable", v.Channel)

	ch, saved := store.Channel("app")
	assert.True(t, saved, "default channel is persisted on first sight")
	assert.Equal(t, "stable", ch)

	require.NoError(t, store.SetChannel("app", "beta"))
	v, _, err = SelectVariant(pkg, store, "stable")
	require.NoError(t, err)
	assert.Equal(t, int64(6), v.VersionCode)

	require.NoError(t, store.SetChannel("app", "nightly"))
	v, _, err = SelectVariant(pkg, store, "stable")
	require.NoError(t, err)
	assert.Equal(t, "stable", v.Channel, "unknown channel falls back to default")

	_, ok, err = SelectVariant(models.Package{ID: "x"}, store, "stable")
	require.NoError(t, err)
	assert.False(t, ok)
}

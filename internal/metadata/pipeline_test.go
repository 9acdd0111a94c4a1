package metadata

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/appstore/internal/fetch"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/prefs"
	"github.com/ralt/appstore/internal/testutil"
	"github.com/ralt/appstore/internal/verifier"
)

func sampleApps() map[string][]testutil.Variant {
	return map[string][]testutil.Variant{
		"com.example.app": {{
			Channel:     "stable",
			VersionCode: 5,
			Files:       []testutil.File{{Name: "base.apk", Data: []byte("apk-v5")}},
		}},
	}
}

type harness struct {
	repo     *testutil.Repo
	prefs    *prefs.Store
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	repo := testutil.NewRepo(t)
	dataDir := t.TempDir()
	store, err := prefs.Open(dataDir)
	require.NoError(t, err)

	cfg := &models.Config{
		BaseURL:         repo.URL(),
		MetadataTimeout: 5 * time.Second,
		DownloadTimeout: 5 * time.Second,
	}
	f := fetch.New(cfg, store)

	return &harness{
		repo:     repo,
		prefs:    store,
		pipeline: NewPipeline(f, verifier.NewSignify(), store, dataDir, 0),
	}
}

func TestRefreshVerifiesCatalog(t *testing.T) {
	h := newHarness(t)
	h.repo.Publish(t, 100, sampleApps())

	catalog, err := h.pipeline.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(100), catalog.Timestamp)
	assert.Equal(t, []string{"com.example.app"}, catalog.Order)

	v, ok := catalog.Packages["com.example.app"].Variant("stable")
	require.True(t, ok)
	assert.Equal(t, int64(5), v.VersionCode)
	assert.Equal(t, testutil.SHA256([]byte("apk-v5")), v.Files[0].SHA256)
	assert.Equal(t, int64(100), h.prefs.Timestamp())
}

func TestRefreshUnchangedUsesCache(t *testing.T) {
	h := newHarness(t)
	h.repo.Publish(t, 100, sampleApps())

	_, err := h.pipeline.Refresh(context.Background())
	require.NoError(t, err)

	path := filepath.Join(h.pipeline.Dir(), "metadata.json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	catalog, err := h.pipeline.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), catalog.Timestamp)
	assert.Equal(t, 2, h.repo.Requests("metadata.json"))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRefreshRejectsDowngrade(t *testing.T) {
	h := newHarness(t)

	h.repo.Publish(t, 100, sampleApps())
	_, err := h.pipeline.Refresh(context.Background())
	require.NoError(t, err)

	h.repo.Publish(t, 200, sampleApps())
	published, err := h.pipeline.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), published.Timestamp)

	h.repo.Publish(t, 100, sampleApps())
	_, err = h.pipeline.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDowngrade)
	assert.True(t, models.IsVerification(err))

	assert.Equal(t, int64(200), h.prefs.Timestamp(), "rejected catalog must not move the high-water mark")
	_, statErr := os.Stat(h.pipeline.Dir())
	assert.True(t, os.IsNotExist(statErr), "cache must be invalidated")
}

func TestRefreshRejectsTamperedCatalog(t *testing.T) {
	h := newHarness(t)

	body := h.repo.Publish(t, 100, sampleApps())
	tampered := bytes.Replace(body, []byte(`"versionCode":5`), []byte(`"versionCode":6`), 1)
	require.NotEqual(t, body, tampered)
	h.repo.SetFile("metadata.json", tampered)

	_, err := h.pipeline.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSignatureInvalid)
	assert.Equal(t, models.ErrVerification, models.TypeOf(err))
	assert.Equal(t, int64(0), h.prefs.Timestamp())
	assert.False(t, fileExists(filepath.Join(h.pipeline.Dir(), "metadata.json")))
}

func TestRefreshDowngradeReportedBeforeSignature(t *testing.T) {
	h := newHarness(t)

	h.repo.Publish(t, 200, sampleApps())
	_, err := h.pipeline.Refresh(context.Background())
	require.NoError(t, err)

	// An older catalog with a broken signature is reported as a rollback
	h.repo.Publish(t, 100, sampleApps())
	h.repo.SetFile(h.repo.SignaturePath(), []byte(testutil.NewSignifyKey(t).SignatureFile([]byte("x"), "apps.0.pub")))

	_, err = h.pipeline.Refresh(context.Background())
	assert.ErrorIs(t, err, models.ErrDowngrade)
}

func TestRefreshMissingCatalog(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMissingFile)
}

func TestRefreshKeepsTrustedCacheOnServerError(t *testing.T) {
	h := newHarness(t)
	h.repo.Publish(t, 100, sampleApps())
	_, err := h.pipeline.Refresh(context.Background())
	require.NoError(t, err)

	h.repo.RemoveFile("metadata.json")

	catalog, err := h.pipeline.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), catalog.Timestamp)
}

func TestRefreshCountMismatch(t *testing.T) {
	h := newHarness(t)
	h.repo.PublishRaw([]byte(`{"time":1,"apps":{"a":{"stable":{"versionCode":1,"packages":["a.apk","b.apk"],"hashes":["00"]}}}}`))

	_, err := h.pipeline.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCountMismatch)
	assert.Equal(t, models.ErrMalformedData, models.TypeOf(err))
}

func TestRefreshInvalidJSON(t *testing.T) {
	h := newHarness(t)
	h.repo.PublishRaw([]byte(`<html>maintenance</html>`))

	_, err := h.pipeline.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrMalformedData, models.TypeOf(err))
	assert.False(t, fileExists(filepath.Join(h.pipeline.Dir(), "metadata.json")))
	assert.Equal(t, int64(0), h.prefs.Timestamp())
}

func TestRefreshNetworkFailure(t *testing.T) {
	h := newHarness(t)
	h.repo.Server.Close()

	_, err := h.pipeline.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrNetworkUnavailable, models.TypeOf(err))
}

// memFetcher serves published catalogs without HTTP
type memFetcher struct {
	files map[string][]byte
}

func (m *memFetcher) FetchToFile(_ context.Context, resource, dest string) (bool, error) {
	data, ok := m.files[resource]
	if !ok {
		return false, &fetch.StatusError{Resource: resource, Code: 404}
	}
	return true, os.WriteFile(dest, data, 0644)
}

func TestTimestampMonotonicProperty(t *testing.T) {
	key := testutil.NewSignifyKey(t)

	properties := gopter.NewProperties(nil)

	properties.Property("a refresh succeeds exactly when its time is not older than the newest accepted", prop.ForAll(
		func(times []int64) bool {
			dataDir := t.TempDir()
			store, err := prefs.Open(dataDir)
			if err != nil {
				return false
			}

			mf := &memFetcher{files: map[string][]byte{}}
			p := NewPipeline(mf, verifier.NewSignify(), store, dataDir, 0)

			var newest int64
			for _, ts := range times {
				body := testutil.CatalogJSON(t, ts, sampleApps())
				mf.files["metadata.json"] = body
				mf.files["metadata.json.0.sig"] = []byte(key.SignatureFile(body, "apps.0.pub"))
				mf.files["apps.0.pub"] = []byte(key.PublicKeyFile())

				_, err := p.Refresh(context.Background())
				if ts < newest {
					if err == nil || store.Timestamp() != newest {
						return false
					}
					continue
				}
				if err != nil {
					return false
				}
				newest = ts
			}
			return store.Timestamp() == newest
		},
		gen.SliceOfN(6, gen.Int64Range(1, 50)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

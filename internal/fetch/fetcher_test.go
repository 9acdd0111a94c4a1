package fetch

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/testutil"
	"github.com/ralt/appstore/internal/utils"
)

type memETags struct {
	mu   sync.Mutex
	tags map[string]string
}

func newMemETags() *memETags {
	return &memETags{tags: map[string]string{}}
}

func (m *memETags) ETag(resource string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tag, ok := m.tags[resource]
	return tag, ok
}

func (m *memETags) SetETag(resource, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tag == "" {
		delete(m.tags, resource)
		return nil
	}
	m.tags[resource] = tag
	return nil
}

func testConfig(baseURL string) *models.Config {
	return &models.Config{
		BaseURL:         baseURL,
		MetadataTimeout: 5 * time.Second,
		DownloadTimeout: 5 * time.Second,
		RetryAttempts:   1,
	}
}

func TestFetchToFileConditional(t *testing.T) {
	repo := testutil.NewRepo(t)
	repo.SetFile("metadata.json", []byte(`{"time":1}`))

	etags := newMemETags()
	f := New(testConfig(repo.URL()), etags)
	dest := filepath.Join(t.TempDir(), "metadata.json")

	changed, err := f.FetchToFile(context.Background(), "metadata.json", dest)
	require.NoError(t, err)
	assert.True(t, changed)

	tag, ok := etags.ETag("metadata.json")
	require.True(t, ok)
	assert.Equal(t, testutil.ETagOf([]byte(`{"time":1}`)), tag)

	before, err := os.ReadFile(dest)
	require.NoError(t, err)

	changed, err = f.FetchToFile(context.Background(), "metadata.json", dest)
	require.NoError(t, err)
	assert.False(t, changed, "unchanged resource must answer 304")

	after, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	tagAfter, _ := etags.ETag("metadata.json")
	assert.Equal(t, tag, tagAfter, "304 must not reset the ETag")

	repo.SetFile("metadata.json", []byte(`{"time":2}`))
	changed, err = f.FetchToFile(context.Background(), "metadata.json", dest)
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, `{"time":2}`, string(data))
}

func TestFetchToFileRefetchesMissingFile(t *testing.T) {
	repo := testutil.NewRepo(t)
	repo.SetFile("apps.0.pub", []byte("key"))

	etags := newMemETags()
	require.NoError(t, etags.SetETag("apps.0.pub", testutil.ETagOf([]byte("key"))))

	f := New(testConfig(repo.URL()), etags)
	dest := filepath.Join(t.TempDir(), "apps.0.pub")

	changed, err := f.FetchToFile(context.Background(), "apps.0.pub", dest)
	require.NoError(t, err)
	assert.True(t, changed, "stale ETag without a local file must not be sent")
	assert.True(t, utils.Exists(dest))
}

func TestFetchToFileErrorStatus(t *testing.T) {
	repo := testutil.NewRepo(t)
	f := New(testConfig(repo.URL()), newMemETags())

	dest := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(dest, []byte("cached"), 0644))

	_, err := f.FetchToFile(context.Background(), "metadata.json", dest)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
}

func TestFetchToFileContentEncoding(t *testing.T) {
	payload := bytes.Repeat([]byte("catalog "), 64)

	for _, encoding := range []string{"gzip", "zstd"} {
		t.Run(encoding, func(t *testing.T) {
			body := testutil.Encode(t, encoding, payload)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.Header.Get("Accept-Encoding"), encoding)
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(body)
			}))
			defer server.Close()

			f := New(testConfig(server.URL), newMemETags())
			dest := filepath.Join(t.TempDir(), "metadata.json")

			_, err := f.FetchToFile(context.Background(), "metadata.json", dest)
			require.NoError(t, err)

			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDownloadProgress(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 3*progressChunk+100)

	repo := testutil.NewRepo(t)
	repo.SetFile("packages/app/1/base.apk", data)
	f := New(testConfig(repo.URL()), newMemETags())

	var ticks []Progress
	var out bytes.Buffer
	n, err := f.Download(context.Background(), "packages/app/1/base.apk", &out, func(p Progress) {
		ticks = append(ticks, p)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, out.Bytes())

	require.NotEmpty(t, ticks)
	for i := 1; i < len(ticks); i++ {
		assert.GreaterOrEqual(t, ticks[i].Read, ticks[i-1].Read)
	}
	last := ticks[len(ticks)-1]
	assert.True(t, last.Exhausted)
	assert.Equal(t, int64(len(data)), last.Total)
	assert.InDelta(t, 100, last.Percent, 0.001)
}

func TestDownloadUnknownLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			_, _ = w.Write([]byte("chunk"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	f := New(testConfig(server.URL), newMemETags())

	var ticks []Progress
	_, err := f.Download(context.Background(), "packages/x", &bytes.Buffer{}, func(p Progress) {
		ticks = append(ticks, p)
	})
	require.NoError(t, err)
	for _, p := range ticks {
		assert.Equal(t, float64(-1), p.Percent)
	}
}

func TestDownloadErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		repo := testutil.NewRepo(t)
		f := New(testConfig(repo.URL()), newMemETags())

		_, err := f.Download(context.Background(), "packages/missing", &bytes.Buffer{}, nil)
		require.Error(t, err)
		assert.Equal(t, models.ErrNetworkUnavailable, models.TypeOf(err))
	})

	t.Run("connection refused", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		f := New(testConfig(url), newMemETags())
		_, err := f.Download(context.Background(), "packages/x", &bytes.Buffer{}, nil)
		require.Error(t, err)
		assert.Equal(t, models.ErrNetworkUnavailable, models.TypeOf(err))
	})

	t.Run("untrusted certificate", func(t *testing.T) {
		server := httptest.NewTLSServer(http.NotFoundHandler())
		defer server.Close()

		f := New(testConfig(server.URL), newMemETags())
		_, err := f.Download(context.Background(), "packages/x", &bytes.Buffer{}, nil)
		require.Error(t, err)
		assert.Equal(t, models.ErrTLS, models.TypeOf(err))
	})

	t.Run("stalled body", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "100")
			_, _ = w.Write([]byte("partial"))
			w.(http.Flusher).Flush()
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		cfg := testConfig(server.URL)
		cfg.DownloadTimeout = 100 * time.Millisecond
		f := New(cfg, newMemETags())

		_, err := f.Download(context.Background(), "packages/x", &bytes.Buffer{}, nil)
		require.Error(t, err)
		assert.Equal(t, models.ErrNetworkUnavailable, models.TypeOf(err))
	})
}

type flakyTransport struct {
	failures int
	calls    int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func TestRetryTransport(t *testing.T) {
	old := retryDelay
	retryDelay = time.Millisecond
	defer func() { retryDelay = old }()

	tests := []struct {
		name      string
		failures  int
		retries   int
		method    string
		wantErr   bool
		wantCalls int
	}{
		{"recovers", 2, 3, http.MethodGet, false, 3},
		{"gives up", 5, 2, http.MethodGet, true, 3},
		{"no retry for POST", 1, 3, http.MethodPost, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &flakyTransport{failures: tt.failures}
			rt := &retryTransport{base: base, retries: tt.retries}

			req, err := http.NewRequest(tt.method, "http://repo.invalid/metadata.json", nil)
			require.NoError(t, err)

			resp, err := rt.RoundTrip(req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				resp.Body.Close()
			}
			assert.Equal(t, tt.wantCalls, base.calls)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorType
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "repo.invalid"}, models.ErrNetworkUnavailable},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, models.ErrNetworkUnavailable},
		{"status", &StatusError{Resource: "x", Code: 503}, models.ErrNetworkUnavailable},
		{"file", &os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}, models.ErrIO},
		{"other", errors.New("boom"), models.ErrUnknown},
		{"already typed", models.NewError(models.ErrVerification, "", errors.New("x")), models.ErrVerification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.TypeOf(Classify("pkg", tt.err)))
		})
	}

	assert.NoError(t, Classify("pkg", nil))
}

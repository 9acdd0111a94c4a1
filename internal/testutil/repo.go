package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// File is one package file served by the fake repository
type File struct {
	Name string
	Data []byte
}

// Variant describes one channel of one app in a published catalog
type Variant struct {
	Channel      string
	VersionCode  int64
	Files        []File
	Dependencies []string
}

// Repo is an httptest server speaking the repository protocol: conditional
// GETs with ETags for metadata and plain GETs for package files
type Repo struct {
	Server  *httptest.Server
	Key     *SignifyKey
	Version int

	mu       sync.Mutex
	files    map[string][]byte
	requests map[string]int
}

// NewRepo starts a repository server signed by a fresh key
func NewRepo(t testing.TB) *Repo {
	t.Helper()

	r := &Repo{
		Key:      NewSignifyKey(t),
		files:    map[string][]byte{},
		requests: map[string]int{},
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Server.Close)
	return r
}

// URL returns the base URL of the repository
func (r *Repo) URL() string {
	return r.Server.URL
}

func (r *Repo) serve(w http.ResponseWriter, req *http.Request) {
	path := req.URL.Path[1:]

	r.mu.Lock()
	r.requests[path]++
	data, ok := r.files[path]
	r.mu.Unlock()

	if !ok {
		http.NotFound(w, req)
		return
	}

	etag := ETagOf(data)
	if req.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// SetFile serves data at path, replacing any previous content
func (r *Repo) SetFile(path string, data []byte) {
	r.mu.Lock()
	r.files[path] = data
	r.mu.Unlock()
}

// RemoveFile stops serving path
func (r *Repo) RemoveFile(path string) {
	r.mu.Lock()
	delete(r.files, path)
	r.mu.Unlock()
}

// Requests returns how many requests path received
func (r *Repo) Requests(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[path]
}

// MetadataPath, SignaturePath and PublicKeyPath name the catalog resources
func (r *Repo) MetadataPath() string  { return "metadata.json" }
func (r *Repo) SignaturePath() string { return fmt.Sprintf("metadata.json.%d.sig", r.Version) }
func (r *Repo) PublicKeyPath() string { return fmt.Sprintf("apps.%d.pub", r.Version) }

// Publish signs and serves a catalog together with every package file it
// declares. It returns the raw catalog bytes.
func (r *Repo) Publish(t testing.TB, timestamp int64, apps map[string][]Variant) []byte {
	t.Helper()

	body := CatalogJSON(t, timestamp, apps)
	r.PublishRaw(body)

	for id, variants := range apps {
		for _, v := range variants {
			for _, f := range v.Files {
				r.SetFile(PackagePath(id, v.VersionCode, f.Name), f.Data)
			}
		}
	}
	return body
}

// PublishRaw signs and serves arbitrary catalog bytes
func (r *Repo) PublishRaw(body []byte) {
	r.SetFile(r.MetadataPath(), body)
	r.SetFile(r.SignaturePath(), []byte(r.Key.SignatureFile(body, r.PublicKeyPath())))
	r.SetFile(r.PublicKeyPath(), []byte(r.Key.PublicKeyFile()))
}

// PackagePath returns the server path of one package file
func PackagePath(id string, versionCode int64, name string) string {
	return fmt.Sprintf("packages/%s/%d/%s", id, versionCode, name)
}

// CatalogJSON renders the catalog wire format
func CatalogJSON(t testing.TB, timestamp int64, apps map[string][]Variant) []byte {
	t.Helper()

	type variantJSON struct {
		VersionCode  int64    `json:"versionCode"`
		Packages     []string `json:"packages"`
		Hashes       []string `json:"hashes"`
		Dependencies []string `json:"dependencies,omitempty"`
	}

	out := struct {
		Time int64                             `json:"time"`
		Apps map[string]map[string]variantJSON `json:"apps"`
	}{Time: timestamp, Apps: map[string]map[string]variantJSON{}}

	for id, variants := range apps {
		out.Apps[id] = map[string]variantJSON{}
		for _, v := range variants {
			vj := variantJSON{VersionCode: v.VersionCode, Dependencies: v.Dependencies}
			for _, f := range v.Files {
				vj.Packages = append(vj.Packages, f.Name)
				vj.Hashes = append(vj.Hashes, SHA256(f.Data))
			}
			out.Apps[id][v.Channel] = vj
		}
	}

	body, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Failed to marshal catalog: %v", err)
	}
	return body
}

// SHA256 returns the hex digest of data
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETagOf returns the quoted ETag the fake server assigns to data
func ETagOf(data []byte) string {
	return `"` + SHA256(data)[:16] + `"`
}

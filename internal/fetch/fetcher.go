// Package fetch performs the repository's HTTP exchanges: conditional
// metadata fetches validated by ETags and streamed package downloads.
package fetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/utils"
)

// ETagStore persists validators keyed by resource path
type ETagStore interface {
	ETag(resource string) (string, bool)
	SetETag(resource, tag string) error
}

// Progress is one tick of a streamed download. Percent is -1 when the
// server did not declare a length.
type Progress struct {
	Read      int64
	Total     int64
	Percent   float64
	Exhausted bool
}

// ProgressFunc receives download ticks in non-decreasing Read order
type ProgressFunc func(Progress)

const progressChunk = 32 * 1024

// Fetcher issues requests against one repository base URL
type Fetcher struct {
	baseURL     string
	metadata    *http.Client
	packages    *http.Client
	etags       ETagStore
	readTimeout time.Duration
}

// New creates a fetcher configured from cfg. Metadata requests are bounded
// by MetadataTimeout end to end; package downloads bound each body read by
// DownloadTimeout instead so large files are not cut off.
func New(cfg *models.Config, etags ETagStore) *Fetcher {
	return &Fetcher{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		metadata:    NewHTTPClient(cfg.MetadataTimeout, cfg.MetadataTimeout, cfg.RetryAttempts),
		packages:    NewHTTPClient(cfg.MetadataTimeout, 0, cfg.RetryAttempts),
		etags:       etags,
		readTimeout: cfg.DownloadTimeout,
	}
}

// URL returns the absolute URL of a resource path
func (f *Fetcher) URL(resource string) string {
	return f.baseURL + "/" + strings.TrimPrefix(resource, "/")
}

// FetchToFile conditionally fetches resource into dest. A 304 leaves dest
// and the stored ETag untouched and reports changed=false. A 2xx replaces
// dest atomically and records the new ETag. Any other status yields a
// *StatusError and leaves dest untouched.
func (f *Fetcher) FetchToFile(ctx context.Context, resource, dest string) (changed bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(resource), nil)
	if err != nil {
		return false, models.NewError(models.ErrUnknown, "", err)
	}
	req.Header.Set("Accept-Encoding", utils.AcceptEncoding)

	// A validator without the file it validates would strand us on 304
	if tag, ok := f.etags.ETag(resource); ok && utils.Exists(dest) {
		req.Header.Set("If-None-Match", tag)
	}

	logrus.WithField("resource", resource).Debug("Fetching")

	resp, err := f.metadata.Do(req)
	if err != nil {
		return false, Classify("", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		logrus.WithField("resource", resource).Debug("Not modified")
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, &StatusError{Resource: resource, Code: resp.StatusCode}
	}

	body, err := utils.DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return false, models.NewError(models.ErrMalformedData, "", err)
	}
	defer body.Close()

	if err := utils.WriteStreamAtomic(dest, 0644, func(w io.Writer) error {
		_, err := io.Copy(w, body)
		return err
	}); err != nil {
		return false, Classify("", err)
	}

	if err := f.etags.SetETag(resource, resp.Header.Get("ETag")); err != nil {
		return true, models.NewError(models.ErrIO, "", err)
	}

	logrus.WithFields(logrus.Fields{
		"resource": resource,
		"etag":     resp.Header.Get("ETag"),
	}).Debug("Fetched")
	return true, nil
}

// Download streams resource into w, reporting progress after every chunk
// and once more when the body is exhausted. It returns the byte count.
func (f *Fetcher) Download(ctx context.Context, resource string, w io.Writer, progress ProgressFunc) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(resource), nil)
	if err != nil {
		return 0, models.NewError(models.ErrUnknown, "", err)
	}

	resp, err := f.packages.Do(req)
	if err != nil {
		return 0, Classify("", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, Classify("", &StatusError{Resource: resource, Code: resp.StatusCode})
	}

	body := newIdleReader(resp.Body, f.readTimeout, cancel)
	defer body.stop()

	total := resp.ContentLength
	var read int64
	buf := make([]byte, progressChunk)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return read, models.NewError(models.ErrIO, "", werr)
			}
			read += int64(n)
			report(progress, read, total, false)
		}
		if rerr == io.EOF {
			report(progress, read, total, true)
			return read, nil
		}
		if rerr != nil {
			if body.expired() {
				rerr = os.ErrDeadlineExceeded
			}
			return read, Classify("", rerr)
		}
	}
}

func report(progress ProgressFunc, read, total int64, exhausted bool) {
	if progress == nil {
		return
	}
	percent := float64(-1)
	if total > 0 {
		percent = float64(read) * 100 / float64(total)
	}
	progress(Progress{Read: read, Total: total, Percent: percent, Exhausted: exhausted})
}

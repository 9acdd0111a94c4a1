// Package download fetches the files of a package variant into a
// content-verified local cache.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/fetch"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/utils"
)

// Downloader streams one remote resource
type Downloader interface {
	Download(ctx context.Context, resource string, w io.Writer, progress fetch.ProgressFunc) (int64, error)
}

// Progress is a tick for one file of a variant. Ticks arrive ordered by
// Index, then by Read.
type Progress struct {
	fetch.Progress
	File  string
	Index int
	Count int
}

// ProgressFunc receives download ticks
type ProgressFunc func(Progress)

// Pipeline stores package files under {cacheDir}/downloadedPkg
type Pipeline struct {
	fetcher Downloader
	dir     string
}

func NewPipeline(fetcher Downloader, cacheDir string) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		dir:     filepath.Join(cacheDir, "downloadedPkg"),
	}
}

// Path returns the cache location of one file of a variant
func (p *Pipeline) Path(v models.PackageVariant, name string) string {
	return filepath.Join(p.dir, strconv.FormatInt(v.VersionCode, 10), v.PackageID, name)
}

// Resource returns the server path of one file of a variant
func Resource(v models.PackageVariant, name string) string {
	return fmt.Sprintf("packages/%s/%d/%s", v.PackageID, v.VersionCode, name)
}

// Fetch makes every file of v available locally with its declared digest,
// in declaration order. Valid cached files are used without network access.
// The first failure aborts the variant; no file that failed verification is
// left in the cache.
func (p *Pipeline) Fetch(ctx context.Context, v models.PackageVariant, progress ProgressFunc) ([]string, error) {
	log := logrus.WithFields(logrus.Fields{
		"package":      v.PackageID,
		"version_code": v.VersionCode,
	})

	paths := make([]string, 0, len(v.Files))
	for i, f := range v.Files {
		if err := ctx.Err(); err != nil {
			return nil, models.NewError(models.ErrUnknown, v.PackageID, err)
		}

		path := p.Path(v, f.Name)
		if utils.FileMatchesHash(path, f.SHA256) {
			log.WithField("file", f.Name).Debug("Using cached file")
			paths = append(paths, path)
			continue
		}

		if err := utils.RemoveIfExists(path); err != nil {
			return nil, models.NewError(models.ErrIO, v.PackageID, err)
		}

		tick := func(fp fetch.Progress) {
			if progress != nil {
				progress(Progress{Progress: fp, File: f.Name, Index: i, Count: len(v.Files)})
			}
		}
		if err := p.fetchFile(ctx, v, f, path, tick); err != nil {
			log.WithField("file", f.Name).WithError(err).Warn("Download failed")
			return nil, err
		}

		log.WithField("file", f.Name).Debug("Downloaded and verified")
		paths = append(paths, path)
	}

	return paths, nil
}

// fetchFile streams into a temporary file, hashing as it goes, and only
// renames it into place once the digest matches
func (p *Pipeline) fetchFile(ctx context.Context, v models.PackageVariant, f models.PackageFile, path string, progress fetch.ProgressFunc) error {
	var digest string

	err := utils.WriteStreamAtomic(path, 0644, func(w io.Writer) error {
		h := sha256.New()
		if _, err := p.fetcher.Download(ctx, Resource(v, f.Name), io.MultiWriter(w, h), progress); err != nil {
			return err
		}
		digest = hex.EncodeToString(h.Sum(nil))
		if !utils.HashMatches(digest, f.SHA256) {
			return models.NewError(models.ErrVerification, v.PackageID,
				fmt.Errorf("%w: %s expected %s, got %s", models.ErrHashMismatch, f.Name, f.SHA256, digest))
		}
		return nil
	})
	if err != nil {
		return fetch.Classify(v.PackageID, err)
	}
	return nil
}

// Clean removes the cached files of every version of pkg except keep
func (p *Pipeline) Clean(pkg string, keep int64) error {
	versions, err := filepath.Glob(filepath.Join(p.dir, "*", pkg))
	if err != nil {
		return err
	}
	for _, dir := range versions {
		if filepath.Base(filepath.Dir(dir)) == strconv.FormatInt(keep, 10) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}

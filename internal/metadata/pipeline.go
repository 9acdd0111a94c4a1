// Package metadata fetches, authenticates and parses the repository catalog.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/fetch"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/utils"
	"github.com/ralt/appstore/internal/verifier"
)

const catalogFile = "metadata.json"

// Fetcher downloads one resource into a local file
type Fetcher interface {
	FetchToFile(ctx context.Context, resource, dest string) (bool, error)
}

// TimestampStore holds the newest catalog timestamp accepted so far
type TimestampStore interface {
	Timestamp() int64
	SetTimestamp(ts int64) error
}

// Pipeline refreshes the catalog of one format version
type Pipeline struct {
	fetcher    Fetcher
	verifier   verifier.Verifier
	timestamps TimestampStore
	version    int
	dir        string
}

// NewPipeline creates a pipeline caching its files under
// {dataDir}/cache/{version}
func NewPipeline(fetcher Fetcher, v verifier.Verifier, timestamps TimestampStore, dataDir string, version int) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		verifier:   v,
		timestamps: timestamps,
		version:    version,
		dir:        filepath.Join(dataDir, "cache", strconv.Itoa(version)),
	}
}

// Resources returns the catalog, signature and public key paths
func (p *Pipeline) Resources() (catalog, signature, publicKey string) {
	return catalogFile,
		fmt.Sprintf("metadata.json.%d.sig", p.version),
		fmt.Sprintf("apps.%d.pub", p.version)
}

// Dir returns the cache directory of this format version
func (p *Pipeline) Dir() string {
	return p.dir
}

// Refresh fetches the three catalog resources, authenticates the catalog
// and returns it parsed. Any verification or parse failure removes the
// cache directory so the next run starts from the server's copy.
func (p *Pipeline) Refresh(ctx context.Context) (*models.Catalog, error) {
	log := logrus.WithField("format_version", p.version)

	if err := utils.EnsureDir(p.dir); err != nil {
		return nil, models.NewError(models.ErrIO, "", err)
	}

	catalogRes, sigRes, keyRes := p.Resources()
	for _, res := range []string{catalogRes, sigRes, keyRes} {
		if _, err := p.fetcher.FetchToFile(ctx, res, filepath.Join(p.dir, res)); err != nil {
			var statusErr *fetch.StatusError
			if errors.As(err, &statusErr) {
				// Keep whatever trusted copy we already have
				log.WithField("resource", res).Warnf("Server refused resource: %v", err)
				continue
			}
			return nil, err
		}
	}

	message, err := os.ReadFile(filepath.Join(p.dir, catalogRes))
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.NewError(models.ErrVerification, "", models.ErrMissingFile)
	}
	if err != nil {
		return nil, models.NewError(models.ErrIO, "", err)
	}

	signature, _ := os.ReadFile(filepath.Join(p.dir, sigRes))
	publicKey, _ := os.ReadFile(filepath.Join(p.dir, keyRes))

	verified := p.verifier.Verify(message, string(signature), string(publicKey))

	// Rollback is checked even for catalogs that fail verification
	timestamp, err := p.checkTimestamp(message)
	if err != nil {
		p.deleteFiles()
		log.WithError(err).Error("Catalog rejected")
		return nil, err
	}

	if !verified {
		p.deleteFiles()
		log.Error("Catalog signature verification failed")
		return nil, models.NewError(models.ErrVerification, "", models.ErrSignatureInvalid)
	}

	catalog, err := Parse(message)
	if err != nil {
		p.deleteFiles()
		return nil, err
	}

	// The high-water mark only moves for catalogs that verified and parsed
	if err := p.timestamps.SetTimestamp(timestamp); err != nil {
		return nil, models.NewError(models.ErrIO, "", err)
	}

	log.WithFields(logrus.Fields{
		"timestamp": catalog.Timestamp,
		"packages":  len(catalog.Packages),
	}).Info("Catalog verified")
	return catalog, nil
}

// checkTimestamp rejects a catalog older than the last accepted one
func (p *Pipeline) checkTimestamp(message []byte) (int64, error) {
	timestamp, err := ParseTimestamp(message)
	if err != nil {
		if models.TypeOf(err) == models.ErrUnknown {
			err = models.NewError(models.ErrVerification, "", err)
		}
		return 0, err
	}

	last := p.timestamps.Timestamp()
	if last != 0 && timestamp < last {
		return 0, models.NewError(models.ErrVerification, "",
			fmt.Errorf("%w: catalog time %d is older than %d", models.ErrDowngrade, timestamp, last))
	}
	return timestamp, nil
}

func (p *Pipeline) deleteFiles() {
	if err := os.RemoveAll(p.dir); err != nil {
		logrus.Warnf("Failed to delete catalog cache %s: %v", p.dir, err)
	}
}

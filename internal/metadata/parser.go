package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ralt/appstore/internal/models"
)

type catalogJSON struct {
	Time *int64                            `json:"time"`
	Apps map[string]map[string]variantJSON `json:"apps"`
}

type variantJSON struct {
	VersionCode  int64    `json:"versionCode"`
	Packages     []string `json:"packages"`
	Hashes       []string `json:"hashes"`
	Dependencies []string `json:"dependencies"`
}

// ParseTimestamp extracts the top-level time field without validating the
// rest of the document
func ParseTimestamp(data []byte) (int64, error) {
	var head struct {
		Time *int64 `json:"time"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, models.NewError(models.ErrMalformedData, "", fmt.Errorf("invalid catalog JSON: %w", err))
	}
	if head.Time == nil {
		return 0, models.ErrMissingTimestamp
	}
	return *head.Time, nil
}

// Parse decodes a verified catalog. Every variant must declare as many
// hashes as files; file names must be plain base names.
func Parse(data []byte) (*models.Catalog, error) {
	var raw catalogJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, models.NewError(models.ErrMalformedData, "", fmt.Errorf("invalid catalog JSON: %w", err))
	}
	if raw.Time == nil {
		return nil, models.NewError(models.ErrMalformedData, "", models.ErrMissingTimestamp)
	}
	if raw.Apps == nil {
		return nil, models.NewError(models.ErrMalformedData, "", errors.New("catalog has no apps"))
	}

	catalog := &models.Catalog{
		Timestamp: *raw.Time,
		Packages:  make(map[string]models.Package, len(raw.Apps)),
	}

	for id, variants := range raw.Apps {
		if !validName(id) {
			return nil, models.NewError(models.ErrMalformedData, id, fmt.Errorf("invalid package id %q", id))
		}

		pkg := models.Package{ID: id}
		for channel, v := range variants {
			variant, err := toVariant(id, channel, v)
			if err != nil {
				return nil, err
			}
			pkg.Variants = append(pkg.Variants, variant)
		}
		sort.Slice(pkg.Variants, func(i, j int) bool {
			return pkg.Variants[i].Channel < pkg.Variants[j].Channel
		})

		catalog.Packages[id] = pkg
		catalog.Order = append(catalog.Order, id)
	}
	sort.Strings(catalog.Order)

	return catalog, nil
}

func toVariant(id, channel string, v variantJSON) (models.PackageVariant, error) {
	if len(v.Packages) != len(v.Hashes) {
		return models.PackageVariant{}, models.NewError(models.ErrMalformedData, id,
			fmt.Errorf("%w: channel %s declares %d files and %d hashes",
				models.ErrCountMismatch, channel, len(v.Packages), len(v.Hashes)))
	}

	variant := models.PackageVariant{
		PackageID:    id,
		Channel:      channel,
		VersionCode:  v.VersionCode,
		Dependencies: v.Dependencies,
	}
	for i, name := range v.Packages {
		if !validName(name) {
			return models.PackageVariant{}, models.NewError(models.ErrMalformedData, id, fmt.Errorf("invalid file name %q", name))
		}
		variant.Files = append(variant.Files, models.PackageFile{
			Name:   name,
			SHA256: strings.ToLower(v.Hashes[i]),
		})
	}
	return variant, nil
}

// validName rejects names that would escape their cache directory
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

package models

// PackageFile is one file of a variant together with its expected digest
type PackageFile struct {
	Name   string
	SHA256 string
}

// PackageVariant is one installable build of one app on one channel
type PackageVariant struct {
	PackageID    string
	Channel      string
	VersionCode  int64
	Files        []PackageFile
	Dependencies []string
}

// FileNames returns the declared file names in catalog order
func (v PackageVariant) FileNames() []string {
	names := make([]string, len(v.Files))
	for i, f := range v.Files {
		names[i] = f.Name
	}
	return names
}

// Package is an app identifier with every variant the catalog knows about
type Package struct {
	ID       string
	Variants []PackageVariant
}

// Variant returns the variant published on the given channel
func (p Package) Variant(channel string) (PackageVariant, bool) {
	for _, v := range p.Variants {
		if v.Channel == channel {
			return v, true
		}
	}
	return PackageVariant{}, false
}

// Catalog is the parsed, verified repository metadata
type Catalog struct {
	// Timestamp is the catalog's declared time in seconds since epoch
	Timestamp int64
	Packages  map[string]Package
	// Order lists package ids sorted, for stable iteration
	Order []string
}

package metadata

import "github.com/ralt/appstore/internal/models"

// ChannelStore records the channel selected for each package
type ChannelStore interface {
	Channel(pkg string) (string, bool)
	SetChannel(pkg, channel string) error
}

// SelectVariant picks the variant of pkg on its preferred channel. The
// first time a package is seen, or when its channel disappeared, the
// default channel is used and persisted.
func SelectVariant(pkg models.Package, channels ChannelStore, defaultChannel string) (models.PackageVariant, bool, error) {
	if preferred, ok := channels.Channel(pkg.ID); ok {
		if v, found := pkg.Variant(preferred); found {
			return v, true, nil
		}
	}

	v, found := pkg.Variant(defaultChannel)
	if !found {
		return models.PackageVariant{}, false, nil
	}
	if err := channels.SetChannel(pkg.ID, defaultChannel); err != nil {
		return v, true, models.NewError(models.ErrIO, pkg.ID, err)
	}
	return v, true, nil
}

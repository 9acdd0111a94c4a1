package client

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/device"
	"github.com/ralt/appstore/internal/metadata"
	"github.com/ralt/appstore/internal/models"
)

// Refresh fetches and applies the catalog. Unless force is set it does
// nothing once packages are known. Concurrent calls share one refresh,
// which outlives any single caller giving up. Failures leave previously
// published state untouched.
func (a *App) Refresh(ctx context.Context, force bool) error {
	if !force && len(a.store.Snapshot().Packages) > 0 {
		return nil
	}

	ch := a.refresh.DoChan("refresh", func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		if a.cfg.RefreshTimeout > 0 {
			var cancel context.CancelFunc
			shared, cancel = context.WithTimeout(shared, a.cfg.RefreshTimeout)
			defer cancel()
		}
		return nil, a.runRefresh(shared)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) runRefresh(ctx context.Context) error {
	log := logrus.WithField("run_id", uuid.NewString())
	log.Info("Refreshing catalog")

	catalog, err := a.catalog.Refresh(ctx)
	if err != nil {
		log.WithError(err).Warn("Catalog refresh failed")
		return err
	}

	if err := a.applyCatalog(ctx, catalog); err != nil {
		log.WithError(err).Warn("Applying catalog interrupted")
		return err
	}
	log.WithField("packages", len(catalog.Order)).Info("Catalog applied")

	if a.prefs.AutoDownload() {
		a.MaybeAutoDownload(ctx)
	}
	return nil
}

// applyCatalog publishes each package as soon as it is resolved
func (a *App) applyCatalog(ctx context.Context, catalog *models.Catalog) error {
	for _, id := range catalog.Order {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkg := catalog.Packages[id]
		selected, ok, err := metadata.SelectVariant(pkg, a.prefs, a.cfg.DefaultChannel)
		if err != nil {
			logrus.WithField("package", id).Warnf("Failed to save channel: %v", err)
		}
		if !ok {
			logrus.WithField("package", id).Warnf("No %s variant, skipping", a.cfg.DefaultChannel)
			continue
		}

		status, err := a.installStatus(ctx, id, selected.VersionCode)
		if err != nil {
			return err
		}

		a.store.Upsert(id, func(current models.PackageInfo, exists bool) models.PackageInfo {
			if !exists {
				return models.NewPackageInfo(selected, pkg.Variants, status)
			}
			next := current.WithVariants(selected, pkg.Variants)
			if current.Session.Active && inSession(current.Install.State) {
				return next
			}
			return next.WithInstallStatus(status)
		})
	}

	for id, info := range a.store.Snapshot().Packages {
		if _, listed := catalog.Packages[id]; !listed && !info.Stale {
			a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
				return p.WithStale(true)
			})
		}
	}
	return nil
}

// installStatus reads the device once and derives the status for latest
func (a *App) installStatus(ctx context.Context, id string, latest int64) (models.InstallStatus, error) {
	installed, found, err := a.device.InstalledPackage(ctx, id)
	if err != nil {
		return models.InstallStatus{}, err
	}
	return DeriveStatus(installed, found, latest, a.cfg.ClientPackage), nil
}

// DeriveStatus computes an install status from what the device reports.
// Packages installed by anyone but client need a reinstall regardless of
// version.
func DeriveStatus(installed device.InstalledPackage, found bool, latest int64, client string) models.InstallStatus {
	switch {
	case !found:
		return models.Installable(latest)
	case installed.Installer != client:
		return models.ReinstallRequired(installed.VersionCode, latest)
	case installed.VersionCode < latest:
		return models.Updatable(installed.VersionCode, latest)
	default:
		return models.Installed(installed.VersionCode, latest)
	}
}

func inSession(s models.InstallState) bool {
	return s == models.StateInstalling || s == models.StateUninstalling
}

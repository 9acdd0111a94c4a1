package client

import (
	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/device"
	"github.com/ralt/appstore/internal/models"
)

// handleEvent reconciles an OS package event with the store. Events for
// packages the catalog never listed are dropped.
func (a *App) handleEvent(ev device.PackageEvent) {
	if !a.store.Tracked(ev.PackageID) {
		return
	}

	log := logrus.WithFields(logrus.Fields{"package": ev.PackageID, "event": ev.Kind.String()})
	log.Debug("Package event")

	info, _ := a.store.Update(ev.PackageID, func(p models.PackageInfo) models.PackageInfo {
		latest := p.Selected.VersionCode
		switch ev.Kind {
		case device.EventAdded, device.EventReplaced:
			if ev.VersionCode < latest {
				return p.WithInstallStatus(models.Updatable(ev.VersionCode, latest))
			}
			if ev.Kind == device.EventAdded {
				return p.WithInstallStatus(models.Installed(ev.VersionCode, latest))
			}
			return p.WithInstallStatus(models.Updated(ev.VersionCode, latest))
		case device.EventRemoved, device.EventFullyRemoved:
			return p.WithInstallStatus(models.Installable(latest))
		}
		return p
	})

	var keep int64
	switch ev.Kind {
	case device.EventAdded, device.EventReplaced:
		keep = ev.VersionCode
	case device.EventFullyRemoved:
		keep = models.NotInstalled
	default:
		return
	}
	if err := a.packages.Clean(info.ID, keep); err != nil {
		log.WithError(err).Warn("Failed to clean downloaded files")
	}
}

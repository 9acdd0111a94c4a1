package client

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/messages"
	"github.com/ralt/appstore/internal/models"
)

// Action is what HandleAction decided to do for a package
type Action int

const (
	ActionNone Action = iota
	ActionDownload
	ActionUninstall
)

// ActionResult describes the outcome of HandleAction. Download is set for
// ActionDownload and yields the download's terminal result.
type ActionResult struct {
	Action   Action
	Message  string
	Download <-chan DownloadResult
}

// HandleAction performs the primary action for a package in its current
// state: install or update what can be installed, uninstall what is
// installed, and report what is already in progress.
func (a *App) HandleAction(ctx context.Context, id string) (ActionResult, error) {
	info, ok := a.store.Get(id)
	if !ok {
		return ActionResult{Message: a.msgs.Get(messages.KeySyncUnfinished)}, nil
	}

	if info.Download != nil && info.Download.State == models.DownloadActive {
		return ActionResult{Message: a.msgs.Get(messages.KeyProcessing)}, nil
	}

	switch info.Install.State {
	case models.StateInstallable, models.StateUpdatable, models.StateReinstallRequired, models.StateFailed:
		return ActionResult{Action: ActionDownload, Message: a.msgs.Get(messages.KeyProcessing), Download: a.Download(id, true)}, nil
	case models.StateInstalled:
		return ActionResult{Action: ActionUninstall, Message: a.msgs.Get(messages.KeyUninstallRequested)}, a.Uninstall(ctx, id)
	case models.StateUpdated:
		return ActionResult{Action: ActionUninstall, Message: a.msgs.Get(messages.KeyAlreadyUpToDate)}, a.Uninstall(ctx, id)
	case models.StateInstalling:
		return ActionResult{Message: a.msgs.Get(messages.KeyInstallInProgress)}, nil
	case models.StateUninstalling:
		return ActionResult{Message: a.msgs.Get(messages.KeyUninstallInProgress)}, nil
	default:
		return ActionResult{Message: a.msgs.Get(messages.KeySyncUnfinished)}, nil
	}
}

// Uninstall removes a package from the device
func (a *App) Uninstall(ctx context.Context, id string) error {
	if _, ok := a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
		return p.WithInstallStatus(models.Uninstalling(p.Install.InstalledVersion, p.Selected.VersionCode))
	}); !ok {
		return models.NewError(models.ErrUnknown, id, models.ErrUnknownPackage)
	}

	log := logrus.WithField("package", id)
	if err := a.device.Uninstall(ctx, id); err != nil {
		if models.TypeOf(err) == models.ErrUnknown {
			err = models.NewError(models.ErrInstaller, id, err)
		}
		log.WithError(err).Warn("Uninstall failed")
		reason := a.msgs.Describe(err)
		a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
			return p.WithInstallStatus(p.Install.Failed(reason, false))
		})
		return err
	}

	a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
		if p.Install.State != models.StateUninstalling {
			return p
		}
		return p.WithInstallStatus(models.Installable(p.Selected.VersionCode))
	})
	log.Info("Package uninstalled")
	return nil
}

// SetChannel switches a package to another channel, persists the choice
// and recomputes its status against the new variant
func (a *App) SetChannel(ctx context.Context, id, channel string) error {
	info, ok := a.store.Get(id)
	if !ok {
		return models.NewError(models.ErrUnknown, id, models.ErrUnknownPackage)
	}

	var selected *models.PackageVariant
	for i := range info.Variants {
		if info.Variants[i].Channel == channel {
			selected = &info.Variants[i]
			break
		}
	}
	if selected == nil {
		return models.NewError(models.ErrUnknown, id, fmt.Errorf("no %s channel", channel))
	}

	if err := a.prefs.SetChannel(id, channel); err != nil {
		return models.NewError(models.ErrIO, id, err)
	}

	status, err := a.installStatus(ctx, id, selected.VersionCode)
	if err != nil {
		return err
	}
	a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
		next := p.WithVariants(*selected, p.Variants)
		if p.Session.Active && inSession(p.Install.State) {
			return next
		}
		return next.WithInstallStatus(status)
	})
	logrus.WithFields(logrus.Fields{"package": id, "channel": channel}).Info("Channel changed")
	return nil
}

// Updatable lists the ids of packages with an update available
func (a *App) Updatable() []string {
	var ids []string
	for id, info := range a.store.Snapshot().Packages {
		if info.Install.State == models.StateUpdatable && !info.Stale {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MaybeAutoDownload queues a download of every updatable package unless a
// previous batch is still running. With auto update enabled the files are
// also handed to RequestInstall.
func (a *App) MaybeAutoDownload(ctx context.Context) {
	ids := a.Updatable()
	if len(ids) == 0 || !a.autoBatch.CompareAndSwap(false, true) {
		return
	}

	install := a.prefs.AutoUpdate()
	logrus.Infof("Auto downloading %d updates", len(ids))
	results := make([]<-chan DownloadResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, a.Download(id, install))
	}

	go func() {
		defer a.autoBatch.Store(false)
		for _, ch := range results {
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
		}
	}()
}

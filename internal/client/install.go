package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/device"
	"github.com/ralt/appstore/internal/models"
)

type pendingInstall struct {
	packageID string
	files     []string
}

// installQueue keeps one request per package in first-queued order. A
// newer request for a queued package replaces its files in place.
type installQueue struct {
	order []string
	files map[string][]string
}

func newInstallQueue() *installQueue {
	return &installQueue{files: map[string][]string{}}
}

func (q *installQueue) put(id string, files []string) {
	if _, ok := q.files[id]; !ok {
		q.order = append(q.order, id)
	}
	q.files[id] = files
}

func (q *installQueue) remove(id string) {
	if _, ok := q.files[id]; !ok {
		return
	}
	delete(q.files, id)
	for i, queued := range q.order {
		if queued == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *installQueue) drain() []pendingInstall {
	out := make([]pendingInstall, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, pendingInstall{packageID: id, files: q.files[id]})
	}
	q.order = nil
	q.files = map[string][]string{}
	return out
}

// PendingInstalls lists the package ids waiting for a foreground session
func (a *App) PendingInstalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.pending.order...)
}

// RequestInstall hands files to the installer right away when a
// foreground session is present and queues them otherwise
func (a *App) RequestInstall(ctx context.Context, id string, files []string) error {
	a.mu.Lock()
	if !a.foreground {
		a.pending.put(id, files)
		a.mu.Unlock()
		logrus.WithField("package", id).Info("Install queued until a foreground session is available")
		return nil
	}
	a.pending.remove(id)
	a.mu.Unlock()

	a.installMu.Lock()
	defer a.installMu.Unlock()
	_, err := a.startInstallLocked(ctx, id, files)
	return err
}

func (a *App) flushPendingInstalls(ctx context.Context) {
	a.mu.Lock()
	queued := a.pending.drain()
	a.mu.Unlock()

	if len(queued) > 0 {
		logrus.Infof("Flushing %d queued installs", len(queued))
	}
	for _, p := range queued {
		a.installMu.Lock()
		if _, err := a.startInstallLocked(ctx, p.packageID, p.files); err != nil {
			logrus.WithField("package", p.packageID).WithError(err).Warn("Queued install failed to start")
		}
		a.installMu.Unlock()
	}
}

// InstallBackground installs without a foreground session and blocks
// until the installer reports the session outcome
func (a *App) InstallBackground(ctx context.Context, id string, files []string) (device.SessionResult, error) {
	waiter := make(chan device.SessionResult, 1)

	a.installMu.Lock()
	sessionID, err := a.startInstallLocked(ctx, id, files)
	if err != nil {
		a.installMu.Unlock()
		return device.SessionResult{}, err
	}
	a.mu.Lock()
	a.waiters[sessionID] = waiter
	a.mu.Unlock()
	a.installMu.Unlock()

	select {
	case res := <-waiter:
		return res, nil
	case <-ctx.Done():
		a.mu.Lock()
		delete(a.waiters, sessionID)
		a.mu.Unlock()
		return device.SessionResult{}, ctx.Err()
	}
}

// startInstallLocked must be called with installMu held
func (a *App) startInstallLocked(ctx context.Context, id string, files []string) (int, error) {
	log := logrus.WithField("package", id)

	sessionID, err := a.device.Install(ctx, id, files)
	if err != nil {
		if models.TypeOf(err) == models.ErrUnknown {
			err = models.NewError(models.ErrInstaller, id, err)
		}
		log.WithError(err).Warn("Failed to start install session")
		reason := a.msgs.Describe(err)
		a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
			return p.WithInstallStatus(p.Install.Failed(reason, false))
		})
		return 0, err
	}

	a.mu.Lock()
	a.sessions[sessionID] = id
	// A running session supersedes any request still waiting for the foreground
	a.pending.remove(id)
	a.mu.Unlock()

	a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
		return p.
			WithSession(models.SessionInfo{ID: sessionID, Active: true}).
			WithInstallStatus(models.Installing(p.Install.InstalledVersion, p.Selected.VersionCode))
	})
	log.WithField("session", sessionID).Info("Install session started")
	return sessionID, nil
}

// handleSessionResult applies an installer outcome. It only moves a package
// out of Installing, so a package event that already settled the status
// wins.
func (a *App) handleSessionResult(res device.SessionResult) {
	a.installMu.Lock()
	defer a.installMu.Unlock()

	a.mu.Lock()
	id, known := a.sessions[res.SessionID]
	delete(a.sessions, res.SessionID)
	waiter := a.waiters[res.SessionID]
	delete(a.waiters, res.SessionID)
	a.mu.Unlock()

	if !known {
		logrus.WithField("session", res.SessionID).Debug("Ignoring result of unknown session")
		return
	}

	log := logrus.WithFields(logrus.Fields{"package": id, "session": res.SessionID})
	var reason string
	if !res.Success {
		err := sessionError(id, res)
		reason = a.msgs.Describe(err)
		log.WithError(err).Warn("Install session failed")
	} else {
		log.Info("Install session succeeded")
	}

	a.store.Update(id, func(p models.PackageInfo) models.PackageInfo {
		if p.Session.ID == res.SessionID {
			p = p.WithSession(models.SessionInfo{ID: res.SessionID})
		}
		if p.Install.State != models.StateInstalling {
			return p
		}
		switch {
		case !res.Success:
			return p.WithInstallStatus(p.Install.Failed(reason, res.UserDeclined))
		case p.Install.IsInstalled():
			return p.WithInstallStatus(models.Updated(p.Selected.VersionCode, p.Selected.VersionCode))
		default:
			return p.WithInstallStatus(models.Installed(p.Selected.VersionCode, p.Selected.VersionCode))
		}
	})

	if waiter != nil {
		waiter <- res
	}
}

func sessionError(id string, res device.SessionResult) error {
	msg := res.Message
	if msg == "" {
		msg = "installer reported failure"
	}
	if res.UserDeclined {
		return models.NewError(models.ErrInstaller, id, fmt.Errorf("%w: %s", models.ErrUserDeclined, msg))
	}
	return models.NewError(models.ErrInstaller, id, errors.New(msg))
}

// Package scheduler runs background update checks on a period, preferring
// moments when the client is idle.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/device"
	"github.com/ralt/appstore/internal/prefs"
)

// MaxBackoff caps the delay of a follow-up run after a failure
const MaxBackoff = 24 * time.Hour

// IdlePoll is how long a due run waits for the client to become idle
var IdlePoll = time.Minute

// Updater is the part of the client a background run drives
type Updater interface {
	Refresh(ctx context.Context, force bool) error
	Updatable() []string
	DownloadAndWait(ctx context.Context, id string) ([]string, error)
	InstallBackground(ctx context.Context, id string, files []string) (device.SessionResult, error)
	RequestInstall(ctx context.Context, id string, files []string) error
	Foreground() bool
	Busy() bool
}

// NetworkMonitor reports whether the current connection satisfies a
// network type constraint
type NetworkMonitor interface {
	Allows(t prefs.NetworkType) bool
}

// StaticNetwork is a NetworkMonitor for a connection with fixed properties.
// The zero value is an unmetered connection that is not roaming.
type StaticNetwork struct {
	Metered bool
	Roaming bool
	Offline bool
}

func (n StaticNetwork) Allows(t prefs.NetworkType) bool {
	if n.Offline {
		return false
	}
	switch t {
	case prefs.NetworkUnmetered:
		return !n.Metered
	case prefs.NetworkNotRoaming:
		return !n.Roaming
	default:
		return true
	}
}

// Backoff returns the delay of the non-idle follow-up run scheduled after a
// failed run
func Backoff(interval time.Duration) time.Duration {
	if next := 2 * interval; next < MaxBackoff {
		return next
	}
	return MaxBackoff
}

// Scheduler triggers background update runs
type Scheduler struct {
	updater Updater
	prefs   *prefs.Store
	network NetworkMonitor

	// OnResult receives every finished run
	OnResult func(Result)

	reconfigure chan struct{}
}

// New creates a Scheduler. A nil network allows every connection type.
func New(updater Updater, p *prefs.Store, network NetworkMonitor) *Scheduler {
	if network == nil {
		network = StaticNetwork{}
	}

	s := &Scheduler{
		updater:     updater,
		prefs:       p,
		network:     network,
		reconfigure: make(chan struct{}, 1),
	}
	p.OnChange(func(key string) {
		switch key {
		case prefs.KeyBackgroundUpdate, prefs.KeyNetworkType, prefs.KeyRescheduleInterval:
			select {
			case s.reconfigure <- struct{}{}:
			default:
			}
		}
	})
	return s
}

// Run schedules periodic runs until ctx is done. The job is cancelled while
// background updates are disabled and rescheduled whenever the interval,
// network type or enablement changes.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	stopTimer(timer)

	// idle tells whether the pending run should wait for an idle client;
	// follow-ups after a failure do not
	idle := true
	schedule := func(d time.Duration) {
		stopTimer(timer)
		if !s.prefs.BackgroundUpdate() {
			logrus.Info("Background updates disabled, job cancelled")
			return
		}
		logrus.WithField("in", d.String()).Debug("Background update scheduled")
		timer.Reset(d)
	}
	schedule(s.prefs.RescheduleInterval())

	for {
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil

		case <-s.reconfigure:
			idle = true
			schedule(s.prefs.RescheduleInterval())

		case <-timer.C:
			interval := s.prefs.RescheduleInterval()

			if !s.network.Allows(s.prefs.NetworkType()) {
				logrus.WithField("network_type", s.prefs.NetworkType()).Debug("Network constraint not met, postponing")
				schedule(IdlePoll)
				continue
			}
			if idle && s.updater.Busy() {
				logrus.Debug("Client busy, postponing background update")
				schedule(IdlePoll)
				continue
			}

			res := s.RunOnce(ctx)
			if s.OnResult != nil {
				s.OnResult(res)
			}

			if !res.NotApplicable && !res.ExecutedSuccessfully {
				idle = false
				schedule(Backoff(interval))
				continue
			}
			idle = true
			schedule(interval)
		}
	}
}

// RunOnce performs one background update: a forced refresh, then a
// download of every updatable package and, with auto install enabled, a
// background install. Without auto install the files are queued for
// confirmation in a foreground session.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	res := Result{RunID: uuid.NewString()}
	log := logrus.WithField("run_id", res.RunID)

	if s.updater.Foreground() {
		log.Info("Foreground session active, background update not applicable")
		res.NotApplicable = true
		return res
	}

	log.Info("Background update started")
	if err := s.updater.Refresh(ctx, true); err != nil {
		log.WithError(err).Warn("Background refresh failed")
		res.Err = err
		return res
	}

	autoInstall := s.prefs.AutoInstall()
	for _, id := range s.updater.Updatable() {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		plog := log.WithField("package", id)

		files, err := s.updater.DownloadAndWait(ctx, id)
		if err != nil {
			plog.WithError(err).Warn("Background download failed")
			res.Failed = append(res.Failed, id)
			continue
		}

		if !autoInstall {
			if err := s.updater.RequestInstall(ctx, id, files); err != nil {
				plog.WithError(err).Warn("Failed to queue install")
				res.Failed = append(res.Failed, id)
				continue
			}
			res.RequireConfirmation = append(res.RequireConfirmation, id)
			continue
		}

		session, err := s.updater.InstallBackground(ctx, id, files)
		switch {
		case err != nil:
			plog.WithError(err).Warn("Background install failed")
			res.Failed = append(res.Failed, id)
		case session.Success:
			res.Updated = append(res.Updated, id)
		case session.UserDeclined:
			if err := s.updater.RequestInstall(ctx, id, files); err != nil {
				plog.WithError(err).Warn("Failed to queue install")
			}
			res.RequireConfirmation = append(res.RequireConfirmation, id)
		default:
			plog.WithField("reason", session.Message).Warn("Background install rejected")
			res.Failed = append(res.Failed, id)
		}
	}

	res.ExecutedSuccessfully = len(res.Failed) == 0
	log.WithFields(logrus.Fields{
		"updated":              len(res.Updated),
		"failed":               len(res.Failed),
		"require_confirmation": len(res.RequireConfirmation),
	}).Info("Background update finished")
	return res
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/models"
)

// Runner executes one adb invocation and returns its combined output
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	path   string
	serial string
}

func (r *execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	if r.serial != "" {
		args = append([]string{"-s", r.serial}, args...)
	}
	logrus.Debugf("Running %s %s", r.path, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, r.path, args...)
	return cmd.CombinedOutput()
}

// ADB drives a device over the adb command line tool
type ADB struct {
	runner       Runner
	installer    string
	pollInterval time.Duration

	results chan SessionResult
	events  chan PackageEvent

	mu          sync.Mutex
	nextSession int
	sessions    sync.WaitGroup
}

// NewADB creates a backend using the configured adb binary and serial.
// Installs record the client package as their installer.
func NewADB(cfg *models.Config) *ADB {
	return NewADBWithRunner(&execRunner{path: cfg.ADBPath, serial: cfg.ADBSerial}, cfg.ClientPackage, cfg.EventPollInterval)
}

// NewADBWithRunner creates a backend around an arbitrary runner
func NewADBWithRunner(runner Runner, installer string, pollInterval time.Duration) *ADB {
	return &ADB{
		runner:       runner,
		installer:    installer,
		pollInterval: pollInterval,
		results:      make(chan SessionResult, 16),
		events:       make(chan PackageEvent, 64),
		nextSession:  1,
	}
}

func (a *ADB) Results() <-chan SessionResult {
	return a.results
}

func (a *ADB) Events() <-chan PackageEvent {
	return a.events
}

// List returns every package installed for the current user
func (a *ADB) List(ctx context.Context) (map[string]InstalledPackage, error) {
	out, err := a.runner.Run(ctx, "shell", "pm", "list", "packages", "--show-versioncode", "-i")
	if err != nil {
		return nil, models.NewError(models.ErrInstaller, "", fmt.Errorf("failed to list packages: %w: %s", err, strings.TrimSpace(string(out))))
	}
	return parsePackageList(out), nil
}

func (a *ADB) InstalledPackage(ctx context.Context, id string) (InstalledPackage, bool, error) {
	out, err := a.runner.Run(ctx, "shell", "pm", "list", "packages", "--show-versioncode", "-i", id)
	if err != nil {
		return InstalledPackage{}, false, models.NewError(models.ErrInstaller, id, fmt.Errorf("failed to query package: %w", err))
	}

	// pm filters by substring
	pkg, ok := parsePackageList(out)[id]
	return pkg, ok, nil
}

// Install starts an install-multiple session in the background. The
// session outlives ctx so that a cancelled caller still gets an outcome.
func (a *ADB) Install(ctx context.Context, packageID string, files []string) (int, error) {
	if len(files) == 0 {
		return 0, models.NewError(models.ErrInstaller, packageID, errors.New("no files to install"))
	}

	a.mu.Lock()
	session := a.nextSession
	a.nextSession++
	a.mu.Unlock()

	args := []string{"install-multiple", "-r"}
	if a.installer != "" {
		// Without an installer of record the package is not ours to update
		args = append(args, "-i", a.installer)
	}
	args = append(args, files...)
	sessionCtx := context.WithoutCancel(ctx)

	logrus.WithFields(logrus.Fields{
		"package": packageID,
		"session": session,
	}).Info("Starting install session")

	a.sessions.Add(1)
	go func() {
		defer a.sessions.Done()

		out, err := a.runner.Run(sessionCtx, args...)
		success, declined, message := parseInstallOutput(out, err)
		a.results <- SessionResult{
			SessionID:    session,
			PackageID:    packageID,
			Success:      success,
			UserDeclined: declined,
			Message:      message,
		}
	}()

	return session, nil
}

func (a *ADB) Uninstall(ctx context.Context, packageID string) error {
	out, err := a.runner.Run(ctx, "uninstall", packageID)
	if err == nil && strings.Contains(string(out), "Success") {
		return nil
	}

	reason := lastLine(string(out))
	if reason == "" && err != nil {
		reason = err.Error()
	}
	return models.NewError(models.ErrInstaller, packageID, fmt.Errorf("uninstall failed: %s", reason))
}

// Wait blocks until every started install session has reported
func (a *ADB) Wait() {
	a.sessions.Wait()
}

// Watch polls the package list and emits the differences as events until
// ctx is done. The first listing only establishes the baseline.
func (a *ADB) Watch(ctx context.Context) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	known, err := a.List(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		current, err := a.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logrus.Warnf("Package poll failed: %v", err)
			continue
		}

		for _, ev := range diffPackages(known, current) {
			logrus.WithFields(logrus.Fields{
				"package": ev.PackageID,
				"event":   ev.Kind,
			}).Debug("Package event")

			select {
			case a.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
		known = current
	}
}

// sortEvents orders events by package id, keeping each package's events in
// emission order
func sortEvents(events []PackageEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].PackageID < events[j].PackageID
	})
}

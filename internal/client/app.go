// Package client ties the pipelines, the state store and the device
// together: it applies refreshed catalogs, runs downloads on a serial
// worker, orchestrates installs and reconciles package events.
package client

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ralt/appstore/internal/device"
	"github.com/ralt/appstore/internal/download"
	"github.com/ralt/appstore/internal/messages"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/prefs"
	"github.com/ralt/appstore/internal/store"
)

// CatalogSource produces a verified catalog
type CatalogSource interface {
	Refresh(ctx context.Context) (*models.Catalog, error)
}

// PackageFetcher makes a variant's files available locally
type PackageFetcher interface {
	Fetch(ctx context.Context, v models.PackageVariant, progress download.ProgressFunc) ([]string, error)
	// Clean drops cached files of every other version of pkg
	Clean(pkg string, keep int64) error
}

// Options holds the collaborators of an App
type Options struct {
	Config   *models.Config
	Prefs    *prefs.Store
	Catalog  CatalogSource
	Packages PackageFetcher
	Device   device.Device
	Store    *store.Store
	Messages messages.Provider
}

// App is the client core. Create it with New and start its loops with Run.
type App struct {
	cfg      *models.Config
	prefs    *prefs.Store
	catalog  CatalogSource
	packages PackageFetcher
	device   device.Device
	store    *store.Store
	msgs     messages.Provider

	refresh singleflight.Group

	taskSeed atomic.Int64
	queue    *jobQueue

	autoBatch atomic.Bool

	// installMu orders session creation before its result is handled
	installMu sync.Mutex

	mu         sync.Mutex
	foreground bool
	pending    *installQueue
	sessions   map[int]string
	waiters    map[int]chan device.SessionResult
}

// New wires an App. Nil Store and Messages default to an empty store and
// the English catalogue.
func New(opts Options) *App {
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if opts.Messages == nil {
		opts.Messages = messages.English()
	}

	a := &App{
		cfg:      opts.Config,
		prefs:    opts.Prefs,
		catalog:  opts.Catalog,
		packages: opts.Packages,
		device:   opts.Device,
		store:    opts.Store,
		msgs:     opts.Messages,
		queue:    newJobQueue(),
		pending:  newInstallQueue(),
		sessions: map[int]string{},
		waiters:  map[int]chan device.SessionResult{},
	}
	a.taskSeed.Store(int64(rand.Intn(999) + 1))
	return a
}

// Store returns the state store observers subscribe to
func (a *App) Store() *store.Store {
	return a.store
}

// Messages returns the message provider
func (a *App) Messages() messages.Provider {
	return a.msgs
}

// Run drives the download worker, installer results and package events
// until ctx is done
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.downloadWorker(ctx)
	}()

	results := a.device.Results()
	events := a.device.Events()

	defer func() {
		a.queue.close()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("Client loop stopped")
			return nil
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			a.handleSessionResult(res)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.handleEvent(ev)
		}
	}
}

// SetForeground records whether an interactive session is present.
// Becoming foreground flushes installs that were waiting for it.
func (a *App) SetForeground(ctx context.Context, active bool) {
	a.mu.Lock()
	a.foreground = active
	a.mu.Unlock()

	if active {
		a.flushPendingInstalls(ctx)
	}
}

// Foreground reports whether an interactive session is present
func (a *App) Foreground() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.foreground
}

// Busy reports whether any package has unfinished background work
func (a *App) Busy() bool {
	return len(a.store.PendingTasks()) > 0
}

func (a *App) nextTaskID() int {
	return int(a.taskSeed.Add(1))
}

package cli

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ralt/appstore/internal/client"
	"github.com/ralt/appstore/internal/config"
	"github.com/ralt/appstore/internal/device"
	"github.com/ralt/appstore/internal/download"
	"github.com/ralt/appstore/internal/fetch"
	"github.com/ralt/appstore/internal/metadata"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/prefs"
	"github.com/ralt/appstore/internal/verifier"
)

type globalOptions struct {
	verbose      bool
	logFormat    string
	logFormatSet bool
	simulate     bool
	baseURL      string
	dataDir      string
	cacheDir     string
	serial       string
}

// applyLogging applies the configured log level and format. Command line
// flags win over the environment.
func (o *globalOptions) applyLogging(cfg *models.Config) {
	format := cfg.Logging.Format
	if o.logFormatSet {
		format = o.logFormat
	}
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if o.verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}

// runtime is the wired client shared by every command
type runtime struct {
	cfg   *models.Config
	prefs *prefs.Store
	app   *client.App
	adb   *device.ADB
}

func newRuntime(opts *globalOptions) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.cacheDir != "" {
		cfg.CacheDir = opts.cacheDir
	}
	if opts.serial != "" {
		cfg.ADBSerial = opts.serial
	}
	if err := config.Validate(cfg); err != nil {
		return nil, &models.AppError{Type: models.ErrInvalidConfig, Err: err}
	}
	opts.applyLogging(cfg)
	if err := config.EnsureDirectories(cfg); err != nil {
		return nil, err
	}
	logrus.Debugf("Configuration: %+v", cfg)

	store, err := prefs.Open(cfg.DataDir)
	if err != nil {
		return nil, models.NewError(models.ErrIO, "", err)
	}

	v, err := verifier.New(cfg.SignatureScheme)
	if err != nil {
		return nil, &models.AppError{Type: models.ErrInvalidConfig, Err: err}
	}

	rt := &runtime{cfg: cfg, prefs: store}

	var dev device.Device
	if opts.simulate {
		logrus.Warn("Using a simulated device")
		sim := device.NewSimulator(cfg.ClientPackage)
		sim.VersionOf = func(id string, _ []string) int64 {
			info, _ := rt.app.Store().Get(id)
			return info.Selected.VersionCode
		}
		dev = sim
	} else {
		rt.adb = device.NewADB(cfg)
		dev = rt.adb
	}

	f := fetch.New(cfg, store)
	rt.app = client.New(client.Options{
		Config:   cfg,
		Prefs:    store,
		Catalog:  metadata.NewPipeline(f, v, store, cfg.DataDir, cfg.FormatVersion),
		Packages: download.NewPipeline(f, cfg.CacheDir),
		Device:   dev,
	})
	return rt, nil
}

// start runs the client loops and, for a real device, the package event
// poller. The returned stop function cancels them and waits.
func (rt *runtime) start(ctx context.Context) (context.Context, func() error) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.app.Run(gctx)
	})
	if rt.adb != nil {
		g.Go(func() error {
			return rt.adb.Watch(gctx)
		})
	}

	return gctx, func() error {
		cancel()
		err := g.Wait()
		if rt.adb != nil {
			rt.adb.Wait()
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// refresh forces a catalog refresh and explains failures
func (rt *runtime) refresh(ctx context.Context, force bool) error {
	if err := rt.app.Refresh(ctx, force); err != nil {
		return errors.New(rt.app.Messages().Describe(err))
	}
	return nil
}

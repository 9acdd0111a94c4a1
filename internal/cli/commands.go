package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ralt/appstore/internal/client"
	"github.com/ralt/appstore/internal/messages"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/prefs"
	"github.com/ralt/appstore/internal/scheduler"
)

func newRefreshCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch and verify the repository catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			ctx, stop := rt.start(cmd.Context())
			if err := rt.refresh(ctx, true); err != nil {
				_ = stop()
				return err
			}
			logrus.Infof("Catalog refreshed, %d packages", len(rt.app.Store().Snapshot().Packages))
			return stop()
		},
	}
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var updatesOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages and their install status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			ctx, stop := rt.start(cmd.Context())
			if err := rt.refresh(ctx, false); err != nil {
				_ = stop()
				return err
			}

			msgs := rt.app.Messages()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tCHANNEL\tINSTALLED\tLATEST\tSTATUS")
			for _, info := range rt.app.Store().Snapshot().Sorted() {
				if updatesOnly && info.Install.State != models.StateUpdatable {
					continue
				}
				installed := "-"
				if info.Install.IsInstalled() {
					installed = strconv.FormatInt(info.Install.InstalledVersion, 10)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					info.ID, info.Selected.Channel, installed, info.Selected.VersionCode, msgs.StatusLabel(info.Install))
			}
			if err := w.Flush(); err != nil {
				_ = stop()
				return err
			}
			return stop()
		},
	}

	cmd.Flags().BoolVarP(&updatesOnly, "updates", "u", false, "Only list packages with an update available")
	return cmd
}

func newInstallCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install PACKAGE...",
		Short: "Install, update or reinstall packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			ctx, stop := rt.start(cmd.Context())
			if err := rt.refresh(ctx, false); err != nil {
				_ = stop()
				return err
			}
			rt.app.SetForeground(ctx, true)

			var failed int
			for _, id := range args {
				if err := rt.install(ctx, id); err != nil {
					logrus.WithField("package", id).Error(err)
					failed++
				}
			}
			if err := stop(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d packages failed", failed, len(args))
			}
			return nil
		},
	}
}

// install runs the primary action for an installable package, shows the
// download progress and waits for the session outcome
func (rt *runtime) install(ctx context.Context, id string) error {
	info, ok := rt.app.Store().Get(id)
	if ok && (info.Install.State == models.StateInstalled || info.Install.State == models.StateUpdated) {
		logrus.WithField("package", id).Info(rt.app.Messages().Get(messages.KeyAlreadyUpToDate))
		return nil
	}

	res, err := rt.app.HandleAction(ctx, id)
	if err != nil {
		return err
	}
	if res.Action != client.ActionDownload {
		return errors.New(res.Message)
	}

	dl, err := showProgress(ctx, rt.app.Store(), id, res.Download)
	if err != nil {
		return err
	}
	if dl.Err != nil {
		return errors.New(rt.app.Messages().Describe(dl.Err))
	}

	final, err := waitSettled(ctx, rt.app.Store(), id)
	if err != nil {
		return err
	}
	if final.Install.State == models.StateFailed {
		return errors.New(final.Install.Reason)
	}
	logrus.WithField("package", id).Info(rt.app.Messages().StatusLabel(final.Install))
	return nil
}

func newUninstallCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall PACKAGE...",
		Short: "Remove packages from the device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			ctx, stop := rt.start(cmd.Context())
			if err := rt.refresh(ctx, false); err != nil {
				_ = stop()
				return err
			}

			for _, id := range args {
				if err := rt.app.Uninstall(ctx, id); err != nil {
					_ = stop()
					return errors.New(rt.app.Messages().Describe(err))
				}
				logrus.WithField("package", id).Info("Uninstalled")
			}
			return stop()
		},
	}
}

func newUpdateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Run one background update of every updatable package",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			ctx, stop := rt.start(cmd.Context())

			res := scheduler.New(rt.app, rt.prefs, nil).RunOnce(ctx)
			title, body := res.Render(rt.app.Messages())
			fmt.Fprintln(cmd.OutOrStdout(), title)
			if body != "" {
				fmt.Fprintln(cmd.OutOrStdout(), body)
			}

			if err := stop(); err != nil {
				return err
			}
			if res.Err != nil {
				return res.Err
			}
			return nil
		},
	}
}

func newChannelCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "channel PACKAGE CHANNEL",
		Short: "Select the release channel of a package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			ctx, stop := rt.start(cmd.Context())
			if err := rt.refresh(ctx, false); err != nil {
				_ = stop()
				return err
			}
			if err := rt.app.SetChannel(ctx, args[0], args[1]); err != nil {
				_ = stop()
				return errors.New(rt.app.Messages().Describe(err))
			}

			info, _ := rt.app.Store().Get(args[0])
			logrus.Infof("%s now follows %s (version %d): %s",
				args[0], args[1], info.Selected.VersionCode, rt.app.Messages().StatusLabel(info.Install))
			return stop()
		},
	}
}

func newPrefsCmd(opts *globalOptions) *cobra.Command {
	var (
		autoDownload     bool
		autoUpdate       bool
		autoInstall      bool
		backgroundUpdate bool
		networkType      string
		interval         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change update preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			p := rt.prefs
			flags := cmd.Flags()

			var setErr error
			set := func(name string, fn func() error) {
				if setErr == nil && flags.Changed(name) {
					setErr = fn()
				}
			}
			set("auto-download", func() error { return p.SetAutoDownload(autoDownload) })
			set("auto-update", func() error { return p.SetAutoUpdate(autoUpdate) })
			set("auto-install", func() error { return p.SetAutoInstall(autoInstall) })
			set("background-update", func() error { return p.SetBackgroundUpdate(backgroundUpdate) })
			set("network-type", func() error {
				switch t := prefs.NetworkType(networkType); t {
				case prefs.NetworkAny, prefs.NetworkUnmetered, prefs.NetworkNotRoaming:
					return p.SetNetworkType(t)
				default:
					return &models.AppError{Type: models.ErrInvalidConfig, Err: fmt.Errorf("unknown network type %q", networkType)}
				}
			})
			set("interval", func() error { return p.SetRescheduleInterval(interval) })
			if setErr != nil {
				return setErr
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "auto-download\t%t\n", p.AutoDownload())
			fmt.Fprintf(w, "auto-update\t%t\n", p.AutoUpdate())
			fmt.Fprintf(w, "auto-install\t%t\n", p.AutoInstall())
			fmt.Fprintf(w, "background-update\t%t\n", p.BackgroundUpdate())
			fmt.Fprintf(w, "network-type\t%s\n", p.NetworkType())
			fmt.Fprintf(w, "interval\t%s\n", p.RescheduleInterval())
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&autoDownload, "auto-download", false, "Download updates after every refresh")
	cmd.Flags().BoolVar(&autoUpdate, "auto-update", false, "Install updates automatically")
	cmd.Flags().BoolVar(&autoInstall, "auto-install", true, "Install background downloads without confirmation")
	cmd.Flags().BoolVar(&backgroundUpdate, "background-update", true, "Check for updates periodically")
	cmd.Flags().StringVar(&networkType, "network-type", "any", "Network required for background updates (any, unmetered, not_roaming)")
	cmd.Flags().DurationVar(&interval, "interval", prefs.DefaultRescheduleInterval, "Background update interval")
	return cmd
}

package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ralt/appstore/internal/scheduler"
	"github.com/ralt/appstore/internal/stream"
)

func newDaemonCmd(opts *globalOptions) *cobra.Command {
	var (
		listen     string
		metered    bool
		roaming    bool
		foreground bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run background updates and serve the package feed",
		Long: `Runs the client until interrupted: package events are reconciled,
background updates run on the configured interval and, when a listen
address is set, connected UIs receive package state over a websocket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				rt.cfg.ListenAddr = listen
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			ctx, stop := rt.start(ctx)
			if foreground {
				rt.app.SetForeground(ctx, true)
			}

			sched := scheduler.New(rt.app, rt.prefs, scheduler.StaticNetwork{Metered: metered, Roaming: roaming})
			sched.OnResult = func(res scheduler.Result) {
				title, body := res.Render(rt.app.Messages())
				logrus.WithField("run_id", res.RunID).Infof("%s: %s", title, body)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := rt.app.Refresh(gctx, false); err != nil {
					logrus.Warnf("Initial refresh failed: %s", rt.app.Messages().Describe(err))
				}
				return nil
			})
			g.Go(func() error {
				return sched.Run(gctx)
			})
			if rt.cfg.ListenAddr != "" {
				g.Go(func() error {
					return stream.New(rt.app).ListenAndServe(gctx, rt.cfg.ListenAddr)
				})
			}
			g.Go(func() error {
				keepAlive(gctx.Done(), rt.app.Busy)
				return nil
			})

			logrus.Info("Daemon started")
			err = g.Wait()
			if stopErr := stop(); err == nil {
				err = stopErr
			}
			logrus.Info("Daemon stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address of the websocket package feed (overrides APPSTORE_LISTEN_ADDR)")
	cmd.Flags().BoolVar(&metered, "metered", false, "Treat the connection as metered")
	cmd.Flags().BoolVar(&roaming, "roaming", false, "Treat the connection as roaming")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Install immediately instead of waiting for a UI")
	return cmd
}

// keepAlive logs while background work is pending, the way a foreground
// service notification would show it
func keepAlive(done <-chan struct{}, busy func() bool) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if busy() {
				logrus.Info("Background work in progress")
			}
		}
	}
}

package cli

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ralt/appstore/internal/stream"
)

func newWatchCmd() *cobra.Command {
	var (
		addr   string
		active bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow package state from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
			ws, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u.String(), nil)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", u.String(), err)
			}
			defer ws.Close()

			go func() {
				<-cmd.Context().Done()
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			}()

			if active {
				if err := ws.WriteJSON(stream.InMsg{Type: stream.TypeForeground, Active: true}); err != nil {
					return err
				}
			}

			bars := map[string]*progressbar.ProgressBar{}
			for {
				var msg stream.OutMsg
				if err := ws.ReadJSON(&msg); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					return err
				}

				switch msg.Type {
				case stream.TypeSnapshot:
					renderBars(bars, msg.Packages)
				case stream.TypeMessage, stream.TypeError:
					logrus.WithField("package", msg.Package).Info(msg.Message)
				}
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "Address of the daemon's package feed")
	cmd.Flags().BoolVar(&active, "foreground", true, "Announce this terminal as the foreground session")
	return cmd
}

// renderBars keeps one bar per running download task
func renderBars(bars map[string]*progressbar.ProgressBar, packages []stream.PackageView) {
	running := map[string]bool{}
	for _, p := range packages {
		if p.Task == nil {
			continue
		}
		running[p.ID] = true

		bar, ok := bars[p.ID]
		if !ok {
			bar = newBar("    " + p.ID)
			bars[p.ID] = bar
		}
		_ = bar.Set(p.Task.Progress)
	}

	for id, bar := range bars {
		if !running[id] {
			_ = bar.Finish()
			delete(bars, id)
		}
	}
}

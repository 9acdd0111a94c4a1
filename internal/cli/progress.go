package cli

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"

	"github.com/ralt/appstore/internal/client"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/store"
)

func newBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

// showProgress renders the download task of id until done yields the
// download's result
func showProgress(ctx context.Context, st *store.Store, id string, done <-chan client.DownloadResult) (client.DownloadResult, error) {
	feed := st.Subscribe()
	snapshots := make(chan store.Snapshot)
	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			snap, err := feed.Wait(feedCtx)
			if err != nil {
				return
			}
			select {
			case snapshots <- snap:
			case <-feedCtx.Done():
				return
			}
		}
	}()

	bar := newBar("    " + id)
	for {
		select {
		case res := <-done:
			if res.Err == nil {
				_ = bar.Finish()
			} else {
				_ = bar.Clear()
			}
			return res, nil
		case snap := <-snapshots:
			info := snap.Packages[id]
			if d := info.Download; d != nil && d.State == models.DownloadActive {
				_ = bar.Set(int(d.Percent))
			}
		case <-ctx.Done():
			return client.DownloadResult{}, ctx.Err()
		}
	}
}

// waitSettled waits until id has no running install session
func waitSettled(ctx context.Context, st *store.Store, id string) (models.PackageInfo, error) {
	feed := st.Subscribe()
	for {
		info, _ := st.Get(id)
		if !info.Session.Active && info.Install.State != models.StateInstalling {
			return info, nil
		}
		if _, err := feed.Wait(ctx); err != nil {
			return info, err
		}
	}
}

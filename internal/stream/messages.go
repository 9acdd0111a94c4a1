package stream

import (
	"github.com/ralt/appstore/internal/messages"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/store"
)

// Message types
const (
	TypeSnapshot   = "snapshot"
	TypeMessage    = "message"
	TypeError      = "error"
	TypeAction     = "action"
	TypeForeground = "foreground"
)

// OutMsg is sent to connected UIs
type OutMsg struct {
	Type     string        `json:"type"`
	Packages []PackageView `json:"packages,omitempty"`
	Package  string        `json:"package,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// InMsg is received from connected UIs
type InMsg struct {
	Type    string `json:"type"`
	Package string `json:"package,omitempty"`
	Active  bool   `json:"active,omitempty"`
}

// PackageView is the rendered state of one package
type PackageView struct {
	ID               string        `json:"id"`
	Channel          string        `json:"channel"`
	VersionCode      int64         `json:"versionCode"`
	State            string        `json:"state"`
	Label            string        `json:"label"`
	InstalledVersion int64         `json:"installedVersion"`
	Reason           string        `json:"reason,omitempty"`
	Download         *DownloadView `json:"download,omitempty"`
	Task             *TaskView     `json:"task,omitempty"`
	Stale            bool          `json:"stale,omitempty"`
}

type DownloadView struct {
	Failed     bool    `json:"failed,omitempty"`
	BytesRead  int64   `json:"bytesRead"`
	TotalBytes int64   `json:"totalBytes"`
	Percent    float64 `json:"percent"`
	Complete   bool    `json:"complete,omitempty"`
	Message    string  `json:"message,omitempty"`
}

type TaskView struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Progress int    `json:"progress"`
}

// Render converts a store snapshot into its wire form, sorted by id
func Render(snap store.Snapshot, msgs messages.Provider) OutMsg {
	out := OutMsg{Type: TypeSnapshot, Packages: []PackageView{}}
	for _, info := range snap.Sorted() {
		out.Packages = append(out.Packages, renderPackage(info, msgs))
	}
	return out
}

func renderPackage(info models.PackageInfo, msgs messages.Provider) PackageView {
	v := PackageView{
		ID:               info.ID,
		Channel:          info.Selected.Channel,
		VersionCode:      info.Selected.VersionCode,
		State:            info.Install.State.String(),
		Label:            msgs.StatusLabel(info.Install),
		InstalledVersion: info.Install.InstalledVersion,
		Reason:           info.Install.Reason,
		Stale:            info.Stale,
	}
	if d := info.Download; d != nil {
		v.Download = &DownloadView{
			Failed:     d.State == models.DownloadFailed,
			BytesRead:  d.BytesRead,
			TotalBytes: d.TotalBytes,
			Percent:    d.Percent,
			Complete:   d.Complete,
			Message:    d.Message,
		}
	}
	if !info.Task.Done() {
		v.Task = &TaskView{ID: info.Task.ID, Title: info.Task.Title, Progress: info.Task.Progress}
	}
	return v
}

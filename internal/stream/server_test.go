package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/appstore/internal/client"
	"github.com/ralt/appstore/internal/messages"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/store"
)

type fakeBackend struct {
	store *store.Store

	mu         sync.Mutex
	foreground []bool
	actions    []string
}

func (f *fakeBackend) Store() *store.Store         { return f.store }
func (f *fakeBackend) Messages() messages.Provider { return messages.English() }

func (f *fakeBackend) HandleAction(ctx context.Context, id string) (client.ActionResult, error) {
	f.mu.Lock()
	f.actions = append(f.actions, id)
	f.mu.Unlock()
	if id == "com.missing" {
		return client.ActionResult{}, models.NewError(models.ErrUnknown, id, models.ErrUnknownPackage)
	}
	return client.ActionResult{Action: client.ActionDownload, Message: "Processing"}, nil
}

func (f *fakeBackend) SetForeground(ctx context.Context, active bool) {
	f.mu.Lock()
	f.foreground = append(f.foreground, active)
	f.mu.Unlock()
}

func (f *fakeBackend) foregroundCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.foreground...)
}

func samplePackage(id string, state models.InstallStatus) models.PackageInfo {
	v := models.PackageVariant{PackageID: id, Channel: "stable", VersionCode: 5}
	return models.NewPackageInfo(v, []models.PackageVariant{v}, state)
}

func dial(t *testing.T, backend *fakeBackend) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(New(backend).Handler(ctx))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func TestRender(t *testing.T) {
	st := store.New()
	st.Put(samplePackage("b.app", models.Installable(5)))
	st.Put(samplePackage("a.app", models.Installed(5, 5)).
		WithDownloadStatus(&models.DownloadStatus{State: models.DownloadFailed, Message: "boom"}).
		WithTask(models.TaskInfo{ID: 7, Title: "Downloading a.app ...", Progress: 40}))

	out := Render(st.Snapshot(), messages.English())
	require.Len(t, out.Packages, 2)
	assert.Equal(t, TypeSnapshot, out.Type)

	a := out.Packages[0]
	assert.Equal(t, "a.app", a.ID)
	assert.Equal(t, "installed", a.State)
	assert.Equal(t, "Installed", a.Label)
	require.NotNil(t, a.Download)
	assert.True(t, a.Download.Failed)
	require.NotNil(t, a.Task)
	assert.Equal(t, 40, a.Task.Progress)

	b := out.Packages[1]
	assert.Equal(t, models.NotInstalled, b.InstalledVersion)
	assert.Nil(t, b.Download)
	assert.Nil(t, b.Task)
}

func TestFeedPushesSnapshots(t *testing.T) {
	backend := &fakeBackend{store: store.New()}
	ws := dial(t, backend)

	var first OutMsg
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, TypeSnapshot, first.Type)
	assert.Empty(t, first.Packages)

	backend.store.Put(samplePackage("a.app", models.Installable(5)))

	require.Eventually(t, func() bool {
		var msg OutMsg
		if err := ws.ReadJSON(&msg); err != nil {
			return false
		}
		return msg.Type == TypeSnapshot && len(msg.Packages) == 1
	}, 5*time.Second, time.Millisecond)
}

func TestFeedHandlesActions(t *testing.T) {
	backend := &fakeBackend{store: store.New()}
	ws := dial(t, backend)

	var snap OutMsg
	require.NoError(t, ws.ReadJSON(&snap))

	require.NoError(t, ws.WriteJSON(InMsg{Type: TypeAction, Package: "a.app"}))
	var reply OutMsg
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, OutMsg{Type: TypeMessage, Package: "a.app", Message: "Processing"}, reply)

	require.NoError(t, ws.WriteJSON(InMsg{Type: TypeAction, Package: "com.missing"}))
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, TypeError, reply.Type)
	assert.Contains(t, reply.Message, "Something went wrong")
}

func TestFeedForeground(t *testing.T) {
	backend := &fakeBackend{store: store.New()}
	ws := dial(t, backend)

	var snap OutMsg
	require.NoError(t, ws.ReadJSON(&snap))

	require.NoError(t, ws.WriteJSON(InMsg{Type: TypeForeground, Active: true}))
	require.NoError(t, ws.WriteJSON(InMsg{Type: TypeForeground, Active: true}))
	require.Eventually(t, func() bool { return len(backend.foregroundCalls()) == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return len(backend.foregroundCalls()) == 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []bool{true, false}, backend.foregroundCalls())
}

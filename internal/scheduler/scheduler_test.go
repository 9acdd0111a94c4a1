package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/appstore/internal/device"
	"github.com/ralt/appstore/internal/messages"
	"github.com/ralt/appstore/internal/models"
	"github.com/ralt/appstore/internal/prefs"
)

type fakeUpdater struct {
	mu sync.Mutex

	foreground bool
	busy       bool
	refreshErr error
	updatable  []string
	downloads  map[string]error
	sessions   map[string]device.SessionResult

	refreshes int
	requested []string
}

func (f *fakeUpdater) Refresh(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeUpdater) Updatable() []string {
	return f.updatable
}

func (f *fakeUpdater) DownloadAndWait(ctx context.Context, id string) ([]string, error) {
	if err := f.downloads[id]; err != nil {
		return nil, err
	}
	return []string{"/cache/" + id + ".apk"}, nil
}

func (f *fakeUpdater) InstallBackground(ctx context.Context, id string, files []string) (device.SessionResult, error) {
	res, ok := f.sessions[id]
	if !ok {
		return device.SessionResult{}, errors.New("installer unavailable")
	}
	return res, nil
}

func (f *fakeUpdater) RequestInstall(ctx context.Context, id string, files []string) error {
	f.mu.Lock()
	f.requested = append(f.requested, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeUpdater) Foreground() bool { return f.foreground }

func (f *fakeUpdater) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeUpdater) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func openPrefs(t *testing.T) *prefs.Store {
	t.Helper()
	p, err := prefs.Open(t.TempDir())
	require.NoError(t, err)
	return p
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     time.Duration
	}{
		{time.Hour, 2 * time.Hour},
		{6 * time.Hour, 12 * time.Hour},
		{12 * time.Hour, 24 * time.Hour},
		{20 * time.Hour, 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.interval), "interval %s", tt.interval)
	}
}

func TestRunOnceDeclinesInForeground(t *testing.T) {
	u := &fakeUpdater{foreground: true}
	s := New(u, openPrefs(t), nil)

	res := s.RunOnce(context.Background())
	assert.True(t, res.NotApplicable)
	assert.Zero(t, u.refreshCount())
}

func TestRunOnceRefreshFailure(t *testing.T) {
	u := &fakeUpdater{refreshErr: models.NewError(models.ErrNetworkUnavailable, "", errors.New("dial tcp: connection refused"))}
	s := New(u, openPrefs(t), nil)

	res := s.RunOnce(context.Background())
	assert.False(t, res.ExecutedSuccessfully)
	assert.NotEmpty(t, res.RunID)

	msgs := messages.English()
	title, body := res.Render(msgs)
	assert.Equal(t, msgs.Get(messages.KeyUpdateCheckFailed), title)
	assert.Contains(t, body, "connection refused")
}

func TestRunOnceAggregatesOutcomes(t *testing.T) {
	u := &fakeUpdater{
		updatable: []string{"a", "b", "c", "d", "e"},
		downloads: map[string]error{"a": errors.New("hash did not match")},
		sessions: map[string]device.SessionResult{
			"b": {Success: true},
			"c": {UserDeclined: true},
			"d": {Message: "INSTALL_FAILED_VERSION_DOWNGRADE"},
		},
	}
	s := New(u, openPrefs(t), nil)

	res := s.RunOnce(context.Background())
	assert.Equal(t, []string{"b"}, res.Updated)
	assert.Equal(t, []string{"a", "d", "e"}, res.Failed)
	assert.Equal(t, []string{"c"}, res.RequireConfirmation)
	assert.Equal(t, []string{"c"}, u.requested)
	assert.False(t, res.ExecutedSuccessfully)

	title, body := res.Render(messages.English())
	assert.Equal(t, "Update result", title)
	assert.Equal(t, "b has been successfully updated, a, d, e has failed to update, c: update available.", body)
}

func TestRunOnceWithoutAutoInstall(t *testing.T) {
	p := openPrefs(t)
	require.NoError(t, p.SetAutoInstall(false))
	u := &fakeUpdater{updatable: []string{"a", "b"}}
	s := New(u, p, nil)

	res := s.RunOnce(context.Background())
	assert.True(t, res.ExecutedSuccessfully)
	assert.Equal(t, []string{"a", "b"}, res.RequireConfirmation)
	assert.Equal(t, []string{"a", "b"}, u.requested)
	assert.Empty(t, res.Updated)
}

func TestRenderUpToDate(t *testing.T) {
	msgs := messages.English()
	title, body := Result{ExecutedSuccessfully: true}.Render(msgs)
	assert.Equal(t, msgs.Get(messages.KeyAlreadyUpToDate), title)
	assert.Empty(t, body)
}

func TestStaticNetwork(t *testing.T) {
	tests := []struct {
		name    string
		network StaticNetwork
		want    map[prefs.NetworkType]bool
	}{
		{"wired", StaticNetwork{}, map[prefs.NetworkType]bool{prefs.NetworkAny: true, prefs.NetworkUnmetered: true, prefs.NetworkNotRoaming: true}},
		{"metered", StaticNetwork{Metered: true}, map[prefs.NetworkType]bool{prefs.NetworkAny: true, prefs.NetworkUnmetered: false, prefs.NetworkNotRoaming: true}},
		{"roaming", StaticNetwork{Metered: true, Roaming: true}, map[prefs.NetworkType]bool{prefs.NetworkAny: true, prefs.NetworkUnmetered: false, prefs.NetworkNotRoaming: false}},
		{"offline", StaticNetwork{Offline: true}, map[prefs.NetworkType]bool{prefs.NetworkAny: false, prefs.NetworkUnmetered: false, prefs.NetworkNotRoaming: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for nt, want := range tt.want {
				assert.Equal(t, want, tt.network.Allows(nt), "network type %s", nt)
			}
		})
	}
}

func runScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRunPeriodic(t *testing.T) {
	p := openPrefs(t)
	require.NoError(t, p.SetRescheduleInterval(10*time.Millisecond))
	u := &fakeUpdater{}
	s := New(u, p, nil)

	var mu sync.Mutex
	var results []Result
	s.OnResult = func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}
	runScheduler(t, s)

	require.Eventually(t, func() bool { return u.refreshCount() >= 3 }, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, results[0].ExecutedSuccessfully)
}

func TestRunDisabledUntilReenabled(t *testing.T) {
	p := openPrefs(t)
	require.NoError(t, p.SetRescheduleInterval(10*time.Millisecond))
	require.NoError(t, p.SetBackgroundUpdate(false))
	u := &fakeUpdater{}
	runScheduler(t, New(u, p, nil))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, u.refreshCount())

	require.NoError(t, p.SetBackgroundUpdate(true))
	require.Eventually(t, func() bool { return u.refreshCount() > 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestRunPostponesWhileBusy(t *testing.T) {
	old := IdlePoll
	IdlePoll = 5 * time.Millisecond
	t.Cleanup(func() { IdlePoll = old })

	p := openPrefs(t)
	require.NoError(t, p.SetRescheduleInterval(10*time.Millisecond))
	u := &fakeUpdater{busy: true}
	runScheduler(t, New(u, p, nil))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, u.refreshCount())

	u.mu.Lock()
	u.busy = false
	u.mu.Unlock()
	require.Eventually(t, func() bool { return u.refreshCount() > 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestRunRespectsNetworkConstraint(t *testing.T) {
	old := IdlePoll
	IdlePoll = 5 * time.Millisecond
	t.Cleanup(func() { IdlePoll = old })

	p := openPrefs(t)
	require.NoError(t, p.SetRescheduleInterval(10*time.Millisecond))
	require.NoError(t, p.SetNetworkType(prefs.NetworkUnmetered))
	u := &fakeUpdater{}
	runScheduler(t, New(u, p, StaticNetwork{Metered: true}))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, u.refreshCount())

	require.NoError(t, p.SetNetworkType(prefs.NetworkAny))
	require.Eventually(t, func() bool { return u.refreshCount() > 0 }, 5*time.Second, 5*time.Millisecond)
}

package models

// InstallState enumerates the install status variants of a package
type InstallState int

const (
	StateInstallable InstallState = iota
	StateInstalled
	StateInstalling
	StateUninstalling
	StateUpdatable
	StateUpdated
	StateReinstallRequired
	StateFailed
)

// String returns the string representation of InstallState
func (s InstallState) String() string {
	switch s {
	case StateInstallable:
		return "installable"
	case StateInstalled:
		return "installed"
	case StateInstalling:
		return "installing"
	case StateUninstalling:
		return "uninstalling"
	case StateUpdatable:
		return "updatable"
	case StateUpdated:
		return "updated"
	case StateReinstallRequired:
		return "reinstall-required"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NotInstalled is the installed version code reported for absent packages
const NotInstalled int64 = -1

// InstallStatus is derived from the catalog version, the device's installed
// version and the installer of record. It is never persisted.
type InstallStatus struct {
	State            InstallState
	InstalledVersion int64
	LatestVersion    int64

	// Failed only
	Reason   string
	Declined bool
}

func Installable(latest int64) InstallStatus {
	return InstallStatus{State: StateInstallable, InstalledVersion: NotInstalled, LatestVersion: latest}
}

func Installed(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateInstalled, InstalledVersion: installed, LatestVersion: latest}
}

func Installing(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateInstalling, InstalledVersion: installed, LatestVersion: latest}
}

func Uninstalling(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateUninstalling, InstalledVersion: installed, LatestVersion: latest}
}

func Updatable(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateUpdatable, InstalledVersion: installed, LatestVersion: latest}
}

func Updated(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateUpdated, InstalledVersion: installed, LatestVersion: latest}
}

func ReinstallRequired(installed, latest int64) InstallStatus {
	return InstallStatus{State: StateReinstallRequired, InstalledVersion: installed, LatestVersion: latest}
}

// Failed keeps the versions of the status it replaces
func (s InstallStatus) Failed(reason string, declined bool) InstallStatus {
	return InstallStatus{
		State:            StateFailed,
		InstalledVersion: s.InstalledVersion,
		LatestVersion:    s.LatestVersion,
		Reason:           reason,
		Declined:         declined,
	}
}

// IsInstalled reports whether the device holds some version of the package
func (s InstallStatus) IsInstalled() bool {
	return s.InstalledVersion != NotInstalled
}

// DownloadState distinguishes an active download from a failed one
type DownloadState int

const (
	DownloadActive DownloadState = iota
	DownloadFailed
)

// DownloadStatus is the transient progress record of the active download.
// A nil *DownloadStatus on PackageInfo means no download is running.
type DownloadStatus struct {
	State      DownloadState
	BytesRead  int64
	TotalBytes int64
	Percent    float64
	Complete   bool
	Message    string
}

// TaskFinished marks a TaskInfo whose work is complete
const TaskFinished = 1000

// TaskInfo identifies one unit of background work
type TaskInfo struct {
	ID       int
	Title    string
	Progress int
}

// Done reports whether the task carries the finished sentinel
func (t TaskInfo) Done() bool {
	return t.Progress == TaskFinished
}

// IdleTask is the task value of a package with no background work
var IdleTask = TaskInfo{ID: -1, Progress: TaskFinished}

// SessionInfo ties a package to its installer session
type SessionInfo struct {
	ID     int
	Active bool
}

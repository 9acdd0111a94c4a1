// Package device describes the operating system collaborators the client
// drives: the package installer and the installed-package database.
package device

import "context"

// InstalledPackage is what the device reports about one installed app.
// Installer is the installer of record, empty when unknown.
type InstalledPackage struct {
	ID          string
	VersionCode int64
	Installer   string
}

// SessionResult is the outcome of one install session
type SessionResult struct {
	SessionID    int
	PackageID    string
	Success      bool
	UserDeclined bool
	Message      string
}

// EventKind is the kind of package broadcast the device emits
type EventKind int

const (
	EventAdded EventKind = iota
	EventReplaced
	EventRemoved
	EventFullyRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventReplaced:
		return "replaced"
	case EventRemoved:
		return "removed"
	case EventFullyRemoved:
		return "fully-removed"
	default:
		return "unknown"
	}
}

// PackageEvent reports a change to the installed package set. VersionCode
// is the version installed when the event was observed, -1 after removal.
type PackageEvent struct {
	PackageID   string
	Kind        EventKind
	VersionCode int64
}

// Installer hands verified files to the OS. Install returns as soon as the
// session is created; its outcome arrives on Results.
type Installer interface {
	Install(ctx context.Context, packageID string, files []string) (sessionID int, err error)
	Uninstall(ctx context.Context, packageID string) error
	Results() <-chan SessionResult
}

// PackageSource answers installed-package queries
type PackageSource interface {
	InstalledPackage(ctx context.Context, id string) (InstalledPackage, bool, error)
}

// EventSource delivers package broadcasts
type EventSource interface {
	Events() <-chan PackageEvent
}

// Device is a backend providing every collaborator
type Device interface {
	Installer
	PackageSource
	EventSource
}

package device

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/models"
)

// Decision is how the simulated OS answers an install session
type Decision int

const (
	Accept Decision = iota
	Decline
	Reject
	// Hold leaves the session open until Complete is called
	Hold
)

// Simulator is an in-memory device. Installs resolve according to Decide
// and, when accepted, update the installed set and emit the matching
// package event like a real device would.
type Simulator struct {
	// Installer is recorded as installer of record for accepted installs
	Installer string
	// Decide picks the outcome of each session; nil accepts everything
	Decide func(packageID string) Decision
	// VersionOf reports the version code an accepted install provides
	VersionOf func(packageID string, files []string) int64

	mu          sync.Mutex
	installed   map[string]InstalledPackage
	sessions    map[int]pendingSession
	nextSession int
	installs    []InstallCall
	uninstalls  []string

	results chan SessionResult
	events  chan PackageEvent
}

// InstallCall records one Install invocation
type InstallCall struct {
	SessionID int
	PackageID string
	Files     []string
}

type pendingSession struct {
	packageID string
	files     []string
}

// NewSimulator creates an empty device whose accepted installs are
// attributed to installer
func NewSimulator(installer string) *Simulator {
	return &Simulator{
		Installer:   installer,
		installed:   map[string]InstalledPackage{},
		sessions:    map[int]pendingSession{},
		nextSession: 1,
		results:     make(chan SessionResult, 64),
		events:      make(chan PackageEvent, 64),
	}
}

func (s *Simulator) Results() <-chan SessionResult {
	return s.results
}

func (s *Simulator) Events() <-chan PackageEvent {
	return s.events
}

// SetInstalled places a package on the device without emitting an event
func (s *Simulator) SetInstalled(pkg InstalledPackage) {
	s.mu.Lock()
	s.installed[pkg.ID] = pkg
	s.mu.Unlock()
}

// Remove deletes a package and emits the removal events
func (s *Simulator) Remove(id string) {
	s.mu.Lock()
	delete(s.installed, id)
	s.mu.Unlock()

	s.events <- PackageEvent{PackageID: id, Kind: EventRemoved, VersionCode: -1}
	s.events <- PackageEvent{PackageID: id, Kind: EventFullyRemoved, VersionCode: -1}
}

// Emit delivers an arbitrary package event
func (s *Simulator) Emit(ev PackageEvent) {
	s.events <- ev
}

func (s *Simulator) InstalledPackage(_ context.Context, id string) (InstalledPackage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg, ok := s.installed[id]
	return pkg, ok, nil
}

// Installs returns every recorded Install call
func (s *Simulator) Installs() []InstallCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InstallCall(nil), s.installs...)
}

// Uninstalls returns every package id Uninstall was called with
func (s *Simulator) Uninstalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uninstalls...)
}

func (s *Simulator) Install(_ context.Context, packageID string, files []string) (int, error) {
	if len(files) == 0 {
		return 0, models.NewError(models.ErrInstaller, packageID, errors.New("no files to install"))
	}

	s.mu.Lock()
	id := s.nextSession
	s.nextSession++
	s.installs = append(s.installs, InstallCall{SessionID: id, PackageID: packageID, Files: files})
	s.sessions[id] = pendingSession{packageID: packageID, files: files}
	decide := s.Decide
	s.mu.Unlock()

	decision := Accept
	if decide != nil {
		decision = decide(packageID)
	}
	if decision != Hold {
		s.Complete(id, decision)
	}

	logrus.WithFields(logrus.Fields{"package": packageID, "session": id}).Debug("Simulated install session")
	return id, nil
}

// Complete resolves an open session
func (s *Simulator) Complete(sessionID int, decision Decision) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	switch decision {
	case Decline:
		s.results <- SessionResult{SessionID: sessionID, PackageID: session.packageID, UserDeclined: true, Message: "INSTALL_FAILED_ABORTED: User rejected permissions"}
		return
	case Reject:
		s.results <- SessionResult{SessionID: sessionID, PackageID: session.packageID, Message: "INSTALL_FAILED_VERSION_DOWNGRADE"}
		return
	}

	version := int64(1)
	if s.VersionOf != nil {
		version = s.VersionOf(session.packageID, session.files)
	}

	s.mu.Lock()
	_, existed := s.installed[session.packageID]
	s.installed[session.packageID] = InstalledPackage{ID: session.packageID, VersionCode: version, Installer: s.Installer}
	s.mu.Unlock()

	s.results <- SessionResult{SessionID: sessionID, PackageID: session.packageID, Success: true}

	kind := EventAdded
	if existed {
		kind = EventReplaced
	}
	s.events <- PackageEvent{PackageID: session.packageID, Kind: kind, VersionCode: version}
}

func (s *Simulator) Uninstall(_ context.Context, packageID string) error {
	s.mu.Lock()
	s.uninstalls = append(s.uninstalls, packageID)
	_, ok := s.installed[packageID]
	s.mu.Unlock()

	if !ok {
		return models.NewError(models.ErrInstaller, packageID, errors.New("package is not installed"))
	}
	s.Remove(packageID)
	return nil
}

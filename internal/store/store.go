// Package store owns the canonical package id to PackageInfo map and
// broadcasts a snapshot after every change.
package store

import (
	"sort"
	"sync"

	"github.com/ralt/appstore/internal/models"
)

// Snapshot is an immutable view of every tracked package
type Snapshot struct {
	Packages map[string]models.PackageInfo
}

// Sorted returns the packages ordered by id
func (s Snapshot) Sorted() []models.PackageInfo {
	out := make([]models.PackageInfo, 0, len(s.Packages))
	for _, info := range s.Packages {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Store is safe for concurrent use. Mutations are applied and published in
// the order they are called.
type Store struct {
	mu          sync.Mutex
	packages    map[string]models.PackageInfo
	broadcaster *Broadcaster[Snapshot]
}

func New() *Store {
	return &Store{
		packages:    map[string]models.PackageInfo{},
		broadcaster: NewBroadcaster[Snapshot](),
	}
}

// Get returns the current record of a package
func (s *Store) Get(id string) (models.PackageInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.packages[id]
	return info, ok
}

// Tracked reports whether the catalog has ever listed id
func (s *Store) Tracked(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Snapshot returns a copy of the whole map
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Put inserts or replaces the record of info.ID
func (s *Store) Put(info models.PackageInfo) {
	s.mu.Lock()
	s.packages[info.ID] = info
	s.publishLocked()
	s.mu.Unlock()
}

// Update replaces the record of a tracked package with fn's result. It
// returns false, without calling fn, for untracked ids.
func (s *Store) Update(id string, fn func(models.PackageInfo) models.PackageInfo) (models.PackageInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.packages[id]
	if !ok {
		return models.PackageInfo{}, false
	}

	next := fn(current)
	next.ID = id
	s.packages[id] = next
	s.publishLocked()
	return next, true
}

// Upsert is Update that also creates the record: fn receives the current
// record and whether it existed
func (s *Store) Upsert(id string, fn func(models.PackageInfo, bool) models.PackageInfo) models.PackageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.packages[id]
	next := fn(current, ok)
	next.ID = id
	s.packages[id] = next
	s.publishLocked()
	return next
}

// Subscribe returns a listener receiving published snapshots, skipping to
// the newest when it falls behind. The first Wait returns the current state
// once anything has been published.
func (s *Store) Subscribe() *Listener[Snapshot] {
	return s.broadcaster.Listener()
}

// PendingTasks lists the tasks that have not reached TaskFinished
func (s *Store) PendingTasks() []models.TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []models.TaskInfo
	for _, info := range s.packages {
		if !info.Task.Done() {
			tasks = append(tasks, info.Task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Close wakes every listener with ErrClosed
func (s *Store) Close() {
	s.broadcaster.Close()
}

func (s *Store) snapshotLocked() Snapshot {
	packages := make(map[string]models.PackageInfo, len(s.packages))
	for id, info := range s.packages {
		packages[id] = info
	}
	return Snapshot{Packages: packages}
}

func (s *Store) publishLocked() {
	s.broadcaster.Broadcast(s.snapshotLocked())
}

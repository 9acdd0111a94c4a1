// Package prefs persists the client's keyed scalar state: ETags, the last
// accepted catalog timestamp, per-package channels and update preferences.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ralt/appstore/internal/utils"
)

// FileName is the preferences file inside the data directory
const FileName = "prefs.yaml"

// NetworkType constrains when background updates may run
type NetworkType string

const (
	NetworkAny        NetworkType = "any"
	NetworkUnmetered  NetworkType = "unmetered"
	NetworkNotRoaming NetworkType = "not_roaming"
)

// DefaultRescheduleInterval is the periodic background update interval
const DefaultRescheduleInterval = 12 * time.Hour

// Keys reported to change listeners
const (
	KeyBackgroundUpdate   = "background_update"
	KeyNetworkType        = "network_type"
	KeyRescheduleInterval = "reschedule_interval"
	KeyAutoDownload       = "auto_download"
	KeyAutoUpdate         = "auto_update"
	KeyAutoInstall        = "auto_install"
)

type data struct {
	ETags              map[string]string `yaml:"etags,omitempty"`
	Timestamp          int64             `yaml:"timestamp,omitempty"`
	Channels           map[string]string `yaml:"channels,omitempty"`
	AutoDownload       bool              `yaml:"auto_download"`
	AutoUpdate         bool              `yaml:"auto_update"`
	BackgroundUpdate   bool              `yaml:"background_update"`
	AutoInstall        bool              `yaml:"auto_install"`
	NetworkType        NetworkType       `yaml:"network_type,omitempty"`
	RescheduleInterval time.Duration     `yaml:"reschedule_interval,omitempty"`
}

// Store is a YAML-backed key/value store. It is safe for concurrent use.
type Store struct {
	path      string
	mu        sync.RWMutex
	data      data
	listeners []func(key string)
}

// Open loads the preferences in dir, starting empty when none exist
func Open(dir string) (*Store, error) {
	s := &Store{
		path: filepath.Join(dir, FileName),
		data: defaults(),
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}

	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if s.data.ETags == nil {
		s.data.ETags = map[string]string{}
	}
	if s.data.Channels == nil {
		s.data.Channels = map[string]string{}
	}

	return s, nil
}

func defaults() data {
	return data{
		ETags:              map[string]string{},
		Channels:           map[string]string{},
		BackgroundUpdate:   true,
		AutoInstall:        true,
		NetworkType:        NetworkAny,
		RescheduleInterval: DefaultRescheduleInterval,
	}
}

// OnChange registers fn to be called after a preference key is written
func (s *Store) OnChange(fn func(key string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// update applies fn under the write lock, saves, then notifies listeners
func (s *Store) update(key string, fn func(d *data)) error {
	s.mu.Lock()
	fn(&s.data)
	err := s.save()
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, l := range listeners {
		l(key)
	}
	return nil
}

// save writes the file atomically. Caller holds the lock.
func (s *Store) save() error {
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if err := utils.WriteFileAtomic(s.path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}

	logrus.Debugf("Saved preferences to %s", s.path)
	return nil
}

// ETag returns the stored ETag for a resource path
func (s *Store) ETag(resource string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tag, ok := s.data.ETags[resource]
	return tag, ok
}

// SetETag stores the ETag of a resource; an empty tag removes it
func (s *Store) SetETag(resource, tag string) error {
	return s.update("etag", func(d *data) {
		if tag == "" {
			delete(d.ETags, resource)
			return
		}
		d.ETags[resource] = tag
	})
}

// Timestamp returns the last accepted catalog timestamp, 0 if none
func (s *Store) Timestamp() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Timestamp
}

func (s *Store) SetTimestamp(ts int64) error {
	return s.update("timestamp", func(d *data) { d.Timestamp = ts })
}

// Channel returns the channel selected for a package
func (s *Store) Channel(pkg string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.data.Channels[pkg]
	return ch, ok
}

func (s *Store) SetChannel(pkg, channel string) error {
	return s.update("channel", func(d *data) { d.Channels[pkg] = channel })
}

func (s *Store) AutoDownload() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.AutoDownload
}

func (s *Store) SetAutoDownload(v bool) error {
	return s.update(KeyAutoDownload, func(d *data) { d.AutoDownload = v })
}

func (s *Store) AutoUpdate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.AutoUpdate
}

func (s *Store) SetAutoUpdate(v bool) error {
	return s.update(KeyAutoUpdate, func(d *data) { d.AutoUpdate = v })
}

func (s *Store) BackgroundUpdate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.BackgroundUpdate
}

func (s *Store) SetBackgroundUpdate(v bool) error {
	return s.update(KeyBackgroundUpdate, func(d *data) { d.BackgroundUpdate = v })
}

func (s *Store) AutoInstall() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.AutoInstall
}

func (s *Store) SetAutoInstall(v bool) error {
	return s.update(KeyAutoInstall, func(d *data) { d.AutoInstall = v })
}

func (s *Store) NetworkType() NetworkType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.data.NetworkType {
	case NetworkUnmetered, NetworkNotRoaming:
		return s.data.NetworkType
	default:
		return NetworkAny
	}
}

func (s *Store) SetNetworkType(t NetworkType) error {
	return s.update(KeyNetworkType, func(d *data) { d.NetworkType = t })
}

// RescheduleInterval returns the background update period
func (s *Store) RescheduleInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.RescheduleInterval <= 0 {
		return DefaultRescheduleInterval
	}
	return s.data.RescheduleInterval
}

func (s *Store) SetRescheduleInterval(d time.Duration) error {
	return s.update(KeyRescheduleInterval, func(dd *data) { dd.RescheduleInterval = d })
}

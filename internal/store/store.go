// Package store remembers the last treadmill across runs.
package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

type storedDevice struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name,omitempty"`
}

type data struct {
	PreferredDevice *storedDevice `yaml:"preferred_device,omitempty"`
	PollStatus      bool          `yaml:"poll_status"`
}

// Store is a small yaml document; every setter rewrites the whole file
type Store struct {
	path   string
	logger *log.Logger
	mu     sync.RWMutex
	data   data
}

func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		panic("Store: logger cannot be nil")
	}
	s := &Store{path: path, logger: logger}
	s.load()
	return s
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) PreferredDevice() (model.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.PreferredDevice == nil || s.data.PreferredDevice.Address == "" {
		return model.Device{}, false
	}
	return model.Device{ID: s.data.PreferredDevice.Address, Name: s.data.PreferredDevice.Name}, true
}

func (s *Store) SetPreferredDevice(device model.Device) error {
	s.logger.Printf("Store: setPreferredDevice -> %s (%s)", device.ID, device.Name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PreferredDevice = &storedDevice{Address: device.ID, Name: device.Name}
	return s.saveLocked()
}

func (s *Store) ClearPreferredDevice() error {
	s.logger.Printf("Store: clearPreferredDevice")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.PreferredDevice = nil
	return s.saveLocked()
}

// PollStatus reports whether legacy status polling was left on
func (s *Store) PollStatus() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.PollStatus
}

func (s *Store) SetPollStatus(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.PollStatus == enabled {
		return nil
	}
	s.data.PollStatus = enabled
	return s.saveLocked()
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Printf("Store: load %s (no existing file)", s.path)
		return
	}
	var d data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		s.logger.Printf("Store: load %s failed to parse: %v", s.path, err)
		return
	}
	s.data = d
	s.logger.Printf("Store: load %s -> %+v", s.path, s.data.PreferredDevice)
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

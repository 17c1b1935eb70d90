package treadmill

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/bt"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/legacy"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/events"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

// IsWalkingPadName reports whether an advertised name belongs to a treadmill
func IsWalkingPadName(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range legacy.DeviceNamePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Scanner reports treadmills seen by the transport, each address once per
// scanning session
type Scanner struct {
	transport bt.Transport
	logger    *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	seen    map[string]bool
	devices []model.Device
	wg      sync.WaitGroup

	deviceEvent  *events.ChannelEvent[model.Device]
	devicesEvent *events.ChannelEvent[[]model.Device]
}

func NewScanner(transport bt.Transport, logger *log.Logger) *Scanner {
	if transport == nil {
		panic("Scanner: transport cannot be nil")
	}
	if logger == nil {
		panic("Scanner: logger cannot be nil")
	}
	return &Scanner{
		transport:    transport,
		logger:       logger,
		seen:         make(map[string]bool),
		deviceEvent:  events.NewChannelEvent[model.Device](false),
		devicesEvent: events.NewChannelEvent[[]model.Device](true),
	}
}

// Start begins a new scanning session. A running session is stopped first.
func (s *Scanner) Start(ctx context.Context) {
	s.Stop()

	scanCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.seen = make(map[string]bool)
	s.devices = nil
	s.mu.Unlock()
	s.devicesEvent.Notify([]model.Device{})

	s.logger.Printf("Scanner: Starting scan")
	go_func_utils.SafeGoGroup(s.logger, &s.wg, func() {
		if err := s.transport.Scan(scanCtx, s.handleAdvertisement); err != nil {
			s.logger.Printf("Scanner: Scan error: %v", err)
		}
		s.logger.Printf("Scanner: Scan finished")
	})
}

// Stop ends the current session, if any
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	s.logger.Printf("Scanner: Stopping scan")
	cancel()
	if err := s.transport.StopScan(); err != nil {
		s.logger.Printf("Scanner: Error stopping scan: %v", err)
	}
	s.wg.Wait()
}

func (s *Scanner) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scanner) handleAdvertisement(ad bt.Advertisement) {
	if !IsWalkingPadName(ad.Name) {
		return
	}

	s.mu.Lock()
	if s.cancel == nil || s.seen[ad.Address] {
		s.mu.Unlock()
		return
	}
	s.seen[ad.Address] = true
	device := model.Device{ID: ad.Address, Name: ad.Name}
	s.devices = append(s.devices, device)
	devices := make([]model.Device, len(s.devices))
	copy(devices, s.devices)
	s.mu.Unlock()

	s.logger.Printf("Scanner: Found %s (%s) [RSSI: %d]", device.Name, device.ID, ad.RSSI)
	s.deviceEvent.Notify(device)
	s.devicesEvent.Notify(devices)
}

// Devices returns the treadmills found in the current session
func (s *Scanner) Devices() []model.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Device, len(s.devices))
	copy(out, s.devices)
	return out
}

func (s *Scanner) ListenToDevice(ch chan<- model.Device) func() {
	return s.deviceEvent.Listen(ch)
}

// ListenToDevices delivers the accumulated list after every new device and
// replays the latest list on registration
func (s *Scanner) ListenToDevices(ch chan<- []model.Device) func() {
	return s.devicesEvent.Listen(ch)
}

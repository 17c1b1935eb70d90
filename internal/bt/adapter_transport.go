package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/events"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
)

var (
	ErrUnknownDevice = errors.New("device has not been seen by a scan")
	ErrNotConnected  = errors.New("device is not connected")
)

// Verify AdapterTransport implements Transport
var _ Transport = (*AdapterTransport)(nil)

// AdapterTransport implements Transport on a tinygo bluetooth adapter
type AdapterTransport struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger

	mu        sync.RWMutex
	addresses map[string]bluetooth.Address
	links     map[string]*adapterLink

	// Serializes GATT operations; BlueZ misbehaves when they interleave
	bleMu sync.Mutex

	notificationEvent *events.ChannelEvent[Notification]
	linkEvent         *events.ChannelEvent[LinkEvent]
	wg                sync.WaitGroup
}

// adapterLink caches the GATT handles of one connected device
type adapterLink struct {
	device          bluetooth.Device
	services        map[string]bluetooth.DeviceService
	characteristics map[string]bluetooth.DeviceCharacteristic
}

func NewAdapterTransport(adapter *bluetooth.Adapter, logger *log.Logger) *AdapterTransport {
	if adapter == nil {
		panic("AdapterTransport: adapter cannot be nil")
	}
	if logger == nil {
		panic("AdapterTransport: logger cannot be nil")
	}
	return &AdapterTransport{
		adapter:           adapter,
		logger:            logger,
		addresses:         make(map[string]bluetooth.Address),
		links:             make(map[string]*adapterLink),
		notificationEvent: events.NewChannelEvent[Notification](false),
		linkEvent:         events.NewChannelEvent[LinkEvent](false),
	}
}

func (t *AdapterTransport) Enable() error {
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		address := device.Address.String()
		if connected {
			t.logger.Printf("AdapterTransport: Link up: %s", address)
		} else {
			t.logger.Printf("AdapterTransport: Link down: %s", address)
			t.mu.Lock()
			delete(t.links, address)
			t.mu.Unlock()
		}
		t.linkEvent.Notify(LinkEvent{Address: address, Connected: connected})
	})
	return t.adapter.Enable()
}

func (t *AdapterTransport) Scan(ctx context.Context, onResult func(Advertisement)) error {
	t.logger.Println("AdapterTransport: Starting scan")

	stopped := make(chan struct{})
	defer close(stopped)
	go_func_utils.SafeGoGroup(t.logger, &t.wg, func() {
		select {
		case <-ctx.Done():
			if err := t.adapter.StopScan(); err != nil {
				t.logger.Printf("AdapterTransport: Error stopping scan: %v", err)
			}
		case <-stopped:
		}
	})

	err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		address := result.Address.String()
		t.mu.Lock()
		t.addresses[address] = result.Address
		t.mu.Unlock()
		onResult(Advertisement{
			Address: address,
			Name:    result.LocalName(),
			RSSI:    result.RSSI,
		})
	})
	t.logger.Println("AdapterTransport: Scan finished")
	return err
}

func (t *AdapterTransport) StopScan() error {
	return t.adapter.StopScan()
}

func (t *AdapterTransport) Connect(ctx context.Context, address string) error {
	t.mu.RLock()
	addr, ok := t.addresses[address]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connect %s: %w", address, ErrUnknownDevice)
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go_func_utils.SafeGoGroup(t.logger, &t.wg, func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{device: device, err: err}
	})

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("connect %s: %w", address, r.err)
		}
		t.mu.Lock()
		t.links[address] = &adapterLink{
			device:          r.device,
			services:        make(map[string]bluetooth.DeviceService),
			characteristics: make(map[string]bluetooth.DeviceCharacteristic),
		}
		t.mu.Unlock()
		return nil
	case <-ctx.Done():
		// the adapter call cannot be interrupted; drop the link when it lands
		go_func_utils.SafeGoGroup(t.logger, &t.wg, func() {
			if r := <-done; r.err == nil {
				if err := r.device.Disconnect(); err != nil {
					t.logger.Printf("AdapterTransport: Error dropping abandoned link %s: %v", address, err)
				}
			}
		})
		return ctx.Err()
	}
}

func (t *AdapterTransport) Disconnect(address string) error {
	t.mu.Lock()
	link, ok := t.links[address]
	delete(t.links, address)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	t.bleMu.Lock()
	defer t.bleMu.Unlock()
	return link.device.Disconnect()
}

func (t *AdapterTransport) getLink(address string) (*adapterLink, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	link, ok := t.links[address]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, ErrNotConnected)
	}
	return link, nil
}

// DiscoverServices discovers every service at once. Discovering single
// services repeatedly interrupts services already in use.
func (t *AdapterTransport) DiscoverServices(address string) ([]Service, error) {
	link, err := t.getLink(address)
	if err != nil {
		return nil, err
	}

	t.bleMu.Lock()
	defer t.bleMu.Unlock()

	discovered, err := link.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("error discovering services: %w", err)
	}

	out := make([]Service, 0, len(discovered))
	t.mu.Lock()
	for _, svc := range discovered {
		id, err := NormalizeUUID(svc.UUID().String())
		if err != nil {
			t.logger.Printf("AdapterTransport: Skipping service: %v", err)
			continue
		}
		link.services[id] = svc
		out = append(out, Service{UUID: id})
	}
	t.mu.Unlock()
	return out, nil
}

// DiscoverCharacteristics reports PropUnknown for every characteristic;
// tinygo does not expose GATT properties on all platforms.
func (t *AdapterTransport) DiscoverCharacteristics(address string, service Service) ([]Characteristic, error) {
	link, err := t.getLink(address)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	svc, ok := link.services[service.UUID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("service %v not found on device", service.UUID)
	}

	t.bleMu.Lock()
	defer t.bleMu.Unlock()

	discovered, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("could not discover characteristics for service %v: %w", service.UUID, err)
	}

	out := make([]Characteristic, 0, len(discovered))
	t.mu.Lock()
	for _, c := range discovered {
		id, err := NormalizeUUID(c.UUID().String())
		if err != nil {
			t.logger.Printf("AdapterTransport: Skipping characteristic: %v", err)
			continue
		}
		char := Characteristic{ServiceUUID: service.UUID, UUID: id, Properties: PropUnknown}
		link.characteristics[char.Key()] = c
		out = append(out, char)
	}
	t.mu.Unlock()
	return out, nil
}

func (t *AdapterTransport) getCharacteristic(address string, char Characteristic) (bluetooth.DeviceCharacteristic, error) {
	link, err := t.getLink(address)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := link.characteristics[char.Key()]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %v not found in service %v", char.UUID, char.ServiceUUID)
	}
	return c, nil
}

func (t *AdapterTransport) Write(address string, char Characteristic, data []byte, withResponse bool) error {
	c, err := t.getCharacteristic(address, char)
	if err != nil {
		return err
	}

	t.bleMu.Lock()
	defer t.bleMu.Unlock()

	if withResponse {
		_, err = c.Write(data)
	} else {
		_, err = c.WriteWithoutResponse(data)
	}
	if err != nil {
		return fmt.Errorf("failed to write characteristic %v: %w", char.UUID, err)
	}
	return nil
}

func (t *AdapterTransport) SetNotify(address string, char Characteristic, enabled bool) error {
	c, err := t.getCharacteristic(address, char)
	if err != nil {
		return err
	}

	t.bleMu.Lock()
	defer t.bleMu.Unlock()

	var callback func([]byte)
	if enabled {
		callback = func(buf []byte) {
			data := make([]byte, len(buf))
			copy(data, buf)
			t.notificationEvent.Notify(Notification{Address: address, Characteristic: char, Data: data})
		}
	}
	// a nil callback disables notifications
	if err := c.EnableNotifications(callback); err != nil {
		return fmt.Errorf("failed to set notifications on %v to %v: %w", char.UUID, enabled, err)
	}
	return nil
}

func (t *AdapterTransport) Read(address string, char Characteristic) ([]byte, error) {
	c, err := t.getCharacteristic(address, char)
	if err != nil {
		return nil, err
	}

	t.bleMu.Lock()
	defer t.bleMu.Unlock()

	buf := make([]byte, 512)
	n, err := c.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %v: %w", char.UUID, err)
	}
	return buf[:n], nil
}

func (t *AdapterTransport) ListenToNotifications(ch chan<- Notification) func() {
	return t.notificationEvent.Listen(ch)
}

func (t *AdapterTransport) ListenToLinkEvents(ch chan<- LinkEvent) func() {
	return t.linkEvent.Listen(ch)
}

// Shutdown releases every link and waits for helper goroutines
func (t *AdapterTransport) Shutdown() {
	t.logger.Println("AdapterTransport: Shutting down")
	t.mu.RLock()
	addresses := make([]string, 0, len(t.links))
	for address := range t.links {
		addresses = append(addresses, address)
	}
	t.mu.RUnlock()

	for _, address := range addresses {
		if err := t.Disconnect(address); err != nil {
			t.logger.Printf("AdapterTransport: Error disconnecting from %v: %v", address, err)
		}
	}
	if err := t.adapter.StopScan(); err != nil {
		t.logger.Printf("AdapterTransport: Error stopping scan: %v", err)
	}
	t.wg.Wait()
	t.logger.Println("AdapterTransport: Shutdown complete")
}

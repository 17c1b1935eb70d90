package bt

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/ftms"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/kingsmith"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/legacy"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/events"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
)

var ErrNotSubscribed = errors.New("characteristic is not subscribed")

const maxWrittenValues = 500

// Verify MockTransport implements Transport
var _ Transport = (*MockTransport)(nil)

// MockPeripheral is the GATT table of a simulated device
type MockPeripheral struct {
	Address  string
	Name     string
	RSSI     int16
	Services []MockService
}

type MockService struct {
	UUID            string
	Characteristics []MockCharacteristic
}

type MockCharacteristic struct {
	UUID       string
	Properties Properties
	// Value is returned by Read
	Value []byte
}

// Responder answers a write the way a device would. Replies are delivered
// only on characteristics the client has subscribed to.
type Responder func(char Characteristic, data []byte) []MockReply

// MockReply is one notification a Responder wants sent
type MockReply struct {
	CharacteristicUUID string
	Data               []byte
}

// WrittenValue records a value written to a characteristic
type WrittenValue struct {
	Timestamp          time.Time `json:"timestamp"`
	Address            string    `json:"address"`
	ServiceUUID        string    `json:"serviceUuid"`
	CharacteristicUUID string    `json:"characteristicUuid"`
	Data               []byte    `json:"data"`
	DataHex            string    `json:"dataHex"`
	WithResponse       bool      `json:"withResponse"`
	Description        string    `json:"description"`
}

// MockTransport implements Transport without hardware. Failures can be
// injected per operation so connection supervision can be exercised.
type MockTransport struct {
	logger *log.Logger

	mu          sync.RWMutex
	peripherals map[string]*MockPeripheral
	order       []string
	connected   map[string]bool
	subscribed  map[string]map[string]Characteristic
	responders  map[string]Responder
	simulators  []*SimulatedPad
	scanStop    chan struct{}

	connectCalls  int
	connectErr    error
	connectHangs  bool
	connectDelay  time.Duration
	discoveryErrs map[string]error
	notifyErrs    map[string]error
	writeErr      error

	writtenValues   []WrittenValue
	writtenValuesMu sync.RWMutex

	notificationEvent *events.ChannelEvent[Notification]
	linkEvent         *events.ChannelEvent[LinkEvent]

	server *http.Server
	wg     sync.WaitGroup
}

func NewMockTransport(logger *log.Logger) *MockTransport {
	if logger == nil {
		panic("MockTransport: logger cannot be nil")
	}
	return &MockTransport{
		logger:            logger,
		peripherals:       make(map[string]*MockPeripheral),
		connected:         make(map[string]bool),
		subscribed:        make(map[string]map[string]Characteristic),
		responders:        make(map[string]Responder),
		discoveryErrs:     make(map[string]error),
		notifyErrs:        make(map[string]error),
		notificationEvent: events.NewChannelEvent[Notification](false),
		linkEvent:         events.NewChannelEvent[LinkEvent](false),
	}
}

// AddPeripheral makes p visible to Scan and Connect. UUIDs may be given in
// short form.
func (m *MockTransport) AddPeripheral(p MockPeripheral) {
	normalized := MockPeripheral{Address: p.Address, Name: p.Name, RSSI: p.RSSI}
	for _, svc := range p.Services {
		s := MockService{UUID: MustNormalizeUUID(svc.UUID)}
		for _, c := range svc.Characteristics {
			value := make([]byte, len(c.Value))
			copy(value, c.Value)
			s.Characteristics = append(s.Characteristics, MockCharacteristic{
				UUID:       MustNormalizeUUID(c.UUID),
				Properties: c.Properties,
				Value:      value,
			})
		}
		normalized.Services = append(normalized.Services, s)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peripherals[p.Address]; !ok {
		m.order = append(m.order, p.Address)
	}
	m.peripherals[p.Address] = &normalized
}

func (m *MockTransport) SetResponder(address string, r Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responders[address] = r
}

// SetConnectError makes every Connect fail with err until cleared with nil
func (m *MockTransport) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetConnectHangs makes Connect block until its context is cancelled
func (m *MockTransport) SetConnectHangs(hangs bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectHangs = hangs
}

func (m *MockTransport) SetConnectDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectDelay = d
}

func (m *MockTransport) SetDiscoveryError(serviceUUID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoveryErrs[MustNormalizeUUID(serviceUUID)] = err
}

func (m *MockTransport) SetNotifyError(charUUID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyErrs[MustNormalizeUUID(charUUID)] = err
}

func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *MockTransport) ConnectCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectCalls
}

func (m *MockTransport) IsConnected(address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected[address]
}

// Subscriptions returns the characteristics with notifications enabled,
// sorted by key
func (m *MockTransport) Subscriptions(address string) []Characteristic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Characteristic, 0, len(m.subscribed[address]))
	for _, c := range m.subscribed[address] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Writes returns a copy of the write log, oldest first
func (m *MockTransport) Writes() []WrittenValue {
	m.writtenValuesMu.RLock()
	defer m.writtenValuesMu.RUnlock()
	out := make([]WrittenValue, len(m.writtenValues))
	copy(out, m.writtenValues)
	return out
}

// WritesTo filters the write log by characteristic
func (m *MockTransport) WritesTo(charUUID string) []WrittenValue {
	id := MustNormalizeUUID(charUUID)
	var out []WrittenValue
	for _, w := range m.Writes() {
		if w.CharacteristicUUID == id {
			out = append(out, w)
		}
	}
	return out
}

func (m *MockTransport) ClearWrites() {
	m.writtenValuesMu.Lock()
	defer m.writtenValuesMu.Unlock()
	m.writtenValues = nil
}

// --- Transport ---

func (m *MockTransport) Enable() error {
	m.logger.Println("MockTransport: Enabled")
	return nil
}

func (m *MockTransport) Scan(ctx context.Context, onResult func(Advertisement)) error {
	m.mu.Lock()
	stop := make(chan struct{})
	m.scanStop = stop
	ads := make([]Advertisement, 0, len(m.order))
	for _, address := range m.order {
		p := m.peripherals[address]
		ads = append(ads, Advertisement{Address: p.Address, Name: p.Name, RSSI: p.RSSI})
	}
	m.mu.Unlock()

	m.logger.Printf("MockTransport: Scanning, %d peripherals in range", len(ads))
	for _, ad := range ads {
		onResult(ad)
	}

	select {
	case <-ctx.Done():
	case <-stop:
	}
	return nil
}

func (m *MockTransport) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanStop != nil {
		close(m.scanStop)
		m.scanStop = nil
	}
	return nil
}

func (m *MockTransport) Connect(ctx context.Context, address string) error {
	m.mu.Lock()
	m.connectCalls++
	_, known := m.peripherals[address]
	connectErr, hangs, delay := m.connectErr, m.connectHangs, m.connectDelay
	m.mu.Unlock()

	if !known {
		return fmt.Errorf("connect %s: %w", address, ErrUnknownDevice)
	}
	if hangs {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if connectErr != nil {
		return fmt.Errorf("connect %s: %w", address, connectErr)
	}

	m.mu.Lock()
	m.connected[address] = true
	m.mu.Unlock()
	m.logger.Printf("MockTransport: Connected to %s", address)
	m.linkEvent.Notify(LinkEvent{Address: address, Connected: true})
	return nil
}

func (m *MockTransport) Disconnect(address string) error {
	if m.dropLink(address) {
		m.logger.Printf("MockTransport: Disconnected from %s", address)
	}
	return nil
}

// DropLink simulates the device going out of range
func (m *MockTransport) DropLink(address string) {
	if m.dropLink(address) {
		m.logger.Printf("MockTransport: Link to %s lost", address)
	}
}

func (m *MockTransport) dropLink(address string) bool {
	m.mu.Lock()
	was := m.connected[address]
	delete(m.connected, address)
	delete(m.subscribed, address)
	m.mu.Unlock()
	if was {
		m.linkEvent.Notify(LinkEvent{Address: address, Connected: false})
	}
	return was
}

func (m *MockTransport) connectedPeripheral(address string) (*MockPeripheral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected[address] {
		return nil, fmt.Errorf("%s: %w", address, ErrNotConnected)
	}
	return m.peripherals[address], nil
}

func (m *MockTransport) DiscoverServices(address string) ([]Service, error) {
	p, err := m.connectedPeripheral(address)
	if err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(p.Services))
	for _, svc := range p.Services {
		out = append(out, Service{UUID: svc.UUID})
	}
	return out, nil
}

func (m *MockTransport) DiscoverCharacteristics(address string, service Service) ([]Characteristic, error) {
	p, err := m.connectedPeripheral(address)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	discoveryErr := m.discoveryErrs[service.UUID]
	m.mu.RUnlock()
	if discoveryErr != nil {
		return nil, fmt.Errorf("could not discover characteristics for service %v: %w", service.UUID, discoveryErr)
	}
	for _, svc := range p.Services {
		if svc.UUID != service.UUID {
			continue
		}
		out := make([]Characteristic, 0, len(svc.Characteristics))
		for _, c := range svc.Characteristics {
			out = append(out, Characteristic{ServiceUUID: svc.UUID, UUID: c.UUID, Properties: c.Properties})
		}
		return out, nil
	}
	return nil, fmt.Errorf("service %v not found on device", service.UUID)
}

func (m *MockTransport) findCharacteristic(p *MockPeripheral, char Characteristic) (MockCharacteristic, bool) {
	for _, svc := range p.Services {
		if svc.UUID != char.ServiceUUID {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID == char.UUID {
				return c, true
			}
		}
	}
	return MockCharacteristic{}, false
}

func (m *MockTransport) Write(address string, char Characteristic, data []byte, withResponse bool) error {
	p, err := m.connectedPeripheral(address)
	if err != nil {
		return err
	}
	if _, ok := m.findCharacteristic(p, char); !ok {
		return fmt.Errorf("characteristic %v not found in service %v", char.UUID, char.ServiceUUID)
	}
	m.mu.RLock()
	writeErr := m.writeErr
	responder := m.responders[address]
	m.mu.RUnlock()
	if writeErr != nil {
		return fmt.Errorf("failed to write characteristic %v: %w", char.UUID, writeErr)
	}

	value := make([]byte, len(data))
	copy(value, data)
	description := describeWrite(char, value)
	m.logger.Printf("MockTransport: Write %s [% X] %s", char.UUID, value, description)

	m.writtenValuesMu.Lock()
	m.writtenValues = append(m.writtenValues, WrittenValue{
		Timestamp:          time.Now(),
		Address:            address,
		ServiceUUID:        char.ServiceUUID,
		CharacteristicUUID: char.UUID,
		Data:               value,
		DataHex:            hex.EncodeToString(value),
		WithResponse:       withResponse,
		Description:        description,
	})
	if len(m.writtenValues) > maxWrittenValues {
		m.writtenValues = m.writtenValues[len(m.writtenValues)-maxWrittenValues:]
	}
	m.writtenValuesMu.Unlock()

	if responder != nil {
		for _, reply := range responder(char, value) {
			if err := m.Notify(address, reply.CharacteristicUUID, reply.Data); err != nil && !errors.Is(err, ErrNotSubscribed) {
				m.logger.Printf("MockTransport: Reply on %s failed: %v", reply.CharacteristicUUID, err)
			}
		}
	}
	return nil
}

func describeWrite(char Characteristic, data []byte) string {
	switch {
	case char.UUID == ftms.CharUUIDControlPoint:
		return ftms.DescribeControlPoint(data)
	case char.UUID == kingsmith.CharUUIDWrite:
		if len(data) > 0 {
			return fmt.Sprintf("KingSmith 0x%02X", data[0])
		}
		return "KingSmith (empty)"
	case len(data) > 0 && data[0] == legacy.FrameStart:
		return legacy.DescribeCommand(data)
	default:
		return ""
	}
}

func (m *MockTransport) SetNotify(address string, char Characteristic, enabled bool) error {
	p, err := m.connectedPeripheral(address)
	if err != nil {
		return err
	}
	c, ok := m.findCharacteristic(p, char)
	if !ok {
		return fmt.Errorf("characteristic %v not found in service %v", char.UUID, char.ServiceUUID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.notifyErrs[char.UUID]; err != nil {
		return fmt.Errorf("failed to set notifications on %v to %v: %w", char.UUID, enabled, err)
	}
	if !c.Properties.CanNotify() {
		return fmt.Errorf("characteristic %v does not support notifications", char.UUID)
	}
	if enabled {
		if m.subscribed[address] == nil {
			m.subscribed[address] = make(map[string]Characteristic)
		}
		m.subscribed[address][char.Key()] = char
	} else {
		delete(m.subscribed[address], char.Key())
	}
	return nil
}

func (m *MockTransport) Read(address string, char Characteristic) ([]byte, error) {
	p, err := m.connectedPeripheral(address)
	if err != nil {
		return nil, err
	}
	c, ok := m.findCharacteristic(p, char)
	if !ok {
		return nil, fmt.Errorf("characteristic %v not found in service %v", char.UUID, char.ServiceUUID)
	}
	out := make([]byte, len(c.Value))
	copy(out, c.Value)
	return out, nil
}

func (m *MockTransport) ListenToNotifications(ch chan<- Notification) func() {
	return m.notificationEvent.Listen(ch)
}

func (m *MockTransport) ListenToLinkEvents(ch chan<- LinkEvent) func() {
	return m.linkEvent.Listen(ch)
}

// Notify sends a value update from the device on a subscribed characteristic
func (m *MockTransport) Notify(address string, charUUID string, data []byte) error {
	id, err := NormalizeUUID(charUUID)
	if err != nil {
		return err
	}
	m.mu.RLock()
	var char Characteristic
	found := false
	for _, c := range m.subscribed[address] {
		if c.UUID == id {
			char, found = c, true
			break
		}
	}
	m.mu.RUnlock()
	if !found {
		return fmt.Errorf("%s on %s: %w", id, address, ErrNotSubscribed)
	}

	value := make([]byte, len(data))
	copy(value, data)
	m.notificationEvent.Notify(Notification{Address: address, Characteristic: char, Data: value})
	return nil
}

// Start serves the inspection UI on listen (host:port) in the background
func (m *MockTransport) Start(listen string) {
	m.server = &http.Server{
		Addr:    listen,
		Handler: m.Handler(),
	}
	go_func_utils.SafeGoGroup(m.logger, &m.wg, func() {
		m.logger.Printf("MockTransport: Web server starting on http://%s", listen)
		if err := m.server.ListenAndServe(); err != http.ErrServerClosed {
			m.logger.Printf("MockTransport: Web server error: %v", err)
		}
	})
}

// Shutdown stops the inspection UI and every simulated pad
func (m *MockTransport) Shutdown() {
	m.logger.Printf("MockTransport: Shutting down")
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Printf("MockTransport: Error shutting down web server: %v", err)
		}
	}
	m.mu.RLock()
	sims := append([]*SimulatedPad(nil), m.simulators...)
	m.mu.RUnlock()
	for _, sim := range sims {
		sim.Stop()
	}
	m.wg.Wait()
	m.logger.Printf("MockTransport: Shutdown complete")
}

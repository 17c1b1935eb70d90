package console

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/events"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/treadmill"
)

// Treadmill is what the console drives; *treadmill.Controller implements it
type Treadmill interface {
	StartScanning()
	StopScanning()
	Connect(device model.Device)
	Disconnect()
	StartBelt() error
	StopBelt() error
	PauseBelt() error
	SetSpeed(tenths int) error
	SleepDevice() error
	WakeDevice() error
	SwitchMode(mode model.Mode) error
	StartPolling(interval time.Duration)
	StopPolling()
	IsPolling() bool
	State() model.ConnectionState
	Device() (model.Device, bool)

	ListenToConnectionState(ch chan<- model.ConnectionState) func()
	ListenToProtocol(ch chan<- model.Protocol) func()
	ListenToStatus(ch chan<- model.TreadmillStatus) func()
	ListenToLastRecord(ch chan<- model.LastRecord) func()
	ListenToMachineEvents(ch chan<- model.MachineEvent) func()
	ListenToErrors(ch chan<- error) func()
	ListenToDevices(ch chan<- []model.Device) func()
}

var _ Treadmill = (*treadmill.Controller)(nil)

// Snapshot is everything the view renders apart from the log
type Snapshot struct {
	State     model.ConnectionState
	Protocol  model.Protocol
	Device    model.Device
	HasDevice bool
	Devices   []model.Device
	Status    *model.TreadmillStatus
	Record    *model.LastRecord
	LastEvent string
	LastError string
	Polling   bool
}

const maxLogLines = 1000

// Model mirrors controller state for the view
type Model struct {
	treadmill Treadmill
	logger    *log.Logger

	snapshotEvent         *events.ChannelEvent[Snapshot]
	logEvent              *events.ChannelEvent[string]
	closeApplicationEvent *events.ChannelEvent[struct{}]

	mu       sync.RWMutex
	snapshot Snapshot

	logMu    sync.RWMutex
	logLines []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewModel(t Treadmill, logger *log.Logger, logLines <-chan string) *Model {
	if t == nil {
		panic("ConsoleModel: treadmill cannot be nil")
	}
	if logger == nil {
		panic("ConsoleModel: logger cannot be nil")
	}
	if logLines == nil {
		panic("ConsoleModel: logLines cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		treadmill:             t,
		logger:                logger,
		snapshotEvent:         events.NewChannelEvent[Snapshot](true),
		logEvent:              events.NewChannelEvent[string](false),
		closeApplicationEvent: events.NewChannelEvent[struct{}](true),
		snapshot:              Snapshot{State: t.State()},
		logLines:              make([]string, 0, maxLogLines),
		ctx:                   ctx,
		cancel:                cancel,
	}
	m.snapshot.Device, m.snapshot.HasDevice = t.Device()

	feeds := m.subscribe()
	go_func_utils.SafeGoGroup(logger, &m.wg, func() { m.listenToTreadmill(ctx, feeds) })
	go_func_utils.SafeGoGroup(logger, &m.wg, func() { m.readFromLogChannel(ctx, logLines) })
	return m
}

func (m *Model) Shutdown() {
	m.logger.Println("ConsoleModel: Shutting down")
	m.cancel()
	m.wg.Wait()
	m.logger.Println("ConsoleModel: Shutdown complete")
}

func (m *Model) ListenToSnapshot(ch chan<- Snapshot) func() {
	return m.snapshotEvent.Listen(ch)
}

func (m *Model) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

func (m *Model) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeApplicationEvent.Listen(ch)
}

func (m *Model) RequestCloseApplication() {
	m.closeApplicationEvent.Notify(struct{}{})
}

// Snapshot returns a copy of the current state
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyLocked()
}

func (m *Model) copyLocked() Snapshot {
	s := m.snapshot
	s.Devices = append([]model.Device(nil), m.snapshot.Devices...)
	if m.snapshot.Status != nil {
		st := *m.snapshot.Status
		s.Status = &st
	}
	if m.snapshot.Record != nil {
		r := *m.snapshot.Record
		s.Record = &r
	}
	return s
}

func (m *Model) update(fn func(s *Snapshot)) {
	m.mu.Lock()
	fn(&m.snapshot)
	s := m.copyLocked()
	m.mu.Unlock()
	m.snapshotEvent.Notify(s)
}

func (m *Model) SetPolling(polling bool) {
	m.update(func(s *Snapshot) { s.Polling = polling })
}

// treadmillFeeds holds the controller channels the model mirrors
type treadmillFeeds struct {
	states        chan model.ConnectionState
	protocols     chan model.Protocol
	statuses      chan model.TreadmillStatus
	records       chan model.LastRecord
	machineEvents chan model.MachineEvent
	errs          chan error
	devices       chan []model.Device
	unregister    []func()
}

// subscribe registers with the controller before NewModel returns
func (m *Model) subscribe() *treadmillFeeds {
	f := &treadmillFeeds{
		states:        make(chan model.ConnectionState, 16),
		protocols:     make(chan model.Protocol, 4),
		statuses:      make(chan model.TreadmillStatus, 16),
		records:       make(chan model.LastRecord, 4),
		machineEvents: make(chan model.MachineEvent, 16),
		errs:          make(chan error, 16),
		devices:       make(chan []model.Device, 4),
	}
	f.unregister = []func(){
		m.treadmill.ListenToConnectionState(f.states),
		m.treadmill.ListenToProtocol(f.protocols),
		m.treadmill.ListenToStatus(f.statuses),
		m.treadmill.ListenToLastRecord(f.records),
		m.treadmill.ListenToMachineEvents(f.machineEvents),
		m.treadmill.ListenToErrors(f.errs),
		m.treadmill.ListenToDevices(f.devices),
	}
	return f
}

func (m *Model) listenToTreadmill(ctx context.Context, f *treadmillFeeds) {
	defer func() {
		for _, fn := range f.unregister {
			fn()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case state := <-f.states:
			device, ok := m.treadmill.Device()
			m.update(func(s *Snapshot) {
				s.State = state
				s.Device, s.HasDevice = device, ok
				if !state.IsConnected() {
					s.Status = nil
				}
			})
		case p := <-f.protocols:
			m.update(func(s *Snapshot) { s.Protocol = p })
		case st := <-f.statuses:
			m.update(func(s *Snapshot) { s.Status = &st })
		case r := <-f.records:
			m.update(func(s *Snapshot) { s.Record = &r })
		case ev := <-f.machineEvents:
			m.update(func(s *Snapshot) { s.LastEvent = ev.Kind.String() })
		case err := <-f.errs:
			m.update(func(s *Snapshot) { s.LastError = err.Error() })
		case list := <-f.devices:
			m.update(func(s *Snapshot) { s.Devices = list })
		}
	}
}

func (m *Model) readFromLogChannel(ctx context.Context, logChan <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				return
			}

			m.logMu.Lock()
			m.logLines = append(m.logLines, line)
			if len(m.logLines) > maxLogLines {
				m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
			}
			m.logMu.Unlock()

			m.logEvent.Notify(line)
		}
	}
}

// GetLogTail returns up to n of the most recent log lines
func (m *Model) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n >= len(m.logLines) {
		result := make([]string, len(m.logLines))
		copy(result, m.logLines)
		return result
	}
	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}

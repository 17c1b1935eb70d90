// Package treadmill drives a WalkingPad over a bt.Transport: scanning,
// connection supervision, protocol negotiation, command dispatch and
// telemetry decoding.
package treadmill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/bt"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/ftms"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/kingsmith"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/legacy"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/events"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

var (
	ErrConnectionTimeout = errors.New("connection timed out")
	ErrLinkLost          = errors.New("link to treadmill lost")
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultHandshakeDelay = 300 * time.Millisecond
	DefaultPollInterval   = time.Second

	// MaxSpeed is the highest accepted target speed in tenths of km/h
	MaxSpeed = 60
)

type Options struct {
	// ConnectTimeout bounds each connection attempt from Connecting to Ready
	ConnectTimeout time.Duration
	// CommandSpacing is the minimum gap between two legacy writes
	CommandSpacing time.Duration
	// HandshakeDelay separates the KingSmith bring-up frames
	HandshakeDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout: DefaultConnectTimeout,
		CommandSpacing: legacy.MinCommandSpacing,
		HandshakeDelay: DefaultHandshakeDelay,
	}
}

// Controller is the caller-facing treadmill driver. Connection state is
// owned by a single run loop goroutine; blocking transport calls run on
// worker goroutines and report back to the loop. Commands are safe to call
// from any goroutine and block until written.
type Controller struct {
	transport bt.Transport
	logger    *log.Logger
	opts      Options

	scanner    *Scanner
	dispatcher *dispatcher
	poller     *poller

	ctx          context.Context
	cancel       context.CancelFunc
	actions      chan func()
	links        chan bt.LinkEvent
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	// run loop state
	sup         *supervisor
	neg         *negotiator
	sess        *session
	target      model.Device
	connCtx     context.Context
	connCancel  context.CancelFunc
	released    chan struct{}
	autoConnect string

	snapMu    sync.RWMutex
	state     model.ConnectionState
	protocol  model.Protocol
	device    model.Device
	hasDevice bool

	stateEvent      *events.ChannelEvent[model.ConnectionState]
	protocolEvent   *events.ChannelEvent[model.Protocol]
	statusEvent     *events.ChannelEvent[model.TreadmillStatus]
	lastRecordEvent *events.ChannelEvent[model.LastRecord]
	machineEvent    *events.ChannelEvent[model.MachineEvent]
	errorEvent      *events.ChannelEvent[error]
}

// NewController creates a controller and starts its run loop. Zero option
// values take their defaults.
func NewController(transport bt.Transport, logger *log.Logger, opts Options) *Controller {
	if transport == nil {
		panic("Controller: transport cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}
	defaults := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.CommandSpacing <= 0 {
		opts.CommandSpacing = defaults.CommandSpacing
	}
	if opts.HandshakeDelay <= 0 {
		opts.HandshakeDelay = defaults.HandshakeDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		transport:       transport,
		logger:          logger,
		opts:            opts,
		scanner:         NewScanner(transport, logger),
		ctx:             ctx,
		cancel:          cancel,
		actions:         make(chan func()),
		links:           make(chan bt.LinkEvent, 16),
		state:           model.Disconnected,
		stateEvent:      events.NewChannelEvent[model.ConnectionState](true),
		protocolEvent:   events.NewChannelEvent[model.Protocol](true),
		statusEvent:     events.NewChannelEvent[model.TreadmillStatus](true),
		lastRecordEvent: events.NewChannelEvent[model.LastRecord](true),
		machineEvent:    events.NewChannelEvent[model.MachineEvent](false),
		errorEvent:      events.NewChannelEvent[error](false),
	}
	c.sup = newSupervisor(logger, c.onStateChange)
	c.dispatcher = newDispatcher(logger, transport, opts.CommandSpacing, opts.HandshakeDelay, &c.wg)
	c.poller = newPoller(logger, c.AskStats)

	notifications := make(chan bt.Notification, 64)
	found := make(chan model.Device, 16)
	unlistenNotifications := transport.ListenToNotifications(notifications)
	unlistenLinks := transport.ListenToLinkEvents(c.links)
	unlistenDevices := c.scanner.ListenToDevice(found)

	c.wg.Add(1)
	go_func_utils.SafeGo(logger, func() {
		defer c.wg.Done()
		defer unlistenNotifications()
		defer unlistenLinks()
		defer unlistenDevices()
		c.run(notifications, found)
	})
	return c
}

func (c *Controller) run(notifications <-chan bt.Notification, found <-chan model.Device) {
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Printf("Controller: Run loop exiting")
			return
		case fn := <-c.actions:
			fn()
		case n := <-notifications:
			c.handleNotification(n)
		case ev := <-c.links:
			c.handleLinkEvent(ev)
		case device := <-found:
			c.handleDeviceFound(device)
		}
	}
}

// post queues fn for the run loop. It must not be called from the loop.
func (c *Controller) post(fn func()) bool {
	select {
	case c.actions <- fn:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// do runs fn on the run loop and waits for it
func (c *Controller) do(fn func()) {
	done := make(chan struct{})
	if !c.post(func() {
		defer close(done)
		fn()
	}) {
		return
	}
	select {
	case <-done:
	case <-c.ctx.Done():
	}
}

func (c *Controller) work(fn func()) {
	go_func_utils.SafeGoGroup(c.logger, &c.wg, fn)
}

// --- Snapshot ---

func (c *Controller) onStateChange(state model.ConnectionState) {
	c.snapMu.Lock()
	c.state = state
	c.snapMu.Unlock()
	c.stateEvent.Notify(state)
}

func (c *Controller) setProtocol(p model.Protocol) {
	c.snapMu.Lock()
	changed := c.protocol != p
	c.protocol = p
	c.snapMu.Unlock()
	if changed {
		c.protocolEvent.Notify(p)
	}
}

func (c *Controller) setDevice(device model.Device, ok bool) {
	c.snapMu.Lock()
	c.device = device
	c.hasDevice = ok
	c.snapMu.Unlock()
}

func (c *Controller) State() model.ConnectionState {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.state
}

// Protocol is ProtocolNone until the connection is Ready
func (c *Controller) Protocol() model.Protocol {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.protocol
}

// Device is the treadmill being connected or connected to
func (c *Controller) Device() (model.Device, bool) {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.device, c.hasDevice
}

// --- Scanning ---

// StartScanning starts a new scanning session. Only valid while Disconnected.
func (c *Controller) StartScanning() {
	c.do(func() {
		if !c.sup.transition(model.Scanning) {
			return
		}
		c.scanner.Start(c.ctx)
	})
}

func (c *Controller) StopScanning() {
	c.do(c.stopScanning)
}

func (c *Controller) stopScanning() {
	c.scanner.Stop()
	if c.sup.state == model.Scanning {
		c.sup.transition(model.Disconnected)
	}
}

// SetAutoConnect makes the controller connect to address as soon as a scan
// reports it. An empty address disables it.
func (c *Controller) SetAutoConnect(address string) {
	c.do(func() { c.autoConnect = address })
}

func (c *Controller) handleDeviceFound(device model.Device) {
	if c.autoConnect == "" || device.ID != c.autoConnect || c.sup.state != model.Scanning {
		return
	}
	c.logger.Printf("Controller: Auto-connecting to %s (%s)", device.Name, device.ID)
	c.connect(device, false)
}

// --- Connection ---

func (c *Controller) Connect(device model.Device) {
	c.do(func() { c.connect(device, false) })
}

func (c *Controller) Disconnect() {
	c.do(c.disconnect)
}

func (c *Controller) connect(device model.Device, retry bool) {
	c.scanner.Stop()
	switch c.sup.state {
	case model.Connecting, model.Connected, model.Ready:
		c.teardown(true)
	}
	if !c.sup.transition(model.Connecting) {
		return
	}
	if retry {
		c.logger.Printf("Controller: Retrying connection to %s (%s)", device.Name, device.ID)
	} else {
		c.logger.Printf("Controller: Connecting to %s (%s)", device.Name, device.ID)
	}

	generation := c.sup.beginAttempt(retry)
	c.target = device
	c.setDevice(device, true)
	c.setProtocol(model.ProtocolNone)
	c.connCtx, c.connCancel = context.WithCancel(c.ctx)
	c.sup.armWatchdog(c.opts.ConnectTimeout, func(generation uint64) {
		c.post(func() { c.onWatchdog(generation) })
	})

	connCtx, released := c.connCtx, c.released
	c.work(func() {
		if released != nil {
			<-released
		}
		err := c.transport.Connect(connCtx, device.ID)
		c.post(func() { c.onConnectResult(generation, device, err) })
	})
}

func (c *Controller) onConnectResult(generation uint64, device model.Device, err error) {
	if !c.sup.current(generation) {
		if err == nil && c.sup.state == model.Disconnected {
			c.logger.Printf("Controller: Releasing superseded link to %s", device.ID)
			c.work(func() { c.transport.Disconnect(device.ID) })
		}
		return
	}
	if err != nil {
		c.fail(fmt.Errorf("connect %s: %w", device.ID, err))
		return
	}

	// link events queued before this point belong to the previous link
	c.drainLinkEvents()
	if !c.sup.transition(model.Connected) {
		return
	}

	c.neg = newNegotiator(c.logger, device.ID, &attemptOps{c: c, generation: generation, address: device.ID},
		c.onReady, c.fail)
	c.work(func() {
		services, err := c.transport.DiscoverServices(device.ID)
		c.post(func() {
			if !c.sup.current(generation) {
				return
			}
			if err != nil {
				c.fail(fmt.Errorf("discover services: %w", err))
				return
			}
			c.neg.start(services)
		})
	})
}

func (c *Controller) drainLinkEvents() {
	for {
		select {
		case <-c.links:
		default:
			return
		}
	}
}

func (c *Controller) onReady(s *session) {
	c.sup.cancelWatchdog()
	c.sess = s
	c.dispatcher.attach(c.connCtx, s)
	c.setProtocol(s.route.Protocol())
	if !c.sup.transition(model.Ready) {
		c.dispatcher.detach()
		return
	}
	if s.kingSmithWrite != nil {
		c.dispatcher.startHandshake()
	}
}

func (c *Controller) onWatchdog(generation uint64) {
	if !c.sup.current(generation) || !c.sup.attemptPending() {
		return
	}
	if !c.sup.retried {
		c.logger.Printf("Controller: Connection timeout, stuck at %s after %v", c.sup.state, c.opts.ConnectTimeout)
		c.connect(c.target, true)
		return
	}
	c.logger.Printf("Controller: Connection timeout on retry, giving up")
	c.teardown(true)
	c.sup.transition(model.Disconnected)
	c.errorEvent.Notify(fmt.Errorf("%s: %w", c.target.ID, ErrConnectionTimeout))
}

// fail ends the current attempt and reports err
func (c *Controller) fail(err error) {
	c.logger.Printf("Controller: Connection failed: %v", err)
	c.teardown(true)
	c.sup.transition(model.Disconnected)
	c.errorEvent.Notify(err)
}

func (c *Controller) handleLinkEvent(ev bt.LinkEvent) {
	if ev.Connected || ev.Address != c.target.ID {
		return
	}
	// while Connecting a drop surfaces through Connect's error or the watchdog
	if c.sup.state != model.Connected && c.sup.state != model.Ready {
		return
	}
	c.logger.Printf("Controller: Link to %s lost", ev.Address)
	c.teardown(false)
	c.sup.transition(model.Disconnected)
	c.errorEvent.Notify(fmt.Errorf("%s: %w", ev.Address, ErrLinkLost))
}

func (c *Controller) disconnect() {
	switch c.sup.state {
	case model.Disconnected:
		return
	case model.Scanning:
		c.stopScanning()
		return
	}
	c.logger.Printf("Controller: Disconnecting from %s", c.target.ID)
	c.teardown(true)
	c.sup.transition(model.Disconnected)
	c.setDevice(model.Device{}, false)
}

// teardown abandons the current attempt or session. With release, every
// confirmed subscription is disabled and the link dropped on a worker; the
// next connect waits for that to finish.
func (c *Controller) teardown(release bool) {
	c.sup.invalidate()
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.dispatcher.detach()
	c.poller.stop()

	var subscribed []bt.Characteristic
	switch {
	case c.sess != nil:
		subscribed = c.sess.subscribed
	case c.neg != nil:
		subscribed = c.neg.confirmedSubscriptions()
	}
	c.neg = nil
	c.sess = nil
	c.setProtocol(model.ProtocolNone)

	if !release {
		return
	}
	address := c.target.ID
	done := make(chan struct{})
	c.released = done
	c.work(func() {
		defer close(done)
		for _, char := range subscribed {
			if err := c.transport.SetNotify(address, char, false); err != nil {
				c.logger.Printf("Controller: Unsubscribe from %s failed: %v", char.UUID, err)
			}
		}
		if err := c.transport.Disconnect(address); err != nil {
			c.logger.Printf("Controller: Disconnect from %s failed: %v", address, err)
		}
	})
}

// attemptOps runs negotiator requests for one connection attempt
type attemptOps struct {
	c          *Controller
	generation uint64
	address    string
}

var _ negotiatorOps = (*attemptOps)(nil)

func (o *attemptOps) deliver(fn func(n *negotiator)) {
	o.c.post(func() {
		if o.c.sup.current(o.generation) && o.c.neg != nil {
			fn(o.c.neg)
		}
	})
}

func (o *attemptOps) discoverCharacteristics(service bt.Service) {
	o.c.work(func() {
		chars, err := o.c.transport.DiscoverCharacteristics(o.address, service)
		o.deliver(func(n *negotiator) { n.characteristicsDiscovered(service, chars, err) })
	})
}

func (o *attemptOps) read(char bt.Characteristic) {
	o.c.work(func() {
		value, err := o.c.transport.Read(o.address, char)
		if err != nil {
			o.c.logger.Printf("Controller: Read %s failed: %v", char.UUID, err)
			return
		}
		o.c.logger.Printf("Controller: Read %s: [% X]", char.UUID, value)
	})
}

func (o *attemptOps) subscribe(char bt.Characteristic) {
	o.c.work(func() {
		err := o.c.transport.SetNotify(o.address, char, true)
		o.deliver(func(n *negotiator) { n.subscribed(char, err) })
	})
}

// --- Inbound data ---

func (c *Controller) handleNotification(n bt.Notification) {
	if n.Address != c.target.ID || !c.sup.state.IsConnected() {
		return
	}
	data := n.Data
	uuid := n.Characteristic.UUID
	c.logger.Printf("Controller: Data from %s (svc %s): [% X]", uuid, n.Characteristic.ServiceUUID, data)

	switch {
	case bt.SameUUID(uuid, ftms.CharUUIDTreadmillData):
		status, err := ftms.ParseTreadmillData(data)
		if err != nil {
			c.logger.Printf("Controller: Dropping treadmill data: %v", err)
			return
		}
		c.statusEvent.Notify(*status)

	case bt.SameUUID(uuid, ftms.CharUUIDMachineStatus):
		ev, err := ftms.ParseMachineStatus(data)
		if err != nil {
			c.logger.Printf("Controller: Dropping machine status: %v", err)
			return
		}
		if ev == nil {
			c.logger.Printf("Controller: Ignoring machine status opcode [% X]", data)
			return
		}
		c.logger.Printf("Controller: FTMS event %s", ev.Kind)
		c.dispatcher.onMachineEvent(*ev)
		c.machineEvent.Notify(*ev)

	case bt.SameUUID(uuid, ftms.CharUUIDControlPoint):
		c.logger.Printf("Controller: FTMS control point response [% X]", data)

	case bt.SameUUID(uuid, ftms.CharUUIDFeature), bt.SameUUID(uuid, ftms.CharUUIDSupportedSpeedRange):
		c.logger.Printf("Controller: FTMS %s [% X]", uuid, data)

	case kingsmith.IsFrame(data):
		c.logger.Printf("Controller: KingSmith %s", kingsmith.DescribeFrame(data))
		if c.Protocol() != model.ProtocolLegacy {
			return
		}
		if status, err := kingsmith.ParseStatus(data); err == nil {
			c.statusEvent.Notify(*status)
		}

	case c.Protocol() != model.ProtocolFTMS:
		if status, err := legacy.ParseStatus(data); err == nil {
			c.statusEvent.Notify(*status)
			return
		}
		if record, err := legacy.ParseLastRecord(data); err == nil {
			c.lastRecordEvent.Notify(*record)
		}

	default:
		c.logger.Printf("Controller: Ignoring non-FTMS data from %s", uuid)
	}
}

// --- Commands ---

// StartBelt starts the belt. On FTMS the first start after connecting or
// after the device took control back requests control first.
func (c *Controller) StartBelt() error {
	c.logger.Printf("Controller: StartBelt")
	if c.dispatcher.protocol() == model.ProtocolFTMS {
		if c.dispatcher.controlGranted() {
			return c.dispatcher.writeFTMS(ftms.StartOrResume())
		}
		return c.dispatcher.ensureControl()
	}
	return c.dispatcher.writeLegacy(legacy.StartBelt())
}

func (c *Controller) StopBelt() error {
	c.logger.Printf("Controller: StopBelt")
	if c.dispatcher.protocol() == model.ProtocolFTMS {
		return c.dispatcher.writeFTMS(ftms.Stop())
	}
	return c.dispatcher.writeLegacy(legacy.StopBelt())
}

// PauseBelt pauses on FTMS. Legacy devices have no pause, so the belt stops.
func (c *Controller) PauseBelt() error {
	c.logger.Printf("Controller: PauseBelt")
	if c.dispatcher.protocol() == model.ProtocolFTMS {
		return c.dispatcher.writeFTMS(ftms.Pause())
	}
	return c.dispatcher.writeLegacy(legacy.ChangeSpeed(0))
}

// SetSpeed sets the belt speed in tenths of km/h, clamped to 0..MaxSpeed
func (c *Controller) SetSpeed(tenths int) error {
	clamped := max(0, min(MaxSpeed, tenths))
	c.logger.Printf("Controller: SetSpeed %d tenths", clamped)
	if c.dispatcher.protocol() == model.ProtocolFTMS {
		if err := c.dispatcher.ensureControl(); err != nil {
			return err
		}
		return c.dispatcher.writeFTMS(ftms.SetTargetSpeed(uint16(clamped * 10)))
	}
	return c.dispatcher.writeLegacy(legacy.ChangeSpeed(clamped))
}

// SleepDevice and WakeDevice only exist on the KingSmith channel; without
// it they log and send nothing
func (c *Controller) SleepDevice() error {
	c.logger.Printf("Controller: SleepDevice")
	return c.writeKingSmithOnly("Sleep", kingsmith.Sleep())
}

func (c *Controller) WakeDevice() error {
	c.logger.Printf("Controller: WakeDevice")
	return c.writeKingSmithOnly("Wake", kingsmith.Wake())
}

func (c *Controller) writeKingSmithOnly(name string, frame []byte) error {
	if c.dispatcher.protocol() == model.ProtocolNone {
		return ErrNotReady
	}
	if !c.dispatcher.hasKingSmith() {
		c.logger.Printf("Controller: %s not supported without KingSmith service", name)
		return nil
	}
	return c.dispatcher.writeKingSmith(frame)
}

// The following are legacy only and do nothing on FTMS.

func (c *Controller) SwitchMode(mode model.Mode) error {
	c.logger.Printf("Controller: SwitchMode %s", mode)
	return c.dispatcher.writeLegacy(legacy.SwitchMode(mode))
}

func (c *Controller) AskStats() error {
	return c.dispatcher.writeLegacy(legacy.AskStats())
}

func (c *Controller) AskHistory() error {
	c.logger.Printf("Controller: AskHistory")
	return c.dispatcher.writeLegacy(legacy.AskHistory(0))
}

func (c *Controller) SetMaxSpeed(tenths int) error {
	return c.dispatcher.writeLegacy(legacy.SetMaxSpeed(tenths))
}

func (c *Controller) SetStartSpeed(tenths int) error {
	return c.dispatcher.writeLegacy(legacy.SetStartSpeed(tenths))
}

func (c *Controller) SetIntelligentStart(enabled bool) error {
	return c.dispatcher.writeLegacy(legacy.SetIntelligentStart(enabled))
}

func (c *Controller) SetSensitivity(level model.Sensitivity) error {
	return c.dispatcher.writeLegacy(legacy.SetSensitivity(level))
}

func (c *Controller) SetChildLock(enabled bool) error {
	return c.dispatcher.writeLegacy(legacy.SetChildLock(enabled))
}

func (c *Controller) SetUnitsToMiles(enabled bool) error {
	return c.dispatcher.writeLegacy(legacy.SetUnitsMiles(enabled))
}

func (c *Controller) SetDisplay(bitMask int) error {
	return c.dispatcher.writeLegacy(legacy.SetDisplay(bitMask))
}

func (c *Controller) SetTarget(targetType model.TargetType, value int) error {
	return c.dispatcher.writeLegacy(legacy.SetTarget(targetType, value))
}

// --- Polling ---

// StartPolling asks for stats every interval. FTMS streams telemetry on its
// own, so polling is skipped there.
func (c *Controller) StartPolling(interval time.Duration) {
	if c.dispatcher.protocol() == model.ProtocolFTMS {
		c.logger.Printf("Controller: FTMS streams data, no polling needed")
		return
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	c.poller.start(c.ctx, interval)
}

func (c *Controller) StopPolling() {
	c.poller.stop()
}

func (c *Controller) IsPolling() bool {
	return c.poller.running()
}

// --- Listeners ---

func (c *Controller) ListenToConnectionState(ch chan<- model.ConnectionState) func() {
	return c.stateEvent.Listen(ch)
}

func (c *Controller) ListenToProtocol(ch chan<- model.Protocol) func() {
	return c.protocolEvent.Listen(ch)
}

func (c *Controller) ListenToStatus(ch chan<- model.TreadmillStatus) func() {
	return c.statusEvent.Listen(ch)
}

func (c *Controller) ListenToLastRecord(ch chan<- model.LastRecord) func() {
	return c.lastRecordEvent.Listen(ch)
}

func (c *Controller) ListenToMachineEvents(ch chan<- model.MachineEvent) func() {
	return c.machineEvent.Listen(ch)
}

// ListenToErrors delivers connection failures, timeouts and link loss
func (c *Controller) ListenToErrors(ch chan<- error) func() {
	return c.errorEvent.Listen(ch)
}

func (c *Controller) ListenToDevices(ch chan<- []model.Device) func() {
	return c.scanner.ListenToDevices(ch)
}

// Shutdown disconnects and stops every goroutine.
// Safe to call multiple times - only the first call has effect.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Printf("Controller: Shutting down")
		c.do(func() {
			c.scanner.Stop()
			c.disconnect()
		})
		c.poller.stop()
		c.cancel()
		c.wg.Wait()
		c.logger.Printf("Controller: Shutdown complete")
	})
}

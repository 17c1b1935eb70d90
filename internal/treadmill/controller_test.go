package treadmill

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/bt"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/ftms"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/kingsmith"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/legacy"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

const (
	padAddress = "AA:BB:CC:DD:EE:01"
	waitTime   = 2 * time.Second
	tick       = 5 * time.Millisecond
)

var (
	legacyPad = model.Device{ID: padAddress, Name: "WalkingPad A1"}
	ftmsPad   = model.Device{ID: padAddress, Name: "KS-HD-Z1D"}
)

func testOptions() Options {
	return Options{
		ConnectTimeout: time.Second,
		CommandSpacing: 40 * time.Millisecond,
		HandshakeDelay: 5 * time.Millisecond,
	}
}

func newTestController(t *testing.T, m bt.Transport, opts Options) *Controller {
	t.Helper()
	c := NewController(m, testLogger(), opts)
	t.Cleanup(c.Shutdown)
	return c
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTime):
		require.FailNow(t, "timed out waiting for value")
	}
	var zero T
	return zero
}

// waitForState consumes states until want arrives and returns everything seen
func waitForState(t *testing.T, states chan model.ConnectionState, want model.ConnectionState) []model.ConnectionState {
	t.Helper()
	var seen []model.ConnectionState
	for {
		s := receive(t, states)
		seen = append(seen, s)
		if s == want {
			return seen
		}
	}
}

func listenStates(c *Controller) chan model.ConnectionState {
	states := make(chan model.ConnectionState, 32)
	c.ListenToConnectionState(states)
	return states
}

func listenErrors(c *Controller) chan error {
	errs := make(chan error, 8)
	c.ListenToErrors(errs)
	return errs
}

func connectReady(t *testing.T, c *Controller, device model.Device) {
	t.Helper()
	states := listenStates(c)
	c.Connect(device)
	waitForState(t, states, model.Ready)
}

func controlPointWrites(m *bt.MockTransport) [][]byte {
	var out [][]byte
	for _, w := range m.WritesTo(ftms.CharUUIDControlPoint) {
		out = append(out, w.Data)
	}
	return out
}

func TestController_LegacyConnectReachesReadyThroughConnected(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := newTestController(t, m, testOptions())
	states := listenStates(c)

	c.Connect(legacyPad)
	seen := waitForState(t, states, model.Ready)

	assert.Equal(t, []model.ConnectionState{model.Connecting, model.Connected, model.Ready}, seen)
	assert.Equal(t, model.ProtocolLegacy, c.Protocol())
	device, ok := c.Device()
	assert.True(t, ok)
	assert.Equal(t, legacyPad, device)

	subs := m.Subscriptions(padAddress)
	require.Len(t, subs, 1)
	assert.Equal(t, legacy.KnownCharacteristicSets[0].NotifyUUID, subs[0].UUID)
}

func TestController_LegacyStatusAndHistory(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := newTestController(t, m, testOptions())
	statuses := make(chan model.TreadmillStatus, 8)
	records := make(chan model.LastRecord, 8)
	c.ListenToStatus(statuses)
	c.ListenToLastRecord(records)
	connectReady(t, c, legacyPad)

	require.NoError(t, c.SetSpeed(35))
	status := receive(t, statuses)
	assert.Equal(t, 35, status.Speed)
	assert.Equal(t, model.BeltRunning, status.BeltState)

	require.NoError(t, c.AskHistory())
	receive(t, records)
}

func TestController_LegacyPrefersLowestCandidateSet(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	m.AddPeripheral(bt.MockPeripheral{
		Address: padAddress,
		Name:    legacyPad.Name,
		Services: []bt.MockService{
			{UUID: "fff0", Characteristics: []bt.MockCharacteristic{
				{UUID: "fff1", Properties: bt.PropNotify},
				{UUID: "fff2", Properties: bt.PropWriteWithoutResponse},
			}},
			{UUID: "fe00", Characteristics: []bt.MockCharacteristic{
				{UUID: "fe01", Properties: bt.PropNotify},
				{UUID: "fe02", Properties: bt.PropWriteWithoutResponse},
			}},
		},
	})
	c := newTestController(t, m, testOptions())
	connectReady(t, c, legacyPad)

	require.NoError(t, c.AskStats())
	assert.Len(t, m.WritesTo("fe02"), 1)
	assert.Empty(t, m.WritesTo("fff2"))
	// both notify characteristics are subscribed
	assert.Len(t, m.Subscriptions(padAddress), 2)
}

func TestController_FTMSSubscribesEverythingAndHandshakes(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, ftmsPad.Name, model.ProtocolFTMS)
	c := newTestController(t, m, testOptions())
	connectReady(t, c, ftmsPad)

	assert.Equal(t, model.ProtocolFTMS, c.Protocol())
	// treadmill data, control point, machine status, KingSmith notify, battery
	assert.Len(t, m.Subscriptions(padAddress), 5)

	require.Eventually(t, func() bool {
		return len(m.WritesTo(kingsmith.CharUUIDWrite)) == 4
	}, waitTime, tick)
	writes := m.WritesTo(kingsmith.CharUUIDWrite)
	assert.Equal(t, kingsmith.InitDevice(), writes[0].Data)
	assert.Equal(t, kingsmith.QueryStatus(), writes[2].Data)
	assert.Equal(t, kingsmith.QueryConfig(), writes[3].Data)
	for _, w := range writes {
		assert.False(t, w.WithResponse)
	}
}

func TestController_FTMSControlGate(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	pad := bt.NewSimulatedPad(testLogger(), m, padAddress, ftmsPad.Name, model.ProtocolFTMS)
	c := newTestController(t, m, testOptions())
	machineEvents := make(chan model.MachineEvent, 16)
	c.ListenToMachineEvents(machineEvents)
	connectReady(t, c, ftmsPad)

	require.NoError(t, c.StartBelt())
	require.NoError(t, c.SetSpeed(35))
	assert.Equal(t, [][]byte{
		ftms.RequestControl(),
		ftms.StartOrResume(),
		ftms.SetTargetSpeed(350),
	}, controlPointWrites(m))
	for _, w := range m.WritesTo(ftms.CharUUIDControlPoint) {
		assert.True(t, w.WithResponse)
	}

	// the remote stops the belt and the device takes control back
	pad.PressButton()
	for {
		if receive(t, machineEvents).Kind == model.StoppedByUser {
			break
		}
	}
	m.ClearWrites()

	require.NoError(t, c.SetSpeed(99))
	assert.Equal(t, [][]byte{
		ftms.RequestControl(),
		ftms.StartOrResume(),
		ftms.SetTargetSpeed(600),
	}, controlPointWrites(m))
}

func TestController_FTMSGateResetsOnReconnect(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, ftmsPad.Name, model.ProtocolFTMS)
	c := newTestController(t, m, testOptions())
	connectReady(t, c, ftmsPad)
	require.NoError(t, c.StartBelt())

	c.Disconnect()
	connectReady(t, c, ftmsPad)
	m.ClearWrites()

	require.NoError(t, c.StartBelt())
	assert.Equal(t, [][]byte{ftms.RequestControl(), ftms.StartOrResume()}, controlPointWrites(m))

	m.ClearWrites()
	require.NoError(t, c.StartBelt())
	assert.Equal(t, [][]byte{ftms.StartOrResume()}, controlPointWrites(m))
}

func TestController_FTMSTelemetry(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	pad := bt.NewSimulatedPad(testLogger(), m, padAddress, ftmsPad.Name, model.ProtocolFTMS)
	c := newTestController(t, m, testOptions())
	statuses := make(chan model.TreadmillStatus, 8)
	c.ListenToStatus(statuses)
	connectReady(t, c, ftmsPad)

	require.NoError(t, c.StartBelt())
	pad.Tick(30 * time.Second)
	status := receive(t, statuses)
	assert.Equal(t, 20, status.Speed)
	assert.Equal(t, 30, status.Time)
}

func TestController_FTMSIgnoresUnknownAndShortMachineStatus(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, ftmsPad.Name, model.ProtocolFTMS)
	c := newTestController(t, m, testOptions())
	machineEvents := make(chan model.MachineEvent, 16)
	c.ListenToMachineEvents(machineEvents)
	errs := listenErrors(c)
	connectReady(t, c, ftmsPad)

	require.NoError(t, m.Notify(padAddress, ftms.CharUUIDMachineStatus, []byte{0xFF}))
	require.NoError(t, m.Notify(padAddress, ftms.CharUUIDMachineStatus, []byte{0x05, 0x01}))
	require.NoError(t, m.Notify(padAddress, ftms.CharUUIDMachineStatus, []byte{0x04}))

	// notifications are handled in order, so the first event is the last frame
	assert.Equal(t, model.StartedByUser, receive(t, machineEvents).Kind)
	assert.Equal(t, model.Ready, c.State())
	assert.Empty(t, errs)
	assert.Empty(t, machineEvents)
}

func TestController_CommandsRouteByProtocol(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, ftmsPad.Name, model.ProtocolFTMS)
	c := newTestController(t, m, testOptions())
	connectReady(t, c, ftmsPad)
	require.Eventually(t, func() bool {
		return len(m.WritesTo(kingsmith.CharUUIDWrite)) == 4
	}, waitTime, tick)
	m.ClearWrites()

	// legacy only commands do nothing on FTMS
	assert.NoError(t, c.AskStats())
	assert.NoError(t, c.AskHistory())
	assert.NoError(t, c.SwitchMode(model.ModeAuto))
	assert.NoError(t, c.SetChildLock(true))
	assert.Empty(t, m.Writes())

	// sleep goes over the KingSmith channel
	require.NoError(t, c.SleepDevice())
	writes := m.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, kingsmith.Sleep(), writes[0].Data)

	m.ClearWrites()
	require.NoError(t, c.PauseBelt())
	assert.Equal(t, [][]byte{ftms.Pause()}, controlPointWrites(m))
}

func TestController_LegacySleepWithoutKingSmithSendsNothing(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := newTestController(t, m, Options{CommandSpacing: time.Millisecond})
	connectReady(t, c, legacyPad)

	require.NoError(t, c.SleepDevice())
	require.NoError(t, c.WakeDevice())
	assert.Empty(t, m.Writes())

	require.NoError(t, c.PauseBelt())
	writes := m.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, legacy.ChangeSpeed(0), writes[0].Data)
	assert.False(t, writes[0].WithResponse)
}

func TestController_CommandsBeforeReady(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	c := newTestController(t, m, testOptions())

	assert.ErrorIs(t, c.StartBelt(), ErrNotReady)
	assert.ErrorIs(t, c.SetSpeed(30), ErrNotReady)
	assert.ErrorIs(t, c.AskStats(), ErrNotReady)
	assert.ErrorIs(t, c.SleepDevice(), ErrNotReady)
	assert.Empty(t, m.Writes())
}

func TestController_LegacyCommandSpacing(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	opts := testOptions()
	c := newTestController(t, m, opts)
	connectReady(t, c, legacyPad)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(speed int) {
			defer wg.Done()
			assert.NoError(t, c.SetSpeed(speed))
		}(20 + i)
	}
	wg.Wait()

	writes := m.Writes()
	require.Len(t, writes, 4)
	for i := 1; i < len(writes); i++ {
		gap := writes[i].Timestamp.Sub(writes[i-1].Timestamp)
		assert.GreaterOrEqual(t, gap, opts.CommandSpacing, "gap before write %d", i)
	}
}

func TestController_SetSpeedClamps(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := newTestController(t, m, Options{CommandSpacing: time.Millisecond})
	connectReady(t, c, legacyPad)

	require.NoError(t, c.SetSpeed(75))
	require.NoError(t, c.SetSpeed(-5))
	writes := m.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, legacy.ChangeSpeed(60), writes[0].Data)
	assert.Equal(t, legacy.ChangeSpeed(0), writes[1].Data)
}

func TestController_ConnectFailure(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	boom := errors.New("boom")
	m.SetConnectError(boom)
	c := newTestController(t, m, testOptions())
	states := listenStates(c)
	errs := listenErrors(c)

	c.Connect(legacyPad)
	assert.ErrorIs(t, receive(t, errs), boom)
	waitForState(t, states, model.Disconnected)
	assert.Equal(t, model.ProtocolNone, c.Protocol())
	assert.Equal(t, 1, m.ConnectCalls())
}

func TestController_NoKnownProtocolDisconnects(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	m.AddPeripheral(bt.MockPeripheral{
		Address: padAddress,
		Name:    "WalkingPad X",
		Services: []bt.MockService{
			{UUID: "180a", Characteristics: []bt.MockCharacteristic{{UUID: "2a24", Properties: bt.PropRead}}},
		},
	})
	c := newTestController(t, m, testOptions())
	states := listenStates(c)
	errs := listenErrors(c)

	c.Connect(legacyPad)
	assert.ErrorIs(t, receive(t, errs), ErrNoKnownProtocol)
	seen := waitForState(t, states, model.Disconnected)
	assert.NotContains(t, seen, model.Ready)
	require.Eventually(t, func() bool { return !m.IsConnected(padAddress) }, waitTime, tick)
}

func TestController_TimeoutRetriesOnceThenGivesUp(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	m.SetConnectHangs(true)
	opts := testOptions()
	opts.ConnectTimeout = 50 * time.Millisecond
	c := newTestController(t, m, opts)
	states := listenStates(c)
	errs := listenErrors(c)

	c.Connect(legacyPad)
	assert.ErrorIs(t, receive(t, errs), ErrConnectionTimeout)
	seen := waitForState(t, states, model.Disconnected)

	assert.Equal(t, []model.ConnectionState{model.Connecting, model.Connecting, model.Disconnected}, seen)
	assert.Equal(t, 2, m.ConnectCalls())
	assert.Equal(t, model.ProtocolNone, c.Protocol())
}

func TestController_TimeoutRetryCanSucceed(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	m.SetConnectHangs(true)
	opts := testOptions()
	opts.ConnectTimeout = 100 * time.Millisecond
	c := newTestController(t, m, opts)
	states := listenStates(c)

	c.Connect(legacyPad)
	require.Eventually(t, func() bool { return m.ConnectCalls() == 1 }, waitTime, tick)
	m.SetConnectHangs(false)

	seen := waitForState(t, states, model.Ready)
	assert.Equal(t, []model.ConnectionState{model.Connecting, model.Connecting, model.Connected, model.Ready}, seen)
	assert.Equal(t, 2, m.ConnectCalls())
}

func TestController_LinkLoss(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := newTestController(t, m, testOptions())
	connectReady(t, c, legacyPad)
	states := listenStates(c)
	errs := listenErrors(c)

	m.DropLink(padAddress)
	assert.ErrorIs(t, receive(t, errs), ErrLinkLost)
	waitForState(t, states, model.Disconnected)
	assert.Equal(t, model.ProtocolNone, c.Protocol())
	assert.ErrorIs(t, c.AskStats(), ErrNotReady)
}

// unsubscribeRecorder records every notification disable
type unsubscribeRecorder struct {
	*bt.MockTransport
	mu           sync.Mutex
	unsubscribed []string
}

func (r *unsubscribeRecorder) SetNotify(address string, char bt.Characteristic, enabled bool) error {
	if !enabled {
		r.mu.Lock()
		r.unsubscribed = append(r.unsubscribed, char.UUID)
		r.mu.Unlock()
	}
	return r.MockTransport.SetNotify(address, char, enabled)
}

func (r *unsubscribeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unsubscribed)
}

func TestController_DisconnectUnsubscribesAndReleases(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, ftmsPad.Name, model.ProtocolFTMS)
	r := &unsubscribeRecorder{MockTransport: m}
	c := newTestController(t, r, testOptions())
	connectReady(t, c, ftmsPad)
	states := listenStates(c)

	c.Disconnect()
	assert.Equal(t, model.Disconnected, c.State())
	waitForState(t, states, model.Disconnected)
	require.Eventually(t, func() bool { return !m.IsConnected(padAddress) }, waitTime, tick)
	assert.Equal(t, 5, r.count())
	_, ok := c.Device()
	assert.False(t, ok)
}

func TestController_Polling(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := newTestController(t, m, Options{CommandSpacing: time.Millisecond})
	connectReady(t, c, legacyPad)

	c.StartPolling(10 * time.Millisecond)
	assert.True(t, c.IsPolling())
	require.Eventually(t, func() bool {
		return len(m.WritesTo(legacy.KnownCharacteristicSets[0].WriteUUID)) >= 3
	}, waitTime, tick)

	c.Disconnect()
	assert.False(t, c.IsPolling())
}

func TestController_NoPollingOnFTMS(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, ftmsPad.Name, model.ProtocolFTMS)
	c := newTestController(t, m, testOptions())
	connectReady(t, c, ftmsPad)

	c.StartPolling(10 * time.Millisecond)
	assert.False(t, c.IsPolling())
}

func TestController_ScanAndAutoConnect(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	m.AddPeripheral(bt.MockPeripheral{Address: "11:22:33:44:55:66", Name: "Heart Strap"})
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := newTestController(t, m, testOptions())
	states := listenStates(c)
	devices := make(chan []model.Device, 8)
	c.ListenToDevices(devices)

	c.SetAutoConnect(padAddress)
	c.StartScanning()
	seen := waitForState(t, states, model.Ready)
	assert.Equal(t, []model.ConnectionState{model.Scanning, model.Connecting, model.Connected, model.Ready}, seen)

	var last []model.Device
	for len(devices) > 0 {
		last = <-devices
	}
	assert.Equal(t, []model.Device{legacyPad}, last)
}

func TestController_ScanningStateRules(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := newTestController(t, m, testOptions())

	c.StartScanning()
	assert.Equal(t, model.Scanning, c.State())
	c.StopScanning()
	assert.Equal(t, model.Disconnected, c.State())

	connectReady(t, c, legacyPad)
	c.StartScanning()
	assert.Equal(t, model.Ready, c.State())
}

func TestController_ShutdownIsIdempotent(t *testing.T) {
	m := bt.NewMockTransport(testLogger())
	bt.NewSimulatedPad(testLogger(), m, padAddress, legacyPad.Name, model.ProtocolLegacy)
	c := NewController(m, testLogger(), testOptions())
	connectReady(t, c, legacyPad)

	c.Shutdown()
	c.Shutdown()
	assert.False(t, m.IsConnected(padAddress))
}

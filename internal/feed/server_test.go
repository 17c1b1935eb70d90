package feed

import (
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/events"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeSource struct {
	device   model.Device
	states   *events.ChannelEvent[model.ConnectionState]
	protocol *events.ChannelEvent[model.Protocol]
	status   *events.ChannelEvent[model.TreadmillStatus]
	records  *events.ChannelEvent[model.LastRecord]
	machine  *events.ChannelEvent[model.MachineEvent]
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		device:   model.Device{ID: "C0:FF:EE:00:00:01", Name: "WalkingPad A1"},
		states:   events.NewChannelEvent[model.ConnectionState](true),
		protocol: events.NewChannelEvent[model.Protocol](true),
		status:   events.NewChannelEvent[model.TreadmillStatus](false),
		records:  events.NewChannelEvent[model.LastRecord](false),
		machine:  events.NewChannelEvent[model.MachineEvent](false),
	}
}

func (f *fakeSource) Device() (model.Device, bool) { return f.device, true }
func (f *fakeSource) ListenToConnectionState(ch chan<- model.ConnectionState) func() {
	return f.states.Listen(ch)
}
func (f *fakeSource) ListenToProtocol(ch chan<- model.Protocol) func() { return f.protocol.Listen(ch) }
func (f *fakeSource) ListenToStatus(ch chan<- model.TreadmillStatus) func() {
	return f.status.Listen(ch)
}
func (f *fakeSource) ListenToLastRecord(ch chan<- model.LastRecord) func() {
	return f.records.Listen(ch)
}
func (f *fakeSource) ListenToMachineEvents(ch chan<- model.MachineEvent) func() {
	return f.machine.Listen(ch)
}

func startFeed(t *testing.T, source Source) (*Server, string) {
	t.Helper()
	s := New(source, testLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Shutdown()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips frames until one of the wanted type arrives
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if msg.Type == typ {
			return msg
		}
	}
}

func TestFeed_StreamsStatusAndConnection(t *testing.T) {
	source := newFakeSource()
	s, url := startFeed(t, source)
	conn := dial(t, url)

	// wait until the client is registered before publishing
	require.Eventually(t, func() bool { return s.messages.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)

	source.states.Notify(model.Ready)
	msg := readUntil(t, conn, TypeConnection)
	require.NotNil(t, msg.Connection)
	assert.Equal(t, "Ready", msg.Connection.State)
	assert.True(t, msg.Connection.Connected)
	assert.Equal(t, "C0:FF:EE:00:00:01", msg.Connection.Address)

	source.status.Notify(model.TreadmillStatus{
		BeltState: model.BeltRunning,
		Speed:     35,
		Mode:      model.ModeManual,
		Time:      95,
		Distance:  120,
	})
	msg = readUntil(t, conn, TypeStatus)
	require.NotNil(t, msg.Status)
	assert.InDelta(t, 3.5, msg.Status.SpeedKmh, 1e-9)
	assert.InDelta(t, 1.2, msg.Status.DistanceKm, 1e-9)
	assert.Equal(t, 95, msg.Status.Seconds)
	assert.Equal(t, model.ModeManual.String(), msg.Status.Mode)
	assert.Nil(t, msg.Connection)
}

func TestFeed_NewClientReceivesSnapshot(t *testing.T) {
	source := newFakeSource()
	s, url := startFeed(t, source)

	source.protocol.Notify(model.ProtocolFTMS)
	source.records.Notify(model.LastRecord{Time: 600, Distance: 50})
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.latest) == 2
	}, time.Second, 5*time.Millisecond)

	conn := dial(t, url)
	first := readMessage(t, conn)
	assert.Equal(t, TypeConnection, first.Type)
	assert.Equal(t, "FTMS", first.Connection.Protocol)

	second := readMessage(t, conn)
	require.Equal(t, TypeRecord, second.Type)
	assert.Equal(t, 600, second.Record.Seconds)
	assert.InDelta(t, 0.5, second.Record.DistanceKm, 1e-9)
}

func TestFeed_MachineEvents(t *testing.T) {
	source := newFakeSource()
	s, url := startFeed(t, source)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return s.messages.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)

	source.machine.Notify(model.MachineEvent{Kind: model.TargetSpeedChanged, TargetSpeed: 450})
	msg := readUntil(t, conn, TypeEvent)
	assert.Equal(t, model.TargetSpeedChanged.String(), msg.Event.Kind)
	assert.InDelta(t, 4.5, msg.Event.TargetSpeedKmh, 1e-9)
}

func TestFeed_ClientCloseUnregisters(t *testing.T) {
	s, url := startFeed(t, newFakeSource())
	conn := dial(t, url)
	require.Eventually(t, func() bool { return s.messages.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.messages.ListenerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeed_ShutdownClosesClients(t *testing.T) {
	s, url := startFeed(t, newFakeSource())
	conn := dial(t, url)
	require.Eventually(t, func() bool { return s.messages.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Shutdown()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestNew_NilArgumentsPanic(t *testing.T) {
	assert.PanicsWithValue(t, "FeedServer: source cannot be nil", func() { New(nil, testLogger()) })
	assert.PanicsWithValue(t, "FeedServer: logger cannot be nil", func() { New(newFakeSource(), nil) })
}

package bt

import (
	"bytes"
	"log"
	"sync"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/ftms"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/kingsmith"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/codec/legacy"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

const (
	deviceInfoServiceUUID = "180a"
	modelNumberCharUUID   = "2a24"
	batteryServiceUUID    = "180f"
	batteryLevelCharUUID  = "2a19"

	simDefaultStartSpeed = 20 // tenths of km/h
)

// LegacyPeripheral is a pad that speaks the legacy protocol on the FE00 set
func LegacyPeripheral(address, name string) MockPeripheral {
	set := legacy.KnownCharacteristicSets[0]
	return MockPeripheral{
		Address: address,
		Name:    name,
		RSSI:    -55,
		Services: []MockService{
			{
				UUID: set.ServiceUUID,
				Characteristics: []MockCharacteristic{
					{UUID: set.NotifyUUID, Properties: PropNotify},
					{UUID: set.WriteUUID, Properties: PropWriteWithoutResponse},
				},
			},
			deviceInfoService(name),
		},
	}
}

// FTMSPeripheral is a newer pad: FTMS, the KingSmith side channel and a
// battery service that notifies
func FTMSPeripheral(address, name string) MockPeripheral {
	return MockPeripheral{
		Address: address,
		Name:    name,
		RSSI:    -60,
		Services: []MockService{
			{
				UUID: ftms.ServiceUUID,
				Characteristics: []MockCharacteristic{
					{UUID: ftms.CharUUIDTreadmillData, Properties: PropNotify},
					{UUID: ftms.CharUUIDControlPoint, Properties: PropWrite | PropIndicate},
					{UUID: ftms.CharUUIDMachineStatus, Properties: PropNotify},
					// treadmill supported, distance + energy + elapsed time
					{UUID: ftms.CharUUIDFeature, Properties: PropRead, Value: []byte{0x04, 0x12, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00}},
					// 0.50 to 6.00 km/h in 0.10 steps
					{UUID: ftms.CharUUIDSupportedSpeedRange, Properties: PropRead, Value: []byte{0x32, 0x00, 0x58, 0x02, 0x0A, 0x00}},
				},
			},
			{
				UUID: kingsmith.ServiceUUID,
				Characteristics: []MockCharacteristic{
					{UUID: kingsmith.CharUUIDNotify, Properties: PropNotify},
					{UUID: kingsmith.CharUUIDWrite, Properties: PropWriteWithoutResponse},
				},
			},
			{
				UUID: batteryServiceUUID,
				Characteristics: []MockCharacteristic{
					{UUID: batteryLevelCharUUID, Properties: PropRead | PropNotify, Value: []byte{100}},
				},
			},
			deviceInfoService(name),
		},
	}
}

func deviceInfoService(name string) MockService {
	return MockService{
		UUID: deviceInfoServiceUUID,
		Characteristics: []MockCharacteristic{
			{UUID: modelNumberCharUUID, Properties: PropRead, Value: []byte(name)},
		},
	}
}

// SimulatedPad is an in-memory treadmill behind a MockTransport peripheral.
// It answers commands in the dialect it was created with and advances its
// counters while the belt runs.
type SimulatedPad struct {
	logger    *log.Logger
	transport *MockTransport
	address   string
	name      string
	protocol  model.Protocol

	mu          sync.Mutex
	belt        model.BeltState
	mode        model.Mode
	speed       int // tenths of km/h
	elapsed     float64
	distanceKm  float64
	calories    float64
	lastRecord  model.LastRecord
	sleeping    bool
	hasControl  bool
	stopChan    chan struct{}
	tickRunning bool
	wg          sync.WaitGroup
}

// SimulatedPadState is the snapshot served by the inspection UI
type SimulatedPadState struct {
	Address    string  `json:"address"`
	Name       string  `json:"name"`
	Protocol   string  `json:"protocol"`
	Connected  bool    `json:"connected"`
	Belt       string  `json:"belt"`
	Mode       string  `json:"mode"`
	SpeedKmh   float64 `json:"speedKmh"`
	Seconds    int     `json:"seconds"`
	Km         float64 `json:"km"`
	Sleeping   bool    `json:"sleeping"`
	HasControl bool    `json:"hasControl"`
	Subscribe  int     `json:"subscriptions"`
}

// NewSimulatedPad registers a peripheral for protocol on transport and
// installs its responder
func NewSimulatedPad(logger *log.Logger, transport *MockTransport, address, name string, protocol model.Protocol) *SimulatedPad {
	if logger == nil {
		panic("SimulatedPad: logger cannot be nil")
	}
	if transport == nil {
		panic("SimulatedPad: transport cannot be nil")
	}
	p := &SimulatedPad{
		logger:    logger,
		transport: transport,
		address:   address,
		name:      name,
		protocol:  protocol,
		mode:      model.ModeManual,
	}
	if protocol == model.ProtocolFTMS {
		transport.AddPeripheral(FTMSPeripheral(address, name))
	} else {
		transport.AddPeripheral(LegacyPeripheral(address, name))
	}
	transport.SetResponder(address, p.respond)

	transport.mu.Lock()
	transport.simulators = append(transport.simulators, p)
	transport.mu.Unlock()
	return p
}

func (p *SimulatedPad) Address() string {
	return p.address
}

func (p *SimulatedPad) State() SimulatedPadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SimulatedPadState{
		Address:    p.address,
		Name:       p.name,
		Protocol:   p.protocol.String(),
		Connected:  p.transport.IsConnected(p.address),
		Belt:       p.belt.String(),
		Mode:       p.mode.String(),
		SpeedKmh:   float64(p.speed) / 10,
		Seconds:    int(p.elapsed),
		Km:         p.distanceKm,
		Sleeping:   p.sleeping,
		HasControl: p.hasControl,
		Subscribe:  len(p.transport.Subscriptions(p.address)),
	}
}

func (p *SimulatedPad) statusLocked() model.TreadmillStatus {
	return model.TreadmillStatus{
		BeltState: p.belt,
		Speed:     p.speed,
		Mode:      p.mode,
		Time:      int(p.elapsed),
		Distance:  int(p.distanceKm * 100),
		Calories:  int(p.calories),
		AppSpeed:  p.speed,
	}
}

func (p *SimulatedPad) respond(char Characteristic, data []byte) []MockReply {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case char.UUID == ftms.CharUUIDControlPoint:
		return p.respondFTMSLocked(data)
	case char.UUID == kingsmith.CharUUIDWrite:
		return p.respondKingSmithLocked(data)
	case len(data) >= 5 && data[0] == legacy.FrameStart:
		return p.respondLegacyLocked(data)
	}
	return nil
}

func (p *SimulatedPad) respondLegacyLocked(frame []byte) []MockReply {
	notify := legacy.KnownCharacteristicSets[0].NotifyUUID
	switch {
	case frame[1] == 0xA2 && frame[2] == 0x01:
		p.setSpeedLocked(int(frame[3]))
	case frame[1] == 0xA2 && frame[2] == 0x02:
		p.mode = model.ModeFromByte(frame[3])
	case frame[1] == 0xA2 && frame[2] == 0x04:
		p.startLocked()
	case frame[1] == 0xA7:
		return []MockReply{{CharacteristicUUID: notify, Data: legacy.EncodeLastRecord(p.lastRecord)}}
	}
	return []MockReply{{CharacteristicUUID: notify, Data: legacy.EncodeStatus(p.statusLocked())}}
}

func (p *SimulatedPad) respondFTMSLocked(data []byte) []MockReply {
	if len(data) == 0 {
		return nil
	}
	replies := []MockReply{{CharacteristicUUID: ftms.CharUUIDControlPoint, Data: ftms.EncodeResponse(data)}}
	status := func(ev model.MachineEvent) {
		replies = append(replies, MockReply{CharacteristicUUID: ftms.CharUUIDMachineStatus, Data: ftms.EncodeMachineStatus(ev)})
	}

	switch data[0] {
	case ftms.OpCodeRequestControl:
		p.hasControl = true
	case ftms.OpCodeStartOrResume:
		p.startLocked()
		status(model.MachineEvent{Kind: model.StartedByUser})
	case ftms.OpCodeSetTargetSpeed:
		if len(data) >= 3 {
			target := int(data[1]) | int(data[2])<<8
			p.setSpeedLocked(target / 10)
			status(model.MachineEvent{Kind: model.TargetSpeedChanged, TargetSpeed: target})
		}
	case ftms.OpCodeStopOrPause:
		p.stopLocked()
		if len(data) >= 2 && data[1] == 0x02 {
			status(model.MachineEvent{Kind: model.PausedByUser})
		} else {
			p.hasControl = false
			status(model.MachineEvent{Kind: model.StoppedByUser})
		}
	}
	return replies
}

func (p *SimulatedPad) respondKingSmithLocked(data []byte) []MockReply {
	sleep := kingsmith.Sleep()
	wake := kingsmith.Wake()
	switch {
	case bytes.Equal(data, sleep):
		p.stopLocked()
		p.sleeping = true
		p.mode = model.ModeStandby
	case bytes.Equal(data, wake):
		p.sleeping = false
		p.mode = model.ModeManual
	}
	return []MockReply{{CharacteristicUUID: kingsmith.CharUUIDNotify, Data: []byte{0x57, 0x4C, 0x56, data[0], 0x41, 0x54}}}
}

func (p *SimulatedPad) startLocked() {
	p.sleeping = false
	p.belt = model.BeltRunning
	if p.speed == 0 {
		p.speed = simDefaultStartSpeed
	}
}

func (p *SimulatedPad) setSpeedLocked(speed int) {
	if speed <= 0 {
		p.stopLocked()
		return
	}
	p.speed = speed
	p.belt = model.BeltRunning
}

func (p *SimulatedPad) stopLocked() {
	if p.belt.IsActive() {
		p.lastRecord = model.LastRecord{Time: int(p.elapsed), Distance: int(p.distanceKm * 100)}
	}
	p.belt = model.BeltIdle
	p.speed = 0
}

// PressButton simulates the handheld remote. On FTMS pads the belt change
// is reported as a machine status event.
func (p *SimulatedPad) PressButton() {
	p.mu.Lock()
	var ev model.MachineEvent
	if p.belt.IsActive() {
		p.stopLocked()
		ev = model.MachineEvent{Kind: model.StoppedByUser}
	} else {
		p.startLocked()
		ev = model.MachineEvent{Kind: model.StartedByUser}
	}
	p.mu.Unlock()

	if p.protocol == model.ProtocolFTMS {
		if err := p.transport.Notify(p.address, ftms.CharUUIDMachineStatus, ftms.EncodeMachineStatus(ev)); err != nil {
			p.logger.Printf("SimulatedPad: %v", err)
		}
	}
}

// Tick advances the session by d. FTMS pads push treadmill data; legacy
// pads wait to be asked.
func (p *SimulatedPad) Tick(d time.Duration) {
	p.mu.Lock()
	if p.belt.IsActive() {
		secs := d.Seconds()
		p.elapsed += secs
		p.distanceKm += float64(p.speed) / 10 * secs / 3600
		p.calories += float64(p.speed) * secs / 600
	}
	status := p.statusLocked()
	p.mu.Unlock()

	if p.protocol != model.ProtocolFTMS {
		return
	}
	data := ftms.EncodeTreadmillData(status.Speed*10, status.Distance*10, status.Calories, status.Time)
	if err := p.transport.Notify(p.address, ftms.CharUUIDTreadmillData, data); err != nil {
		p.logger.Printf("SimulatedPad: %v", err)
	}
}

// Run ticks every interval until Stop
func (p *SimulatedPad) Run(interval time.Duration) {
	p.mu.Lock()
	if p.tickRunning {
		p.mu.Unlock()
		return
	}
	p.tickRunning = true
	p.stopChan = make(chan struct{})
	stopChan := p.stopChan
	p.mu.Unlock()

	go_func_utils.SafeGoGroup(p.logger, &p.wg, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopChan:
				return
			case <-ticker.C:
				if p.transport.IsConnected(p.address) {
					p.Tick(interval)
				}
			}
		}
	})
}

func (p *SimulatedPad) Stop() {
	p.mu.Lock()
	if p.tickRunning {
		close(p.stopChan)
		p.tickRunning = false
	}
	p.mu.Unlock()
	p.wg.Wait()
}


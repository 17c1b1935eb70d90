package console

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/treadmill"
)

// SpeedStep is one +/- press, in tenths of km/h
const SpeedStep = 5

// Preferences is the persisted part of the console; *store.Store implements it
type Preferences interface {
	SetPreferredDevice(device model.Device) error
	PollStatus() bool
	SetPollStatus(enabled bool) error
}

// Actions turns key presses into treadmill commands
type Actions struct {
	model        *Model
	treadmill    Treadmill
	prefs        Preferences
	pollInterval time.Duration
	logger       *log.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewActions(m *Model, t Treadmill, prefs Preferences, pollInterval time.Duration, logger *log.Logger) *Actions {
	if m == nil {
		panic("ConsoleActions: model cannot be nil")
	}
	if t == nil {
		panic("ConsoleActions: treadmill cannot be nil")
	}
	if prefs == nil {
		panic("ConsoleActions: prefs cannot be nil")
	}
	if logger == nil {
		panic("ConsoleActions: logger cannot be nil")
	}
	if pollInterval <= 0 {
		pollInterval = treadmill.DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Actions{
		model:        m,
		treadmill:    t,
		prefs:        prefs,
		pollInterval: pollInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
	states := make(chan model.ConnectionState, 8)
	unregister := t.ListenToConnectionState(states)
	go_func_utils.SafeGoGroup(logger, &a.wg, func() {
		defer unregister()
		a.listenToReady(states)
	})
	return a
}

func (a *Actions) Shutdown() {
	a.logger.Println("ConsoleActions: Shutting down")
	a.cancel()
	a.wg.Wait()
	a.logger.Println("ConsoleActions: Shutdown complete")
}

// listenToReady remembers each treadmill that reaches Ready and resumes
// polling if it was left on
func (a *Actions) listenToReady(ch <-chan model.ConnectionState) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case state := <-ch:
			if state != model.Ready {
				continue
			}
			if device, ok := a.treadmill.Device(); ok {
				if err := a.prefs.SetPreferredDevice(device); err != nil {
					a.logger.Printf("ConsoleActions: saving preferred device failed: %v", err)
				}
			}
			if a.prefs.PollStatus() {
				a.startPolling()
			}
		}
	}
}

func (a *Actions) report(action string, err error) {
	if err != nil {
		a.logger.Printf("ConsoleActions: %s failed: %v", action, err)
	}
}

func (a *Actions) ToggleScan() {
	if a.treadmill.State() == model.Scanning {
		a.treadmill.StopScanning()
		return
	}
	a.treadmill.StartScanning()
}

// ConnectIndex connects to the index-th device of the scan list
func (a *Actions) ConnectIndex(index int) {
	devices := a.model.Snapshot().Devices
	if index < 0 || index >= len(devices) {
		a.logger.Printf("ConsoleActions: Index %d out of range (have %d devices)", index, len(devices))
		return
	}
	device := devices[index]
	a.logger.Printf("ConsoleActions: Connecting to %s (%s)", device.Name, device.ID)
	a.treadmill.Connect(device)
}

func (a *Actions) Disconnect() {
	a.treadmill.Disconnect()
	a.model.SetPolling(false)
}

// ToggleBelt stops a moving belt and starts an idle one
func (a *Actions) ToggleBelt() {
	status := a.model.Snapshot().Status
	if status != nil && status.BeltState.IsActive() {
		a.report("stop belt", a.treadmill.StopBelt())
		return
	}
	a.report("start belt", a.treadmill.StartBelt())
}

func (a *Actions) Pause() {
	a.report("pause belt", a.treadmill.PauseBelt())
}

func (a *Actions) SpeedUp() {
	a.changeSpeed(SpeedStep)
}

func (a *Actions) SpeedDown() {
	a.changeSpeed(-SpeedStep)
}

func (a *Actions) changeSpeed(delta int) {
	current := 0
	if status := a.model.Snapshot().Status; status != nil {
		current = status.Speed
	}
	target := min(max(current+delta, 0), treadmill.MaxSpeed)
	a.report("set speed", a.treadmill.SetSpeed(target))
}

func (a *Actions) Sleep() {
	a.report("sleep", a.treadmill.SleepDevice())
}

func (a *Actions) Wake() {
	a.report("wake", a.treadmill.WakeDevice())
}

// ToggleMode flips between manual and automatic belt control
func (a *Actions) ToggleMode() {
	next := model.ModeManual
	if status := a.model.Snapshot().Status; status != nil && status.Mode == model.ModeManual {
		next = model.ModeAuto
	}
	a.report("switch mode", a.treadmill.SwitchMode(next))
}

func (a *Actions) TogglePolling() {
	enabled := !a.treadmill.IsPolling()
	if enabled {
		a.startPolling()
	} else {
		a.treadmill.StopPolling()
		a.model.SetPolling(false)
	}
	a.report("save polling", a.prefs.SetPollStatus(enabled))
}

func (a *Actions) startPolling() {
	a.treadmill.StartPolling(a.pollInterval)
	a.model.SetPolling(a.treadmill.IsPolling())
}

func (a *Actions) Quit() {
	a.model.RequestCloseApplication()
}

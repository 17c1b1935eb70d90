// Package console is the terminal front end: a tview screen over a Model
// that mirrors the treadmill controller.
package console

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/go_func_utils"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
)

type View struct {
	logger  *log.Logger
	app     *tview.Application
	model   *Model
	actions *Actions

	deviceList     *tview.List
	connectionText *tview.TextView
	statusPanel    *tview.TextView
	footerText     *tview.TextView
	logView        *tview.TextView
	root           *tview.Flex
	devices        []model.Device

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewView(logger *log.Logger, app *tview.Application, m *Model, actions *Actions) *View {
	if logger == nil {
		panic("ConsoleView: logger cannot be nil")
	}
	if app == nil {
		panic("ConsoleView: app cannot be nil")
	}
	if m == nil {
		panic("ConsoleView: model cannot be nil")
	}
	if actions == nil {
		panic("ConsoleView: actions cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		logger:  logger,
		app:     app,
		model:   m,
		actions: actions,
		ctx:     ctx,
		cancel:  cancel,
	}
	v.initialize()
	v.setupKeyboardHandlers()
	v.setupEventListeners()
	return v
}

func (v *View) initialize() {
	// no SetChangedFunc with app.Draw: it hangs when lines arrive after Stop
	v.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	v.logView.SetBorder(true).SetTitle(" Logs ")

	instructions := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(helpText)

	v.deviceList = tview.NewList().
		ShowSecondaryText(false).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			v.logger.Printf("ConsoleView: Device selected: index=%d, text=%s", index, mainText)
			v.dispatch(func() { v.actions.ConnectIndex(index) })
		})
	v.deviceList.SetBorder(true).SetTitle(" Treadmills ")

	v.connectionText = tview.NewTextView().SetDynamicColors(true)
	v.connectionText.SetBorder(true).SetTitle(" Connection ")

	v.statusPanel = tview.NewTextView().SetDynamicColors(true)
	v.statusPanel.SetBorder(true).SetTitle(" Status ")

	v.footerText = tview.NewTextView().SetDynamicColors(true)

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.deviceList, 0, 1, true).
		AddItem(v.connectionText, 3, 0, false).
		AddItem(v.statusPanel, 0, 2, false)

	body := tview.NewFlex().
		AddItem(left, 0, 1, true).
		AddItem(v.logView, 0, 1, false)

	v.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructions, 2, 0, false).
		AddItem(body, 0, 1, true).
		AddItem(v.footerText, 1, 0, false)

	v.render(v.model.Snapshot())
}

func (v *View) setupKeyboardHandlers() {
	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			v.actions.Quit()
			return nil
		}
		if event.Key() != tcell.KeyRune {
			return event
		}
		action, ok := v.keyBindings()[event.Rune()]
		if !ok {
			return event
		}
		v.dispatch(action)
		return nil
	})
}

func (v *View) keyBindings() map[rune]func() {
	return map[rune]func(){
		's': v.actions.ToggleScan,
		'd': v.actions.Disconnect,
		' ': v.actions.ToggleBelt,
		'p': v.actions.Pause,
		'+': v.actions.SpeedUp,
		'=': v.actions.SpeedUp,
		'-': v.actions.SpeedDown,
		'z': v.actions.Sleep,
		'w': v.actions.Wake,
		'm': v.actions.ToggleMode,
		'r': v.actions.TogglePolling,
		'q': v.actions.Quit,
	}
}

// dispatch runs an action off the event loop; legacy writes wait out the
// command spacing and FTMS writes wait for the acknowledgement.
func (v *View) dispatch(action func()) {
	go_func_utils.SafeGoGroup(v.logger, &v.wg, action)
}

func (v *View) setupEventListeners() {
	snapshots := make(chan Snapshot, 1)
	unregisterSnapshots := v.model.ListenToSnapshot(snapshots)
	go_func_utils.SafeGoGroup(v.logger, &v.wg, func() {
		defer unregisterSnapshots()
		for {
			select {
			case <-v.ctx.Done():
				return
			case s := <-snapshots:
				v.app.QueueUpdateDraw(func() { v.render(s) })
			}
		}
	})

	logs := make(chan string, 1)
	unregisterLogs := v.model.ListenToLog(logs)
	go_func_utils.SafeGoGroup(v.logger, &v.wg, func() {
		defer unregisterLogs()
		for {
			select {
			case <-v.ctx.Done():
				return
			case <-logs:
				v.app.QueueUpdateDraw(v.updateLogDisplay)
			}
		}
	})

	closing := make(chan struct{}, 1)
	unregisterClose := v.model.ListenToCloseApplication(closing)
	go_func_utils.SafeGoGroup(v.logger, &v.wg, func() {
		defer unregisterClose()
		select {
		case <-v.ctx.Done():
		case <-closing:
			v.app.Stop()
		}
	})

	go_func_utils.SafeGoGroup(v.logger, &v.wg, func() { v.monitorLogResize() })
}

func (v *View) render(s Snapshot) {
	v.setDeviceList(s.Devices)
	v.connectionText.SetText(formatConnection(s))
	v.statusPanel.SetText(formatStatus(s))
	v.footerText.SetText(formatFooter(s))
}

// setDeviceList keeps the highlighted device selected across refreshes
func (v *View) setDeviceList(devices []model.Device) {
	var selected string
	if i := v.deviceList.GetCurrentItem(); i >= 0 && i < len(v.devices) {
		selected = v.devices[i].ID
	}
	v.devices = devices

	v.deviceList.Clear()
	selectedIdx := -1
	for i, device := range devices {
		if device.ID == selected {
			selectedIdx = i
		}
		v.deviceList.AddItem(formatDeviceName(device), "", 0, nil)
	}
	if selectedIdx > -1 {
		v.deviceList.SetCurrentItem(selectedIdx)
	}
}

func (v *View) updateLogDisplay() {
	_, _, _, height := v.logView.GetInnerRect()
	if height <= 0 {
		return
	}
	v.logView.Clear()
	for _, line := range v.model.GetLogTail(height) {
		if _, err := fmt.Fprint(v.logView, tview.Escape(line)); err != nil {
			v.logger.Printf("ConsoleView: Error writing to log view: %v", err)
		}
	}
}

func (v *View) monitorLogResize() {
	var lastHeight int
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			_, _, _, height := v.logView.GetInnerRect()
			if height != lastHeight && height > 0 {
				lastHeight = height
				v.app.QueueUpdateDraw(v.updateLogDisplay)
			}
		}
	}
}

// Run blocks until the user quits
func (v *View) Run() error {
	return v.app.SetRoot(v.root, true).SetFocus(v.deviceList).Run()
}

// Shutdown must follow Run: queued redraws block once the app has stopped
func (v *View) Shutdown() {
	v.logger.Println("ConsoleView: Shutting down")
	v.cancel()
	v.wg.Wait()
	v.logger.Println("ConsoleView: Shutdown complete")
}

package main

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/walkingpad/walkingpad-app/internal/bt"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/config"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/console"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/feed"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/logging"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/model"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/store"
	"github.com/lowaak/walkingpad/walkingpad-app/internal/treadmill"
)

const simulatedTick = time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	must("load config", err)
	must("validate config", cfg.Validate())

	// the console owns the terminal, so log lines go to the file and the log pane
	logLines := logging.NewLineWriter(256)
	logs, err := logging.New(cfg.LoggingOptions(), logLines)
	must("set up logging", err)
	defer logs.Close()
	logger := logs.Std

	transport, shutdownTransport := newTransport(cfg, logger)
	must("enable BLE stack", transport.Enable())

	controller := treadmill.NewController(transport, logger, treadmill.Options{
		ConnectTimeout: cfg.Connect.Timeout,
		CommandSpacing: cfg.Legacy.CommandSpacing,
		HandshakeDelay: cfg.KingSmith.HandshakeDelay,
	})

	prefs := store.New(cfg.State.File, logger)
	if device, ok := prefs.PreferredDevice(); ok && cfg.Scan.AutoConnect {
		logger.Printf("Main: auto-connecting to %s (%s) when seen", device.Name, device.ID)
		controller.SetAutoConnect(device.ID)
	}

	var feedServer *feed.Server
	if cfg.Feed.Listen != "" {
		feedServer = feed.New(controller, logger)
		feedServer.Start(cfg.Feed.Listen)
	}

	uiModel := console.NewModel(controller, logger, logLines.Lines())
	actions := console.NewActions(uiModel, controller, prefs, cfg.Poll.Interval, logger)
	view := console.NewView(logger, tview.NewApplication(), uiModel, actions)

	controller.StartScanning()
	runErr := view.Run()

	view.Shutdown()
	actions.Shutdown()
	uiModel.Shutdown()
	if feedServer != nil {
		feedServer.Shutdown()
	}
	controller.Shutdown()
	shutdownTransport()

	must("run console", runErr)
}

// newTransport returns the radio, or simulated pads behind the mock
// inspection page when mock mode is on
func newTransport(cfg *config.Config, logger *log.Logger) (bt.Transport, func()) {
	if !cfg.Mock.Enabled {
		t := bt.NewAdapterTransport(bluetooth.DefaultAdapter, logger)
		return t, t.Shutdown
	}

	m := bt.NewMockTransport(logger)
	pads := []*bt.SimulatedPad{
		bt.NewSimulatedPad(logger, m, "C0:FF:EE:00:00:01", "WalkingPad A1", model.ProtocolLegacy),
		bt.NewSimulatedPad(logger, m, "C0:FF:EE:00:00:02", "KS-HD-Z1D", model.ProtocolFTMS),
	}
	for _, pad := range pads {
		pad.Run(simulatedTick)
	}
	m.Start(cfg.Mock.Listen)
	logger.Printf("Main: mock mode, %d simulated treadmills, inspect at http://%s", len(pads), cfg.Mock.Listen)
	return m, m.Shutdown
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}

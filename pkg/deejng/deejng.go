// Package deejng implements the audio target resolution and control engine
// behind a hardware-fader volume mixer: it maps logical targets (application
// names, devices, sentinels) to live OS audio sessions, applies volume and
// mute changes to them, and routes OS-originated session events back to
// whichever on-screen control currently represents each target.
package deejng

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jimmyeao/DeejNG-sub001/pkg/deejng/util"
)

// DeejNG is the main entity managing all subcomponents
type DeejNG struct {
	logger    *zap.SugaredLogger
	notifier  Notifier
	configMan *ConfigManager
	engine    *Engine
	finder    SessionFinder

	runningWithTray bool
	stopChannel     chan bool
	version         string
	verbose         bool
}

func NewDeejNG(logger *zap.SugaredLogger, verbose bool) (*DeejNG, error) {
	logger = logger.Named("deejng")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	d := &DeejNG{
		logger:      logger,
		notifier:    notifier,
		configMan:   config,
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	logger.Debug("Created deejng instance")

	return d, nil
}

func (d *DeejNG) currConf() *Config {
	return &d.configMan.current
}

// Engine exposes the control engine to the presentation layer.
func (d *DeejNG) Engine() *Engine {
	return d.engine
}

// Initialize sets up components and starts to run in the background
func (d *DeejNG) Initialize() error {
	d.logger.Debug("Initializing")

	// load the config for the first time
	if err := d.configMan.Load(); err != nil {
		d.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	finder, err := newSessionFinder(d.logger)
	if err != nil {
		d.logger.Errorw("Failed to create SessionFinder", "error", err)
		return fmt.Errorf("create new SessionFinder: %w", err)
	}
	d.finder = finder

	engine, err := NewEngine(d.logger, finder, EngineParams{
		SessionRefreshInterval: d.currConf().SessionRefreshInterval(),
		ShowMasterFlyout:       d.currConf().AudioFlyout,
	})
	if err != nil {
		d.logger.Errorw("Failed to create engine", "error", err)
		return fmt.Errorf("create new engine: %w", err)
	}
	d.engine = engine

	d.engine.Start()
	d.warmUpMappedTargets()

	d.setupOnConfigReload()
	d.setupInterruptHandler()

	if d.currConf().DisableTray {
		d.logger.Debugw("Running without tray icon", "reason", "disabled in config")

		// run in main thread while waiting on ctrl+C
		d.run()
	} else {
		d.runningWithTray = true
		d.initializeTray(d.run)
	}

	return nil
}

// SetVersion causes deejng to add a version string to its tray menu if called before Initialize
func (d *DeejNG) SetVersion(version string) {
	d.version = version
}

// Verbose returns a boolean indicating whether deejng is running in verbose mode
func (d *DeejNG) Verbose() bool {
	return d.verbose
}

// warmUpMappedTargets resolves every configured process target once, so their
// sessions are cached and their event subscriptions exist before the first
// slider move. Sentinel and input-device targets resolve to fresh per-call
// handles the cache never owns, so warming them up would only leak handles.
func (d *DeejNG) warmUpMappedTargets() {
	d.currConf().SliderMapping.iterate(func(_ int, targets []Target) {
		for _, target := range targets {
			if target.IsSystem() || target.IsInputDevice ||
				target.IsBlank() || target.IsUnmapped() || target.IsCurrentWindow() {
				continue
			}

			if _, err := d.engine.Resolve(target); err != nil {
				d.logger.Debugw("Mapped target has no session yet",
					"target", target.NormalizedName())
			}
		}
	})
}

func (d *DeejNG) setupOnConfigReload() {
	configReloadedChannel := d.configMan.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			d.logger.Info("Detected config reload, re-acquiring all audio sessions")
			d.engine.InvalidateSessions()
			d.warmUpMappedTargets()
		}
	}()
}

func (d *DeejNG) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		d.logger.Debugw("Interrupted", "signal", signal)
		d.signalStop()
	}()
}

func (d *DeejNG) run() {
	defer d.recoverFromPanic()

	d.logger.Info("Run loop starting")

	go d.configMan.WatchConfigFileChanges()

	// wait until gracefully stopped
	<-d.stopChannel
	d.logger.Debug("Stop channel signaled, terminating")

	if err := d.stop(); err != nil {
		d.logger.Warnw("Failed to stop deejng", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

func (d *DeejNG) signalStop() {
	d.logger.Debug("Signalling stop channel")
	d.stopChannel <- true
}

func (d *DeejNG) stop() error {
	d.logger.Info("Stopping")

	d.configMan.StopWatchingConfigFile()

	// release the engine (stops event dispatch, releases all session handles)
	if err := d.engine.Release(); err != nil {
		d.logger.Errorw("Failed to release engine", "error", err)
		return fmt.Errorf("release engine: %w", err)
	}

	if d.runningWithTray {
		d.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = d.logger.Sync()

	return nil
}

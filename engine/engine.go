// Package engine ties the daemon together: it owns the mixer facade, the
// volume policy manager, the call/scenario state machine and the feature
// modules, and runs the single control loop every domain call executes on.
package engine

import (
	"context"
	"fmt"

	"github.com/chirpaudio/audiod/mixer"
	"github.com/chirpaudio/audiod/policy"
	"github.com/chirpaudio/audiod/scenario"
	"github.com/chirpaudio/audiod/settings"
	"github.com/chirpaudio/audiod/state"
	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"
)

// Config holds the engine's external collaborators. Nil platform
// collaborators (media control, display, vibrator, tones) default to
// logging no-ops.
type Config struct {
	Settings *settings.Settings

	// Legacy and Modern are the backend mixer adapters.
	Legacy mixer.Backend
	Modern mixer.Backend

	MediaCtl state.MediaController
	Display  state.DisplayController
	Vibrator state.Vibrator
	Tones    state.TonePlayer

	// OnProfileChanged is forwarded to the state machine.
	OnProfileChanged func(state.SoundProfile)

	// Logger returns a logger for the given subsystem tag.
	Logger func(subsys string) slog.Logger
}

// Engine is the application context.
type Engine struct {
	mix     *mixer.Mixer
	pol     *policy.Manager
	sm      *state.Machine
	prefs   *state.Prefs
	modules map[string]*scenario.AudioModule

	work chan func()
	log  slog.Logger
}

// New builds the full daemon object graph from settings.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = func(string) slog.Logger { return slog.Disabled }
	}
	log := logger("AUDD")

	e := &Engine{
		work: make(chan func(), 128),
		log:  log,
	}

	e.mix = mixer.New(mixer.Config{
		Legacy:         cfg.Legacy,
		Modern:         cfg.Modern,
		Dispatch:       e.Post,
		ModernSinks:    sinksFromNames(cfg.Settings.ModernSinks),
		ModernSources:  sourcesFromNames(cfg.Settings.ModernSources),
		RequestTimeout: cfg.Settings.RequestTimeout,
		Log:            logger("MIXR"),
	})

	sinkPolicies, err := policy.LoadSinkPolicies(cfg.Settings.SinkPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to load sink policies: %w", err)
	}
	sourcePolicies, err := policy.LoadSourcePolicies(cfg.Settings.SourcePolicyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to load source policies: %w", err)
	}
	e.pol, err = policy.New(policy.Config{
		Mixer:            e.mix,
		SinkPolicies:     sinkPolicies,
		SourcePolicies:   sourcePolicies,
		SinkConfigPath:   cfg.Settings.SinkPolicyFile,
		SourceConfigPath: cfg.Settings.SourcePolicyFile,
		Dispatch:         e.Post,
		Log:              logger("PLCY"),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to build policy manager: %w", err)
	}
	e.mix.AddObserver(e.pol)

	e.prefs = state.NewPrefs(cfg.Settings.PrefsFile, log)
	if err := e.prefs.Load(); err != nil {
		// A corrupt preference file falls back to defaults.
		log.Errorf("Preference load failed, using defaults: %v", err)
	}

	e.modules = defaultModules(e.mix, logger("STAT"))

	mediaCtl := cfg.MediaCtl
	if mediaCtl == nil {
		mediaCtl = noopMediaCtl{log: log}
	}
	display := cfg.Display
	if display == nil {
		display = noopDisplay{}
	}
	vibrator := cfg.Vibrator
	if vibrator == nil {
		vibrator = noopVibrator{log: log}
	}
	tones := cfg.Tones
	if tones == nil {
		tones = noopTones{log: log}
	}

	e.sm = state.New(state.Config{
		Mixer:            e.mix,
		Prefs:            e.prefs,
		Phone:            e.modules["phone"],
		Media:            e.modules["media"],
		Voice:            e.modules["voice"],
		Vvm:              e.modules["vvm"],
		System:           e.modules["system"],
		Ringtone:         e.modules["ringtone"],
		Timer:            e.modules["timer"],
		Alert:            e.modules["alert"],
		MediaCtl:         mediaCtl,
		Display:          display,
		Vibrator:         vibrator,
		Tones:            tones,
		OnProfileChanged: cfg.OnProfileChanged,
		Log:              logger("STAT"),
	})

	return e, nil
}

// Mixer returns the mixer facade.
func (e *Engine) Mixer() *mixer.Mixer { return e.mix }

// Policy returns the volume policy manager.
func (e *Engine) Policy() *policy.Manager { return e.pol }

// State returns the call/scenario state machine.
func (e *Engine) State() *state.Machine { return e.sm }

// Prefs returns the persistent preference table.
func (e *Engine) Prefs() *state.Prefs { return e.prefs }

// Module returns a feature module by name, or nil.
func (e *Engine) Module(name string) *scenario.AudioModule {
	return e.modules[name]
}

// Post queues a function onto the control loop. Safe from any goroutine.
func (e *Engine) Post(f func()) {
	e.work <- f
}

// Run executes the control loop and the policy config watcher until the
// context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case f := <-e.work:
				f()
			}
		}
	})

	g.Go(func() error {
		return e.pol.WatchConfig(gctx)
	})

	e.log.Infof("Engine running")
	return g.Wait()
}

func sinksFromNames(names []string) []mixer.VirtualSink {
	out := make([]mixer.VirtualSink, 0, len(names))
	for _, name := range names {
		if s := mixer.SinkFromName(name); s != mixer.SinkNone {
			out = append(out, s)
		}
	}
	return out
}

func sourcesFromNames(names []string) []mixer.VirtualSource {
	out := make([]mixer.VirtualSource, 0, len(names))
	for _, name := range names {
		if s := mixer.SourceFromName(name); s != mixer.SourceNone {
			out = append(out, s)
		}
	}
	return out
}

type noopMediaCtl struct{ log slog.Logger }

func (n noopMediaCtl) PauseAllMediaSaved()  { n.log.Debugf("Pause all media") }
func (n noopMediaCtl) ResumeAllMediaSaved() { n.log.Debugf("Resume saved media") }

type noopDisplay struct{}

func (noopDisplay) Wake() {}

type noopVibrator struct{ log slog.Logger }

func (n noopVibrator) Vibrate()       { n.log.Debugf("Vibrate") }
func (n noopVibrator) CancelVibrate() {}

type noopTones struct{ log slog.Logger }

func (n noopTones) PlayBusyTone() bool {
	n.log.Debugf("Busy tone")
	return true
}

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chirpaudio/audiod/internal/assert"
	"github.com/chirpaudio/audiod/internal/testutils"
	"github.com/chirpaudio/audiod/mixer"
	"github.com/chirpaudio/audiod/settings"
)

func newTestEngine(t *testing.T) (*Engine, context.CancelFunc) {
	t.Helper()

	root := t.TempDir()
	sinkCfg := filepath.Join(root, settings.SinkPolicyFilename)
	err := os.WriteFile(sinkCfg, []byte(`{"volumePolicy": [
		{"streamType": "media", "category": "media", "priority": 5,
		 "policyVolume": 80, "ramp": true, "sink": "pmedia"},
		{"streamType": "ringtone", "category": "media", "priority": 10,
		 "policyVolume": 90, "sink": "pringtones"}
	]}`), 0o600)
	assert.NilErr(t, err)
	sourceCfg := filepath.Join(root, settings.SourcePolicyFilename)
	err = os.WriteFile(sourceCfg, []byte(`{"volumePolicy": [
		{"streamType": "recording", "category": "capture", "priority": 5,
		 "policyVolume": 70, "source": "record"}
	]}`), 0o600)
	assert.NilErr(t, err)

	cfg := settings.New()
	cfg.Root = root
	cfg.PrefsFile = filepath.Join(root, settings.PrefsFilename)
	cfg.SinkPolicyFile = sinkCfg
	cfg.SourcePolicyFile = sourceCfg

	tlb := testutils.NewTestLogBackend(t)
	logger := tlb.Loggers()

	legacy := mixer.NewNullBackend(mixer.LegacyBackend, nil, logger("MIXR"))
	modern := mixer.NewNullBackend(mixer.ModernBackend, nil, logger("MIXR"))

	e, err := New(Config{
		Settings: cfg,
		Legacy:   legacy,
		Modern:   modern,
		Logger:   logger,
	})
	assert.NilErr(t, err)

	legacy.Start(e.Mixer().EventSink(mixer.LegacyBackend))
	modern.Start(e.Mixer().EventSink(mixer.ModernBackend))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		err := e.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected run error: %v", err)
		}
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return e, cancel
}

// TestEngineBuildsGraph asserts the object graph comes up from settings
// and the control loop executes posted work.
func TestEngineBuildsGraph(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, name := range []string{"phone", "media", "voice", "vvm",
		"system", "ringtone", "timer", "alert"} {
		if e.Module(name) == nil {
			t.Fatalf("missing module %q", name)
		}
	}

	// A volume set posted onto the control loop goes through the whole
	// stack.
	errC := make(chan error, 1)
	e.Post(func() {
		errC <- e.Policy().SetVolume(mixer.SinkMedia, 42, false)
	})
	assert.NilErr(t, assert.ChanWritten(t, errC))

	volC := make(chan int, 1)
	e.Post(func() {
		vol, err := e.Policy().CurrentVolume("media")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		volC <- vol
	})
	assert.EqualInts(t, assert.ChanWritten(t, volC), 42)
}

// TestEngineMissingPolicyConfig asserts a bad policy config path fails
// engine construction.
func TestEngineMissingPolicyConfig(t *testing.T) {
	cfg := settings.New()
	cfg.Root = t.TempDir()
	cfg.SinkPolicyFile = filepath.Join(cfg.Root, "nope.json")
	cfg.SourcePolicyFile = filepath.Join(cfg.Root, "nope2.json")
	cfg.PrefsFile = filepath.Join(cfg.Root, settings.PrefsFilename)

	_, err := New(Config{
		Settings: cfg,
		Legacy:   mixer.NewNullBackend(mixer.LegacyBackend, nil, nil),
		Modern:   mixer.NewNullBackend(mixer.ModernBackend, nil, nil),
	})
	assert.NonNilErr(t, err)
}

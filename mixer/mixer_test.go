package mixer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chirpaudio/audiod/internal/assert"
)

// spyBackend records every command issued to it.
type spyBackend struct {
	kind     BackendKind
	cmds     []string
	rejectOK bool // when set, async commands are rejected synchronously
}

func (b *spyBackend) record(cmd string) bool {
	b.cmds = append(b.cmds, cmd)
	return true
}

func (b *spyBackend) Kind() BackendKind { return b.kind }

func (b *spyBackend) Connect(sourceName, physicalSinkName string, id RequestID) bool {
	if b.rejectOK {
		return false
	}
	return b.record("connect")
}

func (b *spyBackend) Disconnect(sourceName, physicalSinkName string, id RequestID) bool {
	if b.rejectOK {
		return false
	}
	return b.record("disconnect")
}

func (b *spyBackend) ProgramSinkVolume(sink VirtualSink, volume int, ramp bool) bool {
	return b.record("sinkVolume")
}

func (b *spyBackend) ProgramSourceVolume(source VirtualSource, volume int, ramp bool) bool {
	return b.record("sourceVolume")
}

func (b *spyBackend) ProgramTrackVolume(sink VirtualSink, sinkIndex, volume int, ramp bool) bool {
	return b.record("trackVolume")
}

func (b *spyBackend) ProgramSinkMute(sink VirtualSink, mute bool) bool {
	return b.record("sinkMute")
}

func (b *spyBackend) ProgramSourceMute(source VirtualSource, mute bool) bool {
	return b.record("sourceMute")
}

func (b *spyBackend) ProgramSinkDestination(sink VirtualSink, destination string) bool {
	return b.record("sinkDestination")
}

func (b *spyBackend) ProgramSourceDestination(source VirtualSource, destination string) bool {
	return b.record("sourceDestination")
}

func (b *spyBackend) ProgramHeadsetRoute(plugged bool) bool {
	return b.record("headsetRoute")
}

func (b *spyBackend) SuspendAll() bool { return b.record("suspendAll") }
func (b *spyBackend) MuteAll() bool    { return b.record("muteAll") }

func (b *spyBackend) SuspendSink(sink VirtualSink) bool {
	return b.record("suspendSink")
}

func newTestMixer(t *testing.T, cfg Config) (*Mixer, *spyBackend, *spyBackend) {
	t.Helper()
	legacy := &spyBackend{kind: LegacyBackend}
	modern := &spyBackend{kind: ModernBackend}
	cfg.Legacy = legacy
	cfg.Modern = modern
	return New(cfg), legacy, modern
}

func makeReady(m *Mixer) {
	m.EventSink(LegacyBackend).MixerReady(true)
	m.EventSink(ModernBackend).MixerReady(true)
}

// TestProgramFailsFastUntilReady asserts that no command reaches a backend
// until both backends reported ready.
func TestProgramFailsFastUntilReady(t *testing.T) {
	m, legacy, modern := newTestMixer(t, Config{})

	assert.BoolIs(t, m.ProgramVolume(SinkMedia, 50, false), false)
	assert.BoolIs(t, m.MuteSink(SinkMedia, true), false)
	assert.BoolIs(t, m.ProgramHeadsetRoute(true), false)
	assert.BoolIs(t, m.Connect("rtp", "headset", nil), false)
	assert.EqualInts(t, len(legacy.cmds), 0)
	assert.EqualInts(t, len(modern.cmds), 0)

	// One ready backend is not enough.
	m.EventSink(LegacyBackend).MixerReady(true)
	assert.BoolIs(t, m.ProgramVolume(SinkMedia, 50, false), false)
	assert.EqualInts(t, len(legacy.cmds), 0)

	m.EventSink(ModernBackend).MixerReady(true)
	assert.BoolIs(t, m.ProgramVolume(SinkMedia, 50, false), true)
	assert.EqualInts(t, len(legacy.cmds), 1)
}

// TestBackendOwnership asserts the backend assignment made when a stream
// opens directs later commands, and clears when the last stream closes.
func TestBackendOwnership(t *testing.T) {
	m, legacy, modern := newTestMixer(t, Config{})
	makeReady(m)

	// Open two streams on the modern backend.
	events := m.EventSink(ModernBackend)
	events.OutputStreamOpened(SinkMedia, 1, "", "app1")
	events.OutputStreamOpened(SinkMedia, 2, "", "app2")

	assert.BoolIs(t, m.IsStreamActive(SinkMedia), true)
	assert.Contains(t, m.ActiveStreams(), SinkMedia)

	m.ProgramVolume(SinkMedia, 80, false)
	assert.EqualInts(t, len(modern.cmds), 1)
	assert.EqualInts(t, len(legacy.cmds), 0)

	// Still owned after the first close.
	events.OutputStreamClosed(SinkMedia, 1, "", "app1")
	m.ProgramVolume(SinkMedia, 70, false)
	assert.EqualInts(t, len(modern.cmds), 2)

	// Last close clears ownership; commands fall back to the default
	// (legacy) backend.
	events.OutputStreamClosed(SinkMedia, 2, "", "app2")
	assert.BoolIs(t, m.IsStreamActive(SinkMedia), false)
	m.ProgramVolume(SinkMedia, 60, false)
	assert.EqualInts(t, len(legacy.cmds), 1)
}

// TestDefaultModernSinks asserts configured modern sinks route to the
// modern backend before any stream of theirs has been opened.
func TestDefaultModernSinks(t *testing.T) {
	m, legacy, modern := newTestMixer(t, Config{
		ModernSinks: []VirtualSink{SinkVoIP},
	})
	makeReady(m)

	m.ProgramVolume(SinkVoIP, 50, false)
	assert.EqualInts(t, len(modern.cmds), 1)

	m.ProgramVolume(SinkMedia, 50, false)
	assert.EqualInts(t, len(legacy.cmds), 1)
}

// TestSinkInputTracking asserts multi-instance sink-inputs are tracked by
// index and dropped on close.
func TestSinkInputTracking(t *testing.T) {
	m, _, _ := newTestMixer(t, Config{})
	makeReady(m)

	events := m.EventSink(LegacyBackend)
	events.OutputStreamOpened(SinkDefaultApp, 7, "_track7", "browser")
	events.OutputStreamOpened(SinkDefaultApp, 9, "", "player")

	inputs := m.SinkInputs(SinkDefaultApp)
	assert.EqualInts(t, len(inputs), 2)
	assert.DeepEqual(t, inputs[7], SinkInput{AppName: "browser", TrackID: "_track7"})

	events.OutputStreamClosed(SinkDefaultApp, 7, "_track7", "browser")
	inputs = m.SinkInputs(SinkDefaultApp)
	assert.EqualInts(t, len(inputs), 1)
}

// TestConnectEnvelopeResolution asserts a pending connect resolves exactly
// once, with later completions for the same id dropped.
func TestConnectEnvelopeResolution(t *testing.T) {
	m, _, _ := newTestMixer(t, Config{})
	makeReady(m)

	results := make(chan Result, 2)
	ok := m.Connect("rtp", "headset", func(r Result) { results <- r })
	assert.BoolIs(t, ok, true)

	events := m.EventSink(LegacyBackend)
	payload := json.RawMessage(`{"returnValue":true}`)
	events.RequestCompleted(1, payload)

	r := assert.ChanWritten(t, results)
	assert.BoolIs(t, r.Success, true)

	// Duplicate completion is dropped.
	events.RequestCompleted(1, payload)
	assert.ChanNotWritten(t, results, 50*time.Millisecond)
}

// TestConnectMalformedReply asserts a reply that does not decode fails the
// request with a generic internal error.
func TestConnectMalformedReply(t *testing.T) {
	m, _, _ := newTestMixer(t, Config{})
	makeReady(m)

	results := make(chan Result, 1)
	m.Connect("rtp", "headset", func(r Result) { results <- r })
	m.EventSink(LegacyBackend).RequestCompleted(1, json.RawMessage(`not json`))

	r := assert.ChanWritten(t, results)
	assert.BoolIs(t, r.Success, false)
	if r.ErrMsg == "" {
		t.Fatal("expected an error message on malformed reply")
	}
}

// TestConnectTimeout asserts an unanswered request is failed after the
// configured deadline.
func TestConnectTimeout(t *testing.T) {
	m, _, _ := newTestMixer(t, Config{RequestTimeout: 10 * time.Millisecond})
	makeReady(m)

	results := make(chan Result, 1)
	m.Connect("rtp", "headset", func(r Result) { results <- r })

	r := assert.ChanWritten(t, results)
	assert.BoolIs(t, r.Success, false)
	if r.ErrMsg == "" {
		t.Fatal("expected an error message on timeout")
	}
}

// TestConnectSyncReject asserts a synchronously rejected command leaves no
// pending request and never calls done.
func TestConnectSyncReject(t *testing.T) {
	m, legacy, _ := newTestMixer(t, Config{})
	makeReady(m)
	legacy.rejectOK = true

	results := make(chan Result, 1)
	ok := m.Connect("rtp", "headset", func(r Result) { results <- r })
	assert.BoolIs(t, ok, false)
	assert.EqualInts(t, len(m.pending), 0)
	assert.ChanNotWritten(t, results, 50*time.Millisecond)
}

// TestBackendShutdownClosesOwnedStreams asserts a backend that reports not
// ready force-closes only its own streams.
func TestBackendShutdownClosesOwnedStreams(t *testing.T) {
	m, _, _ := newTestMixer(t, Config{})
	makeReady(m)

	m.EventSink(ModernBackend).OutputStreamOpened(SinkVoIP, -1, "", "")
	m.EventSink(LegacyBackend).OutputStreamOpened(SinkMedia, -1, "", "")

	m.EventSink(ModernBackend).MixerReady(false)

	assert.BoolIs(t, m.IsStreamActive(SinkVoIP), false)
	assert.BoolIs(t, m.IsStreamActive(SinkMedia), true)
	assert.BoolIs(t, m.ReadyToProgram(), false)
}

// spyObserver records normalized sink events.
type spyObserver struct {
	sinkEvents []string
}

func (o *spyObserver) SinkStatus(sink VirtualSink, status StreamStatus,
	backend BackendKind, sinkIndex int, appName string) {
	o.sinkEvents = append(o.sinkEvents, sink.String()+":"+status.String())
}

func (o *spyObserver) SourceStatus(source VirtualSource, status StreamStatus,
	backend BackendKind) {
}

func (o *spyObserver) MixerStatus(ready bool, backend BackendKind)           {}
func (o *spyObserver) DeviceConnectionStatus(deviceName, detail, st string) {}

// TestStreamOpenFailure asserts a failed stream open reaches the
// observers as a failure without ever entering the active set.
func TestStreamOpenFailure(t *testing.T) {
	m, _, _ := newTestMixer(t, Config{})
	makeReady(m)

	obs := &spyObserver{}
	m.AddObserver(obs)

	m.EventSink(LegacyBackend).OutputStreamFailed(SinkDefaultApp, 7, "_track7", "browser")

	assert.BoolIs(t, m.IsStreamActive(SinkDefaultApp), false)
	assert.EqualInts(t, len(m.SinkInputs(SinkDefaultApp)), 0)
	assert.Contains(t, obs.sinkEvents,
		SinkDefaultApp.String()+":"+StreamFailed.String())
}

// TestEndpointNameRoundTrip asserts the sink/source name mappings agree
// with their parsers.
func TestEndpointNameRoundTrip(t *testing.T) {
	for s := firstSink; s <= lastSink; s++ {
		assert.DeepEqual(t, SinkFromName(s.String()), s)
	}
	assert.DeepEqual(t, SinkFromName("bogus"), SinkNone)
	for s := firstSource; s <= lastSource; s++ {
		assert.DeepEqual(t, SourceFromName(s.String()), s)
	}
	assert.DeepEqual(t, SourceFromName("bogus"), SourceNone)
}

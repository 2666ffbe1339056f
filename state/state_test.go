package state

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chirpaudio/audiod/internal/assert"
	"github.com/chirpaudio/audiod/mixer"
	"github.com/chirpaudio/audiod/scenario"
)

// fakeModule records every call made by the state machine.
type fakeModule struct {
	name    string
	calls   []string
	enabled map[string]bool
	current string
	muted   bool
}

func newFakeModule(name, current string) *fakeModule {
	return &fakeModule{
		name:    name,
		current: current,
		enabled: map[string]bool{current: true},
	}
}

func (m *fakeModule) EnableScenario(name string) bool {
	m.calls = append(m.calls, "enable:"+name)
	m.enabled[name] = true
	return true
}

func (m *fakeModule) DisableScenario(name string) bool {
	m.calls = append(m.calls, "disable:"+name)
	delete(m.enabled, name)
	return true
}

func (m *fakeModule) SetCurrentScenarioByPriority() bool {
	m.calls = append(m.calls, "reselect")
	return true
}

func (m *fakeModule) MakeCurrent() bool {
	m.calls = append(m.calls, "makeCurrent")
	return true
}

func (m *fakeModule) Release() {
	m.calls = append(m.calls, "release")
}

func (m *fakeModule) SendChangedUpdate(kind scenario.ChangeKind) bool {
	m.calls = append(m.calls, "changed:"+kind.String())
	return true
}

func (m *fakeModule) CurrentScenarioName() string { return m.current }

func (m *fakeModule) ProgramMuted() {
	m.calls = append(m.calls, "programMuted")
}

func (m *fakeModule) ProgramSoftwareMixer(ramp bool) bool {
	m.calls = append(m.calls, "programSoftwareMixer")
	return true
}

func (m *fakeModule) IsMuted() bool { return m.muted }

// count returns how many recorded calls equal the given value.
func (m *fakeModule) count(call string) int {
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

// indexOf returns the position of the first recorded call equal to the
// given value, or -1.
func (m *fakeModule) indexOf(call string) int {
	for i, c := range m.calls {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeMediaCtl struct{ pauses, resumes int }

func (c *fakeMediaCtl) PauseAllMediaSaved()  { c.pauses++ }
func (c *fakeMediaCtl) ResumeAllMediaSaved() { c.resumes++ }

type fakeDisplay struct{ wakes int }

func (d *fakeDisplay) Wake() { d.wakes++ }

type fakeVibrator struct{ vibes int }

func (v *fakeVibrator) Vibrate()       { v.vibes++ }
func (v *fakeVibrator) CancelVibrate() {}

type fakeTones struct{ busy int }

func (f *fakeTones) PlayBusyTone() bool {
	f.busy++
	return true
}

type testHarness struct {
	sm       *Machine
	phone    *fakeModule
	media    *fakeModule
	voice    *fakeModule
	vvm      *fakeModule
	system   *fakeModule
	ringtone *fakeModule
	timer    *fakeModule
	alert    *fakeModule
	mediaCtl *fakeMediaCtl
	display  *fakeDisplay
	vibrator *fakeVibrator
	tones    *fakeTones
	prefs    *Prefs
	profiles []SoundProfile
}

func newTestMachine(t *testing.T) *testHarness {
	t.Helper()

	legacy := mixer.NewNullBackend(mixer.LegacyBackend, nil, nil)
	modern := mixer.NewNullBackend(mixer.ModernBackend, nil, nil)
	mix := mixer.New(mixer.Config{Legacy: legacy, Modern: modern})
	legacy.Start(mix.EventSink(mixer.LegacyBackend))
	modern.Start(mix.EventSink(mixer.ModernBackend))

	h := &testHarness{
		phone:    newFakeModule("phone", scenario.PhoneFrontSpeaker),
		media:    newFakeModule("media", scenario.MediaSpeaker),
		voice:    newFakeModule("voice", scenario.VoiceCommandSpeaker),
		vvm:      newFakeModule("vvm", scenario.VvmSpeaker),
		system:   newFakeModule("system", "system_speaker"),
		ringtone: newFakeModule("ringtone", "ringtone_speaker"),
		timer:    newFakeModule("timer", "timer_speaker"),
		alert:    newFakeModule("alert", "alert_speaker"),
		mediaCtl: &fakeMediaCtl{},
		display:  &fakeDisplay{},
		vibrator: &fakeVibrator{},
		tones:    &fakeTones{},
		prefs:    NewPrefs(filepath.Join(t.TempDir(), "prefs.json"), nil),
	}
	h.sm = New(Config{
		Mixer:    mix,
		Prefs:    h.prefs,
		Phone:    h.phone,
		Media:    h.media,
		Voice:    h.voice,
		Vvm:      h.vvm,
		System:   h.system,
		Ringtone: h.ringtone,
		Timer:    h.timer,
		Alert:    h.alert,
		MediaCtl: h.mediaCtl,
		Display:  h.display,
		Vibrator: h.vibrator,
		Tones:    h.tones,
		OnProfileChanged: func(p SoundProfile) {
			h.profiles = append(h.profiles, p)
		},
	})
	return h
}

// TestVoIPCallLifecycle asserts one incoming-to-disconnected VoIP call
// pauses media exactly once and resumes it exactly once.
func TestVoIPCallLifecycle(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetCallState(CallModeVoIP, CallIncoming)
	assert.BoolIs(t, h.sm.IncomingCallActive(), true)
	assert.EqualInts(t, h.mediaCtl.pauses, 1)

	h.sm.SetCallState(CallModeVoIP, CallActive)
	assert.BoolIs(t, h.sm.OnActiveCall(), true)
	assert.BoolIs(t, h.sm.IncomingCallActive(), false)
	assert.DeepEqual(t, h.sm.CallMode(), CallModeVoIP)
	assert.EqualInts(t, h.mediaCtl.pauses, 1)
	assert.EqualInts(t, h.phone.count("makeCurrent"), 1)
	assert.EqualInts(t, h.media.count("release"), 1)

	h.sm.SetCallState(CallModeVoIP, CallDisconnected)
	assert.BoolIs(t, h.sm.OnActiveCall(), false)
	assert.DeepEqual(t, h.sm.CallMode(), CallModeNone)
	assert.EqualInts(t, h.mediaCtl.resumes, 1)
	assert.EqualInts(t, h.media.count("makeCurrent"), 1)
	assert.EqualInts(t, h.phone.count("release"), 1)
	assert.EqualInts(t, h.phone.count("reselect"), 1)
}

// spyProgrammer records destination programming per virtual sink.
type spyProgrammer struct{ routes []string }

func (p *spyProgrammer) ProgramVolume(sink mixer.VirtualSink, volume int, ramp bool) bool {
	return true
}

func (p *spyProgrammer) MuteSink(sink mixer.VirtualSink, mute bool) bool {
	return true
}

func (p *spyProgrammer) ProgramDestination(sink mixer.VirtualSink, destination string) bool {
	p.routes = append(p.routes, sink.String()+"->"+destination)
	return true
}

// TestCallEndRevokesPhoneRouting asserts the phone module stops
// programming hardware once its call ends: a headset plug while idle
// must reroute media only, not the released call-voice sink.
func TestCallEndRevokesPhoneRouting(t *testing.T) {
	legacy := mixer.NewNullBackend(mixer.LegacyBackend, nil, nil)
	modern := mixer.NewNullBackend(mixer.ModernBackend, nil, nil)
	mix := mixer.New(mixer.Config{Legacy: legacy, Modern: modern})
	legacy.Start(mix.EventSink(mixer.LegacyBackend))
	modern.Start(mix.EventSink(mixer.ModernBackend))

	prog := &spyProgrammer{}
	phone := scenario.NewModule(scenario.ModuleConfig{
		Name: "phone",
		Sink: mixer.SinkCallVoice,
		Scenarios: []scenario.ScenarioSpec{
			{Name: scenario.PhoneFrontSpeaker, Priority: 40,
				Destination: "front_speaker", Volume: 60},
			{Name: scenario.PhoneHeadset, Priority: 70,
				Destination: "headset", Volume: 50},
		},
		InitialScenario: scenario.PhoneFrontSpeaker,
		Programmer:      prog,
	})
	media := scenario.NewModule(scenario.ModuleConfig{
		Name: "media",
		Sink: mixer.SinkMedia,
		Scenarios: []scenario.ScenarioSpec{
			{Name: scenario.MediaSpeaker, Priority: 30,
				Destination: "back_speaker", Volume: 60},
			{Name: scenario.MediaHeadset, Priority: 70,
				Destination: "headset", Volume: 50},
		},
		InitialScenario: scenario.MediaSpeaker,
		Programmer:      prog,
	})

	sm := New(Config{
		Mixer:    mix,
		Prefs:    NewPrefs(filepath.Join(t.TempDir(), "prefs.json"), nil),
		Phone:    phone,
		Media:    media,
		Voice:    newFakeModule("voice", scenario.VoiceCommandSpeaker),
		Vvm:      newFakeModule("vvm", scenario.VvmSpeaker),
		System:   newFakeModule("system", "system_speaker"),
		Ringtone: newFakeModule("ringtone", "ringtone_speaker"),
		Timer:    newFakeModule("timer", "timer_speaker"),
		Alert:    newFakeModule("alert", "alert_speaker"),
		MediaCtl: &fakeMediaCtl{},
		Display:  &fakeDisplay{},
		Vibrator: &fakeVibrator{},
		Tones:    &fakeTones{},
	})

	sm.SetCallState(CallModeVoIP, CallActive)
	sm.SetCallState(CallModeVoIP, CallDisconnected)

	prog.routes = nil
	sm.SetHeadsetState(Headset)

	rerouted := false
	for _, r := range prog.routes {
		if strings.HasPrefix(r, mixer.SinkCallVoice.String()+"->") {
			t.Fatalf("released phone module programmed %s", r)
		}
		if r == mixer.SinkMedia.String()+"->headset" {
			rerouted = true
		}
	}
	if !rerouted {
		t.Fatalf("media not rerouted to headset: %v", prog.routes)
	}
}

// TestNumVoIPClamp asserts surplus disconnects cannot drive the VoIP call
// count negative.
func TestNumVoIPClamp(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetCallState(CallModeVoIP, CallDisconnected)
	h.sm.SetCallState(CallModeVoIP, CallDisconnected)
	assert.BoolIs(t, h.sm.OnActiveCall(), false)

	// A new call still works after the surplus disconnects.
	h.sm.SetCallState(CallModeVoIP, CallActive)
	assert.BoolIs(t, h.sm.OnActiveCall(), true)
	h.sm.SetCallState(CallModeVoIP, CallDisconnected)
	assert.BoolIs(t, h.sm.OnActiveCall(), false)
}

// TestTwoVoIPCalls asserts the VoIP leg only clears once every VoIP call
// disconnected.
func TestTwoVoIPCalls(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetCallState(CallModeVoIP, CallDialing)
	h.sm.SetCallState(CallModeVoIP, CallActive)
	h.sm.SetCallState(CallModeVoIP, CallDialing)

	h.sm.SetCallState(CallModeVoIP, CallDisconnected)
	assert.BoolIs(t, h.sm.OnActiveCall(), true)
	h.sm.SetCallState(CallModeVoIP, CallDisconnected)
	assert.BoolIs(t, h.sm.OnActiveCall(), false)
}

// TestBusyToneOnOverlap asserts an incoming VoIP call during an active
// carrier call plays a local busy tone instead of raising incoming state.
func TestBusyToneOnOverlap(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetCallState(CallModeCarrier, CallActive)
	assert.BoolIs(t, h.sm.OnActiveCall(), true)

	h.sm.SetCallState(CallModeVoIP, CallIncoming)
	assert.EqualInts(t, h.tones.busy, 1)
	assert.BoolIs(t, h.sm.IncomingCallActive(), false)

	// Carrier stays the call mode.
	assert.DeepEqual(t, h.sm.CallMode(), CallModeCarrier)
}

// TestHeadsetTransition asserts a headset swap enables the new state's
// scenarios on all four scenario modules before disabling the previous
// state's, and preserves a non-off TTY mode.
func TestHeadsetTransition(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetHeadsetState(Headset)
	h.sm.SetTTYMode(TTYFull)
	assert.EqualInts(t, h.phone.count("enable:"+scenario.PhoneTTYFull), 1)

	h.sm.SetHeadsetState(HeadsetMic)

	mods := []struct {
		mod          *fakeModule
		enable, prev string
	}{
		{h.phone, scenario.PhoneHeadsetMic, scenario.PhoneHeadset},
		{h.media, scenario.MediaHeadsetMic, scenario.MediaHeadset},
		{h.voice, scenario.VoiceCommandHeadsetMic, scenario.VoiceCommandHeadset},
		{h.vvm, scenario.VvmHeadsetMic, scenario.VvmHeadset},
	}
	for _, tc := range mods {
		enableIdx := tc.mod.indexOf("enable:" + tc.enable)
		disableIdx := tc.mod.indexOf("disable:" + tc.prev)
		if enableIdx < 0 || disableIdx < 0 {
			t.Fatalf("module %s missing transition calls: %v",
				tc.mod.name, tc.mod.calls)
		}
		if enableIdx > disableIdx {
			t.Fatalf("module %s disabled %s before enabling %s",
				tc.mod.name, tc.prev, tc.enable)
		}
	}

	// TTY survived the swap.
	assert.BoolIs(t, h.phone.enabled[scenario.PhoneTTYFull], true)
	assert.DeepEqual(t, h.sm.TTYMode(), TTYFull)

	// Wired states wake the display.
	assert.EqualInts(t, h.display.wakes, 2)
}

// TestHeadsetRemovalDisablesTTY asserts unplugging disables both the
// headset and TTY scenarios.
func TestHeadsetRemovalDisablesTTY(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetHeadsetState(Headset)
	h.sm.SetTTYMode(TTYHCO)
	h.sm.SetHeadsetState(HeadsetNone)

	assert.BoolIs(t, h.phone.enabled[scenario.PhoneHeadset], false)
	assert.BoolIs(t, h.phone.enabled[scenario.PhoneTTYHCO], false)
	// Mode is remembered for the next plug.
	assert.DeepEqual(t, h.sm.TTYMode(), TTYHCO)
}

// TestTTYGatedOnHeadset asserts TTY mode changes only touch scenarios
// while a headset is plugged.
func TestTTYGatedOnHeadset(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetTTYMode(TTYFull)
	assert.EqualInts(t, h.phone.count("enable:"+scenario.PhoneTTYFull), 0)
	assert.DeepEqual(t, h.sm.TTYMode(), TTYFull)

	// Unchanged mode is a no-op.
	calls := len(h.phone.calls)
	h.sm.SetTTYMode(TTYFull)
	assert.EqualInts(t, len(h.phone.calls), calls)

	// Plugging applies the remembered mode, exactly one TTY scenario
	// enabled.
	h.sm.SetHeadsetState(Headset)
	assert.BoolIs(t, h.phone.enabled[scenario.PhoneTTYFull], true)
	assert.BoolIs(t, h.phone.enabled[scenario.PhoneTTYHCO], false)
	assert.BoolIs(t, h.phone.enabled[scenario.PhoneTTYVCO], false)
}

// TestRingerBroadcast asserts flipping the ringer persists the switch,
// reprograms the current module and reaches all broadcast modules once.
func TestRingerBroadcast(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetRingerOn(false)
	assert.BoolIs(t, h.prefs.GetBool(PrefRingerOn), false)
	assert.EqualInts(t, h.media.count("programSoftwareMixer"), 1)

	broadcast := []*fakeModule{h.phone, h.media, h.ringtone, h.system,
		h.timer, h.alert}
	for _, mod := range broadcast {
		assert.EqualInts(t, mod.count("changed:ringer"), 1)
	}

	// Vibrate fallback: ringer off + vibrateWhenRingerOff default true.
	assert.EqualInts(t, h.vibrator.vibes, 1)

	// Repeating the position is a no-op.
	h.sm.SetRingerOn(false)
	assert.EqualInts(t, h.media.count("changed:ringer"), 1)

	// Turning the ringer on never vibrates.
	h.sm.SetRingerOn(true)
	assert.EqualInts(t, h.vibrator.vibes, 1)
}

// TestRingerVibrateSuppressedOnCall asserts no vibration while on a call
// routed through a speaker or headset scenario.
func TestRingerVibrateSuppressedOnCall(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetCallState(CallModeCarrier, CallActive)
	h.phone.current = scenario.PhoneFrontSpeaker
	h.sm.SetRingerOn(false)
	assert.EqualInts(t, h.vibrator.vibes, 0)
}

// TestSliderEdgeBroadcast asserts only transitions into or out of the open
// position broadcast.
func TestSliderEdgeBroadcast(t *testing.T) {
	h := newTestMachine(t)

	h.sm.SetSliderState(SliderOpening)
	assert.EqualInts(t, h.media.count("changed:slider"), 0)

	h.sm.SetSliderState(SliderOpen)
	assert.EqualInts(t, h.media.count("changed:slider"), 1)

	h.sm.SetSliderState(SliderOpening)
	assert.EqualInts(t, h.media.count("changed:slider"), 2)

	h.sm.SetSliderState(SliderClosed)
	assert.EqualInts(t, h.media.count("changed:slider"), 2)

	// Unchanged position is a no-op.
	h.sm.SetSliderState(SliderClosed)
	assert.EqualInts(t, h.media.count("changed:slider"), 2)
}

// TestDNDRoundTrip asserts do-not-disturb snapshots the sound profile and
// restores it on release.
func TestDNDRoundTrip(t *testing.T) {
	h := newTestMachine(t)

	// Start from a distinctive profile.
	h.prefs.SetBool(PrefVibrateWhenRingerOn, true)
	assert.BoolIs(t, h.sm.RingerOn(), true)

	h.sm.SetDND(true)
	assert.BoolIs(t, h.prefs.GetBool(PrefDndOn), true)
	assert.BoolIs(t, h.sm.RingerOn(), false)
	assert.BoolIs(t, h.prefs.GetBool(PrefVibrateWhenRingerOn), false)
	assert.BoolIs(t, h.prefs.GetBool(PrefVibrateWhenRingerOff), false)
	for _, mod := range []*fakeModule{h.phone, h.media, h.ringtone,
		h.system, h.timer, h.alert} {
		assert.EqualInts(t, mod.count("changed:profile"), 1)
	}
	if len(h.profiles) == 0 {
		t.Fatal("expected a profile change callback")
	}

	// Engaging again is a no-op.
	h.sm.SetDND(true)
	assert.EqualInts(t, h.media.count("changed:profile"), 1)

	h.sm.SetDND(false)
	assert.BoolIs(t, h.prefs.GetBool(PrefDndOn), false)
	assert.BoolIs(t, h.sm.RingerOn(), true)
	assert.BoolIs(t, h.prefs.GetBool(PrefVibrateWhenRingerOn), true)
	assert.BoolIs(t, h.prefs.GetBool(PrefVibrateWhenRingerOff), true)
}

// TestEnumParsersFailSoft asserts unknown external enum names map to the
// safe defaults.
func TestEnumParsersFailSoft(t *testing.T) {
	assert.DeepEqual(t, HeadsetStateFromName("garbage"), HeadsetNone)
	assert.DeepEqual(t, TTYModeFromName("garbage"), TTYOff)
	assert.DeepEqual(t, CallModeFromName("garbage"), CallModeNone)
	assert.DeepEqual(t, CallStatusFromName("garbage"), CallDisconnected)

	for s := Headset; s <= UsbHeadsetDisconnected; s++ {
		assert.DeepEqual(t, HeadsetStateFromName(s.String()), s)
	}
	for _, m := range []TTYMode{TTYOff, TTYFull, TTYHCO, TTYVCO} {
		assert.DeepEqual(t, TTYModeFromName(m.String()), m)
	}
}

func TestStringers(t *testing.T) {
	// Unknown values still render something printable.
	assert.DeepEqual(t, CallMode(99).String(), fmt.Sprintf("callMode(%d)", 99))
	assert.DeepEqual(t, SliderState(99).String(), fmt.Sprintf("sliderState(%d)", 99))
}

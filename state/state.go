// Package state holds the call and scenario state machine. It tracks call
// transport and status per mode, derives the single on-active-call flag,
// and drives the feature modules through headset, TTY, ringer, slider and
// do-not-disturb transitions.
package state

import (
	"github.com/chirpaudio/audiod/mixer"
	"github.com/chirpaudio/audiod/scenario"
	"github.com/decred/slog"
)

// MediaController pauses and resumes media playback around calls. The
// saved variants remember which players were paused so only those are
// resumed.
type MediaController interface {
	PauseAllMediaSaved()
	ResumeAllMediaSaved()
}

// DisplayController wakes the display on headset insertion.
type DisplayController interface {
	Wake()
}

// Vibrator drives the vibration motor.
type Vibrator interface {
	Vibrate()
	CancelVibrate()
}

// TonePlayer plays locally generated feedback tones.
type TonePlayer interface {
	PlayBusyTone() bool
}

// Config holds the state machine's collaborators. Phone, Media, Voice and
// Vvm are the scenario-bearing modules; System, Ringtone, Timer and Alert
// only participate in shared-state broadcasts.
type Config struct {
	Mixer *mixer.Mixer
	Prefs *Prefs

	Phone    scenario.Module
	Media    scenario.Module
	Voice    scenario.Module
	Vvm      scenario.Module
	System   scenario.Module
	Ringtone scenario.Module
	Timer    scenario.Module
	Alert    scenario.Module

	MediaCtl MediaController
	Display  DisplayController
	Vibrator Vibrator
	Tones    TonePlayer

	// OnProfileChanged is invoked after the sound profile changes, with
	// the new profile. May be nil.
	OnProfileChanged func(SoundProfile)

	Log slog.Logger
}

// Machine is the call/scenario state machine. All methods must be called
// from the control loop.
type Machine struct {
	cfg Config
	log slog.Logger

	carrier bool
	voip    bool
	numVoIP int

	incomingCarrier bool
	incomingVoIP    bool

	callMode           CallMode
	onActiveCall       bool
	incomingCallActive bool

	headset HeadsetState
	tty     TTYMode
	slider  SliderState

	// current is the module controlling routing, phone during calls and
	// media otherwise.
	current scenario.Module

	mediaPaused  bool
	sinksAtPause []mixer.VirtualSink
}

// New creates the state machine. The initial current module is media.
func New(cfg Config) *Machine {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Machine{
		cfg:     cfg,
		log:     log,
		current: cfg.Media,
	}
}

// SetProfileCallback installs the function invoked after the sound
// profile changes. Must be set before the control loop starts.
func (s *Machine) SetProfileCallback(f func(SoundProfile)) {
	s.cfg.OnProfileChanged = f
}

// OnActiveCall reports whether any call (carrier or VoIP) is active.
func (s *Machine) OnActiveCall() bool { return s.onActiveCall }

// IncomingCallActive reports whether an incoming call is ringing.
func (s *Machine) IncomingCallActive() bool { return s.incomingCallActive }

// CallMode returns the transport of the current call.
func (s *Machine) CallMode() CallMode { return s.callMode }

// HeadsetState returns the current headset connection state.
func (s *Machine) HeadsetState() HeadsetState { return s.headset }

// TTYMode returns the current TTY mode.
func (s *Machine) TTYMode() TTYMode { return s.tty }

// SliderState returns the current slider position.
func (s *Machine) SliderState() SliderState { return s.slider }

// RingerOn reports the ringer switch position.
func (s *Machine) RingerOn() bool { return s.cfg.Prefs.GetBool(PrefRingerOn) }

// Profile returns the current sound profile.
func (s *Machine) Profile() SoundProfile {
	return SoundProfile{
		RingerOn:             s.cfg.Prefs.GetBool(PrefRingerOn),
		VibrateWhenRingerOn:  s.cfg.Prefs.GetBool(PrefVibrateWhenRingerOn),
		VibrateWhenRingerOff: s.cfg.Prefs.GetBool(PrefVibrateWhenRingerOff),
		DndOn:                s.cfg.Prefs.GetBool(PrefDndOn),
	}
}

// ShouldVibrate reports whether the active vibrate preference for the
// current ringer position is set.
func (s *Machine) ShouldVibrate() bool {
	if s.RingerOn() {
		return s.cfg.Prefs.GetBool(PrefVibrateWhenRingerOn)
	}
	return s.cfg.Prefs.GetBool(PrefVibrateWhenRingerOff)
}

// SetCallState feeds one call event into the machine. mode selects the
// transport, status the new per-mode status. VoIP calls are counted, so
// the VoIP leg only clears once every VoIP call disconnected.
func (s *Machine) SetCallState(mode CallMode, status CallStatus) {
	s.log.Debugf("Call event mode=%s status=%s (numVoIP=%d active=%v)",
		mode, status, s.numVoIP, s.onActiveCall)

	switch mode {
	case CallModeVoIP:
		s.setVoIPCallStatus(status)
	case CallModeCarrier:
		s.setCarrierCallStatus(status)
	default:
		s.log.Warnf("Ignoring call event with mode %s", mode)
	}
}

func (s *Machine) setVoIPCallStatus(status CallStatus) {
	switch status {
	case CallIncoming:
		s.numVoIP++
		if s.onActiveCall {
			// Another call is already up. Signal the overlap with a
			// local busy tone rather than raising the incoming state.
			if !s.cfg.Tones.PlayBusyTone() {
				s.log.Warnf("Unable to play busy tone for " +
					"overlapping VoIP call")
			}
			return
		}
		s.setIncomingCall(true, CallModeVoIP)
		if s.RingerOn() {
			s.pauseMedia()
		}

	case CallDialing:
		s.numVoIP++
		if !s.onActiveCall {
			s.setIncomingCall(true, CallModeVoIP)
			s.setActiveCall(true, CallModeVoIP)
		}

	case CallActive:
		s.callMode = CallModeVoIP
		s.setIncomingCall(false, CallModeVoIP)
		s.setActiveCall(true, CallModeVoIP)
		s.cfg.Phone.ProgramMuted()

	case CallDisconnected:
		if s.numVoIP > 0 {
			s.numVoIP--
		}
		if s.numVoIP > 0 {
			return
		}
		s.setIncomingCall(false, CallModeVoIP)
		s.setActiveCall(false, CallModeVoIP)
		if s.carrier {
			s.callMode = CallModeCarrier
		} else {
			s.callMode = CallModeNone
		}
		s.maybeResumeMedia()
		s.cfg.Phone.ProgramMuted()
	}
}

func (s *Machine) setCarrierCallStatus(status CallStatus) {
	switch status {
	case CallIncoming:
		s.setIncomingCall(true, CallModeCarrier)
		if s.RingerOn() {
			s.pauseMedia()
		}

	case CallDialing:
		s.setActiveCall(true, CallModeCarrier)

	case CallActive:
		s.callMode = CallModeCarrier
		s.setIncomingCall(false, CallModeCarrier)
		s.setActiveCall(true, CallModeCarrier)

	case CallDisconnected:
		s.setIncomingCall(false, CallModeCarrier)
		s.setActiveCall(false, CallModeCarrier)
		if s.voip {
			s.callMode = CallModeVoIP
		} else {
			s.callMode = CallModeNone
		}
		s.maybeResumeMedia()
	}
	s.cfg.Phone.ProgramMuted()
}

// setActiveCall updates a per-mode active flag and fires the derived
// on-active-call edge exactly once per transition.
func (s *Machine) setActiveCall(active bool, mode CallMode) {
	switch mode {
	case CallModeCarrier:
		if s.carrier == active {
			return
		}
		s.carrier = active
	case CallModeVoIP:
		if s.voip == active {
			return
		}
		s.voip = active
	default:
		return
	}

	derived := s.carrier || s.voip
	if derived == s.onActiveCall {
		return
	}
	s.onActiveCall = derived
	s.onActiveCallEdge(derived)
}

// setIncomingCall updates a per-mode incoming flag and the derived
// incoming-call state.
func (s *Machine) setIncomingCall(incoming bool, mode CallMode) {
	switch mode {
	case CallModeCarrier:
		s.incomingCarrier = incoming
	case CallModeVoIP:
		s.incomingVoIP = incoming
	default:
		return
	}
	s.incomingCallActive = s.incomingCarrier || s.incomingVoIP
}

// onActiveCallEdge runs when the derived on-active-call flag flips. On
// call start the active streams are snapshotted, media paused and the
// phone module takes routing; on call end the order reverses.
func (s *Machine) onActiveCallEdge(active bool) {
	if active {
		s.log.Infof("Call started (mode %s)", s.callMode)
		s.pauseMedia()
		s.cfg.Media.Release()
		if !s.cfg.Phone.MakeCurrent() {
			s.log.Warnf("Unable to make phone module current")
		}
		s.current = s.cfg.Phone
		return
	}

	s.log.Infof("Call ended")
	s.maybeResumeMedia()
	s.cfg.Phone.Release()
	if !s.cfg.Media.MakeCurrent() {
		s.log.Warnf("Unable to make media module current")
	}
	s.current = s.cfg.Media
	s.cfg.Phone.SetCurrentScenarioByPriority()
}

// pauseMedia pauses playback once per call episode, remembering which
// sinks were active at the time.
func (s *Machine) pauseMedia() {
	if s.mediaPaused {
		return
	}
	s.mediaPaused = true
	s.sinksAtPause = s.cfg.Mixer.ActiveStreams()
	s.cfg.MediaCtl.PauseAllMediaSaved()
}

// maybeResumeMedia resumes the saved players once neither an active nor an
// incoming call remains.
func (s *Machine) maybeResumeMedia() {
	if !s.mediaPaused || s.onActiveCall || s.incomingCallActive {
		return
	}
	s.mediaPaused = false
	s.sinksAtPause = nil
	s.cfg.MediaCtl.ResumeAllMediaSaved()
}

// headsetScenarioNames returns the per-module scenario names bound to a
// headset state, or ok=false for states without scenarios (none, USB).
func headsetScenarioNames(st HeadsetState) (phone, media, voice, vvm string, ok bool) {
	switch st {
	case Headset:
		return scenario.PhoneHeadset, scenario.MediaHeadset,
			scenario.VoiceCommandHeadset, scenario.VvmHeadset, true
	case HeadsetMic:
		return scenario.PhoneHeadsetMic, scenario.MediaHeadsetMic,
			scenario.VoiceCommandHeadsetMic, scenario.VvmHeadsetMic, true
	}
	return "", "", "", "", false
}

// ttyScenarioName returns the phone scenario bound to a TTY mode, or ""
// for off.
func ttyScenarioName(mode TTYMode) string {
	switch mode {
	case TTYFull:
		return scenario.PhoneTTYFull
	case TTYHCO:
		return scenario.PhoneTTYHCO
	case TTYVCO:
		return scenario.PhoneTTYVCO
	}
	return ""
}

// SetHeadsetState applies a headset transition. New scenarios are enabled
// before the previous state's scenarios are disabled, so the modules never
// pass through a state with no enabled wired scenario. A non-off TTY mode
// is re-applied whenever a headset with a mic path is present.
func (s *Machine) SetHeadsetState(newState HeadsetState) {
	prev := s.headset
	if prev == newState {
		return
	}
	s.log.Infof("Headset state %s -> %s", prev, newState)
	s.headset = newState

	switch newState {
	case UsbHeadsetConnected:
		if !s.cfg.Mixer.ProgramDestination(mixer.SinkMedia, "usb_headset") {
			s.log.Warnf("Unable to route media to USB headset")
		}
		s.cfg.Display.Wake()
		return
	case UsbHeadsetDisconnected:
		if !s.cfg.Mixer.ProgramDestination(mixer.SinkMedia, "default") {
			s.log.Warnf("Unable to restore media routing")
		}
		return
	case UsbMicConnected:
		if !s.cfg.Mixer.ProgramSourceDestination(mixer.SourceRecord, "usb_mic") {
			s.log.Warnf("Unable to route recording to USB mic")
		}
		s.cfg.Display.Wake()
		return
	case UsbMicDisconnected:
		if !s.cfg.Mixer.ProgramSourceDestination(mixer.SourceRecord, "default") {
			s.log.Warnf("Unable to restore recording routing")
		}
		return
	}

	plugged := newState == Headset || newState == HeadsetMic
	if !s.cfg.Mixer.ProgramHeadsetRoute(plugged) {
		s.log.Warnf("Unable to program headset route for %s", newState)
	}

	// Enable the new state's scenarios first, then re-apply TTY, then
	// re-select, then disable the previous state's scenarios.
	if phone, media, voice, vvm, ok := headsetScenarioNames(newState); ok {
		s.cfg.Phone.EnableScenario(phone)
		s.cfg.Media.EnableScenario(media)
		s.cfg.Voice.EnableScenario(voice)
		s.cfg.Vvm.EnableScenario(vvm)

		s.applyTTYScenarios()

		s.cfg.Phone.SetCurrentScenarioByPriority()
		s.cfg.Media.SetCurrentScenarioByPriority()
		s.cfg.Voice.SetCurrentScenarioByPriority()
		s.cfg.Vvm.SetCurrentScenarioByPriority()
	}

	if phone, media, voice, vvm, ok := headsetScenarioNames(prev); ok {
		s.cfg.Phone.DisableScenario(phone)
		s.cfg.Media.DisableScenario(media)
		s.cfg.Voice.DisableScenario(voice)
		s.cfg.Vvm.DisableScenario(vvm)
	}

	if newState == HeadsetNone {
		// Headset gone: TTY scenarios require a headset path.
		s.disableTTYScenarios()
		s.cfg.Phone.SetCurrentScenarioByPriority()
		s.cfg.Media.SetCurrentScenarioByPriority()
		s.cfg.Voice.SetCurrentScenarioByPriority()
		s.cfg.Vvm.SetCurrentScenarioByPriority()
		return
	}

	s.cfg.Display.Wake()
}

// SetTTYMode changes the TTY mode. TTY scenarios only take effect while a
// headset is plugged.
func (s *Machine) SetTTYMode(mode TTYMode) {
	if s.tty == mode {
		return
	}
	s.log.Infof("TTY mode %s -> %s", s.tty, mode)
	s.tty = mode

	if s.headset != Headset && s.headset != HeadsetMic {
		return
	}
	s.applyTTYScenarios()
	s.cfg.Phone.SetCurrentScenarioByPriority()
}

// applyTTYScenarios enables the scenario of the current TTY mode and
// disables the others.
func (s *Machine) applyTTYScenarios() {
	want := ttyScenarioName(s.tty)
	for _, name := range []string{scenario.PhoneTTYFull,
		scenario.PhoneTTYHCO, scenario.PhoneTTYVCO} {
		if name == want {
			s.cfg.Phone.EnableScenario(name)
		} else {
			s.cfg.Phone.DisableScenario(name)
		}
	}
}

func (s *Machine) disableTTYScenarios() {
	s.cfg.Phone.DisableScenario(scenario.PhoneTTYFull)
	s.cfg.Phone.DisableScenario(scenario.PhoneTTYHCO)
	s.cfg.Phone.DisableScenario(scenario.PhoneTTYVCO)
}

// broadcast sends a shared-state change to every broadcast-participating
// module.
func (s *Machine) broadcast(kind scenario.ChangeKind) {
	for _, mod := range []scenario.Module{s.cfg.Phone, s.cfg.Media,
		s.cfg.Ringtone, s.cfg.System, s.cfg.Timer, s.cfg.Alert} {
		if !mod.SendChangedUpdate(kind) {
			s.log.Warnf("Module %T missed %s update", mod, kind)
		}
	}
}

// SetRingerOn flips the ringer switch. The new position persists, the
// current module reprograms its software mixer, and every module learns of
// the change. Flipping the ringer off with the matching vibrate
// preference set triggers a vibration, unless the device is on a call
// routed through a speaker or headset scenario.
func (s *Machine) SetRingerOn(on bool) {
	if s.RingerOn() == on {
		return
	}
	s.log.Infof("Ringer switch -> %v", on)
	if err := s.cfg.Prefs.SetBool(PrefRingerOn, on); err != nil {
		s.log.Errorf("Unable to store ringer preference: %v", err)
	}

	if s.current != nil && !s.current.ProgramSoftwareMixer(true) {
		s.log.Warnf("Unable to reprogram software mixer for ringer change")
	}
	s.broadcast(scenario.ChangedRinger)
	s.notifyProfile()

	if on || !s.cfg.Prefs.GetBool(PrefVibrateWhenRingerOff) {
		return
	}
	if s.cfg.Ringtone.IsMuted() {
		return
	}
	if s.onActiveCall {
		switch s.cfg.Phone.CurrentScenarioName() {
		case scenario.PhoneFrontSpeaker, scenario.PhoneBackSpeaker,
			scenario.PhoneHeadset, scenario.PhoneHeadsetMic:
			return
		}
	}
	s.cfg.Vibrator.Vibrate()
}

// SetSliderState records a slider position change. Only a transition into
// or out of the open position is broadcast.
func (s *Machine) SetSliderState(st SliderState) {
	prev := s.slider
	if prev == st {
		return
	}
	s.slider = st
	if prev != SliderOpen && st != SliderOpen {
		return
	}
	s.log.Debugf("Slider %s -> %s", prev, st)
	s.broadcast(scenario.ChangedSlider)
}

// SetDND engages or releases do-not-disturb. Engaging snapshots the sound
// profile, silences the ringer and both vibrate preferences; releasing
// restores the snapshot.
func (s *Machine) SetDND(enable bool) {
	if s.cfg.Prefs.GetBool(PrefDndOn) == enable {
		return
	}
	s.log.Infof("Do-not-disturb -> %v", enable)
	prefs := s.cfg.Prefs

	if enable {
		s.storeSoundProfile()
		if err := prefs.SetBool(PrefDndOn, true); err != nil {
			s.log.Errorf("Unable to store DND preference: %v", err)
		}
		s.setRingerForProfile(false)
		prefs.SetBool(PrefVibrateWhenRingerOn, false)
		prefs.SetBool(PrefVibrateWhenRingerOff, false)
	} else {
		if err := prefs.SetBool(PrefDndOn, false); err != nil {
			s.log.Errorf("Unable to store DND preference: %v", err)
		}
		s.retrieveSoundProfile()
	}

	s.broadcast(scenario.ChangedProfile)
	s.notifyProfile()
}

// storeSoundProfile snapshots the ringer and vibrate preferences into the
// prev* slots.
func (s *Machine) storeSoundProfile() {
	prefs := s.cfg.Prefs
	prefs.SetBool(PrefPrevRingerOn, prefs.GetBool(PrefRingerOn))
	prefs.SetBool(PrefPrevVibrateWhenRingerOn,
		prefs.GetBool(PrefVibrateWhenRingerOn))
	prefs.SetBool(PrefPrevVibrateWhenRingerOff,
		prefs.GetBool(PrefVibrateWhenRingerOff))
}

// retrieveSoundProfile restores the snapshotted profile.
func (s *Machine) retrieveSoundProfile() {
	prefs := s.cfg.Prefs
	s.setRingerForProfile(prefs.GetBool(PrefPrevRingerOn))
	prefs.SetBool(PrefVibrateWhenRingerOn,
		prefs.GetBool(PrefPrevVibrateWhenRingerOn))
	prefs.SetBool(PrefVibrateWhenRingerOff,
		prefs.GetBool(PrefPrevVibrateWhenRingerOff))
}

// setRingerForProfile updates the ringer position as part of a profile
// change, without the vibration side effect of the hardware switch.
func (s *Machine) setRingerForProfile(on bool) {
	if s.RingerOn() == on {
		return
	}
	s.cfg.Prefs.SetBool(PrefRingerOn, on)
	if s.current != nil && !s.current.ProgramSoftwareMixer(true) {
		s.log.Warnf("Unable to reprogram software mixer for profile change")
	}
	s.broadcast(scenario.ChangedRinger)
}

func (s *Machine) notifyProfile() {
	if s.cfg.OnProfileChanged != nil {
		s.cfg.OnProfileChanged(s.Profile())
	}
}

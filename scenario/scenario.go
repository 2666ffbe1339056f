// Package scenario defines the contract between the call/scenario state
// machine and the feature modules (phone, media, voice command, visual
// voicemail, ...). The state machine drives modules through this interface
// and never inspects their internals.
package scenario

// Scenario names. A scenario is a named routing configuration a module can
// enable or disable; the enabled scenario with the highest priority
// becomes the module's current scenario.
const (
	PhoneFrontSpeaker = "phone_front_speaker"
	PhoneBackSpeaker  = "phone_back_speaker"
	PhoneHeadset      = "phone_headset"
	PhoneHeadsetMic   = "phone_headset_mic"
	PhoneBluetoothSCO = "phone_bluetooth_sco"
	PhoneTTYFull      = "phone_tty_full"
	PhoneTTYHCO       = "phone_tty_hco"
	PhoneTTYVCO       = "phone_tty_vco"

	MediaSpeaker    = "media_speaker"
	MediaHeadset    = "media_headset"
	MediaHeadsetMic = "media_headset_mic"
	MediaA2DP       = "media_a2dp"

	VoiceCommandSpeaker    = "voice_command_speaker"
	VoiceCommandHeadset    = "voice_command_headset"
	VoiceCommandHeadsetMic = "voice_command_headset_mic"

	VvmSpeaker    = "vvm_speaker"
	VvmHeadset    = "vvm_headset"
	VvmHeadsetMic = "vvm_headset_mic"
)

// ChangeKind identifies which shared state a sendChangedUpdate broadcast
// refers to.
type ChangeKind int

const (
	ChangedRinger ChangeKind = iota
	ChangedSlider
	ChangedProfile
)

func (k ChangeKind) String() string {
	switch k {
	case ChangedRinger:
		return "ringer"
	case ChangedSlider:
		return "slider"
	case ChangedProfile:
		return "profile"
	}
	return "unknown"
}

// Module is the capability set a feature module exposes to the state
// machine.
type Module interface {
	// EnableScenario and DisableScenario toggle a named scenario's
	// eligibility. Enabling an already enabled scenario is a no-op.
	EnableScenario(name string) bool
	DisableScenario(name string) bool

	// SetCurrentScenarioByPriority re-selects the module's current
	// scenario among the enabled ones.
	SetCurrentScenarioByPriority() bool

	// MakeCurrent makes this module the one controlling routing.
	// Release revokes that control without touching the selection;
	// routing ownership is exclusive, so the machine releases the
	// previous holder whenever it moves currentness.
	MakeCurrent() bool
	Release()

	// SendChangedUpdate broadcasts a shared-state change to the
	// module's subscribers.
	SendChangedUpdate(kind ChangeKind) bool

	// CurrentScenarioName returns the name of the current scenario, or
	// "" when none is selected.
	CurrentScenarioName() string

	// ProgramMuted reprograms the module's mute state on the hardware.
	ProgramMuted()

	// ProgramSoftwareMixer reprograms the module's software mixer
	// settings (ringer state, volumes).
	ProgramSoftwareMixer(ramp bool) bool

	// IsMuted reports whether the module is currently muted.
	IsMuted() bool
}

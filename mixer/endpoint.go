package mixer

import "fmt"

// VirtualSink is a logical, hardware independent audio output endpoint.
// Multi-instance sinks (per-app tracks) additionally carry a sink-input
// index and an opaque track id in lifecycle events.
type VirtualSink int

const (
	SinkNone VirtualSink = iota
	SinkMedia
	SinkRingtone
	SinkAlert
	SinkNotification
	SinkFeedback
	SinkSystem
	SinkTimer
	SinkAlarm
	SinkEffects
	SinkTTS
	SinkCallVoice
	SinkVoIP
	SinkDefaultApp

	firstSink = SinkMedia
	lastSink  = SinkDefaultApp
)

func (s VirtualSink) String() string {
	switch s {
	case SinkNone:
		return "none"
	case SinkMedia:
		return "pmedia"
	case SinkRingtone:
		return "pringtones"
	case SinkAlert:
		return "palerts"
	case SinkNotification:
		return "pnotifications"
	case SinkFeedback:
		return "pfeedback"
	case SinkSystem:
		return "psystem"
	case SinkTimer:
		return "ptimer"
	case SinkAlarm:
		return "palarm"
	case SinkEffects:
		return "peffects"
	case SinkTTS:
		return "ptts"
	case SinkCallVoice:
		return "pcallvoice"
	case SinkVoIP:
		return "pvoip"
	case SinkDefaultApp:
		return "pdefaultapp"
	}
	return fmt.Sprintf("sink(%d)", int(s))
}

// Valid returns true for concrete sinks (excludes SinkNone).
func (s VirtualSink) Valid() bool {
	return s >= firstSink && s <= lastSink
}

// SinkFromName maps a sink name back to its enum value. Returns SinkNone
// for unknown names.
func SinkFromName(name string) VirtualSink {
	for s := firstSink; s <= lastSink; s++ {
		if s.String() == name {
			return s
		}
	}
	return SinkNone
}

// VirtualSource is a logical audio input endpoint.
type VirtualSource int

const (
	SourceNone VirtualSource = iota
	SourceCallMic
	SourceVoiceCommand
	SourceRecord
	SourceVoIPMic

	firstSource = SourceCallMic
	lastSource  = SourceVoIPMic
)

func (s VirtualSource) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceCallMic:
		return "record_callmic"
	case SourceVoiceCommand:
		return "record_voicecommand"
	case SourceRecord:
		return "record"
	case SourceVoIPMic:
		return "record_voipmic"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Valid returns true for concrete sources (excludes SourceNone).
func (s VirtualSource) Valid() bool {
	return s >= firstSource && s <= lastSource
}

// SourceFromName maps a source name back to its enum value. Returns
// SourceNone for unknown names.
func SourceFromName(name string) VirtualSource {
	for s := firstSource; s <= lastSource; s++ {
		if s.String() == name {
			return s
		}
	}
	return SourceNone
}

// BackendKind identifies which of the two backend mixers owns a given
// virtual endpoint. The assignment is made when the endpoint's stream is
// first opened and is immutable for the stream's lifetime.
type BackendKind int

const (
	LegacyBackend BackendKind = iota
	ModernBackend
)

func (k BackendKind) String() string {
	switch k {
	case LegacyBackend:
		return "legacy"
	case ModernBackend:
		return "modern"
	}
	return fmt.Sprintf("backend(%d)", int(k))
}

// BackendKindFromName maps a config name to a BackendKind. Unknown names
// default to the legacy backend.
func BackendKindFromName(name string) BackendKind {
	if name == "modern" {
		return ModernBackend
	}
	return LegacyBackend
}

// StreamStatus is the normalized lifecycle event forwarded to observers
// when a backend reports a stream transition.
type StreamStatus int

const (
	StreamOpened StreamStatus = iota
	StreamClosed
	StreamFailed
)

func (s StreamStatus) String() string {
	switch s {
	case StreamOpened:
		return "opened"
	case StreamClosed:
		return "closed"
	case StreamFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

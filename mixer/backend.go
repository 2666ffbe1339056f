package mixer

import "encoding/json"

// RequestID correlates an asynchronous backend command with the completion
// event the backend later delivers for it.
type RequestID uint64

// Backend is the command side of one backend mixer. Implementations are
// opaque to the engine: commands either fail fast (false) or are accepted
// and, for the async ones, complete later through the EventSink given to
// the backend at setup time.
//
// All methods must be non-blocking. A false return means the command was
// not issued at all.
type Backend interface {
	Kind() BackendKind

	// Connect routes a named logical source onto a named physical sink.
	// Completion is reported via EventSink.RequestCompleted with the
	// given id. Disconnect is the inverse operation.
	Connect(sourceName, physicalSinkName string, id RequestID) bool
	Disconnect(sourceName, physicalSinkName string, id RequestID) bool

	ProgramSinkVolume(sink VirtualSink, volume int, ramp bool) bool
	ProgramSourceVolume(source VirtualSource, volume int, ramp bool) bool
	ProgramTrackVolume(sink VirtualSink, sinkIndex, volume int, ramp bool) bool
	ProgramSinkMute(sink VirtualSink, mute bool) bool
	ProgramSourceMute(source VirtualSource, mute bool) bool

	// ProgramSinkDestination and ProgramSourceDestination rebind a
	// virtual endpoint to a different physical device. Physical device
	// names are opaque strings resolved by the backend.
	ProgramSinkDestination(sink VirtualSink, destination string) bool
	ProgramSourceDestination(source VirtualSource, destination string) bool

	ProgramHeadsetRoute(plugged bool) bool

	SuspendAll() bool
	MuteAll() bool
	SuspendSink(sink VirtualSink) bool
}

// EventSink receives the inbound callbacks of a backend mixer. The Mixer
// facade implements it once per backend; backends must deliver events on
// the engine control loop (via the dispatcher handed to them at setup).
type EventSink interface {
	OutputStreamOpened(sink VirtualSink, sinkIndex int, trackID, appName string)
	OutputStreamClosed(sink VirtualSink, sinkIndex int, trackID, appName string)

	// OutputStreamFailed reports a stream the backend could not open.
	// The stream never joins the active set; observers see it with a
	// StreamFailed status.
	OutputStreamFailed(sink VirtualSink, sinkIndex int, trackID, appName string)
	InputStreamOpened(source VirtualSource)
	InputStreamClosed(source VirtualSource)

	// MixerReady reports the backend's readiness. Programming commands
	// are rejected by the facade until both backends are ready.
	MixerReady(ready bool)

	DeviceConnectionChanged(deviceName, detail, status string)

	// RequestCompleted resolves the pending request identified by id.
	// payload is the backend's raw JSON reply; a payload that does not
	// decode as {"returnValue": bool, ...} is treated as a failure.
	RequestCompleted(id RequestID, payload json.RawMessage)
}

// SinkInput describes one open sink-input on a multi-instance sink.
type SinkInput struct {
	AppName string
	TrackID string
}

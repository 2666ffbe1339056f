package mixer

import (
	"encoding/json"

	"github.com/decred/slog"
)

// NullBackend is a backend adapter with no audio server behind it. Every
// command is accepted and logged, and connect/disconnect requests complete
// successfully on the next control loop turn. It stands in for a platform
// adapter when running without hardware and in tests.
type NullBackend struct {
	kind     BackendKind
	dispatch func(func())
	events   EventSink
	log      slog.Logger
}

// NewNullBackend returns a null adapter of the given kind. dispatch must
// post onto the control loop.
func NewNullBackend(kind BackendKind, dispatch func(func()), log slog.Logger) *NullBackend {
	if log == nil {
		log = slog.Disabled
	}
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	return &NullBackend{kind: kind, dispatch: dispatch, log: log}
}

// Start binds the event sink and announces readiness.
func (b *NullBackend) Start(events EventSink) {
	b.events = events
	b.dispatch(func() {
		events.MixerReady(true)
	})
}

func (b *NullBackend) Kind() BackendKind { return b.kind }

func (b *NullBackend) complete(id RequestID) {
	b.dispatch(func() {
		if b.events != nil {
			b.events.RequestCompleted(id,
				json.RawMessage(`{"returnValue":true}`))
		}
	})
}

func (b *NullBackend) Connect(sourceName, physicalSinkName string, id RequestID) bool {
	b.log.Debugf("%s connect %s -> %s", b.kind, sourceName, physicalSinkName)
	b.complete(id)
	return true
}

func (b *NullBackend) Disconnect(sourceName, physicalSinkName string, id RequestID) bool {
	b.log.Debugf("%s disconnect %s -> %s", b.kind, sourceName, physicalSinkName)
	b.complete(id)
	return true
}

func (b *NullBackend) ProgramSinkVolume(sink VirtualSink, volume int, ramp bool) bool {
	b.log.Debugf("%s volume %s=%d ramp=%v", b.kind, sink, volume, ramp)
	return true
}

func (b *NullBackend) ProgramSourceVolume(source VirtualSource, volume int, ramp bool) bool {
	b.log.Debugf("%s source volume %s=%d ramp=%v", b.kind, source, volume, ramp)
	return true
}

func (b *NullBackend) ProgramTrackVolume(sink VirtualSink, sinkIndex, volume int, ramp bool) bool {
	b.log.Debugf("%s track volume %s[%d]=%d ramp=%v", b.kind, sink,
		sinkIndex, volume, ramp)
	return true
}

func (b *NullBackend) ProgramSinkMute(sink VirtualSink, mute bool) bool {
	b.log.Debugf("%s mute %s=%v", b.kind, sink, mute)
	return true
}

func (b *NullBackend) ProgramSourceMute(source VirtualSource, mute bool) bool {
	b.log.Debugf("%s source mute %s=%v", b.kind, source, mute)
	return true
}

func (b *NullBackend) ProgramSinkDestination(sink VirtualSink, destination string) bool {
	b.log.Debugf("%s destination %s -> %s", b.kind, sink, destination)
	return true
}

func (b *NullBackend) ProgramSourceDestination(source VirtualSource, destination string) bool {
	b.log.Debugf("%s source destination %s -> %s", b.kind, source, destination)
	return true
}

func (b *NullBackend) ProgramHeadsetRoute(plugged bool) bool {
	b.log.Debugf("%s headset route plugged=%v", b.kind, plugged)
	return true
}

func (b *NullBackend) SuspendAll() bool {
	b.log.Debugf("%s suspend all", b.kind)
	return true
}

func (b *NullBackend) MuteAll() bool {
	b.log.Debugf("%s mute all", b.kind)
	return true
}

func (b *NullBackend) SuspendSink(sink VirtualSink) bool {
	b.log.Debugf("%s suspend %s", b.kind, sink)
	return true
}

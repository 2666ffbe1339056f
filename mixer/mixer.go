package mixer

import (
	"time"

	"github.com/decred/slog"
)

// Observer receives normalized backend events after the facade has updated
// its active-set. Observers are called on the engine control loop.
type Observer interface {
	SinkStatus(sink VirtualSink, status StreamStatus, backend BackendKind,
		sinkIndex int, appName string)
	SourceStatus(source VirtualSource, status StreamStatus, backend BackendKind)
	MixerStatus(ready bool, backend BackendKind)
	DeviceConnectionStatus(deviceName, detail, status string)
}

// Config holds the parameters to set up a Mixer facade.
type Config struct {
	// Legacy and Modern are the two backend mixer adapters. Both must
	// be set.
	Legacy Backend
	Modern Backend

	// Dispatch posts a function onto the engine control loop. Used for
	// request timeouts. Defaults to calling the function inline.
	Dispatch func(func())

	// ModernSinks and ModernSources list endpoints whose commands go to
	// the modern backend before any stream of theirs has been opened.
	// Everything else defaults to the legacy backend.
	ModernSinks   []VirtualSink
	ModernSources []VirtualSource

	// RequestTimeout bounds how long an async connect/disconnect may
	// remain unanswered before its caller is failed. Defaults to 10s.
	RequestTimeout time.Duration

	Log slog.Logger
}

// Mixer is the single entry point for routing, volume and mute commands.
// It hides which backend owns a given virtual endpoint, tracks the live
// set of active streams and merges backend readiness into one signal.
//
// All methods must be called from the engine control loop.
type Mixer struct {
	legacy     Backend
	modern     Backend
	dispatch   func(func())
	reqTimeout time.Duration
	log        slog.Logger

	legacyReady bool
	modernReady bool

	// Active-set bookkeeping. openSinks/openSources count open streams
	// per endpoint; sinkOwner/sourceOwner record the backend assigned
	// at creation, cleared when the last stream closes.
	openSinks   map[VirtualSink]int
	openSources map[VirtualSource]int
	sinkOwner   map[VirtualSink]BackendKind
	sourceOwner map[VirtualSource]BackendKind
	sinkInputs  map[VirtualSink]map[int]SinkInput

	defaultSinkOwner   map[VirtualSink]BackendKind
	defaultSourceOwner map[VirtualSource]BackendKind

	pending   map[RequestID]*pendingRequest
	lastReqID RequestID

	observers []Observer
}

// backendSink adapts the EventSink contract for one backend.
type backendSink struct {
	m    *Mixer
	kind BackendKind
}

// New returns a Mixer facade over the two given backends.
func New(cfg Config) *Mixer {
	log := slog.Disabled
	if cfg.Log != nil {
		log = cfg.Log
	}
	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	m := &Mixer{
		legacy:             cfg.Legacy,
		modern:             cfg.Modern,
		dispatch:           dispatch,
		reqTimeout:         timeout,
		log:                log,
		openSinks:          make(map[VirtualSink]int),
		openSources:        make(map[VirtualSource]int),
		sinkOwner:          make(map[VirtualSink]BackendKind),
		sourceOwner:        make(map[VirtualSource]BackendKind),
		sinkInputs:         make(map[VirtualSink]map[int]SinkInput),
		defaultSinkOwner:   make(map[VirtualSink]BackendKind),
		defaultSourceOwner: make(map[VirtualSource]BackendKind),
		pending:            make(map[RequestID]*pendingRequest),
	}
	for _, s := range cfg.ModernSinks {
		m.defaultSinkOwner[s] = ModernBackend
	}
	for _, s := range cfg.ModernSources {
		m.defaultSourceOwner[s] = ModernBackend
	}
	return m
}

// EventSink returns the callback receiver to hand to the backend of the
// given kind.
func (m *Mixer) EventSink(kind BackendKind) EventSink {
	return &backendSink{m: m, kind: kind}
}

// AddObserver registers an observer for normalized backend events.
func (m *Mixer) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// ReadyToProgram reports whether both backends are ready to accept
// programming commands. Until then every programming call fails fast.
func (m *Mixer) ReadyToProgram() bool {
	return m.legacyReady && m.modernReady
}

func (m *Mixer) backend(kind BackendKind) Backend {
	if kind == ModernBackend {
		return m.modern
	}
	return m.legacy
}

func (m *Mixer) sinkBackend(sink VirtualSink) Backend {
	if owner, ok := m.sinkOwner[sink]; ok {
		return m.backend(owner)
	}
	return m.backend(m.defaultSinkOwner[sink])
}

func (m *Mixer) sourceBackend(source VirtualSource) Backend {
	if owner, ok := m.sourceOwner[source]; ok {
		return m.backend(owner)
	}
	return m.backend(m.defaultSourceOwner[source])
}

// Connect asks the legacy backend to route a named logical source onto a
// named physical sink. done is invoked exactly once with the outcome.
// Returns false (and never calls done) if the command could not be issued.
func (m *Mixer) Connect(sourceName, physicalSinkName string, done func(Result)) bool {
	if !m.ReadyToProgram() {
		m.log.Debugf("connect %s->%s rejected: backends not ready",
			sourceName, physicalSinkName)
		return false
	}
	req := m.trackRequest("connect", done)
	if !m.legacy.Connect(sourceName, physicalSinkName, req.id) {
		m.abortRequest(req)
		return false
	}
	m.log.Debugf("connect %s->%s issued as request %d", sourceName,
		physicalSinkName, req.id)
	return true
}

// Disconnect is the inverse of Connect.
func (m *Mixer) Disconnect(sourceName, physicalSinkName string, done func(Result)) bool {
	if !m.ReadyToProgram() {
		m.log.Debugf("disconnect %s->%s rejected: backends not ready",
			sourceName, physicalSinkName)
		return false
	}
	req := m.trackRequest("disconnect", done)
	if !m.legacy.Disconnect(sourceName, physicalSinkName, req.id) {
		m.abortRequest(req)
		return false
	}
	return true
}

// abortRequest releases a request whose command was rejected synchronously
// by the backend. The caller is notified via the boolean return of the
// issuing method, not via done.
func (m *Mixer) abortRequest(req *pendingRequest) {
	req.timer.Stop()
	delete(m.pending, req.id)
}

// ProgramVolume programs a sink's volume on the backend owning it. ramp
// requests a smoothed transition instead of a step change.
func (m *Mixer) ProgramVolume(sink VirtualSink, volume int, ramp bool) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.sinkBackend(sink).ProgramSinkVolume(sink, volume, ramp)
}

// ProgramSourceVolume programs a source's volume.
func (m *Mixer) ProgramSourceVolume(source VirtualSource, volume int, ramp bool) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.sourceBackend(source).ProgramSourceVolume(source, volume, ramp)
}

// ProgramTrackVolume programs the volume of a single sink-input on a
// multi-instance sink, leaving the sink's other tracks untouched.
func (m *Mixer) ProgramTrackVolume(sink VirtualSink, sinkIndex, volume int, ramp bool) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.sinkBackend(sink).ProgramTrackVolume(sink, sinkIndex, volume, ramp)
}

// ProgramMute mutes or unmutes a source.
func (m *Mixer) ProgramMute(source VirtualSource, mute bool) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.sourceBackend(source).ProgramSourceMute(source, mute)
}

// MuteSink mutes or unmutes a sink.
func (m *Mixer) MuteSink(sink VirtualSink, mute bool) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.sinkBackend(sink).ProgramSinkMute(sink, mute)
}

// ProgramDestination rebinds a virtual sink to a different physical
// device. Used on headset, Bluetooth and USB transitions.
func (m *Mixer) ProgramDestination(sink VirtualSink, destination string) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.sinkBackend(sink).ProgramSinkDestination(sink, destination)
}

// ProgramSourceDestination rebinds a virtual source to a different
// physical device.
func (m *Mixer) ProgramSourceDestination(source VirtualSource, destination string) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.sourceBackend(source).ProgramSourceDestination(source, destination)
}

// ProgramHeadsetRoute reprograms the physical headset route on the legacy
// backend.
func (m *Mixer) ProgramHeadsetRoute(plugged bool) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.legacy.ProgramHeadsetRoute(plugged)
}

// SuspendAll puts both backends into power save.
func (m *Mixer) SuspendAll() bool {
	if !m.ReadyToProgram() {
		return false
	}
	ok := m.legacy.SuspendAll()
	return m.modern.SuspendAll() && ok
}

// MuteAll silences both backends.
func (m *Mixer) MuteAll() bool {
	if !m.ReadyToProgram() {
		return false
	}
	ok := m.legacy.MuteAll()
	return m.modern.MuteAll() && ok
}

// SuspendSink suspends a single sink on its owning backend.
func (m *Mixer) SuspendSink(sink VirtualSink) bool {
	if !m.ReadyToProgram() {
		return false
	}
	return m.sinkBackend(sink).SuspendSink(sink)
}

// ActiveStreams returns the set of sinks with at least one open stream.
func (m *Mixer) ActiveStreams() []VirtualSink {
	res := make([]VirtualSink, 0, len(m.openSinks))
	for s := firstSink; s <= lastSink; s++ {
		if m.openSinks[s] > 0 {
			res = append(res, s)
		}
	}
	return res
}

// ActiveSources returns the set of sources with at least one open stream.
func (m *Mixer) ActiveSources() []VirtualSource {
	res := make([]VirtualSource, 0, len(m.openSources))
	for s := firstSource; s <= lastSource; s++ {
		if m.openSources[s] > 0 {
			res = append(res, s)
		}
	}
	return res
}

// IsStreamActive reports whether the sink has an open stream.
func (m *Mixer) IsStreamActive(sink VirtualSink) bool {
	return m.openSinks[sink] > 0
}

// IsSourceActive reports whether the source has an open stream.
func (m *Mixer) IsSourceActive(source VirtualSource) bool {
	return m.openSources[source] > 0
}

// SinkInputs returns the open sink-inputs of a multi-instance sink, keyed
// by sink-input index.
func (m *Mixer) SinkInputs(sink VirtualSink) map[int]SinkInput {
	res := make(map[int]SinkInput, len(m.sinkInputs[sink]))
	for idx, in := range m.sinkInputs[sink] {
		res[idx] = in
	}
	return res
}

// OpenCloseSink updates the active-set for a sink lifecycle transition and
// fans the normalized event out to the observers. It is the shared path of
// the per-backend stream open/close callbacks.
func (m *Mixer) OpenCloseSink(kind BackendKind, sink VirtualSink, open bool,
	sinkIndex int, trackID, appName string) {

	if !sink.Valid() {
		m.log.Warnf("stream event for invalid sink %v ignored", sink)
		return
	}

	status := StreamClosed
	if open {
		status = StreamOpened
		if m.openSinks[sink] == 0 {
			m.sinkOwner[sink] = kind
		}
		m.openSinks[sink]++
		if sinkIndex >= 0 {
			inputs := m.sinkInputs[sink]
			if inputs == nil {
				inputs = make(map[int]SinkInput)
				m.sinkInputs[sink] = inputs
			}
			inputs[sinkIndex] = SinkInput{AppName: appName, TrackID: trackID}
		}
	} else {
		if m.openSinks[sink] == 0 {
			m.log.Warnf("close event for inactive sink %s ignored", sink)
			return
		}
		m.openSinks[sink]--
		if sinkIndex >= 0 {
			delete(m.sinkInputs[sink], sinkIndex)
		}
		if m.openSinks[sink] == 0 {
			delete(m.sinkOwner, sink)
			delete(m.sinkInputs, sink)
		}
	}

	m.log.Debugf("sink %s %s (backend %s, index %d, app %q)", sink, status,
		kind, sinkIndex, appName)
	for _, o := range m.observers {
		o.SinkStatus(sink, status, kind, sinkIndex, appName)
	}
}

// streamOpenFailed fans a failed stream open out to the observers. The
// stream never became active, so the active-set is untouched.
func (m *Mixer) streamOpenFailed(kind BackendKind, sink VirtualSink,
	sinkIndex int, appName string) {

	if !sink.Valid() {
		m.log.Warnf("stream event for invalid sink %v ignored", sink)
		return
	}
	m.log.Warnf("sink %s failed to open (backend %s, index %d, app %q)",
		sink, kind, sinkIndex, appName)
	for _, o := range m.observers {
		o.SinkStatus(sink, StreamFailed, kind, sinkIndex, appName)
	}
}

func (m *Mixer) openCloseSource(kind BackendKind, source VirtualSource, open bool) {
	if !source.Valid() {
		m.log.Warnf("stream event for invalid source %v ignored", source)
		return
	}

	status := StreamClosed
	if open {
		status = StreamOpened
		if m.openSources[source] == 0 {
			m.sourceOwner[source] = kind
		}
		m.openSources[source]++
	} else {
		if m.openSources[source] == 0 {
			m.log.Warnf("close event for inactive source %s ignored", source)
			return
		}
		m.openSources[source]--
		if m.openSources[source] == 0 {
			delete(m.sourceOwner, source)
		}
	}

	m.log.Debugf("source %s %s (backend %s)", source, status, kind)
	for _, o := range m.observers {
		o.SourceStatus(source, status, kind)
	}
}

// mixerStatus merges one backend's readiness into the combined signal and
// drops the active streams of a backend that went away.
func (m *Mixer) mixerStatus(kind BackendKind, ready bool) {
	if kind == ModernBackend {
		m.modernReady = ready
	} else {
		m.legacyReady = ready
	}
	if ready {
		m.log.Infof("%s backend ready", kind)
	} else {
		m.log.Infof("%s backend not ready", kind)
	}

	if !ready {
		// Backend shutdown destroys its virtual endpoints.
		for s := firstSink; s <= lastSink; s++ {
			if m.openSinks[s] > 0 && m.sinkOwner[s] == kind {
				for m.openSinks[s] > 0 {
					m.OpenCloseSink(kind, s, false, -1, "", "")
				}
			}
		}
		for s := firstSource; s <= lastSource; s++ {
			if m.openSources[s] > 0 && m.sourceOwner[s] == kind {
				for m.openSources[s] > 0 {
					m.openCloseSource(kind, s, false)
				}
			}
		}
	}

	for _, o := range m.observers {
		o.MixerStatus(ready, kind)
	}
}

func (s *backendSink) OutputStreamOpened(sink VirtualSink, sinkIndex int, trackID, appName string) {
	s.m.OpenCloseSink(s.kind, sink, true, sinkIndex, trackID, appName)
}

func (s *backendSink) OutputStreamClosed(sink VirtualSink, sinkIndex int, trackID, appName string) {
	s.m.OpenCloseSink(s.kind, sink, false, sinkIndex, trackID, appName)
}

func (s *backendSink) OutputStreamFailed(sink VirtualSink, sinkIndex int, trackID, appName string) {
	s.m.streamOpenFailed(s.kind, sink, sinkIndex, appName)
}

func (s *backendSink) InputStreamOpened(source VirtualSource) {
	s.m.openCloseSource(s.kind, source, true)
}

func (s *backendSink) InputStreamClosed(source VirtualSource) {
	s.m.openCloseSource(s.kind, source, false)
}

func (s *backendSink) MixerReady(ready bool) {
	s.m.mixerStatus(s.kind, ready)
}

func (s *backendSink) DeviceConnectionChanged(deviceName, detail, status string) {
	s.m.log.Infof("device %s (%s): %s", deviceName, detail, status)
	for _, o := range s.m.observers {
		o.DeviceConnectionStatus(deviceName, detail, status)
	}
}

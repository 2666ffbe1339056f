package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chirpaudio/audiod/mixer"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/slog"
)

var (
	// ErrStreamNotFound is returned for stream type names with no
	// policy record.
	ErrStreamNotFound = errors.New("stream type not found")

	// ErrVolumeOutOfRange is returned for volumes outside [0,100].
	ErrVolumeOutOfRange = errors.New("volume out of range")

	// ErrMixerNotReady is returned when a command could not be issued
	// because the backend mixers are not ready to be programmed.
	ErrMixerNotReady = errors.New("mixer not ready")
)

// StreamState is the policy state of one stream type.
type StreamState int

const (
	Inactive StreamState = iota
	Active
	ActiveMuted
	RampingDown
	RampingUp
)

func (s StreamState) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case ActiveMuted:
		return "activeMuted"
	case RampingDown:
		return "rampingDown"
	case RampingUp:
		return "rampingUp"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// record is the live policy record of one stream type. currentVolume is
// the last volume explicitly set for the stream (seeded from the config's
// policyVolume); policyVolume is the target the last arbitration computed
// (0 while the stream is suppressed by a higher priority stream).
type record struct {
	info          PolicyInfo
	sink          mixer.VirtualSink
	source        mixer.VirtualSource
	state         StreamState
	currentVolume int
	policyVolume  int
	muted         bool
	policyActive  bool
	activationSeq uint64
}

func (r *record) sinkStream() bool {
	return r.sink != mixer.SinkNone
}

// Config holds the parameters to set up a policy Manager.
type Config struct {
	Mixer *mixer.Mixer

	// SinkPolicies and SourcePolicies are the parsed volume policy
	// config entries (see LoadSinkPolicies / LoadSourcePolicies).
	SinkPolicies   []PolicyInfo
	SourcePolicies []PolicyInfo

	// SinkConfigPath and SourceConfigPath enable config hot-reload via
	// WatchConfig when set.
	SinkConfigPath   string
	SourceConfigPath string

	// Dispatch posts a function onto the engine control loop. Used by
	// the config watcher. Defaults to calling the function inline.
	Dispatch func(func())

	Log slog.Logger
}

// Manager is the volume policy manager: the single authority translating
// stream activity and explicit volume/mute requests into the volume and
// mute state each sink and source should have, arbitrating between
// concurrently active streams by priority.
//
// All methods must be called from the engine control loop.
type Manager struct {
	mix      *mixer.Mixer
	log      slog.Logger
	dispatch func(func())

	sinkConfigPath   string
	sourceConfigPath string

	sinkRecords    map[string]*record
	sourceRecords  map[string]*record
	sinkToStream   map[mixer.VirtualSink]string
	sourceToStream map[mixer.VirtualSource]string

	appVolumes map[appKey]*AppVolumeRecord

	ntfns          *NotificationManager
	lastActivation uint64
}

// New returns a policy Manager over the given mixer facade.
func New(cfg Config) (*Manager, error) {
	log := slog.Disabled
	if cfg.Log != nil {
		log = cfg.Log
	}
	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	if cfg.Mixer == nil {
		return nil, errors.New("policy: mixer is required")
	}

	m := &Manager{
		mix:              cfg.Mixer,
		log:              log,
		dispatch:         dispatch,
		sinkConfigPath:   cfg.SinkConfigPath,
		sourceConfigPath: cfg.SourceConfigPath,
		sinkRecords:      make(map[string]*record),
		sourceRecords:    make(map[string]*record),
		sinkToStream:     make(map[mixer.VirtualSink]string),
		sourceToStream:   make(map[mixer.VirtualSource]string),
		appVolumes:       make(map[appKey]*AppVolumeRecord),
		ntfns:            NewNotificationManager(),
	}
	for _, p := range cfg.SinkPolicies {
		if err := m.addRecord(p, true); err != nil {
			return nil, err
		}
	}
	for _, p := range cfg.SourcePolicies {
		if err := m.addRecord(p, false); err != nil {
			return nil, err
		}
	}
	m.log.Debugf("policy tables loaded: %s", spew.Sdump(cfg.SinkPolicies))
	return m, nil
}

func (m *Manager) addRecord(p PolicyInfo, sinkStream bool) error {
	rec := &record{
		info:          p,
		currentVolume: p.PolicyVolume,
		policyVolume:  p.PolicyVolume,
	}
	if sinkStream {
		rec.sink = mixer.SinkFromName(p.Sink)
		if rec.sink == mixer.SinkNone {
			return fmt.Errorf("policy: stream %q has unknown sink %q",
				p.StreamType, p.Sink)
		}
		if _, ok := m.sinkRecords[p.StreamType]; ok {
			return fmt.Errorf("policy: duplicate sink stream %q", p.StreamType)
		}
		m.sinkRecords[p.StreamType] = rec
		m.sinkToStream[rec.sink] = p.StreamType
	} else {
		rec.source = mixer.SourceFromName(p.Source)
		if rec.source == mixer.SourceNone {
			return fmt.Errorf("policy: stream %q has unknown source %q",
				p.StreamType, p.Source)
		}
		if _, ok := m.sourceRecords[p.StreamType]; ok {
			return fmt.Errorf("policy: duplicate source stream %q", p.StreamType)
		}
		m.sourceRecords[p.StreamType] = rec
		m.sourceToStream[rec.source] = p.StreamType
	}
	return nil
}

// Notifications returns the manager's notification registry.
func (m *Manager) Notifications() *NotificationManager {
	return m.ntfns
}

func (m *Manager) lookup(streamType string) (*record, error) {
	if rec, ok := m.sinkRecords[streamType]; ok {
		return rec, nil
	}
	if rec, ok := m.sourceRecords[streamType]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrStreamNotFound, streamType)
}

// SetVolume sets the volume of the stream type bound to the given sink.
// The change is applied locally only after the backend accepted it.
func (m *Manager) SetVolume(sink mixer.VirtualSink, volume int, ramp bool) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("%w: %d", ErrVolumeOutOfRange, volume)
	}
	streamType, ok := m.sinkToStream[sink]
	if !ok {
		return fmt.Errorf("%w: sink %s", ErrStreamNotFound, sink)
	}
	rec := m.sinkRecords[streamType]
	if !m.mix.ProgramVolume(sink, volume, ramp) {
		return ErrMixerNotReady
	}
	rec.currentVolume = volume
	if !rec.muted {
		rec.policyVolume = volume
	}
	m.ntfns.notifyVolumeChanged(streamType, volume, ramp)
	m.log.Debugf("stream %s volume set to %d (ramp %v)", streamType,
		volume, ramp)
	return nil
}

// SetSourceVolume sets the volume of the stream type bound to the given
// source.
func (m *Manager) SetSourceVolume(source mixer.VirtualSource, volume int, ramp bool) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("%w: %d", ErrVolumeOutOfRange, volume)
	}
	streamType, ok := m.sourceToStream[source]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrStreamNotFound, source)
	}
	rec := m.sourceRecords[streamType]
	if !m.mix.ProgramSourceVolume(source, volume, ramp) {
		return ErrMixerNotReady
	}
	rec.currentVolume = volume
	if !rec.muted {
		rec.policyVolume = volume
	}
	m.ntfns.notifyVolumeChanged(streamType, volume, ramp)
	return nil
}

// MuteSink mutes or unmutes the stream type bound to the given sink.
// Repeating the current mute state is a no-op and produces no
// notification.
func (m *Manager) MuteSink(sink mixer.VirtualSink, mute bool) error {
	streamType, ok := m.sinkToStream[sink]
	if !ok {
		return fmt.Errorf("%w: sink %s", ErrStreamNotFound, sink)
	}
	rec := m.sinkRecords[streamType]
	if rec.muted == mute {
		return nil
	}
	if !m.mix.MuteSink(sink, mute) {
		return ErrMixerNotReady
	}
	rec.muted = mute
	m.ntfns.notifyMuteChanged(streamType, mute)
	m.log.Debugf("stream %s mute set to %v", streamType, mute)
	return nil
}

// MuteSource mutes or unmutes the stream type bound to the given source.
func (m *Manager) MuteSource(source mixer.VirtualSource, mute bool) error {
	streamType, ok := m.sourceToStream[source]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrStreamNotFound, source)
	}
	rec := m.sourceRecords[streamType]
	if rec.muted == mute {
		return nil
	}
	if !m.mix.ProgramMute(source, mute) {
		return ErrMixerNotReady
	}
	rec.muted = mute
	m.ntfns.notifyMuteChanged(streamType, mute)
	return nil
}

// Priority returns the configured priority of a stream type.
func (m *Manager) Priority(streamType string) (int, error) {
	rec, err := m.lookup(streamType)
	if err != nil {
		return 0, err
	}
	return rec.info.Priority, nil
}

// PolicyVolume returns the volume the last arbitration computed for a
// stream type.
func (m *Manager) PolicyVolume(streamType string) (int, error) {
	rec, err := m.lookup(streamType)
	if err != nil {
		return 0, err
	}
	return rec.policyVolume, nil
}

// CurrentVolume returns the last explicitly set volume of a stream type.
func (m *Manager) CurrentVolume(streamType string) (int, error) {
	rec, err := m.lookup(streamType)
	if err != nil {
		return 0, err
	}
	return rec.currentVolume, nil
}

// MixerType returns the backend configured for a stream type.
func (m *Manager) MixerType(streamType string) (mixer.BackendKind, error) {
	rec, err := m.lookup(streamType)
	if err != nil {
		return 0, err
	}
	return mixer.BackendKindFromName(rec.info.MixerType), nil
}

// Category returns the arbitration category of a stream type.
func (m *Manager) Category(streamType string) (string, error) {
	rec, err := m.lookup(streamType)
	if err != nil {
		return "", err
	}
	return rec.info.Category, nil
}

// SinkOf returns the virtual sink a sink stream type is bound to.
func (m *Manager) SinkOf(streamType string) (mixer.VirtualSink, error) {
	rec, ok := m.sinkRecords[streamType]
	if !ok {
		return mixer.SinkNone, fmt.Errorf("%w: %q", ErrStreamNotFound,
			streamType)
	}
	return rec.sink, nil
}

// SourceOf returns the virtual source a source stream type is bound to.
func (m *Manager) SourceOf(streamType string) (mixer.VirtualSource, error) {
	rec, ok := m.sourceRecords[streamType]
	if !ok {
		return mixer.SourceNone, fmt.Errorf("%w: %q", ErrStreamNotFound,
			streamType)
	}
	return rec.source, nil
}

// StreamTypeForSink returns the stream type bound to a sink.
func (m *Manager) StreamTypeForSink(sink mixer.VirtualSink) (string, error) {
	streamType, ok := m.sinkToStream[sink]
	if !ok {
		return "", fmt.Errorf("%w: sink %s", ErrStreamNotFound, sink)
	}
	return streamType, nil
}

// StreamTypeForSource returns the stream type bound to a source.
func (m *Manager) StreamTypeForSource(source mixer.VirtualSource) (string, error) {
	streamType, ok := m.sourceToStream[source]
	if !ok {
		return "", fmt.Errorf("%w: source %s", ErrStreamNotFound, source)
	}
	return streamType, nil
}

// StreamStateOf returns the policy state of a stream type.
func (m *Manager) StreamStateOf(streamType string) (StreamState, error) {
	rec, err := m.lookup(streamType)
	if err != nil {
		return Inactive, err
	}
	return rec.state, nil
}

// MuteStatus returns the mute flag of a stream type.
func (m *Manager) MuteStatus(streamType string) (bool, error) {
	rec, err := m.lookup(streamType)
	if err != nil {
		return false, err
	}
	return rec.muted, nil
}

// IsRampPolicyActive reports whether the stream type's policy requests
// ramp-then-mute suppression rather than being left untouched.
func (m *Manager) IsRampPolicyActive(streamType string) bool {
	rec, err := m.lookup(streamType)
	if err != nil {
		return false
	}
	return rec.info.Ramp
}

// IsHighPriorityStreamActive reports whether a sink stream with priority
// strictly above the given one is active in the given category. Other
// modules use it to decide whether they must duck.
func (m *Manager) IsHighPriorityStreamActive(priority int, category string) bool {
	for _, rec := range m.sinkRecords {
		if rec.policyActive && rec.info.Category == category &&
			rec.info.Priority > priority {
			return true
		}
	}
	return false
}

// IsHighPrioritySourceActive is the source-side variant of
// IsHighPriorityStreamActive.
func (m *Manager) IsHighPrioritySourceActive(priority int) bool {
	for _, rec := range m.sourceRecords {
		if rec.policyActive && rec.info.Priority > priority {
			return true
		}
	}
	return false
}

// ApplyVolumePolicy installs a stream type's participation in arbitration.
// Called on stream activation; exported for modules that activate policies
// without a backend stream event.
func (m *Manager) ApplyVolumePolicy(streamType string) error {
	rec, err := m.lookup(streamType)
	if err != nil {
		return err
	}
	m.applyVolumePolicy(streamType, rec)
	return nil
}

// RemoveVolumePolicy uninstalls a stream type's participation in
// arbitration. Called on stream deactivation.
func (m *Manager) RemoveVolumePolicy(streamType string) error {
	rec, err := m.lookup(streamType)
	if err != nil {
		return err
	}
	m.removeVolumePolicy(streamType, rec)
	return nil
}

func (m *Manager) setRecordState(streamType string, rec *record, state StreamState) {
	if rec.state == state {
		return
	}
	rec.state = state
	m.ntfns.notifyStreamStatus(streamType, rec.sinkStream(), state)
}

func (m *Manager) applyVolumePolicy(streamType string, rec *record) {
	rec.policyActive = true
	m.lastActivation++
	rec.activationSeq = m.lastActivation

	// Program the stream's own volume first, then let arbitration
	// suppress it if a higher priority stream is active.
	if m.programRecordVolume(rec, rec.currentVolume, false) {
		rec.policyVolume = rec.currentVolume
		m.ntfns.notifyVolumeChanged(streamType, rec.currentVolume, false)
	}
	m.setRecordState(streamType, rec, Active)
	m.rearbitrate(rec.info.Category, rec.sinkStream())
}

func (m *Manager) removeVolumePolicy(streamType string, rec *record) {
	rec.policyActive = false
	m.setRecordState(streamType, rec, Inactive)

	// Clear a policy-imposed mute so the next activation starts clean.
	if rec.muted {
		if m.programRecordMute(rec, false) {
			rec.muted = false
			m.ntfns.notifyMuteChanged(streamType, false)
		}
	}
	m.rearbitrate(rec.info.Category, rec.sinkStream())
}

func (m *Manager) programRecordVolume(rec *record, volume int, ramp bool) bool {
	if rec.sinkStream() {
		return m.mix.ProgramVolume(rec.sink, volume, ramp)
	}
	return m.mix.ProgramSourceVolume(rec.source, volume, ramp)
}

func (m *Manager) programRecordMute(rec *record, mute bool) bool {
	if rec.sinkStream() {
		return m.mix.MuteSink(rec.sink, mute)
	}
	return m.mix.ProgramMute(rec.source, mute)
}

// rearbitrate recomputes suppression for all active streams in one
// category and direction. The active stream with the numerically highest
// priority wins its full volume unmuted; ties go to the most recently
// activated stream. Active losers whose policy requests ramping are
// ramped down and muted; others are left untouched.
func (m *Manager) rearbitrate(category string, sinkStream bool) {
	records := m.sinkRecords
	if !sinkStream {
		records = m.sourceRecords
	}

	type entry struct {
		streamType string
		rec        *record
	}
	var active []entry
	for st, rec := range records {
		if rec.policyActive && rec.info.Category == category {
			active = append(active, entry{st, rec})
		}
	}
	if len(active) == 0 {
		return
	}
	sort.Slice(active, func(i, j int) bool {
		a, b := active[i].rec, active[j].rec
		if a.info.Priority != b.info.Priority {
			return a.info.Priority > b.info.Priority
		}
		return a.activationSeq > b.activationSeq
	})

	winner := active[0]
	if winner.rec.muted || winner.rec.state != Active {
		// Restore the winner: ramp back up, then unmute.
		if m.programRecordVolume(winner.rec, winner.rec.currentVolume, true) {
			m.setRecordState(winner.streamType, winner.rec, RampingUp)
			winner.rec.policyVolume = winner.rec.currentVolume
			m.ntfns.notifyVolumeChanged(winner.streamType,
				winner.rec.currentVolume, true)
			if winner.rec.muted && m.programRecordMute(winner.rec, false) {
				winner.rec.muted = false
				m.ntfns.notifyMuteChanged(winner.streamType, false)
			}
			m.setRecordState(winner.streamType, winner.rec, Active)
		} else {
			m.log.Warnf("unable to restore stream %s", winner.streamType)
		}
	}

	for _, e := range active[1:] {
		if !e.rec.info.Ramp {
			continue
		}
		if e.rec.state == ActiveMuted || e.rec.state == RampingDown {
			continue
		}
		// Ramp the loser down, then mute it.
		if !m.programRecordVolume(e.rec, 0, true) {
			m.log.Warnf("unable to ramp down stream %s", e.streamType)
			continue
		}
		m.setRecordState(e.streamType, e.rec, RampingDown)
		e.rec.policyVolume = 0
		if m.programRecordMute(e.rec, true) {
			e.rec.muted = true
			m.ntfns.notifyMuteChanged(e.streamType, true)
		}
		m.setRecordState(e.streamType, e.rec, ActiveMuted)
	}
}

// initStreamVolumes programs every record's current volume and mute flag.
// Called once both backends report ready.
func (m *Manager) initStreamVolumes() {
	for st, rec := range m.sinkRecords {
		if !m.mix.ProgramVolume(rec.sink, rec.currentVolume, false) {
			m.log.Warnf("unable to init volume of stream %s", st)
		}
	}
	for st, rec := range m.sourceRecords {
		if !m.mix.ProgramSourceVolume(rec.source, rec.currentVolume, false) {
			m.log.Warnf("unable to init volume of stream %s", st)
		}
	}
}

// mergePolicies folds a reloaded config into the live tables, preserving
// the runtime state of surviving stream types.
func (m *Manager) mergePolicies(policies []PolicyInfo, sinkStream bool) {
	records := m.sinkRecords
	if !sinkStream {
		records = m.sourceRecords
	}

	seen := make(map[string]struct{}, len(policies))
	for _, p := range policies {
		seen[p.StreamType] = struct{}{}
		if rec, ok := records[p.StreamType]; ok {
			rec.info = p
			continue
		}
		if err := m.addRecord(p, sinkStream); err != nil {
			m.log.Errorf("config reload: %v", err)
		}
	}
	for st, rec := range records {
		if _, ok := seen[st]; ok {
			continue
		}
		if rec.policyActive {
			m.log.Warnf("config reload drops active stream %s", st)
		}
		if sinkStream {
			delete(m.sinkToStream, rec.sink)
		} else {
			delete(m.sourceToStream, rec.source)
		}
		delete(records, st)
	}

	categories := make(map[string]struct{})
	for _, rec := range records {
		if rec.policyActive {
			categories[rec.info.Category] = struct{}{}
		}
	}
	for cat := range categories {
		m.rearbitrate(cat, sinkStream)
	}
}

// SinkStatus implements mixer.Observer: stream lifecycle drives policy
// activation.
func (m *Manager) SinkStatus(sink mixer.VirtualSink, status mixer.StreamStatus,
	backend mixer.BackendKind, sinkIndex int, appName string) {

	streamType, ok := m.sinkToStream[sink]
	if !ok {
		m.log.Tracef("no policy for sink %s", sink)
		return
	}
	rec := m.sinkRecords[streamType]

	switch status {
	case mixer.StreamOpened:
		m.applyVolumePolicy(streamType, rec)
		if appName != "" {
			m.sinkInputOpened(appName, sink, sinkIndex)
		}
	case mixer.StreamClosed, mixer.StreamFailed:
		if appName != "" || sinkIndex >= 0 {
			m.sinkInputClosed(appName, sink, sinkIndex)
		}
		if !m.mix.IsStreamActive(sink) {
			m.removeVolumePolicy(streamType, rec)
		}
	}
}

// SourceStatus implements mixer.Observer.
func (m *Manager) SourceStatus(source mixer.VirtualSource, status mixer.StreamStatus,
	backend mixer.BackendKind) {

	streamType, ok := m.sourceToStream[source]
	if !ok {
		m.log.Tracef("no policy for source %s", source)
		return
	}
	rec := m.sourceRecords[streamType]

	switch status {
	case mixer.StreamOpened:
		m.applyVolumePolicy(streamType, rec)
	case mixer.StreamClosed, mixer.StreamFailed:
		if !m.mix.IsSourceActive(source) {
			m.removeVolumePolicy(streamType, rec)
		}
	}
}

// MixerStatus implements mixer.Observer.
func (m *Manager) MixerStatus(ready bool, backend mixer.BackendKind) {
	if ready && m.mix.ReadyToProgram() {
		m.initStreamVolumes()
	}
}

// DeviceConnectionStatus implements mixer.Observer.
func (m *Manager) DeviceConnectionStatus(deviceName, detail, status string) {
	m.log.Debugf("device connection: %s (%s) %s", deviceName, detail, status)
}

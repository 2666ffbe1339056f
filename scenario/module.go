package scenario

import (
	"sort"

	"github.com/chirpaudio/audiod/mixer"
	"github.com/decred/slog"
)

// Programmer is the slice of the mixer facade a module needs to program
// its routing. Satisfied by *mixer.Mixer.
type Programmer interface {
	ProgramVolume(sink mixer.VirtualSink, volume int, ramp bool) bool
	MuteSink(sink mixer.VirtualSink, mute bool) bool
	ProgramDestination(sink mixer.VirtualSink, destination string) bool
}

// ScenarioSpec describes one routing configuration a module can select.
type ScenarioSpec struct {
	Name        string
	Priority    int
	Destination string
	Volume      int
}

// ModuleConfig configures an AudioModule.
type ModuleConfig struct {
	Name      string
	Sink      mixer.VirtualSink
	Scenarios []ScenarioSpec

	// InitialScenario is enabled and selected at construction. Must name
	// one of Scenarios.
	InitialScenario string

	Programmer Programmer
	Log        slog.Logger
}

// AudioModule is the standard Module implementation: a table of scenarios
// with priorities, a set of enabled ones, and a current selection. All
// methods run on the control loop.
type AudioModule struct {
	name string
	sink mixer.VirtualSink
	prog Programmer
	log  slog.Logger

	specs   map[string]ScenarioSpec
	enabled map[string]bool
	current string

	muted     bool
	isCurrent bool

	changed func(ChangeKind)
}

// NewModule builds a module from its scenario table.
func NewModule(cfg ModuleConfig) *AudioModule {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	m := &AudioModule{
		name:    cfg.Name,
		sink:    cfg.Sink,
		prog:    cfg.Programmer,
		log:     log,
		specs:   make(map[string]ScenarioSpec, len(cfg.Scenarios)),
		enabled: make(map[string]bool, len(cfg.Scenarios)),
	}
	for _, spec := range cfg.Scenarios {
		m.specs[spec.Name] = spec
	}
	if _, ok := m.specs[cfg.InitialScenario]; ok {
		m.enabled[cfg.InitialScenario] = true
		m.current = cfg.InitialScenario
	}
	return m
}

// Name returns the module name.
func (m *AudioModule) Name() string { return m.name }

// Sink returns the virtual sink the module programs.
func (m *AudioModule) Sink() mixer.VirtualSink { return m.sink }

// SetChangedHandler installs the callback invoked on SendChangedUpdate.
func (m *AudioModule) SetChangedHandler(f func(ChangeKind)) {
	m.changed = f
}

// EnableScenario marks a scenario eligible for selection. Enabling an
// already enabled scenario is a no-op. Unknown names return false.
func (m *AudioModule) EnableScenario(name string) bool {
	if _, ok := m.specs[name]; !ok {
		m.log.Warnf("Module %s: enable of unknown scenario %q", m.name, name)
		return false
	}
	if m.enabled[name] {
		return true
	}
	m.enabled[name] = true
	m.log.Debugf("Module %s: scenario %s enabled", m.name, name)
	return true
}

// DisableScenario removes a scenario from the eligible set. Disabling the
// current scenario triggers re-selection.
func (m *AudioModule) DisableScenario(name string) bool {
	if _, ok := m.specs[name]; !ok {
		m.log.Warnf("Module %s: disable of unknown scenario %q", m.name, name)
		return false
	}
	if !m.enabled[name] {
		return true
	}
	delete(m.enabled, name)
	m.log.Debugf("Module %s: scenario %s disabled", m.name, name)
	if m.current == name {
		m.SetCurrentScenarioByPriority()
	}
	return true
}

// IsScenarioEnabled reports whether a scenario is in the eligible set.
func (m *AudioModule) IsScenarioEnabled(name string) bool {
	return m.enabled[name]
}

// SetCurrentScenarioByPriority selects the highest-priority enabled
// scenario, programming its routing when the module controls the
// hardware. Returns false when nothing is enabled.
func (m *AudioModule) SetCurrentScenarioByPriority() bool {
	names := make([]string, 0, len(m.enabled))
	for name := range m.enabled {
		names = append(names, name)
	}
	if len(names) == 0 {
		m.current = ""
		return false
	}
	sort.Slice(names, func(i, j int) bool {
		si, sj := m.specs[names[i]], m.specs[names[j]]
		if si.Priority != sj.Priority {
			return si.Priority > sj.Priority
		}
		return si.Name < sj.Name
	})
	next := names[0]
	if next == m.current {
		return true
	}
	m.current = next
	m.log.Infof("Module %s: current scenario -> %s", m.name, next)
	if m.isCurrent {
		m.programCurrent(true)
	}
	return true
}

// MakeCurrent gives this module control of the hardware routing.
func (m *AudioModule) MakeCurrent() bool {
	m.isCurrent = true
	if m.current == "" && !m.SetCurrentScenarioByPriority() {
		return false
	}
	return m.programCurrent(false)
}

// Release gives up hardware control without touching the selection.
func (m *AudioModule) Release() {
	m.isCurrent = false
}

// programCurrent programs the current scenario's destination and volume.
func (m *AudioModule) programCurrent(ramp bool) bool {
	spec, ok := m.specs[m.current]
	if !ok {
		return false
	}
	ok = m.prog.ProgramDestination(m.sink, spec.Destination)
	ok = m.prog.ProgramVolume(m.sink, spec.Volume, ramp) && ok
	if !ok {
		m.log.Warnf("Module %s: unable to program scenario %s",
			m.name, m.current)
	}
	return ok
}

// SendChangedUpdate broadcasts a shared-state change to the module's
// subscribers.
func (m *AudioModule) SendChangedUpdate(kind ChangeKind) bool {
	m.log.Debugf("Module %s: %s changed", m.name, kind)
	if m.changed != nil {
		m.changed(kind)
	}
	return true
}

// CurrentScenarioName returns the name of the current scenario, or ""
// when none is selected.
func (m *AudioModule) CurrentScenarioName() string { return m.current }

// SetMuted updates the module's mute flag without programming it.
func (m *AudioModule) SetMuted(muted bool) { m.muted = muted }

// ProgramMuted reprograms the module's mute state on the hardware.
func (m *AudioModule) ProgramMuted() {
	if !m.prog.MuteSink(m.sink, m.muted) {
		m.log.Warnf("Module %s: unable to program mute %v", m.name, m.muted)
	}
}

// ProgramSoftwareMixer reprograms the current scenario's volume.
func (m *AudioModule) ProgramSoftwareMixer(ramp bool) bool {
	spec, ok := m.specs[m.current]
	if !ok {
		return false
	}
	return m.prog.ProgramVolume(m.sink, spec.Volume, ramp)
}

// IsMuted reports whether the module is currently muted.
func (m *AudioModule) IsMuted() bool { return m.muted }

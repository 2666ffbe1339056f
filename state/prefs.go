package state

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chirpaudio/audiod/internal/generics"
	"github.com/chirpaudio/audiod/internal/jsonfile"
	"github.com/decred/slog"
)

// Preference names. Only names registered here may be read or written;
// anything else is a programming error surfaced as ErrUnknownPref.
const (
	PrefRingerOn             = "ringerOn"
	PrefVibrateWhenRingerOn  = "vibrateWhenRingerOn"
	PrefVibrateWhenRingerOff = "vibrateWhenRingerOff"
	PrefDndOn                = "dndOn"
	PrefTouchOn              = "touchOn"

	// Snapshot of the sound profile taken when do-not-disturb engages.
	PrefPrevRingerOn             = "prevRingerOn"
	PrefPrevVibrateWhenRingerOn  = "prevVibrateWhenRingerOn"
	PrefPrevVibrateWhenRingerOff = "prevVibrateWhenRingerOff"

	PrefVolumeBalance = "volumeBalance"

	PrefVoiceCommandWhenSecureLocked = "voiceCommandWhenSecureLocked"
)

var ErrUnknownPref = errors.New("unknown preference")

// prefsFile is the on-disk layout. The whole table is rewritten on every
// change.
type prefsFile struct {
	Booleans map[string]bool   `json:"booleans"`
	Integers map[string]int    `json:"integers"`
	Strings  map[string]string `json:"strings"`
}

// Prefs holds the daemon's persistent preferences. All access happens on
// the control loop, so no locking is needed.
type Prefs struct {
	path string
	log  slog.Logger

	bools map[string]bool
	ints  map[string]int
	strs  map[string]string
}

// NewPrefs creates the preference table with built-in defaults. Call Load
// to overlay the persisted values.
func NewPrefs(path string, log slog.Logger) *Prefs {
	if log == nil {
		log = slog.Disabled
	}
	return &Prefs{
		path: path,
		log:  log,
		bools: map[string]bool{
			PrefRingerOn:                 true,
			PrefVibrateWhenRingerOn:      false,
			PrefVibrateWhenRingerOff:     true,
			PrefDndOn:                    false,
			PrefTouchOn:                  true,
			PrefPrevRingerOn:             true,
			PrefPrevVibrateWhenRingerOn:  false,
			PrefPrevVibrateWhenRingerOff: true,
		},
		ints: map[string]int{
			PrefVolumeBalance: 0,
		},
		strs: map[string]string{
			PrefVoiceCommandWhenSecureLocked: "locked",
		},
	}
}

// Load overlays persisted values onto the defaults. A missing file is not
// an error; unknown persisted names are dropped with a warning.
func (p *Prefs) Load() error {
	var f prefsFile
	err := jsonfile.Read(p.path, &f)
	if errors.Is(err, jsonfile.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to load preferences: %w", err)
	}
	for name, v := range f.Booleans {
		if _, ok := p.bools[name]; !ok {
			p.log.Warnf("Dropping unknown persisted preference %q", name)
			continue
		}
		p.bools[name] = v
	}
	for name, v := range f.Integers {
		if _, ok := p.ints[name]; !ok {
			p.log.Warnf("Dropping unknown persisted preference %q", name)
			continue
		}
		p.ints[name] = v
	}
	for name, v := range f.Strings {
		if _, ok := p.strs[name]; !ok {
			p.log.Warnf("Dropping unknown persisted preference %q", name)
			continue
		}
		p.strs[name] = v
	}
	return nil
}

// GetBool returns a boolean preference. Unknown names return false.
func (p *Prefs) GetBool(name string) bool {
	v, ok := p.bools[name]
	if !ok {
		p.log.Warnf("Read of unknown boolean preference %q", name)
	}
	return v
}

// SetBool sets a boolean preference and persists the table. Persistence
// failures are logged, not returned; the in-memory value always updates.
func (p *Prefs) SetBool(name string, v bool) error {
	old, ok := p.bools[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPref, name)
	}
	if old == v {
		return nil
	}
	p.bools[name] = v
	p.store()
	return nil
}

// GetInt returns an integer preference. Unknown names return zero.
func (p *Prefs) GetInt(name string) int {
	v, ok := p.ints[name]
	if !ok {
		p.log.Warnf("Read of unknown integer preference %q", name)
	}
	return v
}

// SetInt sets an integer preference and persists the table.
func (p *Prefs) SetInt(name string, v int) error {
	old, ok := p.ints[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPref, name)
	}
	if old == v {
		return nil
	}
	p.ints[name] = v
	p.store()
	return nil
}

// GetString returns a string preference. Unknown names return "".
func (p *Prefs) GetString(name string) string {
	v, ok := p.strs[name]
	if !ok {
		p.log.Warnf("Read of unknown string preference %q", name)
	}
	return v
}

// SetString sets a string preference and persists the table.
func (p *Prefs) SetString(name string, v string) error {
	old, ok := p.strs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPref, name)
	}
	if old == v {
		return nil
	}
	p.strs[name] = v
	p.store()
	return nil
}

// Names returns the registered preference names, sorted.
func (p *Prefs) Names() []string {
	names := slices.Concat(generics.SortedKeys(p.bools),
		generics.SortedKeys(p.ints), generics.SortedKeys(p.strs))
	slices.Sort(names)
	return names
}

// store rewrites the whole preference file atomically.
func (p *Prefs) store() {
	if p.path == "" {
		return
	}
	f := prefsFile{
		Booleans: p.bools,
		Integers: p.ints,
		Strings:  p.strs,
	}
	if err := jsonfile.Write(p.path, &f, p.log); err != nil {
		p.log.Errorf("Unable to persist preferences: %v", err)
	}
}

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chirpaudio/audiod/mixer"
	"github.com/fsnotify/fsnotify"
)

// PolicyInfo is one stream type's policy as read from the volume policy
// config files. Sink policies set Sink, source policies set Source.
type PolicyInfo struct {
	StreamType   string `json:"streamType"`
	Category     string `json:"category"`
	Priority     int    `json:"priority"`
	PolicyVolume int    `json:"policyVolume"`
	Ramp         bool   `json:"ramp"`
	MixerType    string `json:"mixerType"`
	Sink         string `json:"sink,omitempty"`
	Source       string `json:"source,omitempty"`
}

type policyFile struct {
	VolumePolicy []PolicyInfo `json:"volumePolicy"`
}

// LoadSinkPolicies reads and validates a sink volume policy config file.
func LoadSinkPolicies(path string) ([]PolicyInfo, error) {
	return loadPolicies(path, true)
}

// LoadSourcePolicies reads and validates a source volume policy config
// file.
func LoadSourcePolicies(path string) ([]PolicyInfo, error) {
	return loadPolicies(path, false)
}

func loadPolicies(path string, sinkStream bool) ([]PolicyInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read policy config: %w", err)
	}
	var f policyFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unable to parse policy config %s: %w",
			path, err)
	}

	seen := make(map[string]struct{}, len(f.VolumePolicy))
	for i, p := range f.VolumePolicy {
		if p.StreamType == "" {
			return nil, fmt.Errorf("%s: entry %d has empty streamType",
				path, i)
		}
		if _, ok := seen[p.StreamType]; ok {
			return nil, fmt.Errorf("%s: duplicate streamType %q",
				path, p.StreamType)
		}
		seen[p.StreamType] = struct{}{}
		if p.Category == "" {
			return nil, fmt.Errorf("%s: stream %q has empty category",
				path, p.StreamType)
		}
		if p.PolicyVolume < 0 || p.PolicyVolume > 100 {
			return nil, fmt.Errorf("%s: stream %q policyVolume %d "+
				"outside [0,100]", path, p.StreamType, p.PolicyVolume)
		}
		if sinkStream {
			if mixer.SinkFromName(p.Sink) == mixer.SinkNone {
				return nil, fmt.Errorf("%s: stream %q has unknown "+
					"sink %q", path, p.StreamType, p.Sink)
			}
		} else {
			if mixer.SourceFromName(p.Source) == mixer.SourceNone {
				return nil, fmt.Errorf("%s: stream %q has unknown "+
					"source %q", path, p.StreamType, p.Source)
			}
		}
	}
	return f.VolumePolicy, nil
}

// WatchConfig reloads the policy config files whenever they are rewritten
// on disk. Runtime state (current volumes, mute flags, activity) of
// surviving stream types is preserved across reloads. Runs until the
// context is canceled.
func (m *Manager) WatchConfig(ctx context.Context) error {
	if m.sinkConfigPath == "" && m.sourceConfigPath == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent dirs so atomic rename-into-place rewrites are
	// seen as well.
	dirs := make(map[string]struct{})
	for _, p := range []string{m.sinkConfigPath, m.sourceConfigPath} {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("unable to watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warnf("config watcher error: %v", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if ev.Name != m.sinkConfigPath && ev.Name != m.sourceConfigPath {
				continue
			}
			m.log.Infof("policy config %s changed, reloading", ev.Name)
			m.dispatch(m.reloadConfig)
		}
	}
}

// reloadConfig reparses both config files and merges the result into the
// live policy tables. Parse failures keep the previous config.
func (m *Manager) reloadConfig() {
	if m.sinkConfigPath != "" {
		policies, err := LoadSinkPolicies(m.sinkConfigPath)
		if err != nil {
			m.log.Errorf("policy config reload failed: %v", err)
		} else {
			m.mergePolicies(policies, true)
		}
	}
	if m.sourceConfigPath != "" {
		policies, err := LoadSourcePolicies(m.sourceConfigPath)
		if err != nil {
			m.log.Errorf("policy config reload failed: %v", err)
		} else {
			m.mergePolicies(policies, false)
		}
	}
}

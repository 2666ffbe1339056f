package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chirpaudio/audiod/internal/assert"
	"github.com/chirpaudio/audiod/mixer"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSinkPolicies(t *testing.T) {
	path := writeConfig(t, `{"volumePolicy": [
		{"streamType": "media", "category": "media", "priority": 5,
		 "policyVolume": 80, "ramp": true, "sink": "pmedia"},
		{"streamType": "ringtone", "category": "media", "priority": 10,
		 "policyVolume": 90, "sink": "pringtones"}
	]}`)
	policies, err := LoadSinkPolicies(path)
	assert.NilErr(t, err)
	assert.EqualInts(t, len(policies), 2)
	assert.DeepEqual(t, policies[0].Sink, "pmedia")
	assert.BoolIs(t, policies[0].Ramp, true)
}

func TestLoadSinkPoliciesRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{{
		name: "duplicate stream type",
		contents: `{"volumePolicy": [
			{"streamType": "media", "category": "media", "policyVolume": 80, "sink": "pmedia"},
			{"streamType": "media", "category": "media", "policyVolume": 80, "sink": "palerts"}
		]}`,
	}, {
		name: "empty category",
		contents: `{"volumePolicy": [
			{"streamType": "media", "policyVolume": 80, "sink": "pmedia"}
		]}`,
	}, {
		name: "volume out of range",
		contents: `{"volumePolicy": [
			{"streamType": "media", "category": "media", "policyVolume": 120, "sink": "pmedia"}
		]}`,
	}, {
		name: "unknown sink",
		contents: `{"volumePolicy": [
			{"streamType": "media", "category": "media", "policyVolume": 80, "sink": "bogus"}
		]}`,
	}, {
		name:     "not json",
		contents: `volumePolicy=`,
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			_, err := LoadSinkPolicies(path)
			assert.NonNilErr(t, err)
		})
	}
}

// TestMergePoliciesPreservesRuntimeState asserts a config reload keeps the
// volumes, mute flags and activity of surviving stream types and drops
// removed ones.
func TestMergePoliciesPreservesRuntimeState(t *testing.T) {
	m, mix, _ := newTestPolicy(t)
	events := mix.EventSink(mixer.LegacyBackend)

	events.OutputStreamOpened(mixer.SinkMedia, -1, "", "")
	assert.NilErr(t, m.SetVolume(mixer.SinkMedia, 33, false))

	reloaded := []PolicyInfo{
		// media survives with a new priority.
		{StreamType: "media", Category: "media", Priority: 7,
			PolicyVolume: 80, Ramp: true, Sink: "pmedia"},
		// newcomer appears.
		{StreamType: "tts", Category: "media", Priority: 2,
			PolicyVolume: 60, Sink: "ptts"},
		// ringtone, alert and defaultapp are dropped.
	}
	m.mergePolicies(reloaded, true)

	vol, err := m.CurrentVolume("media")
	assert.NilErr(t, err)
	assert.EqualInts(t, vol, 33)
	prio, _ := m.Priority("media")
	assert.EqualInts(t, prio, 7)
	st, _ := m.StreamStateOf("media")
	assert.DeepEqual(t, st, Active)

	_, err = m.CurrentVolume("ringtone")
	assert.ErrorIs(t, err, ErrStreamNotFound)

	vol, err = m.CurrentVolume("tts")
	assert.NilErr(t, err)
	assert.EqualInts(t, vol, 60)
}

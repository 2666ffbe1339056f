package engine

import (
	"github.com/chirpaudio/audiod/internal/logutil"
	"github.com/chirpaudio/audiod/mixer"
	"github.com/chirpaudio/audiod/scenario"
	"github.com/decred/slog"
)

// defaultModules builds the feature modules with their built-in scenario
// tables. Wired scenarios outrank the loudspeaker so a plugged headset
// wins selection immediately.
func defaultModules(mix *mixer.Mixer, log slog.Logger) map[string]*scenario.AudioModule {
	modules := map[string]*scenario.AudioModule{
		"phone": scenario.NewModule(scenario.ModuleConfig{
			Name: "phone",
			Sink: mixer.SinkCallVoice,
			Scenarios: []scenario.ScenarioSpec{
				{Name: scenario.PhoneFrontSpeaker, Priority: 40,
					Destination: "front_speaker", Volume: 60},
				{Name: scenario.PhoneBackSpeaker, Priority: 30,
					Destination: "back_speaker", Volume: 80},
				{Name: scenario.PhoneHeadset, Priority: 70,
					Destination: "headset", Volume: 50},
				{Name: scenario.PhoneHeadsetMic, Priority: 70,
					Destination: "headset_mic", Volume: 50},
				{Name: scenario.PhoneBluetoothSCO, Priority: 60,
					Destination: "bluetooth_sco", Volume: 50},
				{Name: scenario.PhoneTTYFull, Priority: 90,
					Destination: "tty_full", Volume: 50},
				{Name: scenario.PhoneTTYHCO, Priority: 90,
					Destination: "tty_hco", Volume: 50},
				{Name: scenario.PhoneTTYVCO, Priority: 90,
					Destination: "tty_vco", Volume: 50},
			},
			InitialScenario: scenario.PhoneFrontSpeaker,
			Programmer:      mix,
			Log:             logutil.PrefixLogger(log, "[phone]"),
		}),
		"media": scenario.NewModule(scenario.ModuleConfig{
			Name: "media",
			Sink: mixer.SinkMedia,
			Scenarios: []scenario.ScenarioSpec{
				{Name: scenario.MediaSpeaker, Priority: 30,
					Destination: "speaker", Volume: 80},
				{Name: scenario.MediaHeadset, Priority: 70,
					Destination: "headset", Volume: 60},
				{Name: scenario.MediaHeadsetMic, Priority: 70,
					Destination: "headset_mic", Volume: 60},
				{Name: scenario.MediaA2DP, Priority: 60,
					Destination: "a2dp", Volume: 70},
			},
			InitialScenario: scenario.MediaSpeaker,
			Programmer:      mix,
			Log:             logutil.PrefixLogger(log, "[media]"),
		}),
		"voice": scenario.NewModule(scenario.ModuleConfig{
			Name: "voice",
			Sink: mixer.SinkTTS,
			Scenarios: []scenario.ScenarioSpec{
				{Name: scenario.VoiceCommandSpeaker, Priority: 30,
					Destination: "speaker", Volume: 80},
				{Name: scenario.VoiceCommandHeadset, Priority: 70,
					Destination: "headset", Volume: 60},
				{Name: scenario.VoiceCommandHeadsetMic, Priority: 70,
					Destination: "headset_mic", Volume: 60},
			},
			InitialScenario: scenario.VoiceCommandSpeaker,
			Programmer:      mix,
			Log:             logutil.PrefixLogger(log, "[voice]"),
		}),
		"vvm": scenario.NewModule(scenario.ModuleConfig{
			Name: "vvm",
			Sink: mixer.SinkNotification,
			Scenarios: []scenario.ScenarioSpec{
				{Name: scenario.VvmSpeaker, Priority: 30,
					Destination: "speaker", Volume: 80},
				{Name: scenario.VvmHeadset, Priority: 70,
					Destination: "headset", Volume: 60},
				{Name: scenario.VvmHeadsetMic, Priority: 70,
					Destination: "headset_mic", Volume: 60},
			},
			InitialScenario: scenario.VvmSpeaker,
			Programmer:      mix,
			Log:             logutil.PrefixLogger(log, "[vvm]"),
		}),
	}

	// Broadcast-only modules: single scenario, they never take routing.
	single := func(name string, sink mixer.VirtualSink, scenarioName string) {
		modules[name] = scenario.NewModule(scenario.ModuleConfig{
			Name: name,
			Sink: sink,
			Scenarios: []scenario.ScenarioSpec{
				{Name: scenarioName, Priority: 10,
					Destination: "speaker", Volume: 80},
			},
			InitialScenario: scenarioName,
			Programmer:      mix,
			Log:             logutil.PrefixLogger(log, "["+name+"]"),
		})
	}
	single("system", mixer.SinkSystem, "system_speaker")
	single("ringtone", mixer.SinkRingtone, "ringtone_speaker")
	single("timer", mixer.SinkTimer, "timer_speaker")
	single("alert", mixer.SinkAlert, "alert_speaker")

	return modules
}

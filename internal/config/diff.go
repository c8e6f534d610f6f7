package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// LogLevel, Voice and the STT vocabulary can be applied to a running engine;
// every other section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     VoiceConfig

	VocabularyChanged bool
	NewVocabulary     []string

	// RestartRequired names the top-level sections whose changes only
	// take effect after a restart, e.g. "stt" or "audio".
	RestartRequired []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.VocabularyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Default voice
	if old.TTS.Voice != new.TTS.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.TTS.Voice
	}

	if !slices.Equal(old.STT.Vocabulary, new.STT.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.STT.Vocabulary)
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldTTS, newTTS := old.TTS, new.TTS
	oldTTS.Voice, newTTS.Voice = VoiceConfig{}, VoiceConfig{}
	oldSTT, newSTT := old.STT, new.STT
	oldSTT.Vocabulary, newSTT.Vocabulary = nil, nil

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"audio", old.Audio, new.Audio},
		{"vad", old.VAD, new.VAD},
		{"stt", oldSTT, newSTT},
		{"tts", oldTTS, newTTS},
		{"cache", old.Cache, new.Cache},
		{"resilience", old.Resilience, new.Resilience},
		{"archive", old.Archive, new.Archive},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

package app

import (
	"context"

	"github.com/MrWong99/voxcore/internal/config"
)

// ApplyConfig applies the hot-reloadable part of a changed configuration:
// the log level, the default voice and the STT vocabulary. Everything else is
// logged as needing a restart. It is meant as the callback of a [config.Watcher].
func (a *App) ApplyConfig(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if !d.Empty() {
		a.metrics.RecordConfigReload(context.Background(), len(d.RestartRequired) > 0)
	}
	if d.LogLevelChanged {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		a.engine.SetSynthesisDefaults(VoiceFromConfig(d.NewVoice))
	}
	if d.VocabularyChanged {
		a.engine.SetVocabulary(d.NewVocabulary)
		a.logger.Info("vocabulary changed", "terms", len(d.NewVocabulary))
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("configuration changes take effect after a restart", "sections", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
	return d
}

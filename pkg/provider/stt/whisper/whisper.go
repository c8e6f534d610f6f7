// Package whisper provides speech-to-text recognizers backed by whisper.cpp.
//
// Two backends share this package:
//
//   - [Native] links whisper.cpp through its CGO bindings and runs inference
//     in-process. The model is loaded once and shared; each call creates its
//     own inference context.
//   - [Server] posts each utterance as a WAV upload to a running whisper.cpp
//     HTTP server (POST /inference).
//
// Models are referred to either by file path or by size name ("tiny", "base",
// "small", "medium", "large-v3", ...); see [ModelPath].
package whisper

import (
	"path/filepath"
	"strings"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultModelSize  = "base"
)

// ModelPath resolves a model reference to a ggml model file. A reference that
// looks like a path (contains a separator or ends in ".bin") is returned
// unchanged; a bare size name such as "base" resolves to
// <dir>/ggml-<size>.bin.
func ModelPath(dir, model string) string {
	if model == "" {
		model = defaultModelSize
	}
	if strings.HasSuffix(model, ".bin") || strings.ContainsRune(model, filepath.Separator) || strings.Contains(model, "/") {
		return model
	}
	if dir == "" {
		dir = "models"
	}
	return filepath.Join(dir, "ggml-"+model+".bin")
}

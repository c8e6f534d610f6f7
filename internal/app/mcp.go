package app

import (
	"context"

	"github.com/MrWong99/voxcore/internal/mcp"
	"github.com/MrWong99/voxcore/internal/voice"
)

// mcpController adapts the App to the tool surface served on /mcp.
type mcpController struct {
	a *App
}

var _ mcp.Controller = mcpController{}

func (c mcpController) Status() voice.Status { return c.a.engine.Status() }

func (c mcpController) StartListening() error {
	return c.a.engine.Start(c.a.startContext())
}

func (c mcpController) StopListening() {
	c.a.engine.Stop()
	c.a.drain()
}

func (c mcpController) Speak(ctx context.Context, text, voiceID string, priority int) error {
	return c.a.engine.SpeakPriority(ctx, text, voiceID, priority)
}

func (c mcpController) StopSpeaking() bool { return c.a.engine.StopSpeaking() }

// Transcripts drains pending events first so a tool call sees the same
// backlog GET /events would.
func (c mcpController) Transcripts(since uint64) ([]mcp.Transcript, uint64) {
	c.a.drain()
	next := since
	var out []mcp.Transcript
	for _, r := range c.a.events.Since(since) {
		next = r.Seq
		if r.Kind != voice.EventSpeechDetected.String() {
			continue
		}
		out = append(out, mcp.Transcript{Seq: r.Seq, Text: r.Text, UtteranceID: r.UtteranceID, At: r.At})
	}
	return out, next
}

// Package mcp exposes the voice service as Model Context Protocol tools so an
// agent can listen, read transcripts and talk back without speaking HTTP.
//
// The tools are:
//   - "voice_status"       engine snapshot
//   - "start_listening"    begin capture
//   - "stop_listening"     end capture
//   - "speak"              synthesize and play text, blocking until done
//   - "stop_speaking"      cut off playback and drop queued clips
//   - "recent_transcripts" transcripts recognised after a cursor
//
// [Server.Handler] serves them over streamable HTTP; [Server.Connect] binds
// them to any other SDK transport.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxcore/internal/voice"
)

// Transcript is one recognised utterance as returned by "recent_transcripts".
type Transcript struct {
	Seq         uint64    `json:"seq"`
	Text        string    `json:"text"`
	UtteranceID string    `json:"utterance_id"`
	At          time.Time `json:"at"`
}

// Controller is the part of the voice service the tools drive.
type Controller interface {
	Status() voice.Status
	StartListening() error
	StopListening()
	Speak(ctx context.Context, text, voiceID string, priority int) error
	StopSpeaking() bool

	// Transcripts returns the transcripts with a sequence number above since,
	// oldest first, and the cursor to pass on the next call.
	Transcripts(since uint64) ([]Transcript, uint64)
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server publishes the voice tools.
type Server struct {
	ctl    Controller
	logger *slog.Logger
	srv    *mcpsdk.Server
}

// New builds a server whose tools act on ctl. version is reported to clients
// during initialisation.
func New(ctl Controller, version string, opts ...Option) *Server {
	s := &Server{ctl: ctl, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "voxcore", Version: version}, nil)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "voice_status",
		Description: "Report whether the service is listening or speaking and which providers are available.",
	}, s.status)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "start_listening",
		Description: "Start capturing audio. Recognised speech shows up in recent_transcripts.",
	}, s.startListening)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "stop_listening",
		Description: "Stop capturing audio. Speech in progress is discarded.",
	}, s.stopListening)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "speak",
		Description: "Say text out loud and wait until playback has finished.",
	}, s.speak)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "stop_speaking",
		Description: "Interrupt the clip being played and drop every queued clip.",
	}, s.stopSpeaking)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "recent_transcripts",
		Description: "Return transcripts recognised after the given cursor. Pass the returned next value on the following call.",
	}, s.transcripts)
	return s
}

// Handler serves the tools over the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, &mcpsdk.StreamableHTTPOptions{Logger: s.logger})
}

// Connect serves the tools on a single transport, such as stdio or an
// in-memory pipe.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// ─── Tool handlers ────────────────────────────────────────────────────────────

type empty struct{}

type listeningOutput struct {
	Listening bool `json:"listening"`
}

type speakInput struct {
	Text     string `json:"text" jsonschema:"the text to say"`
	VoiceID  string `json:"voice_id,omitempty" jsonschema:"voice to use instead of the default voice"`
	Priority int    `json:"priority,omitempty" jsonschema:"a higher priority interrupts the clip that is playing"`
}

type speakOutput struct {
	Status string `json:"status"`
}

type stopSpeakingOutput struct {
	Interrupted bool `json:"interrupted"`
}

type transcriptsInput struct {
	Since uint64 `json:"since,omitempty" jsonschema:"cursor returned by the previous call, 0 for everything retained"`
}

type transcriptsOutput struct {
	Transcripts []Transcript `json:"transcripts"`
	Next        uint64       `json:"next"`
}

func (s *Server) status(_ context.Context, _ *mcpsdk.CallToolRequest, _ empty) (*mcpsdk.CallToolResult, voice.Status, error) {
	return nil, s.ctl.Status(), nil
}

func (s *Server) startListening(_ context.Context, _ *mcpsdk.CallToolRequest, _ empty) (*mcpsdk.CallToolResult, listeningOutput, error) {
	if err := s.ctl.StartListening(); err != nil {
		s.logger.Warn("mcp: start listening failed", "err", err)
		return nil, listeningOutput{}, err
	}
	return nil, listeningOutput{Listening: s.ctl.Status().Listening}, nil
}

func (s *Server) stopListening(_ context.Context, _ *mcpsdk.CallToolRequest, _ empty) (*mcpsdk.CallToolResult, listeningOutput, error) {
	s.ctl.StopListening()
	return nil, listeningOutput{}, nil
}

func (s *Server) speak(ctx context.Context, _ *mcpsdk.CallToolRequest, in speakInput) (*mcpsdk.CallToolResult, speakOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, speakOutput{}, errors.New("text is required")
	}
	if err := s.ctl.Speak(ctx, text, in.VoiceID, in.Priority); err != nil {
		s.logger.Warn("mcp: speak failed", "err", err)
		return nil, speakOutput{}, err
	}
	return nil, speakOutput{Status: "played"}, nil
}

func (s *Server) stopSpeaking(_ context.Context, _ *mcpsdk.CallToolRequest, _ empty) (*mcpsdk.CallToolResult, stopSpeakingOutput, error) {
	return nil, stopSpeakingOutput{Interrupted: s.ctl.StopSpeaking()}, nil
}

func (s *Server) transcripts(_ context.Context, _ *mcpsdk.CallToolRequest, in transcriptsInput) (*mcpsdk.CallToolResult, transcriptsOutput, error) {
	list, next := s.ctl.Transcripts(in.Since)
	if list == nil {
		list = []Transcript{}
	}
	return nil, transcriptsOutput{Transcripts: list, Next: next}, nil
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxcore/internal/health"
	"github.com/MrWong99/voxcore/internal/mcp"
	"github.com/MrWong99/voxcore/internal/observe"
	"github.com/MrWong99/voxcore/internal/voice"
	"github.com/MrWong99/voxcore/pkg/archive"
	"github.com/MrWong99/voxcore/pkg/audio/mixer"
	"github.com/MrWong99/voxcore/pkg/provider/tts"
)

// maxUploadBytes bounds request bodies carrying audio.
const maxUploadBytes = 32 << 20

// maxJSONBytes bounds request bodies carrying JSON.
const maxJSONBytes = 64 << 10

// routes builds the control API:
//
//	GET  /healthz, /readyz   liveness and readiness
//	GET  /metrics            Prometheus scrape endpoint
//	GET  /status             engine snapshot
//	POST /listen/start       begin capture
//	POST /listen/stop        end capture
//	GET  /events?since=N     drained events after sequence N
//	POST /speak              synthesize and play through the sink
//	DELETE /speak            cut off playback and drop queued clips
//	POST /synthesize         synthesize and return the clip
//	GET  /voices             synthesizer voice catalogue
//	PUT  /voice              replace the default voice
//	POST /transcribe         transcribe an uploaded WAV file
//	GET  /transcripts        search the transcript archive
//	     /mcp                MCP tools over streamable HTTP (server.mcp)
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	health.New(a.readyCheckers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /listen/start", a.handleListenStart)
	mux.HandleFunc("POST /listen/stop", a.handleListenStop)
	mux.HandleFunc("GET /events", a.handleEvents)
	mux.HandleFunc("POST /speak", a.handleSpeak)
	mux.HandleFunc("DELETE /speak", a.handleStopSpeaking)
	mux.HandleFunc("POST /synthesize", a.handleSynthesize)
	mux.HandleFunc("GET /voices", a.handleVoices)
	mux.HandleFunc("PUT /voice", a.handleSetVoice)
	mux.HandleFunc("POST /transcribe", a.handleTranscribe)
	mux.HandleFunc("GET /transcripts", a.handleTranscripts)
	if a.cfg.Server.MCP {
		mux.Handle("/mcp", mcp.New(mcpController{a}, a.version, mcp.WithLogger(a.logger)).Handler())
	}

	return observe.Middleware(a.metrics)(mux)
}

// statusResponse extends the engine snapshot with provider details.
type statusResponse struct {
	voice.Status
	STTProvider string            `json:"stt_provider,omitempty"`
	TTSProvider string            `json:"tts_provider,omitempty"`
	Fallbacks   map[string]string `json:"fallbacks,omitempty"`
	LastEvent   uint64            `json:"last_event"`
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.drain()
	res := statusResponse{
		Status:      a.engine.Status(),
		STTProvider: a.providers.STTName,
		TTSProvider: a.providers.TTSName,
		LastEvent:   a.events.Last(),
	}
	if a.providers.STTChain != nil || a.providers.TTSChain != nil {
		res.Fallbacks = make(map[string]string)
		if a.providers.STTChain != nil {
			for name, st := range a.providers.STTChain.States() {
				res.Fallbacks["stt/"+name] = st.String()
			}
		}
		if a.providers.TTSChain != nil {
			for name, st := range a.providers.TTSChain.States() {
				res.Fallbacks["tts/"+name] = st.String()
			}
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *App) handleListenStart(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Start(a.startContext()); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"listening": a.engine.Status().Listening})
}

func (a *App) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	a.engine.Stop()
	a.drain()
	writeJSON(w, http.StatusOK, map[string]bool{"listening": false})
}

// eventsResponse is the body of GET /events. Next is the cursor to pass as
// since on the following poll.
type eventsResponse struct {
	Events []EventRecord `json:"events"`
	Next   uint64        `json:"next"`
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be a non-negative integer"})
			return
		}
		since = n
	}
	a.drain()
	records := a.events.Since(since)
	next := since
	if len(records) > 0 {
		next = records[len(records)-1].Seq
	}
	if records == nil {
		records = []EventRecord{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: records, Next: next})
}

// speakRequest is the body of POST /speak and POST /synthesize. Priority
// only matters for /speak.
type speakRequest struct {
	Text     string `json:"text"`
	VoiceID  string `json:"voice_id"`
	Priority int    `json:"priority"`
}

func (a *App) decodeSpeak(w http.ResponseWriter, r *http.Request) (speakRequest, bool) {
	var req speakRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return req, false
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "text is required"})
		return req, false
	}
	return req, true
}

func (a *App) handleSpeak(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeSpeak(w, r)
	if !ok {
		return
	}
	if err := a.engine.SpeakPriority(r.Context(), req.Text, req.VoiceID, req.Priority); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "played"})
}

func (a *App) handleStopSpeaking(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"interrupted": a.engine.StopSpeaking()})
}

func (a *App) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeSpeak(w, r)
	if !ok {
		return
	}
	clip, err := a.engine.GetOrSynthesize(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	format := ""
	if a.providers.TTS != nil {
		format = a.providers.TTS.OutputFormat()
	}
	w.Header().Set("Content-Type", ContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(clip)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip)
}

// ContentType returns the MIME type for a synthesizer output format.
func ContentType(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "audio/mpeg"
	case format == "wav":
		return "audio/wav"
	case format == "pcm":
		return "audio/L16; rate=24000; channels=1"
	case strings.HasPrefix(format, "pcm_"):
		return "audio/L16; rate=" + strings.TrimPrefix(format, "pcm_") + "; channels=1"
	case format == "opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// voiceJSON is the wire form of a voice in GET /voices.
type voiceJSON struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (a *App) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := a.engine.ListVoices(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]voiceJSON, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceJSON{ID: v.ID, Name: v.Name, Provider: v.Provider, Metadata: v.Metadata})
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": out})
}

// setVoiceRequest is the body of PUT /voice.
type setVoiceRequest struct {
	VoiceID   string  `json:"voice_id"`
	Stability float64 `json:"stability"`
	Clarity   float64 `json:"clarity"`
	Style     float64 `json:"style"`
}

func (a *App) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	var req setVoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "voice_id is required"})
		return
	}
	for name, v := range map[string]float64{"stability": req.Stability, "clarity": req.Clarity, "style": req.Style} {
		if v < 0 || v > 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("%s must be within [0, 1]", name)})
			return
		}
	}
	v := tts.Voice{ID: req.VoiceID, Stability: req.Stability, Clarity: req.Clarity, Style: req.Style}
	a.engine.SetSynthesisDefaults(v)
	writeJSON(w, http.StatusOK, req)
}

// handleTranscribe accepts either a multipart form with an "audio" file
// field or a raw WAV body.
func (a *App) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("audio")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "multipart field \"audio\" is required"})
			return
		}
		defer f.Close()
		src = f
	}
	data, err := io.ReadAll(src)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read audio: " + err.Error()})
		return
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "audio must be a WAV file"})
		return
	}

	text, err := a.engine.TranscribeWAV(r.Context(), bytes.NewReader(data))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "empty": text == ""})
}

// transcriptsResponse is the body of GET /transcripts.
type transcriptsResponse struct {
	Transcripts []archive.Entry `json:"transcripts"`
}

// handleTranscripts serves the archive. With within=<duration> it returns
// everything from that window; otherwise q, after, before (RFC 3339) and
// limit filter a search.
func (a *App) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if a.archive == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "transcript archive is not configured"})
		return
	}
	a.drain()

	params := r.URL.Query()
	var (
		entries []archive.Entry
		err     error
	)
	if v := params.Get("within"); v != "" {
		window, perr := time.ParseDuration(v)
		if perr != nil || window <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "within must be a positive duration, e.g. 15m"})
			return
		}
		entries, err = a.archive.Recent(r.Context(), window)
	} else {
		q, msg := parseArchiveQuery(params)
		if msg != "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
			return
		}
		entries, err = a.archive.Search(r.Context(), q)
	}
	if err != nil {
		observe.LoggerFrom(r.Context(), a.logger).Warn("archive query failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	writeJSON(w, http.StatusOK, transcriptsResponse{Transcripts: entries})
}

// parseArchiveQuery reads the search parameters of GET /transcripts. A
// non-empty message describes the first invalid parameter.
func parseArchiveQuery(params url.Values) (archive.Query, string) {
	q := archive.Query{Text: params.Get("q")}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"after", &q.After}, {"before", &q.Before}} {
		v := params.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, p.name + " must be an RFC 3339 timestamp"
		}
		*p.dst = t
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, "limit must be a non-negative integer"
		}
		q.Limit = n
	}
	return q, ""
}

// errorBody is the JSON error envelope of every failed request.
type errorBody struct {
	Error string `json:"error"`
}

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, voice.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, mixer.ErrInterrupted):
		return http.StatusConflict
	case errors.Is(err, voice.ErrSynthesis), errors.Is(err, voice.ErrRecognition):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		observe.LoggerFrom(r.Context(), a.logger).Warn("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package app_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	audiomock "github.com/MrWong99/voxcore/pkg/audio/mock"
)

// mcpSession connects an MCP client to the rig's /mcp endpoint.
func mcpSession(t *testing.T, r *rig) *mcpsdk.ClientSession {
	t.Helper()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "voxcore-test", Version: "1.0.0"}, nil)
	cs, err := client.Connect(t.Context(), &mcpsdk.StreamableClientTransport{Endpoint: r.server.URL + "/mcp"}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any, out any) {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := cs.CallTool(t.Context(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	var text string
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text = tc.Text
		}
	}
	if res.IsError {
		t.Fatalf("CallTool(%s): tool error: %s", name, text)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(text), out); err != nil {
			t.Fatalf("CallTool(%s): decode %q: %v", name, text, err)
		}
	}
}

func TestMCP_ListenTranscribeSpeak(t *testing.T) {
	t.Parallel()
	speech := audiomock.Step{Data: pcmFrame(chunkSamples, 1200)}
	silence := audiomock.Step{Data: pcmFrame(chunkSamples, 0)}
	cfg := testConfig()
	cfg.Server.MCP = true
	r := newRig(t, cfg, []audiomock.Step{speech, speech, silence, silence, silence})
	cs := mcpSession(t, r)

	var listening struct {
		Listening bool `json:"listening"`
	}
	callTool(t, cs, "start_listening", nil, &listening)
	if !listening.Listening {
		t.Error("start_listening: listening = false")
	}

	var page struct {
		Transcripts []struct {
			Text        string `json:"text"`
			UtteranceID string `json:"utterance_id"`
		} `json:"transcripts"`
		Next uint64 `json:"next"`
	}
	waitFor(t, 2*time.Second, "transcript over mcp", func() bool {
		callTool(t, cs, "recent_transcripts", nil, &page)
		return len(page.Transcripts) > 0
	})
	if page.Transcripts[0].Text != "open the gate" || page.Transcripts[0].UtteranceID == "" {
		t.Errorf("transcript = %+v", page.Transcripts[0])
	}
	if page.Next < 2 {
		t.Errorf("next = %d, want the cursor past listening_started and the speech event", page.Next)
	}

	callTool(t, cs, "stop_listening", nil, &listening)
	if r.app.Engine().Status().Listening {
		t.Error("engine still listening after stop_listening")
	}

	callTool(t, cs, "speak", map[string]any{"text": "welcome"}, nil)
	if r.sink.PlayCount() != 1 || string(r.sink.Played[0]) != "narrator|welcome" {
		t.Errorf("played = %q", r.sink.Played)
	}
}

func TestMCP_DisabledByDefault(t *testing.T) {
	t.Parallel()
	r := newRig(t, testConfig(), nil)

	resp, _ := doJSON(t, http.MethodPost, r.server.URL+"/mcp", map[string]string{})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST /mcp status = %d, want 404", resp.StatusCode)
	}
}

package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/geminigate/internal/anthropic"
	"github.com/howard-nolan/geminigate/internal/auth"
	"github.com/howard-nolan/geminigate/internal/signature"
	"github.com/howard-nolan/geminigate/internal/stream"
	"github.com/howard-nolan/geminigate/internal/translate"
)

type staticOAuth struct{}

func (staticOAuth) RefreshAccessToken(context.Context, string) (*auth.TokenResponse, error) {
	return nil, fmt.Errorf("refresh not expected in this test")
}

type staticResolver struct{}

func (staticResolver) FetchProjectID(context.Context, string) (string, error) {
	return "", fmt.Errorf("resolution not expected in this test")
}

// newAccounts builds a token manager with n healthy accounts.
func newAccounts(t *testing.T, n int) *auth.Manager {
	t.Helper()
	dir := t.TempDir()
	for i := range n {
		id := fmt.Sprintf("acc%d", i+1)
		raw := fmt.Sprintf(`{
			"id": %q,
			"email": "%s@example.com",
			"token": {
				"access_token": "access-%s",
				"refresh_token": "refresh-%s",
				"expires_in": 3600,
				"expiry_timestamp": 9999999999,
				"project_id": "proj-%s",
				"session_id": "-1234567890123456789"
			}
		}`, id, id, id, id, id)
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(raw), 0o600))
	}

	m := auth.NewManager(staticOAuth{}, staticResolver{}, testLog())
	count, err := m.Load(dir)
	require.NoError(t, err)
	require.Equal(t, n, count)
	return m
}

// scriptedUpstream answers each request with the next scripted response.
type scriptedUpstream struct {
	mu        sync.Mutex
	responses []func(w http.ResponseWriter)
	calls     int
}

func (s *scriptedUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		idx := s.calls
		s.calls++
		s.mu.Unlock()

		if idx >= len(s.responses) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.responses[idx](w)
	}
}

func (s *scriptedUpstream) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func sseOK(lines ...string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			io.WriteString(w, "data: "+l+"\n\n")
		}
	}
}

func httpError(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func newTestPipeline(t *testing.T, accounts int, upstream *scriptedUpstream) (*Pipeline, *scriptedUpstream) {
	t.Helper()
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)

	cache := signature.NewCache(time.Hour)
	p := NewPipeline(
		newAccounts(t, accounts),
		NewUpstreamClient(srv.URL, srv.Client(), testLog()),
		translate.NewModelMapper(nil),
		cache,
		testLog(),
	)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p, upstream
}

func runPipeline(t *testing.T, p *Pipeline, req *anthropic.MessagesRequest) ([]stream.Event, error) {
	t.Helper()
	var events []stream.Event
	err := p.Run(context.Background(), req, func(e stream.Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

func simpleRequest() *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model: "claude-sonnet-4-5",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
}

func names(events []stream.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Name)
	}
	return out
}

func TestPipelineHappyPath(t *testing.T) {
	p, up := newTestPipeline(t, 1, &scriptedUpstream{responses: []func(http.ResponseWriter){
		sseOK(
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"content":" there"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"STOP"}],"usage":{"completion_tokens":6}}`,
		),
	}})

	events, err := runPipeline(t, p, simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, up.callCount())

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names(events))

	// The client sees the model it asked for, not the mapped one.
	startJSON := string(events[0].JSON())
	assert.Contains(t, startJSON, `"model":"claude-sonnet-4-5"`)
	assert.Contains(t, startJSON, `"id":"msg_`)
}

func TestPipelineShortRateLimitWaitsAndRetries(t *testing.T) {
	rateLimited := `{"error":{"code":429,"message":"quota","details":[
		{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1.5s"}]}}`

	p, up := newTestPipeline(t, 1, &scriptedUpstream{responses: []func(http.ResponseWriter){
		httpError(http.StatusTooManyRequests, rateLimited),
		sseOK(`{"choices":[{"delta":{"content":"ok"},"finish_reason":"STOP"}]}`),
	}})

	var slept time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	events, err := runPipeline(t, p, simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, up.callCount())
	assert.Equal(t, 1700*time.Millisecond, slept)
	assert.Equal(t, "message_start", events[0].Name)
	assert.Equal(t, "message_stop", events[len(events)-1].Name)
}

func TestPipelineRotatesOnForbidden(t *testing.T) {
	p, up := newTestPipeline(t, 2, &scriptedUpstream{responses: []func(http.ResponseWriter){
		httpError(http.StatusForbidden, `{"error":{"code":403,"message":"blocked"}}`),
		sseOK(`{"choices":[{"delta":{"content":"ok"},"finish_reason":"STOP"}]}`),
	}})

	events, err := runPipeline(t, p, simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, up.callCount())
	assert.Equal(t, "message_stop", events[len(events)-1].Name)
}

func TestPipelineExhaustsAccounts(t *testing.T) {
	forbidden := httpError(http.StatusForbidden, `{"error":{"code":403,"message":"blocked"}}`)
	p, up := newTestPipeline(t, 2, &scriptedUpstream{responses: []func(http.ResponseWriter){
		forbidden, forbidden, forbidden,
	}})

	events, err := runPipeline(t, p, simpleRequest())
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusForbidden, ue.Status)

	// One attempt per account, then give up; nothing reached the client.
	assert.Equal(t, 2, up.callCount())
	assert.Empty(t, events)
}

func TestPipelineNoRetryOnServerError(t *testing.T) {
	p, up := newTestPipeline(t, 3, &scriptedUpstream{responses: []func(http.ResponseWriter){
		httpError(http.StatusInternalServerError, `{"error":{"code":500,"message":"boom"}}`),
	}})

	events, err := runPipeline(t, p, simpleRequest())
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.Status)
	assert.Equal(t, 1, up.callCount())
	assert.Empty(t, events)
}

func TestPipelineEmptyCompletionRetriesOnce(t *testing.T) {
	p, up := newTestPipeline(t, 2, &scriptedUpstream{responses: []func(http.ResponseWriter){
		sseOK(`{"choices":[{"delta":{},"finish_reason":"STOP"}]}`),
		sseOK(`{"choices":[{"delta":{"content":"second try"},"finish_reason":"STOP"}]}`),
	}})

	events, err := runPipeline(t, p, simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, up.callCount())

	// Exactly one message_start despite the retry.
	starts := 0
	for _, e := range events {
		if e.Name == "message_start" {
			starts++
		}
	}
	assert.Equal(t, 1, starts)
	assert.Contains(t, string(events[2].JSON()), "second try")
}

func TestPipelineEmptyCompletionGivesUpAfterOneRetry(t *testing.T) {
	empty := sseOK(`{"choices":[{"delta":{},"finish_reason":"STOP"}]}`)
	p, up := newTestPipeline(t, 3, &scriptedUpstream{responses: []func(http.ResponseWriter){
		empty, empty, empty,
	}})

	events, err := runPipeline(t, p, simpleRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, up.callCount())

	// The second empty completion is delivered as-is.
	require.Equal(t, []string{"message_start", "message_delta", "message_stop"}, names(events))
}

func TestPipelineTruncationSynthesizesStop(t *testing.T) {
	// Stream ends without a finish_reason chunk.
	p, _ := newTestPipeline(t, 1, &scriptedUpstream{responses: []func(http.ResponseWriter){
		sseOK(`{"choices":[{"delta":{"content":"cut off mid"}}]}`),
	}})

	events, err := runPipeline(t, p, simpleRequest())
	require.NoError(t, err)

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names(events))

	var md struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
	}
	require.NoError(t, json.Unmarshal(events[4].JSON(), &md))
	assert.Equal(t, "end_turn", md.Delta.StopReason)
}

func TestPipelineNonStreamCollects(t *testing.T) {
	p, _ := newTestPipeline(t, 1, &scriptedUpstream{responses: []func(http.ResponseWriter){
		sseOK(
			`{"choices":[{"delta":{"content":"full answer"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"STOP"}],"usage":{"completion_tokens":3}}`,
		),
	}})

	col := stream.NewCollector()
	err := p.Run(context.Background(), simpleRequest(), func(e stream.Event) error {
		col.Add(e)
		return nil
	})
	require.NoError(t, err)

	resp := col.Response()
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "full answer", resp.Content[0].Text)
	require.NotNil(t, resp.StopReason)
	assert.Equal(t, "end_turn", *resp.StopReason)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}

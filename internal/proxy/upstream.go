// Package proxy drives a request end to end: pick an account, translate
// the request, stream from the upstream, and run the converter over the
// chunks, with rotation and retry in between.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/howard-nolan/geminigate/internal/auth"
	"github.com/howard-nolan/geminigate/internal/gemini"
)

// UpstreamError is a non-2xx answer from the upstream, carrying what the
// retry policy needs to decide between waiting, rotating, and giving up.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// UpstreamClient makes the authenticated streaming call.
type UpstreamClient struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// NewUpstreamClient builds a client for the given base URL. client may
// be nil to use http.DefaultClient.
func NewUpstreamClient(baseURL string, client *http.Client, log *logrus.Entry) *UpstreamClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &UpstreamClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

// upstreamRequest is the envelope the upstream expects around the
// translated request body.
type upstreamRequest struct {
	Model   string          `json:"model"`
	Project string          `json:"project"`
	Request *gemini.Request `json:"request"`
}

// Stream POSTs the translated request and returns a channel of parsed
// chunks. A non-2xx status surfaces as *UpstreamError before any chunk
// is delivered. Malformed SSE lines are dropped; the stream keeps going.
//
// The returned channel is closed when the upstream finishes, errors, or
// ctx is cancelled. The goroutine owns the response body.
func (u *UpstreamClient) Stream(ctx context.Context, tok *auth.Token, model string, req *gemini.Request) (<-chan *gemini.Chunk, error) {
	body, err := json.Marshal(upstreamRequest{
		Model:   model,
		Project: tok.ProjectID,
		Request: req,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling upstream request: %w", err)
	}

	url := u.baseURL + "/v1internal:streamGenerateContent?alt=sse"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	httpReq.Header.Set("X-Goog-User-Project", tok.ProjectID)
	httpReq.Header.Set("X-Session-Id", tok.SessionID)

	httpResp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling upstream: %w", err)
	}

	// Check the status before handing the body to the goroutine, so the
	// caller can route the error through the retry policy while it can
	// still choose another account.
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		errBody, _ := io.ReadAll(httpResp.Body)
		return nil, &UpstreamError{Status: httpResp.StatusCode, Body: string(errBody)}
	}

	ch := make(chan *gemini.Chunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		// Chunks carrying whole tool arguments can be large.
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			var chunk gemini.Chunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				// One bad line doesn't end the stream.
				u.log.WithError(err).Debug("dropping malformed upstream chunk")
				continue
			}

			select {
			case ch <- &chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			u.log.WithError(err).Warn("upstream stream read ended with error")
		}
	}()

	return ch, nil
}

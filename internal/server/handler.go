package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/howard-nolan/geminigate/internal/anthropic"
	"github.com/howard-nolan/geminigate/internal/proxy"
	"github.com/howard-nolan/geminigate/internal/stream"
)

// handleHealth is a basic liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleMessages handles POST /v1/messages, in both streaming and
// buffered form. Both run the same engine; the difference is where the
// events go.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	if req.Stream {
		s.streamMessages(w, r, &req)
		return
	}

	col := stream.NewCollector()
	err := s.engine.Run(r.Context(), &req, func(e stream.Event) error {
		col.Add(e)
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("request failed")
		status, errType := mapUpstreamError(err)
		s.writeError(w, status, errType, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(col.Response())
}

// streamMessages runs the engine with an SSE writer. Once the first
// event has gone out the response is committed; a later failure can
// only be logged.
func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request, req *anthropic.MessagesRequest) {
	sw, err := stream.NewWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}

	sentAny := false
	err = s.engine.Run(r.Context(), req, func(e stream.Event) error {
		sentAny = true
		return sw.Send(e)
	})
	if err != nil {
		s.log.WithError(err).Warn("streaming request failed")
		if !sentAny {
			// Headers aren't committed until the first write, so the
			// error can still go out as plain JSON.
			w.Header().Del("Cache-Control")
			w.Header().Del("Connection")
			status, errType := mapUpstreamError(err)
			s.writeError(w, status, errType, err.Error())
		}
	}
}

// mapUpstreamError translates pipeline failures into client-facing
// Anthropic-style error classes.
func mapUpstreamError(err error) (int, string) {
	var ue *proxy.UpstreamError
	if !errors.As(err, &ue) {
		return http.StatusBadGateway, "api_error"
	}
	switch ue.Status {
	case http.StatusTooManyRequests:
		return http.StatusTooManyRequests, "rate_limit_error"
	case http.StatusForbidden:
		return http.StatusForbidden, "permission_error"
	case http.StatusNotFound:
		return http.StatusNotFound, "not_found_error"
	case http.StatusUnauthorized:
		return http.StatusUnauthorized, "authentication_error"
	default:
		return http.StatusBadGateway, "api_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(anthropic.NewErrorResponse(errType, message))
}

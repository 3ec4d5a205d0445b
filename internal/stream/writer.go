package stream

import (
	"fmt"
	"net/http"
)

// ---------------------------------------------------------------------------
// SSE Writer
// ---------------------------------------------------------------------------

// Writer sends named SSE events to an http.ResponseWriter, flushing after
// each one so the client sees tokens arrive in real time.
//
// The Messages API streaming format uses named events, one per frame:
//
//	event: content_block_delta
//	data: {"type":"content_block_delta","index":0,"delta":{...}}
//
// There is no [DONE] sentinel; message_stop is the terminal event.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares the response for SSE. It asserts the ResponseWriter
// supports flushing and sets the streaming headers, which must happen
// before the first body write.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	// http.ResponseWriter alone can't push partial output to the client;
	// the concrete type Go's HTTP server hands us also implements
	// http.Flusher, and we need that to deliver each event immediately.
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	// Content-Type identifies the SSE protocol. Cache-Control stops
	// proxies from buffering the stream. Connection keeps the socket
	// open for the duration of the response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event frame and flushes it. The blank line after the
// data field is what marks the end of the frame for the client.
func (sw *Writer) Send(e Event) error {
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", e.Name, e.JSON()); err != nil {
		return fmt.Errorf("writing SSE event %s: %w", e.Name, err)
	}
	sw.flusher.Flush()
	return nil
}

// SendAll writes a batch of events in order, stopping at the first
// write failure.
func (sw *Writer) SendAll(events []Event) error {
	for _, e := range events {
		if err := sw.Send(e); err != nil {
			return err
		}
	}
	return nil
}

package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rhuss/parley/pkg/api"
)

// sseWriter frames StreamingUpdates as server-sent events:
//
//	event: {type}
//	data: {json}
//
// Every frame is flushed immediately so the client sees each update as
// the backend produces it.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// start sends the response headers and flushes them, so the client has
// the stream ID before the first update exists.
func (s *sseWriter) start() error {
	if s.started {
		return nil
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing headers: %w", err)
	}
	return nil
}

func (s *sseWriter) write(u api.StreamingUpdate) error {
	if err := s.start(); err != nil {
		return err
	}

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshaling update: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", u.Type, data); err != nil {
		return fmt.Errorf("writing update: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing update: %w", err)
	}
	return nil
}

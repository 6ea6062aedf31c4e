// Package http serves the parley API over HTTP: JSON endpoints for
// orchestrated calls and discovery, and server-sent events for streams.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/transport"
)

// StreamIDHeader carries the ID under which a stream can be cancelled.
const StreamIDHeader = "X-Stream-ID"

// Adapter routes HTTP requests to a transport.Service.
type Adapter struct {
	svc         transport.Service
	inflight    *transport.InFlight
	mux         *http.ServeMux
	maxBodySize int64
	logger      *slog.Logger
}

// NewAdapter registers the API routes on a fresh ServeMux.
func NewAdapter(svc transport.Service, maxBodySize int64, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		svc:         svc,
		inflight:    transport.NewInFlight(),
		mux:         http.NewServeMux(),
		maxBodySize: maxBodySize,
		logger:      logger,
	}

	a.mux.HandleFunc("POST /v1/chat", a.handleChat)
	a.mux.HandleFunc("POST /v1/chat/stream", a.handleChatStream)
	a.mux.HandleFunc("DELETE /v1/streams/{id}", a.handleCancelStream)
	a.mux.HandleFunc("POST /v1/templates/{name}/execute", a.handleExecuteTemplate)
	a.mux.HandleFunc("GET /v1/templates", a.handleListTemplates)
	a.mux.HandleFunc("GET /v1/backends", a.handleListBackends)
	a.mux.HandleFunc("GET /v1/tools", a.handleListTools)

	return a
}

// Mux exposes the router so the server can add operational endpoints.
func (a *Adapter) Mux() *http.ServeMux { return a.mux }

// InFlight returns the registry of running streams.
func (a *Adapter) InFlight() *transport.InFlight { return a.inflight }

// decode reads a JSON body. An empty body leaves v untouched when
// allowEmpty is set.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w, &api.APIError{
			Type:    api.ErrorTypeInvalidRequest,
			Param:   "content_type",
			Message: "Content-Type must be application/json",
		}, http.StatusUnsupportedMediaType)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		transport.WriteErrorResponse(w, &api.APIError{
			Type:    api.ErrorTypeInvalidRequest,
			Param:   "body",
			Message: fmt.Sprintf("request body too large (max %d bytes)", a.maxBodySize),
		}, http.StatusRequestEntityTooLarge)
		return false
	}
	transport.WriteErrorResponse(w, &api.APIError{
		Type:    api.ErrorTypeInvalidRequest,
		Param:   "body",
		Message: "invalid JSON: " + err.Error(),
	}, http.StatusBadRequest)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// listResponse wraps discovery results.
type listResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func list[T any](data []T) listResponse[T] {
	if data == nil {
		data = []T{}
	}
	return listResponse[T]{Object: "list", Data: data}
}

func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	resp, err := a.svc.Send(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if !a.decode(w, r, &req, false) {
		return
	}

	id, ctx, done := a.inflight.Start(r.Context())
	defer done()

	seq, err := a.svc.OpenStream(ctx, req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	w.Header().Set(StreamIDHeader, id)
	sse := newSSEWriter(w)
	if err := sse.start(); err != nil {
		a.logger.Debug("stream client gone", "stream_id", id, "error", err)
		return
	}
	for u := range seq {
		if err := sse.write(u); err != nil {
			a.logger.Debug("stream client gone", "stream_id", id, "error", err)
			return
		}
	}
}

func (a *Adapter) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.inflight.Cancel(id) {
		transport.WriteErrorResponse(w, &api.APIError{
			Type:    api.ErrorTypeNotFound,
			Code:    "stream_not_found",
			Param:   "id",
			Message: fmt.Sprintf("no running stream %q", id),
		}, http.StatusNotFound)
		return
	}
	a.logger.Info("stream cancelled", "stream_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleExecuteTemplate(w http.ResponseWriter, r *http.Request) {
	var req api.TemplateRequest
	if !a.decode(w, r, &req, true) {
		return
	}
	resp, err := a.svc.ExecuteTemplate(r.Context(), r.PathValue("name"), req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	infos, err := a.svc.ListAvailableTemplates()
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list(infos))
}

func (a *Adapter) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, list(a.svc.Backends()))
}

func (a *Adapter) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, list(a.svc.Tools()))
}

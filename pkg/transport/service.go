package transport

import (
	"context"
	"iter"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/template"
	"github.com/rhuss/parley/pkg/tools"
)

// Service is the set of operations exposed over the wire.
// *orchestrator.Orchestrator implements it.
type Service interface {
	Send(ctx context.Context, req api.ChatRequest) (*api.Response, error)

	// OpenStream returns request errors synchronously; the sequence itself
	// ends with exactly one final update unless ctx is cancelled.
	OpenStream(ctx context.Context, req api.ChatRequest) (iter.Seq[api.StreamingUpdate], error)

	ExecuteTemplate(ctx context.Context, name string, req api.TemplateRequest) (*api.Response, error)

	Backends() []api.BackendInfo
	ListAvailableTemplates() ([]template.Info, error)
	Tools() []tools.Definition
}

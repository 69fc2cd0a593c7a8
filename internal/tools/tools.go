package tools

import (
	"context"

	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/tmc/langchaingo/llms"
)

// Result is what a tool hands back to the orchestration loop. Content is
// fed to the model; InputRequired stops the loop and surfaces Content to
// the user; Artifacts attach to the task.
type Result struct {
	Content       string
	InputRequired bool
	Artifacts     []model.Artifact
}

// Tool is one agent capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args string) (Result, error)
}

// Registry holds the tool set in registration order.
type Registry struct {
	order []string
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions renders the registry as model-facing tool declarations.
func (r *Registry) Definitions() []llms.Tool {
	out := make([]llms.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

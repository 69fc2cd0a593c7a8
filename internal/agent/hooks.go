package agent

import (
	"context"
	"log"

	"github.com/ggonzalez94/defi-agent/internal/tools"
)

// ToolCall is one model-requested tool invocation as seen by hooks.
// Before hooks may rewrite Arguments.
type ToolCall struct {
	Name      string
	Arguments string
}

// Hook wraps tool execution. A non-nil Result from Before short-circuits:
// the tool and the remaining hooks are skipped and the result is used as
// the tool outcome. After may replace the result.
type Hook interface {
	Name() string
	Before(ctx context.Context, call *ToolCall) (*tools.Result, error)
	After(ctx context.Context, call *ToolCall, result *tools.Result) (*tools.Result, error)
}

// runHooks executes the before chain, the tool, then the after chain.
func runHooks(ctx context.Context, hooks []Hook, call *ToolCall, run func(ctx context.Context, args string) (tools.Result, error)) (tools.Result, error) {
	for _, h := range hooks {
		out, err := h.Before(ctx, call)
		if err != nil {
			return tools.Result{}, err
		}
		if out != nil {
			return *out, nil
		}
	}
	result, err := run(ctx, call.Arguments)
	if err != nil {
		return tools.Result{}, err
	}
	for _, h := range hooks {
		out, err := h.After(ctx, call, &result)
		if err != nil {
			return tools.Result{}, err
		}
		if out != nil {
			result = *out
		}
	}
	return result, nil
}

// LoggingHook traces tool calls and their outcomes.
type LoggingHook struct{}

func (LoggingHook) Name() string { return "logging" }

func (LoggingHook) Before(_ context.Context, call *ToolCall) (*tools.Result, error) {
	log.Printf("tool %s called with args: %s", call.Name, call.Arguments)
	return nil, nil
}

func (LoggingHook) After(_ context.Context, call *ToolCall, result *tools.Result) (*tools.Result, error) {
	if result.InputRequired {
		log.Printf("tool %s needs user input", call.Name)
	} else {
		log.Printf("tool %s returned %d bytes", call.Name, len(result.Content))
	}
	return nil, nil
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/tools"
	"github.com/tmc/langchaingo/llms"
)

const defaultSystemPrompt = `You are a DeFi transaction assistant. You turn natural-language
instructions into on-chain transaction plans using the available tools.
Rules:
- Use the tools; never invent transaction data, addresses or rates.
- Do not guess token symbols or chains. If a tool reports that a token
  exists on multiple chains, relay its question to the user verbatim.
- Amounts are decimal strings exactly as the user stated them.
- When a tool reports a prepared plan, summarize it for the user and stop.`

// Loop drives one task through the model-and-tools cycle until the task
// reaches input-required or a terminal state, or the step budget runs out.
type Loop struct {
	Model        llms.Model
	Registry     *tools.Registry
	Hooks        []Hook
	MaxSteps     int
	SystemPrompt string
}

func NewLoop(m llms.Model, registry *tools.Registry, hooks ...Hook) *Loop {
	return &Loop{
		Model:        m,
		Registry:     registry,
		Hooks:        hooks,
		MaxSteps:     10,
		SystemPrompt: defaultSystemPrompt,
	}
}

// Run processes one user instruction. The task always leaves in
// input-required, completed or failed; the returned error carries the
// failure cause when the task failed.
func (l *Loop) Run(ctx context.Context, t *model.Task, input string) error {
	if strings.TrimSpace(input) == "" {
		return l.fail(t, clierr.New(clierr.CodeUsage, "instruction is empty"))
	}
	maxSteps := l.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}
	if err := t.SetStatus(model.TaskStateWorking, nil); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "start task", err)
	}

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(l.SystemPrompt)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(input)}},
	}
	defs := l.Registry.Definitions()

	for step := 0; step < maxSteps; step++ {
		resp, err := l.Model.GenerateContent(ctx, messages, llms.WithTools(defs))
		if err != nil {
			return l.fail(t, clierr.Wrap(clierr.CodeUnavailable, "generate model response", err))
		}
		if len(resp.Choices) == 0 {
			return l.fail(t, clierr.New(clierr.CodeUnavailable, "model returned no choices"))
		}
		choice := resp.Choices[0]

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: assistantParts})

		if len(choice.ToolCalls) == 0 {
			return t.SetStatus(model.TaskStateCompleted, model.AgentMessage(choice.Content))
		}

		for _, tc := range choice.ToolCalls {
			result, err := l.executeToolCall(ctx, tc)
			if err != nil {
				var typed *clierr.Error
				if errors.As(err, &typed) {
					return l.fail(t, err)
				}
				// Untyped errors go back to the model for another attempt.
				result = tools.Result{Content: fmt.Sprintf("Error: %v", err)}
			}
			for _, a := range result.Artifacts {
				t.AddArtifact(a.Name, a.Parts...)
			}
			if result.InputRequired {
				return t.SetStatus(model.TaskStateInputRequired, model.AgentMessage(result.Content))
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    result.Content,
					},
				},
			})
		}
	}
	return l.fail(t, clierr.New(clierr.CodeInternal, "reached the maximum number of reasoning steps"))
}

func (l *Loop) executeToolCall(ctx context.Context, tc llms.ToolCall) (tools.Result, error) {
	if tc.FunctionCall == nil {
		return tools.Result{}, fmt.Errorf("tool call %s has no function", tc.ID)
	}
	tool := l.Registry.Get(tc.FunctionCall.Name)
	if tool == nil {
		return tools.Result{}, fmt.Errorf("tool %s not found", tc.FunctionCall.Name)
	}
	call := &ToolCall{Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments}
	return runHooks(ctx, l.Hooks, call, tool.Execute)
}

func (l *Loop) fail(t *model.Task, err error) error {
	if !t.Status.State.Terminal() {
		_ = t.SetStatus(model.TaskStateFailed, model.AgentMessage(err.Error()))
	}
	return err
}

func parseJSON(raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty arguments")
	}
	return json.Unmarshal([]byte(raw), out)
}

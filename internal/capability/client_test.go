package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type scriptedSession struct {
	calls   int
	name    string
	results []func() (*mcp.CallToolResult, error)
}

func (s *scriptedSession) CallTool(_ context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	s.name = params.Name
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx]()
}

func textResult(payload string) func() (*mcp.CallToolResult, error) {
	return func() (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: payload}}}, nil
	}
}

func TestClientRetriesRateLimitThenSucceeds(t *testing.T) {
	session := &scriptedSession{results: []func() (*mcp.CallToolResult, error){
		func() (*mcp.CallToolResult, error) { return nil, errors.New("429 too many requests") },
		textResult(swapPayload),
	}}
	c := New(Options{Timeout: 5 * time.Second, Retries: 2})
	c.session = session

	swap, err := c.Swap(context.Background(), map[string]any{"fromTokenSymbol": "USDC"})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if session.calls != 2 {
		t.Fatalf("calls = %d, want 2", session.calls)
	}
	if session.name != ToolSwapTokens {
		t.Fatalf("tool name = %q, want %q", session.name, ToolSwapTokens)
	}
	if swap.ChainID != 42161 {
		t.Fatalf("ChainID = %d, want 42161", swap.ChainID)
	}
}

func TestClientDoesNotRetryNonTransientErrors(t *testing.T) {
	session := &scriptedSession{results: []func() (*mcp.CallToolResult, error){
		func() (*mcp.CallToolResult, error) { return nil, errors.New("unknown tool") },
	}}
	c := New(Options{Timeout: 5 * time.Second, Retries: 3})
	c.session = session

	_, err := c.CallTool(context.Background(), ToolSupply, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if session.calls != 1 {
		t.Fatalf("calls = %d, want 1", session.calls)
	}
	if clierr.CodeOf(err) != clierr.CodeCapability {
		t.Fatalf("code = %d, want %d", clierr.CodeOf(err), clierr.CodeCapability)
	}
}

func TestClientGivesUpAfterRetryBudget(t *testing.T) {
	session := &scriptedSession{results: []func() (*mcp.CallToolResult, error){
		func() (*mcp.CallToolResult, error) { return nil, errors.New("503 service unavailable") },
	}}
	c := New(Options{Timeout: 10 * time.Second, Retries: 2})
	c.session = session

	if _, err := c.CallTool(context.Background(), ToolBorrow, nil); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if session.calls != 3 {
		t.Fatalf("calls = %d, want 3", session.calls)
	}
}

func TestClientSurfacesToolError(t *testing.T) {
	session := &scriptedSession{results: []func() (*mcp.CallToolResult, error){
		func() (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "pool has no liquidity"}},
			}, nil
		},
	}}
	c := New(Options{Timeout: 5 * time.Second})
	c.session = session

	_, err := c.CallTool(context.Background(), ToolWithdrawLiquidity, nil)
	typed, ok := clierr.As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if typed.Code != clierr.CodeCapability {
		t.Fatalf("code = %d, want %d", typed.Code, clierr.CodeCapability)
	}
	if want := ToolWithdrawLiquidity + ": pool has no liquidity"; typed.Message != want {
		t.Fatalf("message = %q, want %q", typed.Message, want)
	}
}

func TestClientRequiresEndpoint(t *testing.T) {
	c := New(Options{})
	if err := c.Connect(context.Background()); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

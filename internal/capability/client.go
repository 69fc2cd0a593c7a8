package capability

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/version"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names exposed by the capability server.
const (
	ToolSwapTokens         = "swapTokens"
	ToolSupply             = "supply"
	ToolBorrow             = "borrow"
	ToolRepay              = "repay"
	ToolWithdraw           = "withdraw"
	ToolSupplyLiquidity    = "supplyLiquidity"
	ToolWithdrawLiquidity  = "withdrawLiquidity"
	ToolGetCapabilities    = "getCapabilities"
	ToolGetWalletPositions = "getWalletPositions"
)

type toolCaller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// Client talks to the remote capability server over MCP. Calls apply the
// configured timeout and bounded exponential backoff with jitter when the
// server is rate limiting or failing transiently.
type Client struct {
	endpoint string
	timeout  time.Duration
	retries  int
	session  toolCaller
	closer   func() error
}

type Options struct {
	Endpoint string
	// Timeout bounds one tool call including retries. Must accommodate
	// slow cold-start responses.
	Timeout time.Duration
	Retries int
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Client{
		endpoint: strings.TrimSpace(opts.Endpoint),
		timeout:  opts.Timeout,
		retries:  opts.Retries,
	}
}

// Connect establishes the MCP session. It is a no-op when a session is
// already installed (tests inject one directly).
func (c *Client) Connect(ctx context.Context) error {
	if c.session != nil {
		return nil
	}
	if c.endpoint == "" {
		return clierr.New(clierr.CodeUsage, "capability server endpoint is not configured")
	}
	client := mcp.NewClient(&mcp.Implementation{Name: version.CLIName, Version: version.CLIVersion}, nil)
	transport := &mcp.StreamableClientTransport{
		Endpoint:   c.endpoint,
		HTTPClient: &http.Client{Timeout: c.timeout},
	}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeCapability, "connect capability server", err)
	}
	c.session = session
	c.closer = session.Close
	return nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// CallTool invokes one capability-server tool and returns its raw result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-callCtx.Done():
				return nil, clierr.Wrap(clierr.CodeCapability, "capability call cancelled", callCtx.Err())
			case <-time.After(backoff(attempt)):
			}
		}
		res, err := c.session.CallTool(callCtx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			lastErr = err
			if retryable(err) && attempt < c.retries {
				continue
			}
			return nil, clierr.Wrap(clierr.CodeCapability, "call capability server tool "+name, err)
		}
		if res.IsError {
			return nil, clierr.New(clierr.CodeCapability, toolErrorMessage(name, res))
		}
		return res, nil
	}
	return nil, clierr.Wrap(clierr.CodeCapability, "call capability server tool "+name, lastErr)
}

func (c *Client) Swap(ctx context.Context, args map[string]any) (*SwapResponse, error) {
	res, err := c.CallTool(ctx, ToolSwapTokens, args)
	if err != nil {
		return nil, err
	}
	return UnwrapAndDecode[SwapResponse](res)
}

func (c *Client) Lending(ctx context.Context, tool string, args map[string]any) (*LendingResponse, error) {
	res, err := c.CallTool(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	return UnwrapAndDecode[LendingResponse](res)
}

func (c *Client) Liquidity(ctx context.Context, tool string, args map[string]any) (*LiquidityResponse, error) {
	res, err := c.CallTool(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	return UnwrapAndDecode[LiquidityResponse](res)
}

func (c *Client) WalletPositions(ctx context.Context, address string) (*WalletPositionsResponse, error) {
	res, err := c.CallTool(ctx, ToolGetWalletPositions, map[string]any{"walletAddress": address})
	if err != nil {
		return nil, err
	}
	return UnwrapAndDecode[WalletPositionsResponse](res)
}

func (c *Client) Capabilities(ctx context.Context) (*CapabilitiesResponse, error) {
	res, err := c.CallTool(ctx, ToolGetCapabilities, nil)
	if err != nil {
		return nil, err
	}
	return UnwrapAndDecode[CapabilitiesResponse](res)
}

func toolErrorMessage(name string, res *mcp.CallToolResult) string {
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok && strings.TrimSpace(text.Text) != "" {
			return name + ": " + strings.TrimSpace(text.Text)
		}
	}
	return name + ": capability server reported an error"
}

func retryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "too many requests", "429", "500", "502", "503", "504", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func backoff(attempt int) time.Duration {
	base := 250 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 4*time.Second {
		d = 4 * time.Second
	}
	jitter := time.Duration(rand.Intn(150)) * time.Millisecond
	return d + jitter
}

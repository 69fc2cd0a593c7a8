package tools

import (
	"context"
	"fmt"

	"github.com/ggonzalez94/defi-agent/internal/plan"
	"github.com/ggonzalez94/defi-agent/internal/token"
)

// SwapTool builds a swap plan via the capability server.
type SwapTool struct {
	Deps
}

type swapArgs struct {
	FromToken string `json:"fromToken"`
	ToToken   string `json:"toToken"`
	Amount    string `json:"amount"`
	Chain     string `json:"chain,omitempty"`
}

func (t *SwapTool) Name() string { return "swap" }

func (t *SwapTool) Description() string {
	return "Swap one token for another. Requires the source token symbol, destination token symbol and a decimal amount. Chain is optional; omit it unless the user names one."
}

func (t *SwapTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fromToken": map[string]any{"type": "string", "description": "Symbol of the token to sell, e.g. USDC"},
			"toToken":   map[string]any{"type": "string", "description": "Symbol of the token to buy, e.g. WETH"},
			"amount":    map[string]any{"type": "string", "description": "Decimal amount of the source token"},
			"chain":     map[string]any{"type": "string", "description": "Chain name or id, only when the user specified one"},
		},
		"required": []string{"fromToken", "toToken", "amount"},
	}
}

func (t *SwapTool) Execute(ctx context.Context, args string) (Result, error) {
	var in swapArgs
	if err := parseArgs(args, &in); err != nil {
		return Result{}, err
	}
	from, to, ask, err := t.resolvePair(in.FromToken, in.ToToken, in.Chain)
	if err != nil {
		return Result{}, err
	}
	if ask != nil {
		return *ask, nil
	}
	amount, err := parseAmount(in.Amount, from)
	if err != nil {
		return Result{}, err
	}

	resp, err := t.Capabilities.Swap(ctx, map[string]any{
		"fromTokenSymbol": from.Symbol,
		"toTokenSymbol":   to.Symbol,
		"amount":          in.Amount,
		"chainId":         from.ChainID,
		"walletAddress":   t.Wallet,
	})
	if err != nil {
		return Result{}, err
	}
	entries, err := t.Builder.Build(ctx, resp.ChainID, resp.Transactions, &plan.ApprovalNeed{
		Token:  from,
		Owner:  t.Wallet,
		Amount: amount,
	})
	if err != nil {
		return Result{}, err
	}
	preview := fmt.Sprintf("Swap %s %s for %s %s on %s (%d transaction(s))",
		resp.FromAmount, from.Symbol, resp.ToAmount, to.Symbol, token.ChainName(resp.ChainID), len(entries))
	if resp.ExchangeRate != "" {
		preview += fmt.Sprintf("\nRate: 1 %s = %s %s", from.Symbol, resp.ExchangeRate, to.Symbol)
	}
	if len(entries) > 0 && entries[0].Kind == plan.KindApproval {
		preview += "\nIncludes a token approval step."
	}
	return planResult(entries, resp.ChainID, preview)
}

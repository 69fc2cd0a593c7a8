package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ggonzalez94/defi-agent/internal/token"
)

// PositionsTool lists the wallet's open protocol positions. Read-only.
type PositionsTool struct {
	Deps
}

func (t *PositionsTool) Name() string { return "get_wallet_positions" }

func (t *PositionsTool) Description() string {
	return "List the wallet's current positions: lending supplies and borrows, and liquidity position NFTs with their ids."
}

func (t *PositionsTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *PositionsTool) Execute(ctx context.Context, _ string) (Result, error) {
	resp, err := t.Capabilities.WalletPositions(ctx, t.Wallet)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Positions) == 0 {
		return Result{Content: "The wallet has no open positions."}, nil
	}
	var b strings.Builder
	for i, p := range resp.Positions {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s %s on %s", p.Protocol, p.Kind, token.ChainName(p.ChainID))
		if p.TokenSymbol != "" {
			fmt.Fprintf(&b, ": %s %s", p.Amount, p.TokenSymbol)
		}
		if p.PositionID != "" {
			fmt.Fprintf(&b, " (position %s)", p.PositionID)
		}
	}
	return Result{Content: b.String()}, nil
}

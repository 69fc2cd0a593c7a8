package tools

import (
	"context"
	"fmt"

	"github.com/ggonzalez94/defi-agent/internal/capability"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/plan"
	"github.com/ggonzalez94/defi-agent/internal/token"
)

// LendingTool covers supply, borrow, repay and withdraw against the
// lending market. Supply and repay move tokens out of the wallet and get
// an allowance check; borrow and withdraw do not.
type LendingTool struct {
	Deps
	Action string
}

var lendingToolByAction = map[string]string{
	"supply":   capability.ToolSupply,
	"borrow":   capability.ToolBorrow,
	"repay":    capability.ToolRepay,
	"withdraw": capability.ToolWithdraw,
}

var lendingSpends = map[string]bool{
	"supply": true,
	"repay":  true,
}

type lendingArgs struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Chain  string `json:"chain,omitempty"`
}

func (t *LendingTool) Name() string { return t.Action }

func (t *LendingTool) Description() string {
	switch t.Action {
	case "supply":
		return "Supply a token to the lending market to earn interest. Requires token symbol and decimal amount."
	case "borrow":
		return "Borrow a token from the lending market against existing collateral. Requires token symbol and decimal amount."
	case "repay":
		return "Repay borrowed tokens to the lending market. Requires token symbol and decimal amount."
	default:
		return "Withdraw previously supplied tokens from the lending market. Requires token symbol and decimal amount."
	}
}

func (t *LendingTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token":  map[string]any{"type": "string", "description": "Token symbol, e.g. USDC"},
			"amount": map[string]any{"type": "string", "description": "Decimal amount"},
			"chain":  map[string]any{"type": "string", "description": "Chain name or id, only when the user specified one"},
		},
		"required": []string{"token", "amount"},
	}
}

func (t *LendingTool) Execute(ctx context.Context, args string) (Result, error) {
	serverTool, ok := lendingToolByAction[t.Action]
	if !ok {
		return Result{}, clierr.New(clierr.CodeInternal, fmt.Sprintf("unknown lending action %q", t.Action))
	}
	var in lendingArgs
	if err := parseArgs(args, &in); err != nil {
		return Result{}, err
	}
	asset, ask, err := t.resolveOne(in.Token, in.Chain)
	if err != nil {
		return Result{}, err
	}
	if ask != nil {
		return *ask, nil
	}
	amount, err := parseAmount(in.Amount, asset)
	if err != nil {
		return Result{}, err
	}

	resp, err := t.Capabilities.Lending(ctx, serverTool, map[string]any{
		"tokenSymbol":   asset.Symbol,
		"amount":        in.Amount,
		"chainId":       asset.ChainID,
		"walletAddress": t.Wallet,
	})
	if err != nil {
		return Result{}, err
	}
	var needs []*plan.ApprovalNeed
	if lendingSpends[t.Action] {
		needs = append(needs, &plan.ApprovalNeed{Token: asset, Owner: t.Wallet, Amount: amount})
	}
	entries, err := t.Builder.Build(ctx, resp.ChainID, resp.Transactions, needs...)
	if err != nil {
		return Result{}, err
	}
	preview := fmt.Sprintf("%s %s %s on %s (%d transaction(s))",
		titleCase(t.Action), resp.Amount, asset.Symbol, token.ChainName(resp.ChainID), len(entries))
	if len(entries) > 0 && entries[0].Kind == plan.KindApproval {
		preview += "\nIncludes a token approval step."
	}
	return planResult(entries, resp.ChainID, preview)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

package tools

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ggonzalez94/defi-agent/internal/capability"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/plan"
	"github.com/ggonzalez94/defi-agent/internal/registry"
	"github.com/ggonzalez94/defi-agent/internal/token"
)

// ArtifactWithdrawal marks a position withdrawal pending confirmation.
const ArtifactWithdrawal = "withdrawal"

// SupplyLiquidityTool provides two-sided liquidity through the capability
// server. Both legs leave the wallet, so both get allowance checks.
type SupplyLiquidityTool struct {
	Deps
}

type supplyLiquidityArgs struct {
	Token0  string `json:"token0"`
	Token1  string `json:"token1"`
	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`
	Chain   string `json:"chain,omitempty"`
}

func (t *SupplyLiquidityTool) Name() string { return "supply_liquidity" }

func (t *SupplyLiquidityTool) Description() string {
	return "Provide liquidity to a two-token pool. Requires both token symbols and decimal amounts."
}

func (t *SupplyLiquidityTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token0":  map[string]any{"type": "string", "description": "First token symbol"},
			"token1":  map[string]any{"type": "string", "description": "Second token symbol"},
			"amount0": map[string]any{"type": "string", "description": "Decimal amount of the first token"},
			"amount1": map[string]any{"type": "string", "description": "Decimal amount of the second token"},
			"chain":   map[string]any{"type": "string", "description": "Chain name or id, only when the user specified one"},
		},
		"required": []string{"token0", "token1", "amount0", "amount1"},
	}
}

func (t *SupplyLiquidityTool) Execute(ctx context.Context, args string) (Result, error) {
	var in supplyLiquidityArgs
	if err := parseArgs(args, &in); err != nil {
		return Result{}, err
	}
	token0, token1, ask, err := t.resolvePair(in.Token0, in.Token1, in.Chain)
	if err != nil {
		return Result{}, err
	}
	if ask != nil {
		return *ask, nil
	}
	amount0, err := parseAmount(in.Amount0, token0)
	if err != nil {
		return Result{}, err
	}
	amount1, err := parseAmount(in.Amount1, token1)
	if err != nil {
		return Result{}, err
	}

	resp, err := t.Capabilities.Liquidity(ctx, capability.ToolSupplyLiquidity, map[string]any{
		"token0Symbol":  token0.Symbol,
		"token1Symbol":  token1.Symbol,
		"amount0":       in.Amount0,
		"amount1":       in.Amount1,
		"chainId":       token0.ChainID,
		"walletAddress": t.Wallet,
	})
	if err != nil {
		return Result{}, err
	}
	entries, err := t.Builder.Build(ctx, resp.ChainID, resp.Transactions,
		&plan.ApprovalNeed{Token: token0, Owner: t.Wallet, Amount: amount0},
		&plan.ApprovalNeed{Token: token1, Owner: t.Wallet, Amount: amount1},
	)
	if err != nil {
		return Result{}, err
	}
	preview := fmt.Sprintf("Supply %s %s and %s %s as liquidity on %s (%d transaction(s))",
		in.Amount0, token0.Symbol, in.Amount1, token1.Symbol, token.ChainName(resp.ChainID), len(entries))
	return planResult(entries, resp.ChainID, preview)
}

// WithdrawLiquidityTool empties a position NFT. The withdrawal runs as a
// state machine against the position manager, so the artifact records the
// position, not a transaction list.
type WithdrawLiquidityTool struct {
	Deps
}

type withdrawLiquidityArgs struct {
	PositionID string `json:"positionId"`
	Chain      string `json:"chain"`
}

func (t *WithdrawLiquidityTool) Name() string { return "withdraw_liquidity" }

func (t *WithdrawLiquidityTool) Description() string {
	return "Withdraw all liquidity from a position NFT and collect owed tokens. Requires the position id and the chain it lives on."
}

func (t *WithdrawLiquidityTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"positionId": map[string]any{"type": "string", "description": "Numeric id of the position NFT"},
			"chain":      map[string]any{"type": "string", "description": "Chain name or id the position lives on"},
		},
		"required": []string{"positionId", "chain"},
	}
}

func (t *WithdrawLiquidityTool) Execute(_ context.Context, args string) (Result, error) {
	var in withdrawLiquidityArgs
	if err := parseArgs(args, &in); err != nil {
		return Result{}, err
	}
	chainID, err := token.ParseChain(in.Chain)
	if err != nil {
		return Result{}, err
	}
	tokenID, ok := new(big.Int).SetString(strings.TrimSpace(in.PositionID), 10)
	if !ok || tokenID.Sign() < 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "position id must be a non-negative integer")
	}
	manager, ok := registry.PositionManagerAddress(chainID)
	if !ok {
		return Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("no position manager known for %s", token.ChainName(chainID)))
	}

	data, err := dataMap(map[string]any{
		"chainId":   chainID,
		"manager":   manager,
		"tokenId":   tokenID.String(),
		"recipient": t.Wallet,
	})
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeInternal, "encode withdrawal artifact", err)
	}
	content := fmt.Sprintf("Withdraw position %s on %s: decrease liquidity, collect owed tokens, and burn the NFT once empty.\n\nReply to confirm, then run the execute command with this task id to submit.",
		tokenID.String(), token.ChainName(chainID))
	return Result{
		Content:       content,
		InputRequired: true,
		Artifacts: []model.Artifact{
			{Name: ArtifactWithdrawal, Parts: []model.Part{model.DataPart(data)}},
		},
	}, nil
}

// DecodeWithdrawalArtifact is the inverse of the withdrawal artifact,
// consumed by the execute path.
func DecodeWithdrawalArtifact(a model.Artifact) (chainID int64, manager, tokenID, recipient string, err error) {
	for _, part := range a.Parts {
		if part.Kind != model.PartKindData {
			continue
		}
		id, _ := part.Data["chainId"].(float64)
		manager, _ = part.Data["manager"].(string)
		tokenID, _ = part.Data["tokenId"].(string)
		recipient, _ = part.Data["recipient"].(string)
		if id == 0 || manager == "" || tokenID == "" || recipient == "" {
			return 0, "", "", "", clierr.New(clierr.CodeInvalidSchema, "withdrawal artifact is missing fields")
		}
		return int64(id), manager, tokenID, recipient, nil
	}
	return 0, "", "", "", clierr.New(clierr.CodeInvalidSchema, "withdrawal artifact has no data part")
}

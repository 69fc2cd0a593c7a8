package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ggonzalez94/defi-agent/internal/capability"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/plan"
	"github.com/ggonzalez94/defi-agent/internal/token"
)

// Artifact data keys shared with the execute command.
const (
	PlanKeyChainID = "chainId"
	PlanKeyEntries = "entries"
)

// CapabilityCaller is the capability-server surface the tools consume.
type CapabilityCaller interface {
	Swap(ctx context.Context, args map[string]any) (*capability.SwapResponse, error)
	Lending(ctx context.Context, tool string, args map[string]any) (*capability.LendingResponse, error)
	Liquidity(ctx context.Context, tool string, args map[string]any) (*capability.LiquidityResponse, error)
	WalletPositions(ctx context.Context, address string) (*capability.WalletPositionsResponse, error)
}

// Deps bundles what every tool needs: the capability client, the token
// inventory, the plan builder and the signing wallet.
type Deps struct {
	Capabilities   CapabilityCaller
	Tokens         token.Map
	Builder        *plan.Builder
	Wallet         string
	DefaultChainID int64
}

// DefaultRegistry wires the full tool set against one dependency bundle.
func DefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()
	r.Register(&SwapTool{Deps: deps})
	for _, action := range []string{"supply", "borrow", "repay", "withdraw"} {
		r.Register(&LendingTool{Deps: deps, Action: action})
	}
	r.Register(&SupplyLiquidityTool{Deps: deps})
	r.Register(&WithdrawLiquidityTool{Deps: deps})
	r.Register(&PositionsTool{Deps: deps})
	return r
}

func (d Deps) resolvePair(fromSymbol, toSymbol, chain string) (token.Info, token.Info, *Result, error) {
	from, to, res, err := d.Tokens.ResolvePair(fromSymbol, toSymbol, chain, d.DefaultChainID)
	if err != nil {
		return token.Info{}, token.Info{}, nil, err
	}
	if res != nil && res.NeedsInput() {
		return token.Info{}, token.Info{}, &Result{Content: res.Disambiguation, InputRequired: true}, nil
	}
	return from, to, nil, nil
}

func (d Deps) resolveOne(symbol, chain string) (token.Info, *Result, error) {
	res, err := d.Tokens.Resolve(symbol, chain)
	if err != nil {
		return token.Info{}, nil, err
	}
	if res.NeedsInput() {
		return token.Info{}, &Result{Content: res.Disambiguation, InputRequired: true}, nil
	}
	return res.Token, nil, nil
}

// planResult packages a built plan as task artifacts plus a confirmation
// prompt. Execution happens later, once the user confirms.
func planResult(entries []plan.Entry, chainID int64, preview string) (Result, error) {
	planData, err := dataMap(map[string]any{
		PlanKeyChainID: chainID,
		PlanKeyEntries: entries,
	})
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeInternal, "encode plan artifact", err)
	}
	content := preview + "\n\nReply to confirm, then run the execute command with this task id to submit."
	return Result{
		Content:       content,
		InputRequired: true,
		Artifacts: []model.Artifact{
			{Name: model.ArtifactTxPlan, Parts: []model.Part{model.DataPart(planData)}},
			{Name: model.ArtifactTxPreview, Parts: []model.Part{model.TextPart(preview)}},
		},
	}, nil
}

// DecodePlanArtifact is the inverse of planResult, used by the execute path.
func DecodePlanArtifact(a model.Artifact) ([]plan.Entry, int64, error) {
	for _, part := range a.Parts {
		if part.Kind != model.PartKindData {
			continue
		}
		raw, err := json.Marshal(part.Data)
		if err != nil {
			return nil, 0, clierr.Wrap(clierr.CodeInternal, "encode plan artifact data", err)
		}
		var decoded struct {
			ChainID int64        `json:"chainId"`
			Entries []plan.Entry `json:"entries"`
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, 0, clierr.Wrap(clierr.CodeInvalidSchema, "decode plan artifact", err)
		}
		if len(decoded.Entries) == 0 {
			return nil, 0, clierr.New(clierr.CodeInvalidSchema, "plan artifact has no entries")
		}
		return decoded.Entries, decoded.ChainID, nil
	}
	return nil, 0, clierr.New(clierr.CodeInvalidSchema, "plan artifact has no data part")
}

func dataMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseArgs(raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		return clierr.New(clierr.CodeUsage, "tool call has no arguments")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "decode tool arguments", err)
	}
	return nil
}

func parseAmount(amount string, t token.Info) (*big.Int, error) {
	base, err := token.ToBaseUnits(amount, t.Decimals)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("parse %s amount", strings.ToUpper(t.Symbol)), err)
	}
	if base.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	return base, nil
}

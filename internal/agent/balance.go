package agent

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/token"
	"github.com/ggonzalez94/defi-agent/internal/tools"
)

// BalanceReader reads an ERC20 balance on one chain.
type BalanceReader interface {
	BalanceOf(ctx context.Context, chainID int64, tokenAddr, account string) (*big.Int, error)
}

// BalanceHook rejects spends the wallet cannot cover before any plan is
// built. A balance read failure does not block the call; the chain would
// reject an overdraft anyway.
type BalanceHook struct {
	Tokens         token.Map
	Balances       BalanceReader
	Wallet         string
	DefaultChainID int64
}

func (BalanceHook) Name() string { return "balance-preflight" }

type spendArgs struct {
	FromToken string `json:"fromToken"`
	Token     string `json:"token"`
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	Amount    string `json:"amount"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
	Chain     string `json:"chain"`
}

func (h BalanceHook) Before(ctx context.Context, call *ToolCall) (*tools.Result, error) {
	var in spendArgs
	if err := parseJSON(call.Arguments, &in); err != nil {
		return nil, nil
	}
	var legs [][2]string
	switch call.Name {
	case "swap":
		legs = append(legs, [2]string{in.FromToken, in.Amount})
	case "supply", "repay":
		legs = append(legs, [2]string{in.Token, in.Amount})
	case "supply_liquidity":
		legs = append(legs, [2]string{in.Token0, in.Amount0}, [2]string{in.Token1, in.Amount1})
	default:
		return nil, nil
	}
	for _, leg := range legs {
		if err := h.checkLeg(ctx, leg[0], leg[1], in.Chain); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (BalanceHook) After(context.Context, *ToolCall, *tools.Result) (*tools.Result, error) {
	return nil, nil
}

func (h BalanceHook) checkLeg(ctx context.Context, symbol, amount, chain string) error {
	if symbol == "" || amount == "" {
		return nil
	}
	res, err := h.Tokens.Resolve(symbol, chain)
	if err != nil {
		// Resolution problems are the tool's to report.
		return nil
	}
	if res.NeedsInput() && h.DefaultChainID != 0 {
		res, err = h.Tokens.Resolve(symbol, strconv.FormatInt(h.DefaultChainID, 10))
		if err != nil {
			return nil
		}
	}
	if res.NeedsInput() {
		return nil
	}
	asset := res.Token
	need, err := token.ToBaseUnits(amount, asset.Decimals)
	if err != nil || need.Sign() <= 0 {
		return nil
	}
	have, err := h.Balances.BalanceOf(ctx, asset.ChainID, asset.Address, h.Wallet)
	if err != nil {
		return nil
	}
	if have.Cmp(need) < 0 {
		return clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf(
			"insufficient %s balance on %s: need %s, have %s",
			asset.Symbol, token.ChainName(asset.ChainID),
			token.FormatBaseUnits(need, asset.Decimals),
			token.FormatBaseUnits(have, asset.Decimals)))
	}
	return nil
}

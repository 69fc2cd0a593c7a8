package plan

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-agent/internal/capability"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/registry"
	"github.com/ggonzalez94/defi-agent/internal/token"
)

// Entry kinds, in the order they may appear in a plan.
const (
	KindApproval = "approval"
	KindAction   = "action"
)

// Entry is one unsigned transaction of an ordered plan. Entries execute
// strictly in slice order.
type Entry struct {
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	ChainID     int64  `json:"chainId"`
	To          string `json:"to"`
	Data        string `json:"data"`
	Value       string `json:"value"`
}

// AllowanceReader reads the current ERC20 allowance granted by owner to
// spender on one chain.
type AllowanceReader interface {
	Allowance(ctx context.Context, chainID int64, tokenAddr, owner, spender string) (*big.Int, error)
}

// ApprovalNeed describes the token spend a plan performs. When set, the
// builder checks the live allowance and prepends an approval if the spend
// is not already covered.
type ApprovalNeed struct {
	Token  token.Info
	Owner  string
	Amount *big.Int
	// Spender defaults to the first entry's destination.
	Spender string
}

// Builder assembles executable plans from capability-server transaction
// lists. The server entries are never reordered or rewritten; the builder
// only prepends approvals.
type Builder struct {
	Allowances AllowanceReader
}

func NewBuilder(allowances AllowanceReader) *Builder {
	return &Builder{Allowances: allowances}
}

// Build converts raw transactions into an ordered plan, injecting an
// unlimited approval ahead of the server entries for every need whose
// current allowance does not cover the spend. An allowance read failure
// injects the approval rather than aborting the plan.
func (b *Builder) Build(ctx context.Context, chainID int64, raw []capability.RawTx, needs ...*ApprovalNeed) ([]Entry, error) {
	if len(raw) == 0 {
		return nil, clierr.New(clierr.CodeInvalidSchema, "plan has no transactions")
	}
	entries := make([]Entry, 0, len(raw)+1)
	for i, tx := range raw {
		to := strings.TrimSpace(tx.To)
		if !common.IsHexAddress(to) {
			return nil, clierr.New(clierr.CodeInvalidSchema, fmt.Sprintf("transaction %d has an invalid destination %q", i, tx.To))
		}
		value := strings.TrimSpace(tx.Value)
		if value == "" {
			value = "0"
		}
		if _, ok := new(big.Int).SetString(value, 10); !ok {
			return nil, clierr.New(clierr.CodeInvalidSchema, fmt.Sprintf("transaction %d has a non-decimal value %q", i, tx.Value))
		}
		entries = append(entries, Entry{
			Kind:    KindAction,
			ChainID: chainID,
			To:      common.HexToAddress(to).Hex(),
			Data:    strings.TrimSpace(tx.Data),
			Value:   value,
		})
	}

	approvals := make([]Entry, 0, len(needs))
	for _, need := range needs {
		if need == nil || need.Amount == nil || need.Amount.Sign() <= 0 {
			continue
		}
		approval, err := b.approvalFor(ctx, chainID, entries[0].To, need)
		if err != nil {
			return nil, err
		}
		if approval != nil {
			approvals = append(approvals, *approval)
		}
	}
	return append(approvals, entries...), nil
}

func (b *Builder) approvalFor(ctx context.Context, chainID int64, firstTarget string, need *ApprovalNeed) (*Entry, error) {
	owner := strings.TrimSpace(need.Owner)
	if !common.IsHexAddress(owner) {
		return nil, clierr.New(clierr.CodeUsage, "approval check requires the sender address")
	}
	if !common.IsHexAddress(need.Token.Address) {
		return nil, clierr.New(clierr.CodeInvalidSchema, "approval check requires the token contract address")
	}
	spender := strings.TrimSpace(need.Spender)
	if spender == "" {
		spender = firstTarget
	}
	if !common.IsHexAddress(spender) {
		return nil, clierr.New(clierr.CodeInvalidSchema, "approval check requires a spender address")
	}

	inject := true
	if b.Allowances != nil {
		allowance, err := b.Allowances.Allowance(ctx, chainID, need.Token.Address, owner, spender)
		if err == nil {
			inject = allowance.Cmp(need.Amount) < 0
		}
		// On a read failure the approval is injected anyway: approving a
		// covered spend is a no-op, skipping a needed one reverts the plan.
	}
	if !inject {
		return nil, nil
	}

	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), MaxUint256())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	return &Entry{
		Kind:        KindApproval,
		Description: fmt.Sprintf("Approve %s for %s", strings.ToUpper(need.Token.Symbol), spender),
		ChainID:     chainID,
		To:          common.HexToAddress(need.Token.Address).Hex(),
		Data:        "0x" + common.Bytes2Hex(data),
		Value:       "0",
	}, nil
}

// MaxUint256 is the unlimited-approval amount.
func MaxUint256() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

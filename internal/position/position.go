package position

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution"
	"github.com/ggonzalez94/defi-agent/internal/plan"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

var positionManagerABI = mustABI(registry.PositionManagerABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// State is a point-in-time snapshot of one NFT liquidity position.
type State struct {
	Token0      common.Address
	Token1      common.Address
	Liquidity   *big.Int
	TokensOwed0 *big.Int
	TokensOwed1 *big.Int
}

func (s State) Empty() bool {
	return s.Liquidity.Sign() == 0 && s.TokensOwed0.Sign() == 0 && s.TokensOwed1.Sign() == 0
}

// StateReader fetches the live position state. Every withdrawal step
// re-reads before deciding the next transition.
type StateReader interface {
	Position(ctx context.Context, chainID int64, manager string, tokenID *big.Int) (State, error)
}

type planExecutor interface {
	Execute(ctx context.Context, entries []plan.Entry) ([]execution.StepResult, error)
}

// Report summarizes a withdrawal run.
type Report struct {
	AlreadyEmpty bool                   `json:"alreadyEmpty"`
	Decreased    bool                   `json:"decreased"`
	Collected    bool                   `json:"collected"`
	Burned       bool                   `json:"burned"`
	Steps        []execution.StepResult `json:"steps,omitempty"`
}

// Withdrawer empties a liquidity position: decrease to zero liquidity,
// collect owed tokens, and burn the NFT only once the position reads back
// fully empty.
type Withdrawer struct {
	Reader   StateReader
	Executor planExecutor
	Deadline time.Duration
}

func NewWithdrawer(reader StateReader, executor planExecutor) *Withdrawer {
	return &Withdrawer{Reader: reader, Executor: executor, Deadline: 10 * time.Minute}
}

type WithdrawRequest struct {
	ChainID   int64
	Manager   string
	TokenID   *big.Int
	Recipient string
}

func (w *Withdrawer) Withdraw(ctx context.Context, req WithdrawRequest) (*Report, error) {
	if !common.IsHexAddress(req.Manager) {
		return nil, clierr.New(clierr.CodeUsage, "position manager address is not a valid EVM address")
	}
	if !common.IsHexAddress(req.Recipient) {
		return nil, clierr.New(clierr.CodeUsage, "recipient address is not a valid EVM address")
	}
	if req.TokenID == nil || req.TokenID.Sign() < 0 {
		return nil, clierr.New(clierr.CodeUsage, "position token id is required")
	}

	report := &Report{}
	state, err := w.Reader.Position(ctx, req.ChainID, req.Manager, req.TokenID)
	if err != nil {
		return nil, err
	}
	if state.Empty() {
		report.AlreadyEmpty = true
		return report, nil
	}

	if state.Liquidity.Sign() > 0 {
		entry, err := w.decreaseEntry(req, state.Liquidity)
		if err != nil {
			return nil, err
		}
		if err := w.run(ctx, report, entry); err != nil {
			return report, err
		}
		report.Decreased = true
		state, err = w.Reader.Position(ctx, req.ChainID, req.Manager, req.TokenID)
		if err != nil {
			return report, err
		}
	}

	if state.TokensOwed0.Sign() > 0 || state.TokensOwed1.Sign() > 0 {
		entry, err := w.collectEntry(req)
		if err != nil {
			return nil, err
		}
		if err := w.run(ctx, report, entry); err != nil {
			return report, err
		}
		report.Collected = true
		state, err = w.Reader.Position(ctx, req.ChainID, req.Manager, req.TokenID)
		if err != nil {
			return report, err
		}
	}

	// Burn reverts unless the position is fully empty, so the decision is
	// made on a fresh read, never on the pre-collect snapshot.
	if !state.Empty() {
		return report, nil
	}
	entry, err := w.burnEntry(req)
	if err != nil {
		return nil, err
	}
	if err := w.run(ctx, report, entry); err != nil {
		return report, err
	}
	report.Burned = true
	return report, nil
}

func (w *Withdrawer) run(ctx context.Context, report *Report, entry plan.Entry) error {
	results, err := w.Executor.Execute(ctx, []plan.Entry{entry})
	report.Steps = append(report.Steps, results...)
	return err
}

func (w *Withdrawer) decreaseEntry(req WithdrawRequest, liquidity *big.Int) (plan.Entry, error) {
	deadline := w.Deadline
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	params := struct {
		TokenId    *big.Int
		Liquidity  *big.Int
		Amount0Min *big.Int
		Amount1Min *big.Int
		Deadline   *big.Int
	}{
		TokenId:    req.TokenID,
		Liquidity:  liquidity,
		Amount0Min: big.NewInt(0),
		Amount1Min: big.NewInt(0),
		Deadline:   big.NewInt(time.Now().Add(deadline).Unix()),
	}
	data, err := positionManagerABI.Pack("decreaseLiquidity", params)
	if err != nil {
		return plan.Entry{}, clierr.Wrap(clierr.CodeInternal, "pack decreaseLiquidity calldata", err)
	}
	return w.entry(req, "Decrease liquidity to zero", data), nil
}

func (w *Withdrawer) collectEntry(req WithdrawRequest) (plan.Entry, error) {
	params := struct {
		TokenId    *big.Int
		Recipient  common.Address
		Amount0Max *big.Int
		Amount1Max *big.Int
	}{
		TokenId:    req.TokenID,
		Recipient:  common.HexToAddress(req.Recipient),
		Amount0Max: MaxUint128(),
		Amount1Max: MaxUint128(),
	}
	data, err := positionManagerABI.Pack("collect", params)
	if err != nil {
		return plan.Entry{}, clierr.Wrap(clierr.CodeInternal, "pack collect calldata", err)
	}
	return w.entry(req, "Collect owed tokens", data), nil
}

func (w *Withdrawer) burnEntry(req WithdrawRequest) (plan.Entry, error) {
	data, err := positionManagerABI.Pack("burn", req.TokenID)
	if err != nil {
		return plan.Entry{}, clierr.Wrap(clierr.CodeInternal, "pack burn calldata", err)
	}
	return w.entry(req, "Burn empty position", data), nil
}

func (w *Withdrawer) entry(req WithdrawRequest, description string, data []byte) plan.Entry {
	return plan.Entry{
		Kind:        plan.KindAction,
		Description: description,
		ChainID:     req.ChainID,
		To:          common.HexToAddress(req.Manager).Hex(),
		Data:        "0x" + common.Bytes2Hex(data),
		Value:       "0",
	}
}

// MaxUint128 is the collect-everything amount.
func MaxUint128() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	return max.Sub(max, big.NewInt(1))
}

// ChainReader reads position state over RPC.
type ChainReader struct {
	Dial         execution.Dialer
	RPCOverrides map[int64]string
}

func NewChainReader() *ChainReader {
	return &ChainReader{}
}

func (r *ChainReader) Position(ctx context.Context, chainID int64, manager string, tokenID *big.Int) (State, error) {
	rpcURL, err := registry.ResolveRPCURL(r.RPCOverrides[chainID], chainID)
	if err != nil {
		return State{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	dial := r.Dial
	if dial == nil {
		dial = func(ctx context.Context, url string) (execution.Client, error) {
			return execution.DialClient(ctx, url)
		}
	}
	client, err := dial(ctx, rpcURL)
	if err != nil {
		return State{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	data, err := positionManagerABI.Pack("positions", tokenID)
	if err != nil {
		return State{}, clierr.Wrap(clierr.CodeInternal, "pack positions calldata", err)
	}
	to := common.HexToAddress(manager)
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return State{}, clierr.Wrap(clierr.CodeUnavailable, "read position", err)
	}
	decoded, err := positionManagerABI.Unpack("positions", raw)
	if err != nil || len(decoded) != 12 {
		return State{}, clierr.Wrap(clierr.CodeUnavailable, "decode position", err)
	}
	state := State{}
	var ok bool
	if state.Token0, ok = decoded[2].(common.Address); !ok {
		return State{}, decodeFieldError("token0")
	}
	if state.Token1, ok = decoded[3].(common.Address); !ok {
		return State{}, decodeFieldError("token1")
	}
	if state.Liquidity, ok = decoded[7].(*big.Int); !ok {
		return State{}, decodeFieldError("liquidity")
	}
	if state.TokensOwed0, ok = decoded[10].(*big.Int); !ok {
		return State{}, decodeFieldError("tokensOwed0")
	}
	if state.TokensOwed1, ok = decoded[11].(*big.Int); !ok {
		return State{}, decodeFieldError("tokensOwed1")
	}
	return state, nil
}

func decodeFieldError(field string) error {
	return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("unexpected %s type in position tuple", field))
}

package execution

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
	"github.com/ggonzalez94/defi-agent/internal/plan"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

// Client is the EVM node surface the executor depends on.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type Dialer func(ctx context.Context, rpcURL string) (Client, error)

// DialClient connects to an EVM node over JSON-RPC.
func DialClient(ctx context.Context, rpcURL string) (Client, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

// Step statuses recorded in execution results.
const (
	StepConfirmed = "confirmed"
	StepFailed    = "failed"
)

// StepResult records the outcome of one plan entry.
type StepResult struct {
	Index        int    `json:"index"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	TxHash       string `json:"txHash,omitempty"`
	GasUsed      uint64 `json:"gasUsed,omitempty"`
	RevertReason string `json:"revertReason,omitempty"`
	Error        string `json:"error,omitempty"`
}

type Options struct {
	// Preflight runs each entry through eth_call before broadcasting.
	Preflight        bool
	PollInterval     time.Duration
	StepTimeout      time.Duration
	GasMultiplier    float64
	FeeBufferPercent int64
}

func DefaultOptions() Options {
	return Options{
		Preflight:        true,
		PollInterval:     2 * time.Second,
		StepTimeout:      2 * time.Minute,
		GasMultiplier:    1.1,
		FeeBufferPercent: 5,
	}
}

// Executor broadcasts plan entries strictly in order, waiting for each
// receipt before moving on. The first failure stops the plan.
type Executor struct {
	Signer       signer.Signer
	Dial         Dialer
	RPCOverrides map[int64]string
	Options      Options
}

func NewExecutor(txSigner signer.Signer, opts Options) *Executor {
	return &Executor{Signer: txSigner, Dial: DialClient, Options: opts}
}

// Execute runs an ordered plan. It returns a result per attempted entry;
// on failure the slice ends with the failed entry and the error carries
// the decoded revert reason when one is available.
func (e *Executor) Execute(ctx context.Context, entries []plan.Entry) ([]StepResult, error) {
	if e.Signer == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if len(entries) == 0 {
		return nil, clierr.New(clierr.CodeInvalidSchema, "plan has no entries")
	}
	chainID := entries[0].ChainID
	for i, entry := range entries {
		if entry.ChainID != chainID {
			return nil, clierr.New(clierr.CodeInvalidSchema, fmt.Sprintf("entry %d targets chain %d, plan chain is %d", i, entry.ChainID, chainID))
		}
	}
	opts := e.Options
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.1
	}
	if opts.FeeBufferPercent <= 0 {
		opts.FeeBufferPercent = 5
	}

	rpcURL, err := registry.ResolveRPCURL(e.RPCOverrides[chainID], chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	dial := e.Dial
	if dial == nil {
		dial = DialClient
	}
	client, err := dial(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	nodeChainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if nodeChainID.Int64() != chainID {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc endpoint serves chain %d, plan targets chain %d", nodeChainID.Int64(), chainID))
	}

	unlock := acquireSignerNonceLock(nodeChainID, e.Signer.Address())
	defer unlock()

	results := make([]StepResult, 0, len(entries))
	for i, entry := range entries {
		result, err := e.executeEntry(ctx, client, nodeChainID, i, entry, opts)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (e *Executor) executeEntry(ctx context.Context, client Client, chainID *big.Int, index int, entry plan.Entry, opts Options) (StepResult, error) {
	result := StepResult{Index: index, Kind: entry.Kind, Status: StepFailed}
	fail := func(err error) (StepResult, error) {
		result.Error = err.Error()
		if reason := decodeRevertFromError(err); reason != "" {
			result.RevertReason = reason
		}
		return result, err
	}

	if !common.IsHexAddress(entry.To) {
		return fail(clierr.New(clierr.CodeInvalidSchema, fmt.Sprintf("entry %d has an invalid destination", index)))
	}
	target := common.HexToAddress(entry.To)
	data, err := decodeHex(entry.Data)
	if err != nil {
		return fail(clierr.Wrap(clierr.CodeInvalidSchema, "decode entry calldata", err))
	}
	value, ok := new(big.Int).SetString(entry.Value, 10)
	if !ok {
		return fail(clierr.New(clierr.CodeInvalidSchema, "invalid entry value"))
	}
	msg := ethereum.CallMsg{From: e.Signer.Address(), To: &target, Value: value, Data: data}

	if opts.Preflight {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return fail(wrapEVMExecutionError(clierr.CodeTxReverted, "preflight call", err))
		}
	}

	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return fail(wrapEVMExecutionError(clierr.CodeTxReverted, "estimate gas", err))
	}
	gasLimit = uint64(float64(gasLimit) * opts.GasMultiplier)

	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fail(clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err))
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	// The buffer applies to both fee components: the buffered tip is what
	// the transaction carries, and the cap is built from buffered parts.
	buffer := big.NewInt(100 + opts.FeeBufferPercent)
	tipCap = new(big.Int).Div(new(big.Int).Mul(tipCap, buffer), big.NewInt(100))
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap = new(big.Int).Div(new(big.Int).Mul(feeCap, buffer), big.NewInt(100))
	feeCap.Add(feeCap, tipCap)

	nonce, err := client.PendingNonceAt(ctx, e.Signer.Address())
	if err != nil {
		return fail(clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := e.Signer.SignTx(chainID, tx)
	if err != nil {
		return fail(clierr.Wrap(clierr.CodeSigner, "sign transaction", err))
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return fail(clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err))
	}
	result.TxHash = signed.Hash().Hex()

	receipt, err := e.waitForReceipt(ctx, client, signed.Hash(), opts)
	if err != nil {
		return fail(err)
	}
	result.GasUsed = receipt.GasUsed
	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := e.revertReasonAt(ctx, client, msg, receipt.BlockNumber)
		result.RevertReason = reason
		msg := "transaction reverted on-chain"
		if reason != "" {
			msg += ": " + reason
		}
		err := clierr.New(clierr.CodeTxReverted, msg)
		result.Error = err.Error()
		return result, err
	}
	result.Status = StepConfirmed
	return result, nil
}

func (e *Executor) waitForReceipt(ctx context.Context, client Client, hash common.Hash, opts Options) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		// Not-found and transient polling failures are retried until the
		// timeout.
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// revertReasonAt replays the call at the failing block to recover the
// revert reason. Best effort: archive-less nodes may refuse the replay.
func (e *Executor) revertReasonAt(ctx context.Context, client Client, msg ethereum.CallMsg, blockNumber *big.Int) string {
	_, err := client.CallContract(ctx, msg, blockNumber)
	if err == nil {
		return ""
	}
	return decodeRevertFromError(err)
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(v), "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}

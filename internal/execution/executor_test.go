package execution

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/plan"
)

type staticSigner struct{}

func (staticSigner) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (staticSigner) SignTx(_ *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

type mockClient struct {
	chainID       *big.Int
	sent          []*types.Transaction
	preflightErr  error
	replayErr     error
	estimate      uint64
	statusFor     func(index int) uint64
	receiptsAfter int
	polls         int
}

func newMockClient(chainID int64) *mockClient {
	return &mockClient{chainID: big.NewInt(chainID), estimate: 100_000}
}

func (m *mockClient) ChainID(context.Context) (*big.Int, error) { return m.chainID, nil }

func (m *mockClient) CallContract(_ context.Context, _ ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if blockNumber != nil {
		return nil, m.replayErr
	}
	return nil, m.preflightErr
}

func (m *mockClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return m.estimate, nil
}

func (m *mockClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(2_000_000_000)}, nil
}

func (m *mockClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(m.sent)), nil
}

func (m *mockClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.sent = append(m.sent, tx)
	return nil
}

func (m *mockClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	m.polls++
	if m.polls <= m.receiptsAfter {
		return nil, ethereum.NotFound
	}
	for i, tx := range m.sent {
		if tx.Hash() == hash {
			status := types.ReceiptStatusSuccessful
			if m.statusFor != nil {
				status = m.statusFor(i)
			}
			return &types.Receipt{Status: status, GasUsed: 42_000, BlockNumber: big.NewInt(123)}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (m *mockClient) Close() {}

func testExecutor(client *mockClient) *Executor {
	opts := DefaultOptions()
	opts.PollInterval = time.Millisecond
	opts.StepTimeout = time.Second
	e := NewExecutor(staticSigner{}, opts)
	e.Dial = func(context.Context, string) (Client, error) { return client, nil }
	return e
}

func twoEntryPlan() []plan.Entry {
	return []plan.Entry{
		{Kind: plan.KindApproval, ChainID: 1, To: "0x1111111111111111111111111111111111111111", Data: "0xaaaa", Value: "0"},
		{Kind: plan.KindAction, ChainID: 1, To: "0x2222222222222222222222222222222222222222", Data: "0xbbbb", Value: "0"},
	}
}

func TestExecuteRunsEntriesInOrder(t *testing.T) {
	client := newMockClient(1)
	results, err := testExecutor(client).Execute(context.Background(), twoEntryPlan())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for i, r := range results {
		if r.Status != StepConfirmed {
			t.Fatalf("result %d status = %q, want confirmed", i, r.Status)
		}
		if r.TxHash == "" || r.GasUsed != 42_000 {
			t.Fatalf("result %d missing receipt fields: %+v", i, r)
		}
	}
	if len(client.sent) != 2 {
		t.Fatalf("sent = %d txs, want 2", len(client.sent))
	}
	if got := client.sent[0].To().Hex(); got != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("first broadcast target = %s, want approval target", got)
	}
	if client.sent[0].Nonce() != 0 || client.sent[1].Nonce() != 1 {
		t.Fatalf("nonces = %d, %d, want 0, 1", client.sent[0].Nonce(), client.sent[1].Nonce())
	}
}

func TestExecuteAppliesGasAndFeeBuffers(t *testing.T) {
	client := newMockClient(1)
	entries := twoEntryPlan()[:1]
	if _, err := testExecutor(client).Execute(context.Background(), entries); err != nil {
		t.Fatalf("execute: %v", err)
	}
	tx := client.sent[0]
	if tx.Gas() != 110_000 {
		t.Fatalf("gas limit = %d, want estimate plus 10%%", tx.Gas())
	}
	// 2*baseFee*1.05 + tip*1.05 = (4.2 + 1.05) gwei
	wantFeeCap := big.NewInt(5_250_000_000)
	if tx.GasFeeCap().Cmp(wantFeeCap) != 0 {
		t.Fatalf("fee cap = %s, want %s", tx.GasFeeCap(), wantFeeCap)
	}
	// The buffer applies to the tip too, not just the cap.
	wantTipCap := big.NewInt(1_050_000_000)
	if tx.GasTipCap().Cmp(wantTipCap) != 0 {
		t.Fatalf("tip cap = %s, want buffered tip %s", tx.GasTipCap(), wantTipCap)
	}
}

func TestExecuteWaitsForReceipt(t *testing.T) {
	client := newMockClient(1)
	client.receiptsAfter = 3
	results, err := testExecutor(client).Execute(context.Background(), twoEntryPlan()[:1])
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if results[0].Status != StepConfirmed {
		t.Fatalf("status = %q, want confirmed", results[0].Status)
	}
}

func TestExecuteStopsOnRevertAndDecodesReason(t *testing.T) {
	client := newMockClient(1)
	client.statusFor = func(index int) uint64 {
		if index == 0 {
			return types.ReceiptStatusFailed
		}
		return types.ReceiptStatusSuccessful
	}
	client.replayErr = testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "slippage too high")),
	}
	results, err := testExecutor(client).Execute(context.Background(), twoEntryPlan())
	if err == nil {
		t.Fatal("expected revert error")
	}
	if clierr.CodeOf(err) != clierr.CodeTxReverted {
		t.Fatalf("code = %d, want %d", clierr.CodeOf(err), clierr.CodeTxReverted)
	}
	if !strings.Contains(err.Error(), "slippage too high") {
		t.Fatalf("expected decoded reason in error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want execution to stop at the failed entry", len(results))
	}
	if results[0].Status != StepFailed || results[0].RevertReason != "slippage too high" {
		t.Fatalf("unexpected failed result: %+v", results[0])
	}
	if len(client.sent) != 1 {
		t.Fatalf("sent = %d txs, want no broadcast after a failure", len(client.sent))
	}
}

func TestExecutePreflightFailureSkipsBroadcast(t *testing.T) {
	client := newMockClient(1)
	client.preflightErr = testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "insufficient balance")),
	}
	results, err := testExecutor(client).Execute(context.Background(), twoEntryPlan())
	if clierr.CodeOf(err) != clierr.CodeTxReverted {
		t.Fatalf("code = %d, want %d", clierr.CodeOf(err), clierr.CodeTxReverted)
	}
	if len(client.sent) != 0 {
		t.Fatalf("sent = %d txs, want none after preflight failure", len(client.sent))
	}
	if results[0].RevertReason != "insufficient balance" {
		t.Fatalf("revert reason = %q", results[0].RevertReason)
	}
}

func TestExecuteRejectsMixedChains(t *testing.T) {
	entries := twoEntryPlan()
	entries[1].ChainID = 137
	_, err := testExecutor(newMockClient(1)).Execute(context.Background(), entries)
	if clierr.CodeOf(err) != clierr.CodeInvalidSchema {
		t.Fatalf("code = %d, want %d", clierr.CodeOf(err), clierr.CodeInvalidSchema)
	}
}

func TestExecuteRejectsChainMismatch(t *testing.T) {
	client := newMockClient(137)
	_, err := testExecutor(client).Execute(context.Background(), twoEntryPlan())
	if clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("code = %d, want %d", clierr.CodeOf(err), clierr.CodeUsage)
	}
	if len(client.sent) != 0 {
		t.Fatal("expected no broadcast on chain mismatch")
	}
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	unlock := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

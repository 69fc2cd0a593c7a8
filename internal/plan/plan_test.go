package plan

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ggonzalez94/defi-agent/internal/capability"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/token"
)

const (
	usdcArbitrum = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
	routerAddr   = "0x1111111111111111111111111111111111111111"
	ownerAddr    = "0x2222222222222222222222222222222222222222"
)

type stubAllowances struct {
	allowance *big.Int
	err       error
	spender   string
}

func (s *stubAllowances) Allowance(_ context.Context, _ int64, _, _, spender string) (*big.Int, error) {
	s.spender = spender
	if s.err != nil {
		return nil, s.err
	}
	return s.allowance, nil
}

func usdcNeed(amount int64) *ApprovalNeed {
	return &ApprovalNeed{
		Token:  token.Info{ChainID: 42161, Address: usdcArbitrum, Decimals: 6, Symbol: "USDC"},
		Owner:  ownerAddr,
		Amount: big.NewInt(amount),
	}
}

func swapTxs() []capability.RawTx {
	return []capability.RawTx{
		{To: routerAddr, Data: "0xaaaa", Value: "0"},
		{To: routerAddr, Data: "0xbbbb"},
	}
}

func TestBuildInjectsApprovalWhenAllowanceShort(t *testing.T) {
	allowances := &stubAllowances{allowance: big.NewInt(5)}
	b := NewBuilder(allowances)

	entries, err := b.Build(context.Background(), 42161, swapTxs(), usdcNeed(100_000_000))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Kind != KindApproval {
		t.Fatalf("first entry kind = %q, want approval", entries[0].Kind)
	}
	if entries[0].To != usdcArbitrum {
		t.Fatalf("approval target = %q, want token contract", entries[0].To)
	}
	if allowances.spender != routerAddr {
		t.Fatalf("allowance spender = %q, want first entry target", allowances.spender)
	}
	// approve selector followed by spender and the unlimited amount
	if !strings.HasPrefix(entries[0].Data, "0x095ea7b3") {
		t.Fatalf("approval data = %q, want approve calldata", entries[0].Data)
	}
	if !strings.HasSuffix(strings.ToLower(entries[0].Data), strings.Repeat("f", 64)) {
		t.Fatalf("approval amount is not unlimited: %q", entries[0].Data)
	}
	for i, e := range entries[1:] {
		if e.Kind != KindAction {
			t.Fatalf("entry %d kind = %q, want action", i+1, e.Kind)
		}
	}
}

func TestBuildSkipsApprovalWhenAllowanceCovers(t *testing.T) {
	b := NewBuilder(&stubAllowances{allowance: big.NewInt(200_000_000)})

	entries, err := b.Build(context.Background(), 42161, swapTxs(), usdcNeed(100_000_000))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (no approval)", len(entries))
	}
	if entries[0].Kind != KindAction {
		t.Fatalf("first entry kind = %q, want action", entries[0].Kind)
	}
}

func TestBuildInjectsApprovalOnAllowanceReadFailure(t *testing.T) {
	b := NewBuilder(&stubAllowances{err: errors.New("rpc timeout")})

	entries, err := b.Build(context.Background(), 42161, swapTxs(), usdcNeed(100_000_000))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(entries) != 3 || entries[0].Kind != KindApproval {
		t.Fatalf("expected injected approval on read failure, got %+v", entries)
	}
}

func TestBuildWithoutNeedPassesThrough(t *testing.T) {
	b := NewBuilder(&stubAllowances{allowance: big.NewInt(0)})

	entries, err := b.Build(context.Background(), 1, swapTxs(), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Value != "0" || entries[1].Value != "0" {
		t.Fatalf("missing values should default to 0: %+v", entries)
	}
}

func TestBuildRejectsEmptyAndMalformedInput(t *testing.T) {
	b := NewBuilder(nil)

	if _, err := b.Build(context.Background(), 1, nil, nil); clierr.CodeOf(err) != clierr.CodeInvalidSchema {
		t.Fatalf("empty plan: code = %d, want %d", clierr.CodeOf(err), clierr.CodeInvalidSchema)
	}
	bad := []capability.RawTx{{To: "not-an-address", Data: "0x"}}
	if _, err := b.Build(context.Background(), 1, bad, nil); clierr.CodeOf(err) != clierr.CodeInvalidSchema {
		t.Fatalf("bad address: code = %d, want %d", clierr.CodeOf(err), clierr.CodeInvalidSchema)
	}
	hexValue := []capability.RawTx{{To: routerAddr, Data: "0x", Value: "0xff"}}
	if _, err := b.Build(context.Background(), 1, hexValue, nil); clierr.CodeOf(err) != clierr.CodeInvalidSchema {
		t.Fatalf("hex value: code = %d, want %d", clierr.CodeOf(err), clierr.CodeInvalidSchema)
	}
}

func TestMaxUint256(t *testing.T) {
	want, _ := new(big.Int).SetString(strings.Repeat("f", 64), 16)
	if MaxUint256().Cmp(want) != 0 {
		t.Fatalf("MaxUint256 = %s", MaxUint256().String())
	}
}

package tools

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ggonzalez94/defi-agent/internal/capability"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/plan"
	"github.com/ggonzalez94/defi-agent/internal/token"
)

const (
	walletAddr = "0x2222222222222222222222222222222222222222"
	routerAddr = "0x1111111111111111111111111111111111111111"

	usdcEthereum = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	usdcArbitrum = "0xaf88d065e77C8cC2239327C5EDb3A432268e5831"
	usdcBase     = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	wethArbitrum = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
)

type fakeCapabilities struct {
	lastTool  string
	lastArgs  map[string]any
	swap      *capability.SwapResponse
	lending   *capability.LendingResponse
	positions *capability.WalletPositionsResponse
}

func (f *fakeCapabilities) Swap(_ context.Context, args map[string]any) (*capability.SwapResponse, error) {
	f.lastTool, f.lastArgs = capability.ToolSwapTokens, args
	return f.swap, nil
}

func (f *fakeCapabilities) Lending(_ context.Context, tool string, args map[string]any) (*capability.LendingResponse, error) {
	f.lastTool, f.lastArgs = tool, args
	return f.lending, nil
}

func (f *fakeCapabilities) Liquidity(_ context.Context, tool string, args map[string]any) (*capability.LiquidityResponse, error) {
	f.lastTool, f.lastArgs = tool, args
	return &capability.LiquidityResponse{
		ChainID:      42161,
		Transactions: []capability.RawTx{{To: routerAddr, Data: "0xcc"}},
	}, nil
}

func (f *fakeCapabilities) WalletPositions(context.Context, string) (*capability.WalletPositionsResponse, error) {
	return f.positions, nil
}

type fixedAllowances struct{ allowance *big.Int }

func (f fixedAllowances) Allowance(context.Context, int64, string, string, string) (*big.Int, error) {
	return f.allowance, nil
}

func testTokenMap() token.Map {
	m := token.Map{}
	m.Add(token.Info{ChainID: 1, Address: usdcEthereum, Decimals: 6, Symbol: "USDC"})
	m.Add(token.Info{ChainID: 42161, Address: usdcArbitrum, Decimals: 6, Symbol: "USDC"})
	m.Add(token.Info{ChainID: 8453, Address: usdcBase, Decimals: 6, Symbol: "USDC"})
	m.Add(token.Info{ChainID: 42161, Address: wethArbitrum, Decimals: 18, Symbol: "WETH"})
	m.Add(token.Info{ChainID: 10, Address: "0x4200000000000000000000000000000000000042", Decimals: 18, Symbol: "OP"})
	return m
}

func testDeps(caps *fakeCapabilities, allowance *big.Int) Deps {
	return Deps{
		Capabilities: caps,
		Tokens:       testTokenMap(),
		Builder:      plan.NewBuilder(fixedAllowances{allowance: allowance}),
		Wallet:       walletAddr,
	}
}

func TestSwapToolBuildsPlanWithApproval(t *testing.T) {
	caps := &fakeCapabilities{swap: &capability.SwapResponse{
		FromTokenSymbol: "USDC",
		ToTokenSymbol:   "WETH",
		FromAmount:      "100",
		ToAmount:        "0.026",
		ChainID:         42161,
		Transactions:    []capability.RawTx{{To: routerAddr, Data: "0xaa"}},
	}}
	tool := &SwapTool{Deps: testDeps(caps, big.NewInt(0))}

	res, err := tool.Execute(context.Background(), `{"fromToken":"USDC","toToken":"WETH","amount":"100"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.InputRequired {
		t.Fatal("expected plan to await confirmation")
	}
	if caps.lastArgs["chainId"] != int64(42161) {
		t.Fatalf("capability chainId = %v, want jointly inferred 42161", caps.lastArgs["chainId"])
	}
	var planArtifact model.Artifact
	found := false
	for _, a := range res.Artifacts {
		if a.Name == model.ArtifactTxPlan {
			planArtifact, found = a, true
		}
	}
	if !found {
		t.Fatal("expected txPlan artifact")
	}
	entries, chainID, err := DecodePlanArtifact(planArtifact)
	if err != nil {
		t.Fatalf("decode plan artifact: %v", err)
	}
	if chainID != 42161 {
		t.Fatalf("chainID = %d, want 42161", chainID)
	}
	if len(entries) != 2 || entries[0].Kind != plan.KindApproval {
		t.Fatalf("expected approval plus swap entry, got %+v", entries)
	}
	if !strings.Contains(res.Content, "Swap 100 USDC for 0.026 WETH") {
		t.Fatalf("unexpected preview: %q", res.Content)
	}
}

func TestSwapToolAmbiguousTokensAskForInput(t *testing.T) {
	tool := &SwapTool{Deps: testDeps(&fakeCapabilities{}, big.NewInt(0))}
	// USDC and OP share no chain, so joint inference cannot settle on one.
	res, err := tool.Execute(context.Background(), `{"fromToken":"USDC","toToken":"OP","amount":"1"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.InputRequired {
		t.Fatal("expected disambiguation")
	}
	if !strings.Contains(res.Content, "multiple chains") {
		t.Fatalf("unexpected disambiguation content: %q", res.Content)
	}
	if len(res.Artifacts) != 0 {
		t.Fatal("no artifacts expected before resolution")
	}
}

func TestSwapToolUnknownTokenFails(t *testing.T) {
	tool := &SwapTool{Deps: testDeps(&fakeCapabilities{}, big.NewInt(0))}
	_, err := tool.Execute(context.Background(), `{"fromToken":"NOPE","toToken":"WETH","amount":"1"}`)
	if clierr.CodeOf(err) != clierr.CodeTokenNotFound {
		t.Fatalf("code = %d, want %d", clierr.CodeOf(err), clierr.CodeTokenNotFound)
	}
}

func TestLendingToolSupplyInjectsApproval(t *testing.T) {
	caps := &fakeCapabilities{lending: &capability.LendingResponse{
		TokenSymbol:  "USDC",
		Amount:       "250",
		ChainID:      42161,
		Transactions: []capability.RawTx{{To: routerAddr, Data: "0xbb"}},
	}}
	tool := &LendingTool{Deps: testDeps(caps, big.NewInt(0)), Action: "supply"}

	res, err := tool.Execute(context.Background(), `{"token":"USDC","amount":"250","chain":"arbitrum"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if caps.lastTool != capability.ToolSupply {
		t.Fatalf("capability tool = %q, want supply", caps.lastTool)
	}
	a, ok := findArtifact(res, model.ArtifactTxPlan)
	if !ok {
		t.Fatal("expected txPlan artifact")
	}
	entries, _, err := DecodePlanArtifact(a)
	if err != nil {
		t.Fatalf("decode plan artifact: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != plan.KindApproval {
		t.Fatalf("expected injected approval for supply, got %+v", entries)
	}
}

func TestLendingToolBorrowSkipsApproval(t *testing.T) {
	caps := &fakeCapabilities{lending: &capability.LendingResponse{
		TokenSymbol:  "USDC",
		Amount:       "250",
		ChainID:      42161,
		Transactions: []capability.RawTx{{To: routerAddr, Data: "0xbb"}},
	}}
	tool := &LendingTool{Deps: testDeps(caps, big.NewInt(0)), Action: "borrow"}

	res, err := tool.Execute(context.Background(), `{"token":"USDC","amount":"250","chain":"arbitrum"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	a, _ := findArtifact(res, model.ArtifactTxPlan)
	entries, _, err := DecodePlanArtifact(a)
	if err != nil {
		t.Fatalf("decode plan artifact: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != plan.KindAction {
		t.Fatalf("borrow must not inject an approval, got %+v", entries)
	}
}

func TestSupplyLiquidityChecksBothLegs(t *testing.T) {
	caps := &fakeCapabilities{}
	tool := &SupplyLiquidityTool{Deps: testDeps(caps, big.NewInt(0))}

	res, err := tool.Execute(context.Background(), `{"token0":"USDC","token1":"WETH","amount0":"100","amount1":"0.03"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if caps.lastTool != capability.ToolSupplyLiquidity {
		t.Fatalf("capability tool = %q", caps.lastTool)
	}
	a, _ := findArtifact(res, model.ArtifactTxPlan)
	entries, _, err := DecodePlanArtifact(a)
	if err != nil {
		t.Fatalf("decode plan artifact: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected two approvals plus the pool entry, got %+v", entries)
	}
	if entries[0].Kind != plan.KindApproval || entries[1].Kind != plan.KindApproval {
		t.Fatalf("expected leading approvals, got %+v", entries)
	}
}

func TestWithdrawLiquidityRecordsPosition(t *testing.T) {
	tool := &WithdrawLiquidityTool{Deps: testDeps(&fakeCapabilities{}, nil)}
	res, err := tool.Execute(context.Background(), `{"positionId":"12345","chain":"arbitrum"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.InputRequired {
		t.Fatal("expected confirmation request")
	}
	a, ok := findArtifact(res, ArtifactWithdrawal)
	if !ok {
		t.Fatal("expected withdrawal artifact")
	}
	chainID, manager, tokenID, recipient, err := DecodeWithdrawalArtifact(a)
	if err != nil {
		t.Fatalf("decode withdrawal artifact: %v", err)
	}
	if chainID != 42161 || tokenID != "12345" || recipient != walletAddr {
		t.Fatalf("unexpected withdrawal fields: %d %s %s", chainID, tokenID, recipient)
	}
	if manager == "" {
		t.Fatal("expected position manager address")
	}
}

func TestPositionsToolFormatsInventory(t *testing.T) {
	caps := &fakeCapabilities{positions: &capability.WalletPositionsResponse{
		Positions: []capability.WalletPosition{
			{Protocol: "aave", Kind: "supply", TokenSymbol: "USDC", Amount: "500", ChainID: 42161},
			{Protocol: "uniswap", Kind: "liquidity", PositionID: "12345", ChainID: 42161},
		},
	}}
	tool := &PositionsTool{Deps: testDeps(caps, nil)}
	res, err := tool.Execute(context.Background(), "{}")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.InputRequired {
		t.Fatal("read-only tool must not require input")
	}
	if !strings.Contains(res.Content, "500 USDC") || !strings.Contains(res.Content, "position 12345") {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestDefaultRegistryOrder(t *testing.T) {
	r := DefaultRegistry(testDeps(&fakeCapabilities{}, nil))
	defs := r.Definitions()
	if len(defs) != 8 {
		t.Fatalf("definitions = %d, want 8", len(defs))
	}
	if defs[0].Function.Name != "swap" {
		t.Fatalf("first tool = %q, want swap", defs[0].Function.Name)
	}
	if r.Get("withdraw_liquidity") == nil {
		t.Fatal("withdraw_liquidity not registered")
	}
}

func findArtifact(res Result, name string) (model.Artifact, bool) {
	for _, a := range res.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return model.Artifact{}, false
}

package capability

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ggonzalez94/defi-agent/internal/token"
)

// RawTx is one unsigned transaction entry as returned by the capability
// server. Entries are appended to a plan unmodified.
type RawTx struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value,omitempty"`
}

func (tx RawTx) validate(label string) error {
	if !strings.HasPrefix(strings.TrimSpace(tx.To), "0x") {
		return fmt.Errorf("%s: transaction entry is missing a destination address", label)
	}
	if strings.TrimSpace(tx.Data) == "" {
		return fmt.Errorf("%s: transaction entry is missing call data", label)
	}
	if strings.TrimSpace(tx.Value) != "" {
		if _, ok := new(big.Int).SetString(strings.TrimSpace(tx.Value), 10); !ok {
			return fmt.Errorf("%s: transaction value must be a base-10 integer", label)
		}
	}
	return nil
}

// SwapResponse is the typed payload of the swapTokens tool.
type SwapResponse struct {
	FromTokenSymbol string  `json:"fromTokenSymbol"`
	ToTokenSymbol   string  `json:"toTokenSymbol"`
	FromAmount      string  `json:"fromAmount"`
	ToAmount        string  `json:"toAmount"`
	ExchangeRate    string  `json:"exchangeRate,omitempty"`
	ChainID         int64   `json:"chainId"`
	Transactions    []RawTx `json:"transactions"`
}

func (r *SwapResponse) Validate() error {
	if r.ChainID == 0 {
		return fmt.Errorf("swap response is missing chainId")
	}
	if len(r.Transactions) == 0 {
		return fmt.Errorf("swap response has no transactions")
	}
	for _, tx := range r.Transactions {
		if err := tx.validate("swap response"); err != nil {
			return err
		}
	}
	return nil
}

// LendingResponse is the typed payload of the supply, borrow, repay and
// withdraw tools.
type LendingResponse struct {
	TokenSymbol  string  `json:"tokenSymbol"`
	Amount       string  `json:"amount"`
	ChainID      int64   `json:"chainId"`
	Transactions []RawTx `json:"transactions"`
}

func (r *LendingResponse) Validate() error {
	if r.ChainID == 0 {
		return fmt.Errorf("lending response is missing chainId")
	}
	if len(r.Transactions) == 0 {
		return fmt.Errorf("lending response has no transactions")
	}
	for _, tx := range r.Transactions {
		if err := tx.validate("lending response"); err != nil {
			return err
		}
	}
	return nil
}

// LiquidityResponse is the typed payload of the supplyLiquidity and
// withdrawLiquidity tools.
type LiquidityResponse struct {
	Token0Symbol string  `json:"token0Symbol,omitempty"`
	Token1Symbol string  `json:"token1Symbol,omitempty"`
	Amount0      string  `json:"amount0,omitempty"`
	Amount1      string  `json:"amount1,omitempty"`
	PositionID   string  `json:"positionId,omitempty"`
	ChainID      int64   `json:"chainId"`
	Transactions []RawTx `json:"transactions"`
}

func (r *LiquidityResponse) Validate() error {
	if r.ChainID == 0 {
		return fmt.Errorf("liquidity response is missing chainId")
	}
	if len(r.Transactions) == 0 {
		return fmt.Errorf("liquidity response has no transactions")
	}
	for _, tx := range r.Transactions {
		if err := tx.validate("liquidity response"); err != nil {
			return err
		}
	}
	return nil
}

// WalletPosition is one entry of the getWalletPositions tool response.
type WalletPosition struct {
	Protocol    string `json:"protocol"`
	Kind        string `json:"kind"`
	TokenSymbol string `json:"tokenSymbol,omitempty"`
	Amount      string `json:"amount,omitempty"`
	PositionID  string `json:"positionId,omitempty"`
	ChainID     int64  `json:"chainId"`
}

type WalletPositionsResponse struct {
	Positions []WalletPosition `json:"positions"`
}

func (r *WalletPositionsResponse) Validate() error {
	for i, p := range r.Positions {
		if p.ChainID == 0 {
			return fmt.Errorf("position %d is missing chainId", i)
		}
	}
	return nil
}

// CapabilitiesResponse is the typed payload of getCapabilities, the token
// map bootstrap.
type CapabilitiesResponse struct {
	Tokens []token.Info `json:"tokens"`
}

func (r *CapabilitiesResponse) Validate() error {
	if len(r.Tokens) == 0 {
		return fmt.Errorf("capabilities response has no tokens")
	}
	for i, t := range r.Tokens {
		if strings.TrimSpace(t.Symbol) == "" {
			return fmt.Errorf("token %d is missing a symbol", i)
		}
		if t.ChainID == 0 {
			return fmt.Errorf("token %s is missing chainId", t.Symbol)
		}
		if !strings.HasPrefix(strings.TrimSpace(t.Address), "0x") {
			return fmt.Errorf("token %s is missing a contract address", t.Symbol)
		}
	}
	return nil
}

// TokenMap indexes the capabilities inventory by upper-cased symbol.
func (r *CapabilitiesResponse) TokenMap() token.Map {
	m := make(token.Map, len(r.Tokens))
	for _, t := range r.Tokens {
		m.Add(t)
	}
	return m
}

package execution

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Reader performs read-only ERC20 calls. It satisfies the allowance
// interface of the plan builder and backs balance checks.
type Reader struct {
	Dial         Dialer
	RPCOverrides map[int64]string
}

func NewReader() *Reader {
	return &Reader{Dial: DialClient}
}

func (r *Reader) client(ctx context.Context, chainID int64) (Client, error) {
	rpcURL, err := registry.ResolveRPCURL(r.RPCOverrides[chainID], chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	dial := r.Dial
	if dial == nil {
		dial = DialClient
	}
	client, err := dial(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return client, nil
}

func (r *Reader) Allowance(ctx context.Context, chainID int64, tokenAddr, owner, spender string) (*big.Int, error) {
	out, err := r.read(ctx, chainID, tokenAddr, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) BalanceOf(ctx context.Context, chainID int64, tokenAddr, account string) (*big.Int, error) {
	return r.read(ctx, chainID, tokenAddr, "balanceOf", common.HexToAddress(account))
}

func (r *Reader) read(ctx context.Context, chainID int64, tokenAddr, method string, args ...any) (*big.Int, error) {
	if !common.IsHexAddress(tokenAddr) {
		return nil, clierr.New(clierr.CodeInvalidSchema, "token contract address is not a valid EVM address")
	}
	client, err := r.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method+" calldata", err)
	}
	token := common.HexToAddress(tokenAddr)
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token "+method, err)
	}
	decoded, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(decoded) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode token "+method, err)
	}
	value, ok := decoded[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "unexpected "+method+" return type")
	}
	return value, nil
}

package execution

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

// Error(string) selector.
var errorStringSelector = common.FromHex("0x08c379a0")

// decodeRevertData turns raw revert return data into a readable reason.
// Standard Error(string) payloads are ABI-decoded; anything else is
// reported by its selector so custom errors stay diagnosable.
func decodeRevertData(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) >= 4 && string(data[:4]) == string(errorStringSelector) {
		stringTy, err := abi.NewType("string", "", nil)
		if err != nil {
			return hexutil.Encode(data)
		}
		args := abi.Arguments{{Type: stringTy}}
		decoded, err := args.Unpack(data[4:])
		if err == nil && len(decoded) == 1 {
			if reason, ok := decoded[0].(string); ok {
				return reason
			}
		}
		return hexutil.Encode(data)
	}
	if len(data) >= 4 {
		return "custom error " + hexutil.Encode(data[:4])
	}
	return hexutil.Encode(data)
}

type errorDataCarrier interface {
	ErrorData() interface{}
}

// decodeRevertFromError walks the error chain looking for JSON-RPC revert
// data and decodes it. Returns "" when no revert data is attached.
func decodeRevertFromError(err error) string {
	for err != nil {
		var carrier errorDataCarrier
		if errors.As(err, &carrier) {
			switch data := carrier.ErrorData().(type) {
			case string:
				if strings.HasPrefix(data, "0x") {
					return decodeRevertData(common.FromHex(data))
				}
			case []byte:
				return decodeRevertData(data)
			}
			return ""
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// wrapEVMExecutionError wraps an RPC error, appending the decoded revert
// reason to the message when one is present.
func wrapEVMExecutionError(code clierr.Code, msg string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, msg+": "+reason, err)
	}
	return clierr.Wrap(code, msg, err)
}

func normalizeStepTxHash(raw string) (common.Hash, bool) {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "0x") || len(clean) != 66 {
		return common.Hash{}, false
	}
	return common.HexToHash(clean), true
}

package execution

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func TestDecodeRevertDataReasonString(t *testing.T) {
	revertData := encodeErrorString(t, "slippage too high")
	if reason := decodeRevertData(revertData); reason != "slippage too high" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	reason := decodeRevertData(common.FromHex("0x12345678"))
	if !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestDecodeRevertFromErrorWithDataError(t *testing.T) {
	revertData := encodeErrorString(t, "insufficient output amount")
	err := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(revertData),
	}
	if reason := decodeRevertFromError(err); reason != "insufficient output amount" {
		t.Fatalf("unexpected decoded reason: %q", reason)
	}
}

func TestDecodeRevertFromWrappedError(t *testing.T) {
	revertData := encodeErrorString(t, "deadline passed")
	inner := testRPCDataError{msg: "execution reverted", data: "0x" + common.Bytes2Hex(revertData)}
	wrapped := clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", inner)
	if reason := decodeRevertFromError(wrapped); reason != "deadline passed" {
		t.Fatalf("unexpected decoded reason: %q", reason)
	}
}

func TestDecodeRevertFromErrorWithoutData(t *testing.T) {
	if reason := decodeRevertFromError(errors.New("connection refused")); reason != "" {
		t.Fatalf("expected empty reason, got %q", reason)
	}
}

func TestWrapEVMExecutionErrorIncludesDecodedRevert(t *testing.T) {
	revertData := encodeErrorString(t, "panic path")
	rootErr := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(revertData),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeTxReverted, "preflight call", rootErr)
	var typed *clierr.Error
	if !errors.As(wrapped, &typed) {
		t.Fatalf("expected typed error, got %T", wrapped)
	}
	if typed.Code != clierr.CodeTxReverted {
		t.Fatalf("code = %d, want %d", typed.Code, clierr.CodeTxReverted)
	}
	if !strings.Contains(typed.Error(), "panic path") {
		t.Fatalf("expected decoded reason in wrapped error, got: %v", typed)
	}
}

func TestNormalizeStepTxHash(t *testing.T) {
	validHash := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if _, ok := normalizeStepTxHash(validHash); !ok {
		t.Fatal("expected valid tx hash to parse")
	}
	if _, ok := normalizeStepTxHash("0x1234"); ok {
		t.Fatal("expected short tx hash to fail")
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	args := abi.Arguments{{Type: stringTy}}
	encoded, err := args.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}

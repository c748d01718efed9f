package evm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

func wrapExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		message = fmt.Sprintf("%s: reverted: %s", message, reason)
	}
	return clierr.Wrap(code, message, err)
}

func decodeRevertFromError(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		return decodeRevertData(common.FromHex(strings.TrimSpace(data)))
	case []byte:
		return decodeRevertData(data)
	}
	return ""
}

// decodeRevertData renders Error(string) reasons and falls back to the
// custom error selector.
func decodeRevertData(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	if len(data) >= 4 {
		return fmt.Sprintf("custom error 0x%x", data[:4])
	}
	return fmt.Sprintf("0x%x", data)
}

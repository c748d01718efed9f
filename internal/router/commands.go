// Package router encodes Universal Router style command plans: a byte
// stream of opcodes plus one ABI-encoded input per opcode, dispatched by the
// protocol contract's execute call.
package router

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/ggonzalez94/tomo-cli/internal/permit2"
)

// CommandType is the low 6 bits of an opcode byte.
type CommandType byte

const (
	V3SwapExactIn            CommandType = 0x00
	V3SwapExactOut           CommandType = 0x01
	Permit2TransferFrom      CommandType = 0x02
	Permit2PermitBatch       CommandType = 0x03
	Sweep                    CommandType = 0x04
	Transfer                 CommandType = 0x05
	PayPortion               CommandType = 0x06
	V2SwapExactIn            CommandType = 0x08
	V2SwapExactOut           CommandType = 0x09
	Permit2Permit            CommandType = 0x0a
	WrapNative               CommandType = 0x0b
	UnwrapNative             CommandType = 0x0c
	Permit2TransferFromBatch CommandType = 0x0d
	BalanceCheckERC20        CommandType = 0x0e
	SushiV2SwapExactIn       CommandType = 0x10
	SushiV2SwapExactOut      CommandType = 0x11
	SushiV3SwapExactIn       CommandType = 0x12
	SushiV3SwapExactOut      CommandType = 0x13
	CakeV2SwapExactIn        CommandType = 0x18
	CakeV2SwapExactOut       CommandType = 0x19
	CakeV3SwapExactIn        CommandType = 0x1a
	CakeV3SwapExactOut       CommandType = 0x1b
	ExecuteSubPlan           CommandType = 0x21
)

const (
	// AllowRevertFlag marks a command whose failure must not abort the plan.
	AllowRevertFlag byte = 0x80
	// CommandTypeMask extracts the CommandType from an opcode byte.
	CommandTypeMask byte = 0x3f
)

var (
	addressT    = mustType("address", nil)
	uint256T    = mustType("uint256", nil)
	uint160T    = mustType("uint160", nil)
	boolT       = mustType("bool", nil)
	bytesT      = mustType("bytes", nil)
	addressArrT = mustType("address[]", nil)
	bytesArrT   = mustType("bytes[]", nil)
	transfersT  = mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint160"},
		{Name: "token", Type: "address"},
	})
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

func args(pairs ...any) abi.Arguments {
	out := make(abi.Arguments, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, abi.Argument{Name: pairs[i].(string), Type: pairs[i+1].(abi.Type)})
	}
	return out
}

var (
	v3SwapArgs      = args("recipient", addressT, "amount", uint256T, "amountLimit", uint256T, "path", bytesT, "payerIsUser", boolT)
	v2SwapArgs      = args("recipient", addressT, "amount", uint256T, "amountLimit", uint256T, "path", addressArrT, "payerIsUser", boolT)
	tokenRecipient  = args("token", addressT, "recipient", addressT, "value", uint256T)
	recipientAmount = args("recipient", addressT, "amountMin", uint256T)
)

type commandSpec struct {
	name       string
	args       abi.Arguments
	revertible bool
}

// commandSpecs is the single source of truth for the opcode table.
var commandSpecs = map[CommandType]commandSpec{
	V3SwapExactIn:            {name: "V3_SWAP_EXACT_IN", args: v3SwapArgs},
	V3SwapExactOut:           {name: "V3_SWAP_EXACT_OUT", args: v3SwapArgs},
	Permit2TransferFrom:      {name: "PERMIT2_TRANSFER_FROM", args: args("token", addressT, "recipient", addressT, "amount", uint160T)},
	Permit2PermitBatch:       {name: "PERMIT2_PERMIT_BATCH", args: args("permitBatch", permit2.BatchType, "signature", bytesT)},
	Sweep:                    {name: "SWEEP", args: args("token", addressT, "recipient", addressT, "amountMin", uint256T)},
	Transfer:                 {name: "TRANSFER", args: tokenRecipient},
	PayPortion:               {name: "PAY_PORTION", args: args("token", addressT, "recipient", addressT, "bips", uint256T)},
	V2SwapExactIn:            {name: "V2_SWAP_EXACT_IN", args: v2SwapArgs},
	V2SwapExactOut:           {name: "V2_SWAP_EXACT_OUT", args: v2SwapArgs},
	Permit2Permit:            {name: "PERMIT2_PERMIT", args: args("permitSingle", permit2.SingleType, "signature", bytesT)},
	WrapNative:               {name: "WRAP_ETH", args: recipientAmount},
	UnwrapNative:             {name: "UNWRAP_WETH", args: recipientAmount},
	Permit2TransferFromBatch: {name: "PERMIT2_TRANSFER_FROM_BATCH", args: args("transfers", transfersT)},
	BalanceCheckERC20:        {name: "BALANCE_CHECK_ERC20", args: args("owner", addressT, "token", addressT, "minBalance", uint256T)},
	SushiV2SwapExactIn:       {name: "SUSHI_V2_SWAP_EXACT_IN", args: v2SwapArgs},
	SushiV2SwapExactOut:      {name: "SUSHI_V2_SWAP_EXACT_OUT", args: v2SwapArgs},
	SushiV3SwapExactIn:       {name: "SUSHI_V3_SWAP_EXACT_IN", args: v3SwapArgs},
	SushiV3SwapExactOut:      {name: "SUSHI_V3_SWAP_EXACT_OUT", args: v3SwapArgs},
	CakeV2SwapExactIn:        {name: "CAKE_V2_SWAP_EXACT_IN", args: v2SwapArgs},
	CakeV2SwapExactOut:       {name: "CAKE_V2_SWAP_EXACT_OUT", args: v2SwapArgs},
	CakeV3SwapExactIn:        {name: "CAKE_V3_SWAP_EXACT_IN", args: v3SwapArgs},
	CakeV3SwapExactOut:       {name: "CAKE_V3_SWAP_EXACT_OUT", args: v3SwapArgs},
	ExecuteSubPlan:           {name: "EXECUTE_SUB_PLAN", args: args("commands", bytesT, "inputs", bytesArrT), revertible: true},
}

// CommandTypes lists every known command in opcode order.
func CommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandSpecs))
	for i := 0; i <= int(CommandTypeMask); i++ {
		if _, ok := commandSpecs[CommandType(i)]; ok {
			out = append(out, CommandType(i))
		}
	}
	return out
}

// Known reports whether t is in the opcode table.
func (t CommandType) Known() bool {
	_, ok := commandSpecs[t]
	return ok
}

func (t CommandType) String() string {
	if spec, ok := commandSpecs[t]; ok {
		return spec.name
	}
	return fmt.Sprintf("UNKNOWN_0x%02x", byte(t))
}

// Revertible reports whether t may carry AllowRevertFlag.
func (t CommandType) Revertible() bool {
	return commandSpecs[t].revertible
}

// Arguments returns the ABI signature of t's input blob.
func (t CommandType) Arguments() (abi.Arguments, bool) {
	spec, ok := commandSpecs[t]
	return spec.args, ok
}

// ParseCommandType accepts a command name such as "V3_SWAP_EXACT_IN".
func ParseCommandType(name string) (CommandType, bool) {
	for t, spec := range commandSpecs {
		if spec.name == name {
			return t, true
		}
	}
	return 0, false
}

// Opcode splits an opcode byte into its command type and revert flag.
func Opcode(b byte) (CommandType, bool) {
	return CommandType(b & CommandTypeMask), b&AllowRevertFlag != 0
}

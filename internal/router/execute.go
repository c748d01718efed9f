package router

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

// DefaultDeadline is far enough in the future to never expire in practice.
const DefaultDeadline int64 = 6000000000

const maxSubPlanDepth = 8

var protocolABI = mustABI(registry.ProtocolABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PackExecute encodes execute(commands, inputs, deadline). A nil deadline
// selects the overload without one.
func PackExecute(plan Plan, deadline *big.Int) ([]byte, error) {
	if len(plan.Commands) != len(plan.Inputs) {
		return nil, clierr.Newf(clierr.CodeInvalidCommand, "plan has %d commands but %d inputs", len(plan.Commands), len(plan.Inputs))
	}
	var (
		data []byte
		err  error
	)
	if deadline == nil {
		data, err = protocolABI.Pack("execute0", plan.Commands, plan.Inputs)
	} else {
		data, err = protocolABI.Pack("execute", plan.Commands, plan.Inputs, deadline)
	}
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidCommand, "pack execute call", err)
	}
	return data, nil
}

// ExecuteCall wraps a plan into a call against the protocol contract.
// value carries native coin for wrap commands.
func ExecuteCall(from, protocol address.Address, plan Plan, deadline, value *big.Int) (execution.CallRequest, error) {
	data, err := PackExecute(plan, deadline)
	if err != nil {
		return execution.CallRequest{}, err
	}
	method := registry.ExecuteSignature
	if deadline == nil {
		method = protocolABI.Methods["execute0"].Sig
	}
	return execution.CallRequest{
		From:   from,
		To:     protocol,
		Method: method,
		Data:   data,
		Value:  value,
	}, nil
}

// DecodedCommand is a diagnostic view of one command.
type DecodedCommand struct {
	Index       int              `json:"index"`
	Opcode      string           `json:"opcode"`
	Command     string           `json:"command"`
	AllowRevert bool             `json:"allow_revert"`
	Params      map[string]any   `json:"params"`
	SubPlan     []DecodedCommand `json:"sub_plan,omitempty"`
	Values      []any            `json:"-"`
}

// DecodedExecute is a diagnostic view of an execute call.
type DecodedExecute struct {
	Method   string           `json:"method"`
	Deadline string           `json:"deadline,omitempty"`
	Commands []DecodedCommand `json:"commands"`
}

// DecodeExecute reverses PackExecute for either overload.
func DecodeExecute(calldata []byte) (DecodedExecute, error) {
	if len(calldata) < 4 {
		return DecodedExecute{}, clierr.New(clierr.CodeUsage, "calldata shorter than a selector")
	}
	method, err := protocolABI.MethodById(calldata[:4])
	if err != nil {
		return DecodedExecute{}, clierr.Wrap(clierr.CodeUsage, "calldata is not an execute call", err)
	}
	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return DecodedExecute{}, clierr.Wrap(clierr.CodeUsage, "decode execute arguments", err)
	}
	commands, _ := values[0].([]byte)
	inputs, _ := values[1].([][]byte)
	decoded, err := DecodePlan(Plan{Commands: commands, Inputs: inputs})
	if err != nil {
		return DecodedExecute{}, err
	}
	out := DecodedExecute{Method: method.Sig, Commands: decoded}
	if len(values) > 2 {
		if deadline, ok := values[2].(*big.Int); ok {
			out.Deadline = deadline.String()
		}
	}
	return out, nil
}

// DecodePlan decodes every command, recursing into sub-plans.
func DecodePlan(plan Plan) ([]DecodedCommand, error) {
	return decodePlan(plan, 0)
}

func decodePlan(plan Plan, depth int) ([]DecodedCommand, error) {
	if depth > maxSubPlanDepth {
		return nil, clierr.Newf(clierr.CodeInvalidCommand, "sub-plans nested deeper than %d", maxSubPlanDepth)
	}
	if len(plan.Commands) != len(plan.Inputs) {
		return nil, clierr.Newf(clierr.CodeInvalidCommand, "plan has %d commands but %d inputs", len(plan.Commands), len(plan.Inputs))
	}
	out := make([]DecodedCommand, 0, len(plan.Commands))
	for i, opcode := range plan.Commands {
		t, allowRevert := Opcode(opcode)
		values, err := DecodeInput(t, plan.Inputs[i])
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInvalidCommand, fmt.Sprintf("command %d", i), err)
		}
		cmd := DecodedCommand{
			Index:       i,
			Opcode:      fmt.Sprintf("0x%02x", opcode),
			Command:     t.String(),
			AllowRevert: allowRevert,
			Params:      renderParams(t, values),
			Values:      values,
		}
		if t == ExecuteSubPlan {
			subCommands, _ := values[0].([]byte)
			subInputs, _ := values[1].([][]byte)
			sub, err := decodePlan(Plan{Commands: subCommands, Inputs: subInputs}, depth+1)
			if err != nil {
				return nil, err
			}
			cmd.SubPlan = sub
		}
		out = append(out, cmd)
	}
	return out, nil
}

func renderParams(t CommandType, values []any) map[string]any {
	arguments, _ := t.Arguments()
	out := make(map[string]any, len(values))
	for i, arg := range arguments {
		if i >= len(values) {
			break
		}
		if arg.Name == "path" {
			if raw, ok := values[i].([]byte); ok {
				out[arg.Name] = renderPath(raw)
				continue
			}
		}
		out[arg.Name] = renderValue(values[i])
	}
	return out
}

func renderPath(raw []byte) any {
	tokens, fees, err := DecodePath(raw)
	if err != nil {
		return "0x" + hex.EncodeToString(raw)
	}
	hexTokens := make([]string, 0, len(tokens))
	for _, token := range tokens {
		hexTokens = append(hexTokens, token.Hex())
	}
	return map[string]any{"tokens": hexTokens, "fees": fees, "raw": "0x" + hex.EncodeToString(raw)}
}

func renderValue(v any) any {
	switch value := v.(type) {
	case common.Address:
		return describeAddress(value)
	case *big.Int:
		if value == nil {
			return "0"
		}
		return value.String()
	case []byte:
		return "0x" + hex.EncodeToString(value)
	case bool:
		return value
	case []common.Address:
		out := make([]string, 0, len(value))
		for _, a := range value {
			out = append(out, describeAddress(a))
		}
		return out
	case [][]byte:
		out := make([]string, 0, len(value))
		for _, b := range value {
			out = append(out, "0x"+hex.EncodeToString(b))
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			field := rv.Type().Field(i)
			name := field.Tag.Get("json")
			if name == "" {
				name = field.Name
			}
			out[name] = renderValue(rv.Field(i).Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, renderValue(rv.Index(i).Interface()))
		}
		return out
	}
	return fmt.Sprint(v)
}

func describeAddress(a common.Address) string {
	switch address.FromCommon(a) {
	case MsgSender:
		return "MSG_SENDER"
	case AddressThis:
		return "ADDRESS_THIS"
	}
	return a.Hex()
}

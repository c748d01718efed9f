package router

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"

	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

// Plan is a finished command stream. Commands[i] runs against Inputs[i].
type Plan struct {
	Commands []byte
	Inputs   [][]byte
}

// Len is the number of top-level commands.
func (p Plan) Len() int { return len(p.Commands) }

// RoutePlanner accumulates commands in order. It is not safe for concurrent
// use and is sealed by Build.
type RoutePlanner struct {
	commands []byte
	inputs   [][]byte
	built    bool
}

func NewRoutePlanner() *RoutePlanner {
	return &RoutePlanner{}
}

// AddCommand encodes params under t's ABI signature and appends the opcode.
// Only revertible commands may set allowRevert.
func (p *RoutePlanner) AddCommand(t CommandType, params []any, allowRevert bool) error {
	if p.built {
		return clierr.New(clierr.CodeInvalidCommand, "route plan already built")
	}
	if !t.Known() {
		return clierr.Newf(clierr.CodeInvalidCommand, "unknown command type 0x%02x", byte(t))
	}
	if allowRevert && !t.Revertible() {
		return clierr.Newf(clierr.CodeNonRevertible, "command %s (0x%02x) cannot be allowed to revert", t, byte(t))
	}
	encoded, err := EncodeInput(t, params)
	if err != nil {
		return err
	}
	opcode := byte(t)
	if allowRevert {
		opcode |= AllowRevertFlag
	}
	p.commands = append(p.commands, opcode)
	p.inputs = append(p.inputs, encoded)
	return nil
}

// Add appends a typed command that must succeed.
func (p *RoutePlanner) Add(cmd Command) error {
	if cmd == nil {
		return clierr.New(clierr.CodeInvalidCommand, "nil command")
	}
	return p.AddCommand(cmd.Type(), cmd.Params(), false)
}

// AddRevertible appends a typed command whose failure is tolerated.
func (p *RoutePlanner) AddRevertible(cmd Command) error {
	if cmd == nil {
		return clierr.New(clierr.CodeInvalidCommand, "nil command")
	}
	return p.AddCommand(cmd.Type(), cmd.Params(), true)
}

// AddSubPlan builds child and appends it as a revert-isolated
// EXECUTE_SUB_PLAN: a failure inside child does not abort the commands
// appended after it.
func (p *RoutePlanner) AddSubPlan(child *RoutePlanner) error {
	if child == nil || child == p {
		return clierr.New(clierr.CodeInvalidCommand, "sub-plan must be a distinct planner")
	}
	if p.built {
		return clierr.New(clierr.CodeInvalidCommand, "route plan already built")
	}
	plan, err := child.Build()
	if err != nil {
		return err
	}
	return p.AddCommand(ExecuteSubPlan, []any{plan.Commands, plan.Inputs}, true)
}

// Commands returns a copy of the opcode stream built so far.
func (p *RoutePlanner) Commands() []byte {
	return append([]byte{}, p.commands...)
}

// Inputs returns a copy of the encoded inputs built so far.
func (p *RoutePlanner) Inputs() [][]byte {
	out := make([][]byte, len(p.inputs))
	for i, in := range p.inputs {
		out[i] = append([]byte{}, in...)
	}
	return out
}

// Len is the number of commands appended so far.
func (p *RoutePlanner) Len() int { return len(p.commands) }

// Build seals the planner and returns the finished plan. A planner is
// consumed once; later appends and builds fail.
func (p *RoutePlanner) Build() (Plan, error) {
	if p.built {
		return Plan{}, clierr.New(clierr.CodeInvalidCommand, "route plan already built")
	}
	p.built = true
	return Plan{Commands: p.Commands(), Inputs: p.Inputs()}, nil
}

// EncodeInput ABI-encodes params for t. Wrong arity, wrong Go types, nil
// amounts and out-of-range integers are rejected.
func EncodeInput(t CommandType, params []any) (out []byte, err error) {
	arguments, ok := t.Arguments()
	if !ok {
		return nil, clierr.Newf(clierr.CodeInvalidCommand, "unknown command type 0x%02x", byte(t))
	}
	if len(params) != len(arguments) {
		return nil, clierr.Newf(clierr.CodeInvalidCommand, "command %s expects %d parameters, got %d", t, len(arguments), len(params))
	}
	for i, arg := range arguments {
		if err := validateValue(arg.Type, params[i], arg.Name); err != nil {
			return nil, clierr.Wrap(clierr.CodeInvalidCommand, fmt.Sprintf("command %s", t), err)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = clierr.Newf(clierr.CodeInvalidCommand, "command %s: encode: %v", t, r)
		}
	}()
	out, err = arguments.Pack(params...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidCommand, fmt.Sprintf("command %s: encode", t), err)
	}
	return out, nil
}

// DecodeInput reverses EncodeInput. Tuples come back as go-ethereum's
// generated struct types.
func DecodeInput(t CommandType, data []byte) ([]any, error) {
	arguments, ok := t.Arguments()
	if !ok {
		return nil, clierr.Newf(clierr.CodeInvalidCommand, "unknown command type 0x%02x", byte(t))
	}
	values, err := arguments.Unpack(data)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidCommand, fmt.Sprintf("command %s: decode", t), err)
	}
	return values, nil
}

func validateValue(typ abi.Type, value any, field string) error {
	if value == nil {
		return fmt.Errorf("%s: missing value", field)
	}
	switch typ.T {
	case abi.UintTy, abi.IntTy:
		b, ok := value.(*big.Int)
		if !ok {
			return nil
		}
		if b == nil {
			return fmt.Errorf("%s: missing value", field)
		}
		if typ.T == abi.UintTy && (b.Sign() < 0 || b.BitLen() > typ.Size) {
			return fmt.Errorf("%s: %s does not fit uint%d", field, b.String(), typ.Size)
		}
	case abi.SliceTy, abi.ArrayTy:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := validateValue(*typ.Elem, rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", field, i)); err != nil {
				return err
			}
		}
	case abi.TupleTy:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Struct {
			return nil
		}
		for i, elem := range typ.TupleElems {
			name := typ.TupleRawNames[i]
			fv, ok := tupleField(rv, name)
			if !ok {
				return fmt.Errorf("%s: missing tuple field %s", field, name)
			}
			if err := validateValue(*elem, fv.Interface(), field+"."+name); err != nil {
				return err
			}
		}
	}
	return nil
}

func tupleField(rv reflect.Value, rawName string) (reflect.Value, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if tag := f.Tag.Get("abi"); tag == rawName || (tag == "" && f.Name == abi.ToCamelCase(rawName)) {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

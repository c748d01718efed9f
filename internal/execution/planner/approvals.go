// Package planner builds standalone token calls that prepare an account for
// route execution.
package planner

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, req execution.CallRequest) ([]byte, error)
}

// ApprovalRequest grants Spender (normally the permit registry) an ERC20
// allowance over Token held by Owner.
type ApprovalRequest struct {
	Token            address.Address
	Owner            address.Address
	Spender          address.Address
	Amount           *big.Int
	AllowMaxApproval bool
}

// Approval is the outcome of PlanApproval. Call is nil when the current
// allowance already covers the amount.
type Approval struct {
	Current *big.Int
	Amount  *big.Int
	Call    *execution.CallRequest
}

func (a Approval) Needed() bool { return a.Call != nil }

// PlanApproval reads the current allowance and, when short, builds an
// approve call. Unlimited approvals require AllowMaxApproval.
func PlanApproval(ctx context.Context, caller Caller, req ApprovalRequest) (Approval, error) {
	if req.Token.IsZero() {
		return Approval{}, clierr.New(clierr.CodeUsage, "approval requires a token address")
	}
	if req.Spender.IsZero() {
		return Approval{}, clierr.New(clierr.CodeUsage, "approval requires spender address")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Approval{}, clierr.New(clierr.CodeUsage, "approval amount must be a positive integer in base units")
	}
	current, err := Allowance(ctx, caller, req.Token, req.Owner, req.Spender)
	if err != nil {
		return Approval{}, err
	}
	out := Approval{Current: current, Amount: new(big.Int).Set(req.Amount)}
	if current.Cmp(req.Amount) >= 0 {
		return out, nil
	}

	amount := req.Amount
	if req.AllowMaxApproval {
		amount = math.MaxBig256
	}
	data, err := plannerERC20ABI.Pack("approve", req.Spender.Common(), amount)
	if err != nil {
		return Approval{}, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	if err := ValidateApprovalCall(data, req.Amount, req.AllowMaxApproval); err != nil {
		return Approval{}, err
	}
	out.Amount = new(big.Int).Set(amount)
	out.Call = &execution.CallRequest{
		From:   req.Owner,
		To:     req.Token,
		Method: registry.ERC20ApproveSignature,
		Data:   data,
	}
	return out, nil
}

// Allowance reads ERC20 allowance(owner, spender).
func Allowance(ctx context.Context, caller Caller, token, owner, spender address.Address) (*big.Int, error) {
	data, err := plannerERC20ABI.Pack("allowance", owner.Common(), spender.Common())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack allowance calldata", err)
	}
	return readUint(ctx, caller, token, owner, "allowance", registry.ERC20AllowanceSignature, data)
}

// BalanceOf reads ERC20 balanceOf(owner).
func BalanceOf(ctx context.Context, caller Caller, token, owner address.Address) (*big.Int, error) {
	data, err := plannerERC20ABI.Pack("balanceOf", owner.Common())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack balanceOf calldata", err)
	}
	return readUint(ctx, caller, token, owner, "balanceOf", registry.ERC20BalanceOfSignature, data)
}

func readUint(ctx context.Context, caller Caller, token, from address.Address, method, signature string, data []byte) (*big.Int, error) {
	out, err := caller.CallContract(ctx, execution.CallRequest{From: from, To: token, Method: signature, Data: data})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("read %s on token %s", method, token.Hex()), err)
	}
	values, err := plannerERC20ABI.Unpack(method, out)
	if err != nil || len(values) != 1 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s on token %s", method, token.Hex()), err)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, clierr.Newf(clierr.CodeUnavailable, "decode %s on token %s: unexpected type %T", method, token.Hex(), values[0])
	}
	return v, nil
}

// ValidateApprovalCall checks approve calldata against the requested amount.
// Approving more than requested needs allowMax.
func ValidateApprovalCall(data []byte, requested *big.Int, allowMax bool) error {
	if len(data) < 4 || !bytes.Equal(data[:4], approveSelector) {
		return clierr.New(clierr.CodeUsage, "approval call must use ERC20 approve(spender,amount)")
	}
	args, err := plannerERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeUsage, "approval calldata is invalid")
	}
	spender, ok := args[0].(common.Address)
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "approval has invalid spender")
	}
	amount, ok := args[1].(*big.Int)
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "approval has invalid approval amount")
	}
	if allowMax {
		return nil
	}
	if requested == nil || amount.Cmp(requested) > 0 {
		return clierr.New(
			clierr.CodeUsage,
			fmt.Sprintf("approval amount %s exceeds requested amount %v; use --allow-max-approval to override", amount.String(), requested),
		)
	}
	return nil
}

var (
	plannerERC20ABI = mustPlannerABI(registry.ERC20MinimalABI)
	approveSelector = plannerERC20ABI.Methods["approve"].ID
)

func mustPlannerABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

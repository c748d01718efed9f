package permit2

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

var permit2ABI = mustABI(registry.Permit2ABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, req execution.CallRequest) ([]byte, error)
}

// Allowance is the registry's stored state for (owner, token, spender).
type Allowance struct {
	Amount     *big.Int `json:"amount"`
	Expiration uint64   `json:"expiration"`
	Nonce      uint64   `json:"nonce"`
}

// Registry is a handle to one deployed permit registry.
type Registry struct {
	Address address.Address
	ChainID *big.Int
	caller  Caller
}

func NewRegistry(addr address.Address, chainID *big.Int, caller Caller) *Registry {
	return &Registry{Address: addr, ChainID: new(big.Int).Set(chainID), caller: caller}
}

// Domain returns the signing domain for this deployment.
func (r *Registry) Domain() Domain {
	return NewDomain(r.ChainID, r.Address)
}

// Allowance reads allowance(owner, token, spender) from chain state.
func (r *Registry) Allowance(ctx context.Context, owner, token, spender address.Address) (Allowance, error) {
	data, err := permit2ABI.Pack("allowance", owner.Common(), token.Common(), spender.Common())
	if err != nil {
		return Allowance{}, clierr.Wrap(clierr.CodeInternal, "pack allowance call", err)
	}
	out, err := r.call(ctx, owner, registry.AllowanceSignature, data)
	if err != nil {
		return Allowance{}, err
	}
	values, err := permit2ABI.Unpack("allowance", out)
	if err != nil {
		return Allowance{}, clierr.Wrap(clierr.CodeUnavailable, "decode allowance response", err)
	}
	if len(values) != 3 {
		return Allowance{}, clierr.Newf(clierr.CodeUnavailable, "allowance returned %d values", len(values))
	}
	amount, _ := values[0].(*big.Int)
	expiration, _ := values[1].(*big.Int)
	nonce, _ := values[2].(*big.Int)
	return Allowance{
		Amount:     cloneBig(amount),
		Expiration: bigUint64(expiration),
		Nonce:      bigUint64(nonce),
	}, nil
}

// OnChainDomainSeparator reads DOMAIN_SEPARATOR() from the deployment.
func (r *Registry) OnChainDomainSeparator(ctx context.Context) ([]byte, error) {
	data, err := permit2ABI.Pack("DOMAIN_SEPARATOR")
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack domain separator call", err)
	}
	out, err := r.call(ctx, address.Zero, registry.DomainSeparatorSignature, data)
	if err != nil {
		return nil, err
	}
	values, err := permit2ABI.Unpack("DOMAIN_SEPARATOR", out)
	if err != nil || len(values) != 1 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode domain separator", err)
	}
	sep, ok := values[0].([32]byte)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "domain separator has unexpected type")
	}
	return sep[:], nil
}

func (r *Registry) call(ctx context.Context, from address.Address, method string, data []byte) ([]byte, error) {
	if r.caller == nil {
		return nil, clierr.New(clierr.CodeInternal, "permit registry has no chain caller")
	}
	out, err := r.caller.CallContract(ctx, execution.CallRequest{
		From:   from,
		To:     r.Address,
		Method: method,
		Data:   data,
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("call %s on permit registry %s", method, r.Address.Hex()), err)
	}
	return out, nil
}

// GetPermitSignature refreshes the permit nonce from chain state and signs.
// Nothing reserves the nonce between the read and settlement; a permit
// consumed elsewhere in between leaves this signature stale.
func GetPermitSignature(ctx context.Context, permit PermitSingle, owner address.Address, reg *Registry, backend Backend) (PermitSingle, []byte, error) {
	if reg == nil {
		return permit, nil, clierr.New(clierr.CodeInternal, "missing permit registry")
	}
	allowance, err := reg.Allowance(ctx, owner, permit.Details.Token, permit.Spender)
	if err != nil {
		return permit, nil, err
	}
	permit.Details.Nonce = allowance.Nonce
	sig, err := Sign(permit, reg.Domain(), backend)
	if err != nil {
		return permit, nil, err
	}
	return permit, sig, nil
}

// VerifyNonce reports CodeStaleNonce when the registry has moved past the
// nonce a permit was signed with. The signature itself still verifies, so
// this is the only way to see the rejection before settlement.
func VerifyNonce(ctx context.Context, permit PermitSingle, owner address.Address, reg *Registry) error {
	allowance, err := reg.Allowance(ctx, owner, permit.Details.Token, permit.Spender)
	if err != nil {
		return err
	}
	if allowance.Nonce != permit.Details.Nonce {
		return clierr.Newf(clierr.CodeStaleNonce,
			"permit nonce %d is stale: registry %s expects %d for owner %s token %s spender %s",
			permit.Details.Nonce, reg.Address.Hex(), allowance.Nonce, owner.Hex(), permit.Details.Token.Hex(), permit.Spender.Hex())
	}
	return nil
}

// EncodePermitCall packs permit(owner, permitSingle, signature) for a direct
// registry call.
func EncodePermitCall(owner address.Address, permit PermitSingle, sig []byte) ([]byte, error) {
	if err := permit.Validate(); err != nil {
		return nil, err
	}
	data, err := permit2ABI.Pack("permit", owner.Common(), permit.Tuple(), sig)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInvalidCommand, "pack permit call", err)
	}
	return data, nil
}

// PermitCallRequest wraps EncodePermitCall into a submit-ready request.
func PermitCallRequest(owner address.Address, reg address.Address, permit PermitSingle, sig []byte) (execution.CallRequest, error) {
	data, err := EncodePermitCall(owner, permit, sig)
	if err != nil {
		return execution.CallRequest{}, err
	}
	return execution.CallRequest{
		From:   owner,
		To:     reg,
		Method: registry.PermitSignature,
		Data:   data,
	}, nil
}


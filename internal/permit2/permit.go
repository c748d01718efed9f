// Package permit2 builds, signs and verifies allowance permits for the
// Permit2 registry. Signing goes through a Backend so every key holder
// produces the same 65-byte signature for the same permit and domain.
package permit2

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

const (
	amountBits     = 160
	expirationBits = 48
	nonceBits      = 48
)

// MaxUint48 bounds expiration and nonce values.
const MaxUint48 uint64 = 1<<48 - 1

// MaxUint160 is the largest permit amount, an unlimited allowance.
var MaxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), amountBits), big.NewInt(1))

// PermitDetails is the per-token allowance being granted.
type PermitDetails struct {
	Token      address.Address `json:"token"`
	Amount     *big.Int        `json:"amount"`
	Expiration uint64          `json:"expiration"`
	Nonce      uint64          `json:"nonce"`
}

// PermitSingle grants one token allowance to Spender until SigDeadline.
type PermitSingle struct {
	Details     PermitDetails   `json:"details"`
	Spender     address.Address `json:"spender"`
	SigDeadline *big.Int        `json:"sig_deadline"`
}

// PermitBatch grants several token allowances with one signature.
type PermitBatch struct {
	Details     []PermitDetails `json:"details"`
	Spender     address.Address `json:"spender"`
	SigDeadline *big.Int        `json:"sig_deadline"`
}

// Validate checks the bit widths the registry enforces on chain.
func (d PermitDetails) Validate() error {
	if d.Token.IsZero() {
		return clierr.New(clierr.CodeUsage, "permit token is required")
	}
	if err := checkBits("amount", d.Amount, amountBits); err != nil {
		return err
	}
	if d.Expiration > MaxUint48 {
		return clierr.Newf(clierr.CodeUsage, "permit expiration %d exceeds %d bits", d.Expiration, expirationBits)
	}
	if d.Nonce > MaxUint48 {
		return clierr.Newf(clierr.CodeUsage, "permit nonce %d exceeds %d bits", d.Nonce, nonceBits)
	}
	return nil
}

func (p PermitSingle) Validate() error {
	if err := p.Details.Validate(); err != nil {
		return err
	}
	if p.Spender.IsZero() {
		return clierr.New(clierr.CodeUsage, "permit spender is required")
	}
	return checkBits("sig deadline", p.SigDeadline, 256)
}

func (p PermitBatch) Validate() error {
	if len(p.Details) == 0 {
		return clierr.New(clierr.CodeUsage, "permit batch needs at least one token")
	}
	for i, details := range p.Details {
		if err := details.Validate(); err != nil {
			return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("permit batch entry %d", i), err)
		}
	}
	if p.Spender.IsZero() {
		return clierr.New(clierr.CodeUsage, "permit spender is required")
	}
	return checkBits("sig deadline", p.SigDeadline, 256)
}

func checkBits(field string, value *big.Int, bits int) error {
	if value == nil {
		return clierr.Newf(clierr.CodeUsage, "permit %s is required", field)
	}
	if value.Sign() < 0 {
		return clierr.Newf(clierr.CodeUsage, "permit %s must not be negative", field)
	}
	v, overflow := uint256.FromBig(value)
	if overflow || v.BitLen() > bits {
		return clierr.Newf(clierr.CodeUsage, "permit %s %s exceeds %d bits", field, value.String(), bits)
	}
	return nil
}

// ABI tuple shapes. Field tags follow the component names in the registry
// and router ABIs.

type DetailsTuple struct {
	Token      common.Address `abi:"token"`
	Amount     *big.Int       `abi:"amount"`
	Expiration *big.Int       `abi:"expiration"`
	Nonce      *big.Int       `abi:"nonce"`
}

type SingleTuple struct {
	Details     DetailsTuple   `abi:"details"`
	Spender     common.Address `abi:"spender"`
	SigDeadline *big.Int       `abi:"sigDeadline"`
}

type BatchTuple struct {
	Details     []DetailsTuple `abi:"details"`
	Spender     common.Address `abi:"spender"`
	SigDeadline *big.Int       `abi:"sigDeadline"`
}

var detailsComponents = []abi.ArgumentMarshaling{
	{Name: "token", Type: "address"},
	{Name: "amount", Type: "uint160"},
	{Name: "expiration", Type: "uint48"},
	{Name: "nonce", Type: "uint48"},
}

var (
	// SingleType is ((address,uint160,uint48,uint48),address,uint256).
	SingleType = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "details", Type: "tuple", Components: detailsComponents},
		{Name: "spender", Type: "address"},
		{Name: "sigDeadline", Type: "uint256"},
	})
	// BatchType is ((address,uint160,uint48,uint48)[],address,uint256).
	BatchType = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "details", Type: "tuple[]", Components: detailsComponents},
		{Name: "spender", Type: "address"},
		{Name: "sigDeadline", Type: "uint256"},
	})
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

func (d PermitDetails) tuple() DetailsTuple {
	return DetailsTuple{
		Token:      d.Token.Common(),
		Amount:     cloneBig(d.Amount),
		Expiration: new(big.Int).SetUint64(d.Expiration),
		Nonce:      new(big.Int).SetUint64(d.Nonce),
	}
}

// Tuple returns the ABI value for SingleType.
func (p PermitSingle) Tuple() SingleTuple {
	return SingleTuple{
		Details:     p.Details.tuple(),
		Spender:     p.Spender.Common(),
		SigDeadline: cloneBig(p.SigDeadline),
	}
}

// Tuple returns the ABI value for BatchType.
func (p PermitBatch) Tuple() BatchTuple {
	details := make([]DetailsTuple, 0, len(p.Details))
	for _, d := range p.Details {
		details = append(details, d.tuple())
	}
	return BatchTuple{
		Details:     details,
		Spender:     p.Spender.Common(),
		SigDeadline: cloneBig(p.SigDeadline),
	}
}

func (t DetailsTuple) permit() PermitDetails {
	return PermitDetails{
		Token:      address.FromCommon(t.Token),
		Amount:     cloneBig(t.Amount),
		Expiration: bigUint64(t.Expiration),
		Nonce:      bigUint64(t.Nonce),
	}
}

// Permit converts a decoded tuple back to the domain type.
func (t SingleTuple) Permit() PermitSingle {
	return PermitSingle{
		Details:     t.Details.permit(),
		Spender:     address.FromCommon(t.Spender),
		SigDeadline: cloneBig(t.SigDeadline),
	}
}

func (t BatchTuple) Permit() PermitBatch {
	details := make([]PermitDetails, 0, len(t.Details))
	for _, d := range t.Details {
		details = append(details, d.permit())
	}
	return PermitBatch{
		Details:     details,
		Spender:     address.FromCommon(t.Spender),
		SigDeadline: cloneBig(t.SigDeadline),
	}
}

// SingleFromABI converts an unpacked SingleType value.
func SingleFromABI(v any) (PermitSingle, error) {
	var out SingleTuple
	if err := convertABI(v, &out); err != nil {
		return PermitSingle{}, err
	}
	return out.Permit(), nil
}

// BatchFromABI converts an unpacked BatchType value.
func BatchFromABI(v any) (PermitBatch, error) {
	var out BatchTuple
	if err := convertABI(v, &out); err != nil {
		return PermitBatch{}, err
	}
	return out.Permit(), nil
}

func convertABI(v any, dst any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = clierr.Newf(clierr.CodeInvalidCommand, "convert abi tuple: %v", r)
		}
	}()
	abi.ConvertType(v, dst)
	return nil
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func bigUint64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

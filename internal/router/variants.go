package router

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	"github.com/ggonzalez94/tomo-cli/internal/permit2"
)

// Router sentinels understood by the protocol contract.
var (
	// MsgSender resolves to the transaction sender inside the protocol.
	MsgSender = address.Address{19: 0x01}
	// AddressThis resolves to the protocol contract itself.
	AddressThis = address.Address{19: 0x02}
	// ContractBalance (2^255) asks the protocol to use its whole balance.
	ContractBalance = new(big.Int).Lsh(big.NewInt(1), 255)
)

const (
	// SourceRouter pays a swap from the protocol's own balance.
	SourceRouter = false
	// SourceMsgSender pulls swap input from the sender through the permit
	// registry.
	SourceMsgSender = true

	OnePercentBips int64 = 100
)

// Command is one typed router operation. Params returns values in the order
// and Go types expected by the command's ABI signature.
type Command interface {
	Type() CommandType
	Params() []any
}

// Venue selects which AMM family a swap command targets.
type Venue int

const (
	VenueUniswap Venue = iota
	VenueSushi
	VenuePancake
)

var v3Opcodes = map[Venue][2]CommandType{
	VenueUniswap: {V3SwapExactIn, V3SwapExactOut},
	VenueSushi:   {SushiV3SwapExactIn, SushiV3SwapExactOut},
	VenuePancake: {CakeV3SwapExactIn, CakeV3SwapExactOut},
}

var v2Opcodes = map[Venue][2]CommandType{
	VenueUniswap: {V2SwapExactIn, V2SwapExactOut},
	VenueSushi:   {SushiV2SwapExactIn, SushiV2SwapExactOut},
	VenuePancake: {CakeV2SwapExactIn, CakeV2SwapExactOut},
}

func pick(table map[Venue][2]CommandType, venue Venue, exactOut bool) CommandType {
	pair, ok := table[venue]
	if !ok {
		pair = table[VenueUniswap]
	}
	if exactOut {
		return pair[1]
	}
	return pair[0]
}

// V3Swap swaps along a packed fee-tier path. Amount is the exact input (or
// exact output) and AmountLimit the minimum output (or maximum input).
type V3Swap struct {
	Venue       Venue
	ExactOutput bool
	Recipient   address.Address
	Amount      *big.Int
	AmountLimit *big.Int
	Path        []byte
	PayerIsUser bool
}

func (c V3Swap) Type() CommandType { return pick(v3Opcodes, c.Venue, c.ExactOutput) }

func (c V3Swap) Params() []any {
	return []any{c.Recipient.Common(), c.Amount, c.AmountLimit, c.Path, c.PayerIsUser}
}

// V2Swap swaps along a list of pair tokens.
type V2Swap struct {
	Venue       Venue
	ExactOutput bool
	Recipient   address.Address
	Amount      *big.Int
	AmountLimit *big.Int
	Path        []address.Address
	PayerIsUser bool
}

func (c V2Swap) Type() CommandType { return pick(v2Opcodes, c.Venue, c.ExactOutput) }

func (c V2Swap) Params() []any {
	return []any{c.Recipient.Common(), c.Amount, c.AmountLimit, commonAddresses(c.Path), c.PayerIsUser}
}

// PermitSingle submits a signed single-token permit to the registry.
type PermitSingle struct {
	Permit    permit2.PermitSingle
	Signature []byte
}

func (c PermitSingle) Type() CommandType { return Permit2Permit }
func (c PermitSingle) Params() []any     { return []any{c.Permit.Tuple(), c.Signature} }

// PermitBatch submits a signed multi-token permit.
type PermitBatch struct {
	Permit    permit2.PermitBatch
	Signature []byte
}

func (c PermitBatch) Type() CommandType { return Permit2PermitBatch }
func (c PermitBatch) Params() []any     { return []any{c.Permit.Tuple(), c.Signature} }

// TransferFrom pulls tokens from the sender through the permit registry.
type TransferFrom struct {
	Token     address.Address
	Recipient address.Address
	Amount    *big.Int
}

func (c TransferFrom) Type() CommandType { return Permit2TransferFrom }
func (c TransferFrom) Params() []any {
	return []any{c.Token.Common(), c.Recipient.Common(), c.Amount}
}

// AllowanceTransfer is one entry of a batched registry transfer.
type AllowanceTransfer struct {
	From   address.Address
	To     address.Address
	Amount *big.Int
	Token  address.Address
}

type allowanceTransferTuple struct {
	From   common.Address `abi:"from"`
	To     common.Address `abi:"to"`
	Amount *big.Int       `abi:"amount"`
	Token  common.Address `abi:"token"`
}

// TransferFromBatch pulls several tokens in one command.
type TransferFromBatch struct {
	Transfers []AllowanceTransfer
}

func (c TransferFromBatch) Type() CommandType { return Permit2TransferFromBatch }
func (c TransferFromBatch) Params() []any {
	tuples := make([]allowanceTransferTuple, 0, len(c.Transfers))
	for _, t := range c.Transfers {
		tuples = append(tuples, allowanceTransferTuple{
			From:   t.From.Common(),
			To:     t.To.Common(),
			Amount: t.Amount,
			Token:  t.Token.Common(),
		})
	}
	return []any{tuples}
}

// SweepToken sends the protocol's whole balance of Token (zero address for
// the native coin) to Recipient, requiring at least AmountMin.
type SweepToken struct {
	Token     address.Address
	Recipient address.Address
	AmountMin *big.Int
}

func (c SweepToken) Type() CommandType { return Sweep }
func (c SweepToken) Params() []any {
	return []any{c.Token.Common(), c.Recipient.Common(), c.AmountMin}
}

// TransferToken sends an exact Value of Token held by the protocol.
type TransferToken struct {
	Token     address.Address
	Recipient address.Address
	Value     *big.Int
}

func (c TransferToken) Type() CommandType { return Transfer }
func (c TransferToken) Params() []any {
	return []any{c.Token.Common(), c.Recipient.Common(), c.Value}
}

// PayPortionOf sends Bips/10000 of the protocol's Token balance.
type PayPortionOf struct {
	Token     address.Address
	Recipient address.Address
	Bips      *big.Int
}

func (c PayPortionOf) Type() CommandType { return PayPortion }
func (c PayPortionOf) Params() []any {
	return []any{c.Token.Common(), c.Recipient.Common(), c.Bips}
}

// Wrap converts native coin held by the protocol into its wrapped token.
type Wrap struct {
	Recipient address.Address
	AmountMin *big.Int
}

func (c Wrap) Type() CommandType { return WrapNative }
func (c Wrap) Params() []any     { return []any{c.Recipient.Common(), c.AmountMin} }

// Unwrap converts the wrapped token back to the native coin.
type Unwrap struct {
	Recipient address.Address
	AmountMin *big.Int
}

func (c Unwrap) Type() CommandType { return UnwrapNative }
func (c Unwrap) Params() []any     { return []any{c.Recipient.Common(), c.AmountMin} }

// BalanceCheck reverts unless Owner holds at least MinBalance of Token.
type BalanceCheck struct {
	Owner      address.Address
	Token      address.Address
	MinBalance *big.Int
}

func (c BalanceCheck) Type() CommandType { return BalanceCheckERC20 }
func (c BalanceCheck) Params() []any {
	return []any{c.Owner.Common(), c.Token.Common(), c.MinBalance}
}

func commonAddresses(in []address.Address) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, a := range in {
		out = append(out, a.Common())
	}
	return out
}

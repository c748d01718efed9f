// Package planfile turns YAML route-plan documents into router plans.
//
// Addresses accept hex, base58 or a token alias of the network profile, plus
// the router sentinels MSG_SENDER, ADDRESS_THIS and NATIVE. Amounts are base
// units, CONTRACT_BALANCE, MAX, or a decimal followed by a token symbol such
// as "1.5 USDT".
package planfile

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/permit2"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
	"github.com/ggonzalez94/tomo-cli/internal/router"
	"github.com/ggonzalez94/tomo-cli/internal/units"
)

// Document is the top-level plan file.
type Document struct {
	Network    string `yaml:"network"`
	From       string `yaml:"from"`
	Value      string `yaml:"value"`
	Deadline   string `yaml:"deadline"`
	NoDeadline bool   `yaml:"no_deadline"`
	Steps      []Step `yaml:"steps"`
}

// Step is one router command. Which fields apply depends on Command.
type Step struct {
	Command     string     `yaml:"command"`
	AllowRevert bool       `yaml:"allow_revert"`
	Venue       string     `yaml:"venue"`
	Recipient   string     `yaml:"recipient"`
	Token       string     `yaml:"token"`
	Owner       string     `yaml:"owner"`
	Spender     string     `yaml:"spender"`
	Amount      string     `yaml:"amount"`
	AmountLimit string     `yaml:"amount_limit"`
	Path        []string   `yaml:"path"`
	PayerIsUser bool       `yaml:"payer_is_user"`
	Bips        string     `yaml:"bips"`
	Expiration  uint64     `yaml:"expiration"`
	Nonce       uint64     `yaml:"nonce"`
	SigDeadline string     `yaml:"sig_deadline"`
	Signature   string     `yaml:"signature"`
	Transfers   []Transfer `yaml:"transfers"`
	Steps       []Step     `yaml:"steps"`
}

// Transfer is one entry of a transfer_from_batch step.
type Transfer struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Amount string `yaml:"amount"`
	Token  string `yaml:"token"`
}

// PermitSigner fills the nonce of an unsigned permit step and signs it.
type PermitSigner func(ctx context.Context, permit permit2.PermitSingle) (permit2.PermitSingle, []byte, error)

// PermitChecker vets a permit that arrived already signed, typically
// against the registry's current nonce.
type PermitChecker func(ctx context.Context, permit permit2.PermitSingle, sig []byte) error

// Options carries the explicit network context a document is built against.
type Options struct {
	Profile     registry.Profile
	SignPermit  PermitSigner
	CheckPermit PermitChecker
}

// Built is a finished document.
type Built struct {
	Plan     router.Plan
	Deadline *big.Int
	Value    *big.Int
	From     address.Address
	Permits  []SignedPermit
}

// SignedPermit records a permit embedded in the plan.
type SignedPermit struct {
	Permit    permit2.PermitSingle `json:"permit"`
	Signature string               `json:"signature"`
}

// Load reads and parses a plan file.
func Load(path string) (Document, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Document{}, clierr.Wrap(clierr.CodeUsage, "read plan file", err)
	}
	return Parse(buf)
}

// Parse decodes a plan document; unknown keys are rejected.
func Parse(buf []byte) (Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, clierr.New(clierr.CodeUsage, "plan file is empty")
		}
		return Document{}, clierr.Wrap(clierr.CodeUsage, "parse plan yaml", err)
	}
	if len(doc.Steps) == 0 {
		return Document{}, clierr.New(clierr.CodeUsage, "plan has no steps")
	}
	return doc, nil
}

// Build resolves every step against opts.Profile and encodes the plan.
func Build(ctx context.Context, doc Document, opts Options) (Built, error) {
	b := &builder{ctx: ctx, opts: opts}
	out := Built{Value: new(big.Int)}

	if strings.TrimSpace(doc.From) != "" {
		from, err := b.address(doc.From, "from")
		if err != nil {
			return Built{}, err
		}
		out.From = from
	}
	if strings.TrimSpace(doc.Value) != "" {
		value, err := b.amount(doc.Value, "value")
		if err != nil {
			return Built{}, err
		}
		out.Value = value
	}
	if !doc.NoDeadline {
		out.Deadline = big.NewInt(router.DefaultDeadline)
		if strings.TrimSpace(doc.Deadline) != "" {
			deadline, err := units.ParseBaseUnits(doc.Deadline)
			if err != nil {
				return Built{}, clierr.Wrap(clierr.CodeUsage, "plan deadline", err)
			}
			out.Deadline = deadline
		}
	}

	planner := router.NewRoutePlanner()
	if err := b.addSteps(planner, doc.Steps, "steps", 0); err != nil {
		return Built{}, err
	}
	plan, err := planner.Build()
	if err != nil {
		return Built{}, err
	}
	out.Plan = plan
	out.Permits = b.permits
	return out, nil
}

const maxNesting = 8

type builder struct {
	ctx     context.Context
	opts    Options
	permits []SignedPermit
}

func (b *builder) addSteps(planner *router.RoutePlanner, steps []Step, at string, depth int) error {
	if depth > maxNesting {
		return clierr.Newf(clierr.CodeUsage, "%s: sub-plans nested deeper than %d", at, maxNesting)
	}
	for i, step := range steps {
		field := fmt.Sprintf("%s[%d]", at, i)
		if strings.EqualFold(strings.TrimSpace(step.Command), "sub_plan") {
			if len(step.Steps) == 0 {
				return clierr.Newf(clierr.CodeUsage, "%s: sub_plan has no steps", field)
			}
			child := router.NewRoutePlanner()
			if err := b.addSteps(child, step.Steps, field+".steps", depth+1); err != nil {
				return err
			}
			if err := planner.AddSubPlan(child); err != nil {
				return err
			}
			continue
		}
		cmd, err := b.command(step, field)
		if err != nil {
			return err
		}
		if step.AllowRevert {
			err = planner.AddRevertible(cmd)
		} else {
			err = planner.Add(cmd)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) command(step Step, field string) (router.Command, error) {
	name := strings.ToLower(strings.TrimSpace(step.Command))
	switch name {
	case "v3_swap_exact_in", "v3_swap_exact_out":
		return b.v3Swap(step, field, name == "v3_swap_exact_out")
	case "v2_swap_exact_in", "v2_swap_exact_out":
		return b.v2Swap(step, field, name == "v2_swap_exact_out")
	case "permit":
		return b.permit(step, field)
	case "transfer_from":
		token, recipient, amount, err := b.tokenRecipientAmount(step, field, step.Amount, "amount")
		if err != nil {
			return nil, err
		}
		return router.TransferFrom{Token: token, Recipient: recipient, Amount: amount}, nil
	case "transfer_from_batch":
		return b.transferBatch(step, field)
	case "sweep":
		token, recipient, amount, err := b.tokenRecipientAmount(step, field, step.Amount, "amount")
		if err != nil {
			return nil, err
		}
		return router.SweepToken{Token: token, Recipient: recipient, AmountMin: amount}, nil
	case "transfer":
		token, recipient, amount, err := b.tokenRecipientAmount(step, field, step.Amount, "amount")
		if err != nil {
			return nil, err
		}
		return router.TransferToken{Token: token, Recipient: recipient, Value: amount}, nil
	case "pay_portion":
		token, recipient, bips, err := b.tokenRecipientAmount(step, field, step.Bips, "bips")
		if err != nil {
			return nil, err
		}
		if bips.Cmp(big.NewInt(10_000)) > 0 {
			return nil, clierr.Newf(clierr.CodeUsage, "%s.bips: %s exceeds 10000", field, bips)
		}
		return router.PayPortionOf{Token: token, Recipient: recipient, Bips: bips}, nil
	case "wrap", "unwrap":
		recipient, err := b.address(step.Recipient, field+".recipient")
		if err != nil {
			return nil, err
		}
		amount, err := b.amount(step.Amount, field+".amount")
		if err != nil {
			return nil, err
		}
		if name == "wrap" {
			return router.Wrap{Recipient: recipient, AmountMin: amount}, nil
		}
		return router.Unwrap{Recipient: recipient, AmountMin: amount}, nil
	case "balance_check":
		owner, err := b.address(step.Owner, field+".owner")
		if err != nil {
			return nil, err
		}
		token, err := b.address(step.Token, field+".token")
		if err != nil {
			return nil, err
		}
		amount, err := b.amount(step.Amount, field+".amount")
		if err != nil {
			return nil, err
		}
		return router.BalanceCheck{Owner: owner, Token: token, MinBalance: amount}, nil
	case "":
		return nil, clierr.Newf(clierr.CodeUsage, "%s: command is required", field)
	default:
		return nil, clierr.Newf(clierr.CodeUsage, "%s: unsupported command %q", field, step.Command)
	}
}

func (b *builder) v3Swap(step Step, field string, exactOut bool) (router.Command, error) {
	venue, err := parseVenue(step.Venue, field)
	if err != nil {
		return nil, err
	}
	recipient, amount, limit, err := b.swapCommon(step, field)
	if err != nil {
		return nil, err
	}
	tokens, fees, err := b.feePath(step.Path, field+".path")
	if err != nil {
		return nil, err
	}
	encode := router.EncodePathExactInput
	if exactOut {
		encode = router.EncodePathExactOutput
	}
	path, err := encode(tokens, fees)
	if err != nil {
		return nil, err
	}
	return router.V3Swap{
		Venue:       venue,
		ExactOutput: exactOut,
		Recipient:   recipient,
		Amount:      amount,
		AmountLimit: limit,
		Path:        path,
		PayerIsUser: step.PayerIsUser,
	}, nil
}

func (b *builder) v2Swap(step Step, field string, exactOut bool) (router.Command, error) {
	venue, err := parseVenue(step.Venue, field)
	if err != nil {
		return nil, err
	}
	recipient, amount, limit, err := b.swapCommon(step, field)
	if err != nil {
		return nil, err
	}
	if len(step.Path) < 2 {
		return nil, clierr.Newf(clierr.CodeUsage, "%s.path: needs at least two tokens", field)
	}
	path := make([]address.Address, 0, len(step.Path))
	for i, entry := range step.Path {
		token, err := b.address(entry, fmt.Sprintf("%s.path[%d]", field, i))
		if err != nil {
			return nil, err
		}
		path = append(path, token)
	}
	return router.V2Swap{
		Venue:       venue,
		ExactOutput: exactOut,
		Recipient:   recipient,
		Amount:      amount,
		AmountLimit: limit,
		Path:        path,
		PayerIsUser: step.PayerIsUser,
	}, nil
}

func (b *builder) swapCommon(step Step, field string) (address.Address, *big.Int, *big.Int, error) {
	recipient, err := b.address(step.Recipient, field+".recipient")
	if err != nil {
		return address.Zero, nil, nil, err
	}
	amount, err := b.amount(step.Amount, field+".amount")
	if err != nil {
		return address.Zero, nil, nil, err
	}
	limit, err := b.amount(step.AmountLimit, field+".amount_limit")
	if err != nil {
		return address.Zero, nil, nil, err
	}
	return recipient, amount, limit, nil
}

// feePath reads alternating token and fee entries: [USDT, 500, JST, 3000, WTRX].
func (b *builder) feePath(entries []string, field string) ([]address.Address, []int32, error) {
	if len(entries) < 3 || len(entries)%2 == 0 {
		return nil, nil, clierr.Newf(clierr.CodePathLength, "%s: expected token, fee, token[, fee, token...] entries, got %d", field, len(entries))
	}
	tokens := make([]address.Address, 0, len(entries)/2+1)
	fees := make([]int32, 0, len(entries)/2)
	for i, entry := range entries {
		at := fmt.Sprintf("%s[%d]", field, i)
		if i%2 == 1 {
			fee, err := strconv.ParseInt(strings.TrimSpace(entry), 10, 32)
			if err != nil {
				return nil, nil, clierr.Newf(clierr.CodeUsage, "%s: fee %q is not an integer", at, entry)
			}
			fees = append(fees, int32(fee))
			continue
		}
		token, err := b.address(entry, at)
		if err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, fees, nil
}

func (b *builder) permit(step Step, field string) (router.Command, error) {
	token, err := b.address(step.Token, field+".token")
	if err != nil {
		return nil, err
	}
	amount, err := b.amountFor(step.Amount, field+".amount", permit2.MaxUint160)
	if err != nil {
		return nil, err
	}
	spenderRaw := step.Spender
	if strings.TrimSpace(spenderRaw) == "" {
		spenderRaw = b.opts.Profile.Protocol
	}
	spender, err := b.address(spenderRaw, field+".spender")
	if err != nil {
		return nil, err
	}
	sigDeadline := big.NewInt(router.DefaultDeadline)
	if strings.TrimSpace(step.SigDeadline) != "" {
		if sigDeadline, err = units.ParseBaseUnits(step.SigDeadline); err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, field+".sig_deadline", err)
		}
	}
	permit := permit2.PermitSingle{
		Details: permit2.PermitDetails{
			Token:      token,
			Amount:     amount,
			Expiration: step.Expiration,
			Nonce:      step.Nonce,
		},
		Spender:     spender,
		SigDeadline: sigDeadline,
	}

	var sig []byte
	if strings.TrimSpace(step.Signature) != "" {
		sig, err = hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(step.Signature), "0x"))
		if err != nil || len(sig) != permit2.SignatureLength {
			return nil, clierr.Newf(clierr.CodeUsage, "%s.signature: expected %d hex bytes", field, permit2.SignatureLength)
		}
		if err := permit.Validate(); err != nil {
			return nil, err
		}
		if b.opts.CheckPermit != nil {
			if err := b.opts.CheckPermit(b.ctx, permit, sig); err != nil {
				return nil, err
			}
		}
	} else {
		if b.opts.SignPermit == nil {
			return nil, clierr.Newf(clierr.CodeUsage, "%s: permit has no signature and no signer is configured", field)
		}
		if permit, sig, err = b.opts.SignPermit(b.ctx, permit); err != nil {
			return nil, err
		}
	}
	if err := permit.Validate(); err != nil {
		return nil, err
	}
	b.permits = append(b.permits, SignedPermit{Permit: permit, Signature: "0x" + hex.EncodeToString(sig)})
	return router.PermitSingle{Permit: permit, Signature: sig}, nil
}

func (b *builder) transferBatch(step Step, field string) (router.Command, error) {
	if len(step.Transfers) == 0 {
		return nil, clierr.Newf(clierr.CodeUsage, "%s.transfers: at least one transfer is required", field)
	}
	out := router.TransferFromBatch{Transfers: make([]router.AllowanceTransfer, 0, len(step.Transfers))}
	for i, t := range step.Transfers {
		at := fmt.Sprintf("%s.transfers[%d]", field, i)
		from, err := b.address(t.From, at+".from")
		if err != nil {
			return nil, err
		}
		to, err := b.address(t.To, at+".to")
		if err != nil {
			return nil, err
		}
		token, err := b.address(t.Token, at+".token")
		if err != nil {
			return nil, err
		}
		amount, err := b.amount(t.Amount, at+".amount")
		if err != nil {
			return nil, err
		}
		out.Transfers = append(out.Transfers, router.AllowanceTransfer{From: from, To: to, Amount: amount, Token: token})
	}
	return out, nil
}

func (b *builder) tokenRecipientAmount(step Step, field, rawAmount, amountField string) (address.Address, address.Address, *big.Int, error) {
	token, err := b.address(step.Token, field+".token")
	if err != nil {
		return address.Zero, address.Zero, nil, err
	}
	recipient, err := b.address(step.Recipient, field+".recipient")
	if err != nil {
		return address.Zero, address.Zero, nil, err
	}
	amount, err := b.amount(rawAmount, field+"."+amountField)
	if err != nil {
		return address.Zero, address.Zero, nil, err
	}
	return token, recipient, amount, nil
}

// address resolves sentinels, token aliases and literal addresses.
func (b *builder) address(raw, field string) (address.Address, error) {
	v := strings.TrimSpace(raw)
	switch strings.ToUpper(v) {
	case "":
		return address.Zero, clierr.Newf(clierr.CodeUsage, "%s: address is required", field)
	case "MSG_SENDER":
		return router.MsgSender, nil
	case "ADDRESS_THIS":
		return router.AddressThis, nil
	case "NATIVE":
		return address.Zero, nil
	}
	if token, ok := b.opts.Profile.Token(v); ok {
		v = token.Address
	}
	a, err := address.Parse(v)
	if err != nil {
		return address.Zero, clierr.Wrap(clierr.CodeInvalidAddress, field, err)
	}
	return a, nil
}

func (b *builder) amount(raw, field string) (*big.Int, error) {
	return b.amountFor(raw, field, nil)
}

// amountFor parses an amount. MAX resolves to ceiling and is rejected when
// ceiling is nil.
func (b *builder) amountFor(raw, field string, ceiling *big.Int) (*big.Int, error) {
	v := strings.TrimSpace(raw)
	switch strings.ToUpper(v) {
	case "":
		return nil, clierr.Newf(clierr.CodeUsage, "%s: amount is required", field)
	case "CONTRACT_BALANCE":
		return new(big.Int).Set(router.ContractBalance), nil
	case "MAX":
		if ceiling == nil {
			return nil, clierr.Newf(clierr.CodeUsage, "%s: MAX is only valid for permit amounts", field)
		}
		return new(big.Int).Set(ceiling), nil
	}
	if number, symbol, ok := strings.Cut(v, " "); ok {
		decimals, err := b.decimals(strings.TrimSpace(symbol), field)
		if err != nil {
			return nil, err
		}
		n, err := units.ToBaseUnits(number, decimals)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, field, err)
		}
		return n, nil
	}
	n, err := units.ParseBaseUnits(v)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, field, err)
	}
	return n, nil
}

func (b *builder) decimals(symbol, field string) (int, error) {
	profile := b.opts.Profile
	if strings.EqualFold(symbol, profile.NativeSymbol) {
		return profile.NativeDecimals, nil
	}
	if token, ok := profile.Token(symbol); ok {
		return token.Decimals, nil
	}
	return 0, clierr.Newf(clierr.CodeUsage, "%s: unknown token symbol %q on network %s", field, symbol, profile.Name)
}

func parseVenue(raw, field string) (router.Venue, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "uniswap":
		return router.VenueUniswap, nil
	case "sushi", "sushiswap":
		return router.VenueSushi, nil
	case "pancake", "cake", "pancakeswap":
		return router.VenuePancake, nil
	default:
		return router.VenueUniswap, clierr.Newf(clierr.CodeUsage, "%s.venue: unsupported venue %q", field, raw)
	}
}

package execution

import (
	"context"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

// SubmissionState tracks a transaction through
// built -> fee_checked -> {broadcast | aborted | dry_run_skipped}.
type SubmissionState string

const (
	StateBuilt         SubmissionState = "built"
	StateFeeChecked    SubmissionState = "fee_checked"
	StateBroadcast     SubmissionState = "broadcast"
	StateConfirmed     SubmissionState = "confirmed"
	StateAborted       SubmissionState = "aborted"
	StateDryRunSkipped SubmissionState = "dry_run_skipped"
	StateFailed        SubmissionState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SubmissionState) Terminal() bool {
	switch s {
	case StateConfirmed, StateAborted, StateDryRunSkipped, StateFailed:
		return true
	default:
		return false
	}
}

// CallRequest describes one contract call. Data holds the 4-byte selector
// followed by the ABI-encoded parameters.
type CallRequest struct {
	From   address.Address
	To     address.Address
	Method string
	Data   []byte
	Value  *big.Int
}

// Selector returns the hex selector used in error and log context.
func (r CallRequest) Selector() string {
	if len(r.Data) < 4 {
		return "0x"
	}
	return "0x" + hex.EncodeToString(r.Data[:4])
}

// Params returns the ABI-encoded arguments without the selector.
func (r CallRequest) Params() []byte {
	if len(r.Data) < 4 {
		return nil
	}
	return r.Data[4:]
}

// CallValue never returns nil.
func (r CallRequest) CallValue() *big.Int {
	if r.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Value)
}

// FeeQuote is recomputed per attempt and never cached.
type FeeQuote struct {
	ResourceUnits uint64   `json:"resource_units"`
	UnitPrice     *big.Int `json:"unit_price"`
	NativeFee     *big.Int `json:"native_fee"`
	Balance       *big.Int `json:"balance"`
}

// UnsignedTx is a chain-specific transaction waiting for a signature over
// SigningHash. Signatures are 65 bytes r || s || v with v in {27, 28}.
type UnsignedTx interface {
	SigningHash() []byte
	WithSignature(sig []byte) (SignedTx, error)
}

// SignedTx is ready to broadcast.
type SignedTx interface {
	ID() string
	Encoded() string
}

// Receipt is the minimal confirmation view shared by both families.
type Receipt struct {
	TxID        string `json:"tx_id"`
	Success     bool   `json:"success"`
	BlockNumber uint64 `json:"block_number"`
	FeePaid     string `json:"fee_paid,omitempty"`
}

// Chain hides the account and fee model of one network family. Every method
// is a single blocking request; implementations never retry.
type Chain interface {
	Family() registry.Family
	CallContract(ctx context.Context, req CallRequest) ([]byte, error)
	EstimateResources(ctx context.Context, req CallRequest) (uint64, error)
	UnitPrice(ctx context.Context) (*big.Int, error)
	Balance(ctx context.Context, account address.Address) (*big.Int, error)
	BuildTransaction(ctx context.Context, req CallRequest, quote FeeQuote, feeCap *big.Int) (UnsignedTx, error)
	Broadcast(ctx context.Context, tx SignedTx) (string, error)
	Receipt(ctx context.Context, txID string) (*Receipt, bool, error)
}

// Submission is the persisted record of one submit attempt.
type Submission struct {
	SubmissionID string          `json:"submission_id"`
	Network      string          `json:"network"`
	Family       registry.Family `json:"family"`
	State        SubmissionState `json:"state"`
	DryRun       bool            `json:"dry_run"`
	From         string          `json:"from"`
	Target       string          `json:"target"`
	Method       string          `json:"method,omitempty"`
	Selector     string          `json:"selector"`
	Data         string          `json:"data"`
	Value        string          `json:"value"`
	Quote        *QuoteView      `json:"quote,omitempty"`
	FeeCap       string          `json:"fee_cap,omitempty"`
	Multiplier   float64         `json:"safety_multiplier"`
	TxID         string          `json:"tx_id,omitempty"`
	Receipt      *Receipt        `json:"receipt,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// QuoteView is the decimal-string rendering of a FeeQuote.
type QuoteView struct {
	ResourceUnits uint64 `json:"resource_units"`
	UnitPrice     string `json:"unit_price"`
	NativeFee     string `json:"native_fee"`
	Balance       string `json:"balance"`
}

func newQuoteView(q FeeQuote) *QuoteView {
	return &QuoteView{
		ResourceUnits: q.ResourceUnits,
		UnitPrice:     bigString(q.UnitPrice),
		NativeFee:     bigString(q.NativeFee),
		Balance:       bigString(q.Balance),
	}
}

func NewSubmission(id, network string, family registry.Family, req CallRequest, dryRun bool) Submission {
	now := time.Now().UTC().Format(time.RFC3339)
	return Submission{
		SubmissionID: id,
		Network:      network,
		Family:       family,
		State:        StateBuilt,
		DryRun:       dryRun,
		From:         req.From.Hex(),
		Target:       req.To.Hex(),
		Method:       req.Method,
		Selector:     req.Selector(),
		Data:         "0x" + hex.EncodeToString(req.Data),
		Value:        req.CallValue().String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Submission) Touch() {
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

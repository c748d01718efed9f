package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Network   string    `json:"network,omitempty"`
	DryRun    *bool     `json:"dry_run,omitempty"`
}

// AddressView shows every serialization of one 20-byte address.
type AddressView struct {
	Hex     string `json:"hex"`
	Base58  string `json:"base58"`
	NodeHex string `json:"node_hex"`
}

type PathView struct {
	Tokens []string `json:"tokens"`
	Fees   []int32  `json:"fees"`
	Path   string   `json:"path"`
}

type PermitView struct {
	Owner       string `json:"owner"`
	Registry    string `json:"registry"`
	ChainID     string `json:"chain_id"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Expiration  uint64 `json:"expiration"`
	Nonce       uint64 `json:"nonce"`
	Spender     string `json:"spender"`
	SigDeadline string `json:"sig_deadline"`
	Digest      string `json:"digest"`
	Signature   string `json:"signature"`
	Backend     string `json:"backend,omitempty"`
	Recovered   string `json:"recovered,omitempty"`
	Valid       *bool  `json:"valid,omitempty"`
	NonceFresh  *bool  `json:"nonce_fresh,omitempty"`
}

type PlanView struct {
	Network  string   `json:"network"`
	Protocol string   `json:"protocol"`
	From     string   `json:"from,omitempty"`
	Commands string   `json:"commands"`
	Inputs   []string `json:"inputs"`
	Deadline string   `json:"deadline,omitempty"`
	Value    string   `json:"value"`
	Calldata string   `json:"calldata"`
	Decoded  any      `json:"decoded,omitempty"`
	Permits  any      `json:"permits,omitempty"`
}

type EstimateView struct {
	Network       string  `json:"network"`
	Target        string  `json:"target"`
	Selector      string  `json:"selector"`
	ResourceUnits uint64  `json:"resource_units"`
	UnitPrice     string  `json:"unit_price"`
	NativeFee     string  `json:"native_fee"`
	FeeCap        string  `json:"fee_cap"`
	CallValue     string  `json:"call_value"`
	Balance       string  `json:"balance"`
	Multiplier    float64 `json:"safety_multiplier"`
	Sufficient    bool    `json:"sufficient"`
	NativeSymbol  string  `json:"native_symbol"`
	FeeCapDecimal string  `json:"fee_cap_decimal"`
}

type ApprovalView struct {
	Token      string `json:"token"`
	Owner      string `json:"owner"`
	Spender    string `json:"spender"`
	Current    string `json:"current_allowance"`
	Amount     string `json:"amount"`
	Needed     bool   `json:"needed"`
	Submission any    `json:"submission,omitempty"`
}

// Package tron adapts the TronGrid HTTP API to execution.Chain: energy is
// the resource unit, priced in sun, and the fee cap becomes the
// transaction's fee_limit.
package tron

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/httpx"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

type Config struct {
	BaseURL        string
	APIKey         string
	EnergyPriceSun int64
}

type Chain struct {
	cfg    Config
	http   *httpx.Client
	logger *zap.Logger
}

func New(cfg Config, client *httpx.Client, logger *zap.Logger) *Chain {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.EnergyPriceSun <= 0 {
		cfg.EnergyPriceSun = registry.DefaultEnergyPriceSun
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{cfg: cfg, http: client, logger: logger}
}

func (c *Chain) Family() registry.Family { return registry.FamilyTron }

type apiResult struct {
	Result  bool   `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type transactionRet struct {
	Ret string `json:"ret"`
}

// Transaction is the node's JSON form. RawData is kept verbatim so the
// broadcast body matches what the node built.
type Transaction struct {
	TxID       string           `json:"txID"`
	RawData    json.RawMessage  `json:"raw_data"`
	RawDataHex string           `json:"raw_data_hex"`
	Signature  []string         `json:"signature,omitempty"`
	Ret        []transactionRet `json:"ret,omitempty"`
	Visible    bool             `json:"visible"`
}

type triggerResponse struct {
	Result         apiResult    `json:"result"`
	EnergyUsed     uint64       `json:"energy_used"`
	ConstantResult []string     `json:"constant_result"`
	Transaction    *Transaction `json:"transaction"`
}

func (c *Chain) post(ctx context.Context, path string, body, out any) error {
	headers := map[string]string{registry.TronAPIKeyHeader: c.cfg.APIKey}
	if err := c.http.PostJSON(ctx, c.cfg.BaseURL+path, body, headers, out); err != nil {
		c.logger.Debug("trongrid request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

func triggerBody(req execution.CallRequest) map[string]any {
	body := map[string]any{
		"owner_address":    req.From.NativeHex(),
		"contract_address": req.To.NativeHex(),
		"call_value":       req.CallValue().Int64(),
		"visible":          false,
	}
	if req.Method != "" {
		body["function_selector"] = req.Method
		body["parameter"] = hex.EncodeToString(req.Params())
	} else {
		body["data"] = hex.EncodeToString(req.Data)
	}
	return body
}

func (c *Chain) triggerConstant(ctx context.Context, req execution.CallRequest) (triggerResponse, error) {
	var resp triggerResponse
	if err := c.post(ctx, registry.TronTriggerConstantPath, triggerBody(req), &resp); err != nil {
		return triggerResponse{}, err
	}
	if !resp.Result.Result {
		return triggerResponse{}, fmt.Errorf("node rejected call: %s", nodeMessage(resp.Result))
	}
	if resp.Transaction != nil && len(resp.Transaction.Ret) > 0 && resp.Transaction.Ret[0].Ret == "REVERT" {
		reason := ""
		if len(resp.ConstantResult) > 0 {
			reason = revertReason(resp.ConstantResult[0])
		}
		return triggerResponse{}, fmt.Errorf("call reverted: %s", reason)
	}
	return resp, nil
}

func (c *Chain) CallContract(ctx context.Context, req execution.CallRequest) ([]byte, error) {
	resp, err := c.triggerConstant(ctx, req)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "triggerconstantcontract", err)
	}
	if len(resp.ConstantResult) == 0 {
		return nil, nil
	}
	out, err := hex.DecodeString(resp.ConstantResult[0])
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode constant_result", err)
	}
	return out, nil
}

func (c *Chain) EstimateResources(ctx context.Context, req execution.CallRequest) (uint64, error) {
	resp, err := c.triggerConstant(ctx, req)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeEstimationFailed, "simulate call", err)
	}
	return resp.EnergyUsed, nil
}

// UnitPrice is the configured sun per energy.
func (c *Chain) UnitPrice(context.Context) (*big.Int, error) {
	return big.NewInt(c.cfg.EnergyPriceSun), nil
}

func (c *Chain) Balance(ctx context.Context, account address.Address) (*big.Int, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	body := map[string]any{"address": account.NativeHex(), "visible": false}
	if err := c.post(ctx, registry.TronGetAccountPath, body, &resp); err != nil {
		return nil, err
	}
	// Unactivated accounts come back as {} and hold nothing.
	return big.NewInt(resp.Balance), nil
}

// BuildTransaction asks the node to build the call with feeCap as
// fee_limit, then checks the returned raw_data against req.
func (c *Chain) BuildTransaction(ctx context.Context, req execution.CallRequest, _ execution.FeeQuote, feeCap *big.Int) (execution.UnsignedTx, error) {
	if !feeCap.IsInt64() {
		return nil, clierr.Newf(clierr.CodeUsage, "fee limit %s overflows int64", feeCap)
	}
	body := triggerBody(req)
	body["fee_limit"] = feeCap.Int64()
	var resp triggerResponse
	if err := c.post(ctx, registry.TronTriggerSmartPath, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Result.Result || resp.Transaction == nil {
		return nil, fmt.Errorf("node refused to build transaction: %s", nodeMessage(resp.Result))
	}
	tx, err := verifyTransaction(*resp.Transaction, req, feeCap.Int64())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "node returned an unexpected transaction", err)
	}
	return tx, nil
}

// verifyTransaction recomputes the txID and compares every field we asked
// for with what the node serialized.
func verifyTransaction(tx Transaction, req execution.CallRequest, feeLimit int64) (*UnsignedTx, error) {
	raw, err := hex.DecodeString(tx.RawDataHex)
	if err != nil {
		return nil, fmt.Errorf("raw_data_hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), tx.TxID) {
		return nil, fmt.Errorf("txID %s does not hash raw_data", tx.TxID)
	}
	data, err := DecodeRawData(raw)
	if err != nil {
		return nil, err
	}
	if len(data.Contracts) != 1 || data.Contracts[0].Type != TriggerSmartContractType {
		return nil, fmt.Errorf("expected one TriggerSmartContract")
	}
	contract := data.Contracts[0]
	switch {
	case !bytes.Equal(contract.Owner, nodeAddress(req.From)):
		return nil, fmt.Errorf("owner %x does not match %s", contract.Owner, req.From.NativeHex())
	case !bytes.Equal(contract.Target, nodeAddress(req.To)):
		return nil, fmt.Errorf("contract %x does not match %s", contract.Target, req.To.NativeHex())
	case contract.CallValue != req.CallValue().Int64():
		return nil, fmt.Errorf("call value %d does not match %s", contract.CallValue, req.CallValue())
	case !bytes.Equal(contract.Data, req.Data):
		return nil, fmt.Errorf("call data does not match request")
	case data.FeeLimit != feeLimit:
		return nil, fmt.Errorf("fee limit %d does not match %d", data.FeeLimit, feeLimit)
	}
	return &UnsignedTx{tx: tx, hash: sum[:], owner: req.From}, nil
}

func nodeAddress(a address.Address) []byte {
	return append([]byte{address.NativeVersion}, a[:]...)
}

func (c *Chain) Broadcast(ctx context.Context, signed execution.SignedTx) (string, error) {
	tx, ok := signed.(*SignedTx)
	if !ok {
		return "", clierr.Newf(clierr.CodeInternal, "unexpected transaction type %T", signed)
	}
	var resp struct {
		Result  bool   `json:"result"`
		TxID    string `json:"txid"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, registry.TronBroadcastPath, tx.tx, &resp); err != nil {
		return "", err
	}
	if !resp.Result {
		return "", clierr.Newf(clierr.CodeSubmissionFailed, "broadcast rejected: %s %s", resp.Code, decodeMessage(resp.Message))
	}
	if resp.TxID == "" {
		resp.TxID = tx.ID()
	}
	return resp.TxID, nil
}

func (c *Chain) Receipt(ctx context.Context, txID string) (*execution.Receipt, bool, error) {
	var resp struct {
		ID          string `json:"id"`
		Fee         int64  `json:"fee"`
		BlockNumber uint64 `json:"blockNumber"`
		Result      string `json:"result"`
		ResMessage  string `json:"resMessage"`
		Receipt     struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	if err := c.post(ctx, registry.TronTxInfoPath, map[string]string{"value": txID}, &resp); err != nil {
		return nil, false, err
	}
	if resp.ID == "" {
		return nil, false, nil
	}
	success := resp.Result != "FAILED" && (resp.Receipt.Result == "" || resp.Receipt.Result == "SUCCESS")
	if !success {
		c.logger.Debug("transaction failed", zap.String("tx_id", txID), zap.String("result", resp.Receipt.Result), zap.String("message", decodeMessage(resp.ResMessage)))
	}
	return &execution.Receipt{
		TxID:        txID,
		Success:     success,
		BlockNumber: resp.BlockNumber,
		FeePaid:     big.NewInt(resp.Fee).String(),
	}, true, nil
}

// UnsignedTx signs over the txID, which is sha256(raw_data).
type UnsignedTx struct {
	tx    Transaction
	hash  []byte
	owner address.Address
}

func (u *UnsignedTx) SigningHash() []byte { return append([]byte(nil), u.hash...) }

// WithSignature accepts r || s || v with v in {27, 28} and refuses
// signatures that do not recover to the owner.
func (u *UnsignedTx) WithSignature(sig []byte) (execution.SignedTx, error) {
	signer, err := RecoverSigner(u.hash, sig)
	if err != nil {
		return nil, err
	}
	if signer != u.owner {
		return nil, fmt.Errorf("signature recovers to %s, expected %s", signer.Native(), u.owner.Native())
	}
	tx := u.tx
	tx.Signature = []string{hex.EncodeToString(sig)}
	return &SignedTx{tx: tx}, nil
}

// RecoverSigner returns the account that produced sig over txHash.
func RecoverSigner(txHash, sig []byte) (address.Address, error) {
	if len(sig) != 65 {
		return address.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	raw := append([]byte(nil), sig...)
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	pub, err := crypto.SigToPub(txHash, raw)
	if err != nil {
		return address.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return address.FromCommon(crypto.PubkeyToAddress(*pub)), nil
}

type SignedTx struct {
	tx Transaction
}

func (s *SignedTx) ID() string { return s.tx.TxID }

func (s *SignedTx) Encoded() string {
	raw, err := json.Marshal(s.tx)
	if err != nil {
		return ""
	}
	return string(raw)
}

func nodeMessage(r apiResult) string {
	msg := decodeMessage(r.Message)
	if r.Code != "" {
		return strings.TrimSpace(r.Code + " " + msg)
	}
	return msg
}

// decodeMessage undoes the node's habit of hex-encoding error text.
func decodeMessage(msg string) string {
	if b, err := hex.DecodeString(msg); err == nil && utf8.Valid(b) {
		return string(b)
	}
	return msg
}

func revertReason(result string) string {
	data, err := hex.DecodeString(result)
	if err != nil || len(data) < 4 {
		return result
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return fmt.Sprintf("custom error 0x%x", data[:4])
}

package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/httpx"
)

type recordedTx struct {
	TxID        string `json:"txID"`
	RawDataHex  string `json:"raw_data_hex"`
	Signature   string `json:"signature"`
	Owner       string `json:"owner"`
	Contract    string `json:"contract"`
	FeeLimit    int64  `json:"fee_limit"`
	EnergyUsed  uint64 `json:"energy_used"`
	SunRequired int64  `json:"sun_required"`
	Balance     int64  `json:"balance"`
}

func loadRecordedTx(t *testing.T) recordedTx {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "swap_v2_v3_to_native_tx.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var rec recordedTx
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return rec
}

// recordedCalldata is the execute call the recorded swap carried.
func recordedCalldata(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "router", "testdata", "swap_v2_v3_to_native.json"))
	if err != nil {
		t.Fatalf("read router fixture: %v", err)
	}
	var plan struct {
		Calldata string `json:"calldata"`
	}
	if err := json.Unmarshal(raw, &plan); err != nil {
		t.Fatalf("decode router fixture: %v", err)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(plan.Calldata, "0x"))
	if err != nil {
		t.Fatalf("decode calldata: %v", err)
	}
	return data
}

func recordedRequest(t *testing.T, rec recordedTx) execution.CallRequest {
	t.Helper()
	from, err := address.FromNativeHex(rec.Owner)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	to, err := address.FromNativeHex(rec.Contract)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	return execution.CallRequest{From: from, To: to, Data: recordedCalldata(t)}
}

func recordedTransaction(rec recordedTx) Transaction {
	return Transaction{
		TxID:       rec.TxID,
		RawData:    json.RawMessage(`{"fee_limit":219883230}`),
		RawDataHex: rec.RawDataHex,
	}
}

func TestDecodeRecordedRawData(t *testing.T) {
	rec := loadRecordedTx(t)
	raw, err := hex.DecodeString(rec.RawDataHex)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != rec.TxID {
		t.Fatalf("txID is not sha256(raw_data)")
	}
	data, err := DecodeRawData(raw)
	if err != nil {
		t.Fatalf("DecodeRawData failed: %v", err)
	}
	if data.FeeLimit != rec.FeeLimit {
		t.Fatalf("expected fee limit %d, got %d", rec.FeeLimit, data.FeeLimit)
	}
	if data.Expiration == 0 || data.Timestamp == 0 || len(data.RefBlockBytes) != 2 || len(data.RefBlockHash) != 8 {
		t.Fatalf("unexpected block reference fields %+v", data)
	}
	if len(data.Contracts) != 1 {
		t.Fatalf("expected one contract, got %d", len(data.Contracts))
	}
	c := data.Contracts[0]
	if c.Type != TriggerSmartContractType || c.TypeURL != "type.googleapis.com/protocol.TriggerSmartContract" {
		t.Fatalf("unexpected contract type %d %s", c.Type, c.TypeURL)
	}
	if hex.EncodeToString(c.Owner) != rec.Owner || hex.EncodeToString(c.Target) != rec.Contract {
		t.Fatalf("unexpected parties %x -> %x", c.Owner, c.Target)
	}
	if c.CallValue != 0 {
		t.Fatalf("expected no call value, got %d", c.CallValue)
	}
	if hex.EncodeToString(c.Data) != hex.EncodeToString(recordedCalldata(t)) {
		t.Fatalf("raw data does not carry the recorded execute call")
	}
}

func TestRecordedSignatureRecoversOwner(t *testing.T) {
	rec := loadRecordedTx(t)
	req := recordedRequest(t, rec)
	tx, err := verifyTransaction(recordedTransaction(rec), req, rec.FeeLimit)
	if err != nil {
		t.Fatalf("verifyTransaction failed: %v", err)
	}
	if hex.EncodeToString(tx.SigningHash()) != rec.TxID {
		t.Fatalf("signing hash must be the txID")
	}
	sig, _ := hex.DecodeString(rec.Signature)
	signed, err := tx.WithSignature(sig)
	if err != nil {
		t.Fatalf("WithSignature failed: %v", err)
	}
	if signed.ID() != rec.TxID {
		t.Fatalf("unexpected signed id %s", signed.ID())
	}
	if !strings.Contains(signed.Encoded(), rec.Signature) {
		t.Fatalf("encoded transaction lacks signature: %s", signed.Encoded())
	}

	tampered := append([]byte(nil), sig...)
	tampered[10] ^= 0x01
	if _, err := tx.WithSignature(tampered); err == nil {
		t.Fatal("expected tampered signature to be rejected")
	}
}

func TestVerifyTransactionRejectsMismatch(t *testing.T) {
	rec := loadRecordedTx(t)
	req := recordedRequest(t, rec)

	if _, err := verifyTransaction(recordedTransaction(rec), req, rec.FeeLimit+1); err == nil {
		t.Fatal("expected fee limit mismatch")
	}
	other := req
	other.From = address.MustParse("0x00000000000000000000000000000000000000aa")
	if _, err := verifyTransaction(recordedTransaction(rec), other, rec.FeeLimit); err == nil {
		t.Fatal("expected owner mismatch")
	}
	valued := req
	valued.Value = big.NewInt(1)
	if _, err := verifyTransaction(recordedTransaction(rec), valued, rec.FeeLimit); err == nil {
		t.Fatal("expected call value mismatch")
	}
	badID := recordedTransaction(rec)
	badID.TxID = strings.Repeat("0", 64)
	if _, err := verifyTransaction(badID, req, rec.FeeLimit); err == nil {
		t.Fatal("expected txID mismatch")
	}
}

type tronGridStub struct {
	mu         sync.Mutex
	rec        recordedTx
	calls      map[string]int
	bodies     map[string]map[string]any
	revert     bool
	balance    int64
	apiKeySeen string
}

func (s *tronGridStub) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func newTronGrid(t *testing.T, stub *tronGridStub) *httptest.Server {
	t.Helper()
	stub.calls = map[string]int{}
	stub.bodies = map[string]map[string]any{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		stub.mu.Lock()
		stub.calls[r.URL.Path]++
		stub.bodies[r.URL.Path] = body
		stub.apiKeySeen = r.Header.Get("TRON-PRO-API-KEY")
		stub.mu.Unlock()

		var resp any
		switch r.URL.Path {
		case "/wallet/triggerconstantcontract":
			if stub.revert {
				resp = map[string]any{
					"result":          map[string]any{"result": true},
					"energy_used":     1200,
					"constant_result": []string{"08c379a0" + strings.Repeat("0", 62) + "20" + strings.Repeat("0", 63) + "2" + "4b31000000000000000000000000000000000000000000000000000000000000"},
					"transaction":     map[string]any{"ret": []map[string]string{{"ret": "REVERT"}}},
				}
			} else {
				resp = map[string]any{
					"result":          map[string]any{"result": true},
					"energy_used":     stub.rec.EnergyUsed,
					"constant_result": []string{""},
				}
			}
		case "/wallet/getaccount":
			resp = map[string]any{"balance": stub.balance}
		case "/wallet/triggersmartcontract":
			resp = map[string]any{
				"result": map[string]any{"result": true},
				"transaction": map[string]any{
					"txID":         stub.rec.TxID,
					"raw_data":     map[string]any{"fee_limit": stub.rec.FeeLimit},
					"raw_data_hex": stub.rec.RawDataHex,
					"visible":      false,
				},
			}
		case "/wallet/broadcasttransaction":
			resp = map[string]any{"result": true, "txid": body["txID"]}
		case "/wallet/gettransactioninfobyid":
			resp = map[string]any{
				"id":          body["value"],
				"fee":         146588820,
				"blockNumber": 61234567,
				"receipt":     map[string]any{"result": "SUCCESS"},
			}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

type recordedSigner struct {
	owner address.Address
	sig   []byte
	calls int
}

func (s *recordedSigner) Address() address.Address { return s.owner }

func (s *recordedSigner) SignHash([]byte) ([]byte, error) {
	s.calls++
	return append([]byte(nil), s.sig...), nil
}

func newStubChain(t *testing.T, stub *tronGridStub) *Chain {
	t.Helper()
	srv := newTronGrid(t, stub)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", APIKey: "project-key"}, httpx.New(5*time.Second), nil)
}

func TestSubmitReproducesRecordedSwap(t *testing.T) {
	rec := loadRecordedTx(t)
	stub := &tronGridStub{rec: rec, balance: rec.Balance}
	chain := newStubChain(t, stub)
	req := recordedRequest(t, rec)
	sig, _ := hex.DecodeString(rec.Signature)
	signer := &recordedSigner{owner: req.From, sig: sig}

	quote, err := execution.Estimate(context.Background(), chain, req)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if quote.ResourceUnits != rec.EnergyUsed || quote.NativeFee.Int64() != rec.SunRequired || quote.Balance.Int64() != rec.Balance {
		t.Fatalf("quote does not match recording: %+v", quote)
	}

	opts := execution.DefaultSubmitOptions()
	opts.DryRun = false
	opts.Wait = true
	opts.PollInterval = time.Millisecond
	sub, err := execution.Submit(context.Background(), chain, signer, req, opts)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if sub.TxID != rec.TxID || sub.State != execution.StateConfirmed {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if sub.FeeCap != "219883230" {
		t.Fatalf("unexpected fee cap %s", sub.FeeCap)
	}
	if got := stub.bodies["/wallet/triggersmartcontract"]["fee_limit"]; got != float64(rec.FeeLimit) {
		t.Fatalf("expected fee_limit %d in build request, got %v", rec.FeeLimit, got)
	}
	if got := stub.bodies["/wallet/triggersmartcontract"]["owner_address"]; got != rec.Owner {
		t.Fatalf("expected node hex owner, got %v", got)
	}
	broadcast := stub.bodies["/wallet/broadcasttransaction"]
	sigs, _ := broadcast["signature"].([]any)
	if len(sigs) != 1 || sigs[0] != rec.Signature {
		t.Fatalf("unexpected broadcast signatures %v", broadcast["signature"])
	}
	if stub.apiKeySeen != "project-key" {
		t.Fatalf("expected api key header, got %q", stub.apiKeySeen)
	}
	if signer.calls != 1 || stub.count("/wallet/broadcasttransaction") != 1 {
		t.Fatalf("expected one sign and one broadcast")
	}
}

func TestSubmitAbortsWithoutBuildingWhenUnderfunded(t *testing.T) {
	rec := loadRecordedTx(t)
	stub := &tronGridStub{rec: rec, balance: rec.FeeLimit - 1}
	chain := newStubChain(t, stub)
	req := recordedRequest(t, rec)
	signer := &recordedSigner{owner: req.From}
	opts := execution.DefaultSubmitOptions()
	opts.DryRun = false

	sub, err := execution.Submit(context.Background(), chain, signer, req, opts)
	if !clierr.Is(err, clierr.CodeInsufficientBalance) || sub.State != execution.StateAborted {
		t.Fatalf("expected aborted insufficient_balance, got %s %v", sub.State, err)
	}
	if signer.calls != 0 || stub.count("/wallet/triggersmartcontract") != 0 || stub.count("/wallet/broadcasttransaction") != 0 {
		t.Fatalf("nothing may be built, signed or broadcast")
	}
}

func TestRevertedSimulationIsEstimationFailure(t *testing.T) {
	rec := loadRecordedTx(t)
	stub := &tronGridStub{rec: rec, balance: rec.Balance, revert: true}
	chain := newStubChain(t, stub)
	req := recordedRequest(t, rec)

	_, err := execution.Estimate(context.Background(), chain, req)
	if !clierr.Is(err, clierr.CodeEstimationFailed) {
		t.Fatalf("expected estimation_failed, got %v", err)
	}
	if !strings.Contains(err.Error(), "K1") {
		t.Fatalf("expected decoded revert reason, got %v", err)
	}

	sub, err := execution.Submit(context.Background(), chain, nil, req, execution.DefaultSubmitOptions())
	if err != nil || sub.State != execution.StateDryRunSkipped {
		t.Fatalf("dry run should report would-not-submit, got %s %v", sub.State, err)
	}
	if stub.count("/wallet/broadcasttransaction") != 0 {
		t.Fatal("dry run must not broadcast")
	}
}

func TestMethodRequestUsesFunctionSelector(t *testing.T) {
	req := execution.CallRequest{
		From:   address.MustParse("0x00000000000000000000000000000000000000aa"),
		To:     address.MustParse("0x00000000000000000000000000000000000000bb"),
		Method: "balanceOf(address)",
		Data:   append([]byte{0x70, 0xa0, 0x82, 0x31}, make([]byte, 32)...),
	}
	body := triggerBody(req)
	if body["function_selector"] != "balanceOf(address)" || body["parameter"] != strings.Repeat("0", 64) {
		t.Fatalf("unexpected trigger body %v", body)
	}
	if _, ok := body["data"]; ok {
		t.Fatalf("data must not be sent alongside function_selector")
	}
}

func TestDecodeMessage(t *testing.T) {
	if got := decodeMessage(hex.EncodeToString([]byte("balance is not sufficient"))); got != "balance is not sufficient" {
		t.Fatalf("unexpected decoded message %q", got)
	}
	if got := decodeMessage("plain text"); got != "plain text" {
		t.Fatalf("unexpected passthrough %q", got)
	}
}

package router

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/permit2"
)

var (
	wtrx     = address.MustParse("0x891cdb91d149f23b1a45d9c5ca78a88d0cb44c18")
	jst      = address.MustParse("0x18fd0626daf3af02389aef3ed87db9c33f638ffa")
	usdt     = address.MustParse("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c")
	protocol = address.MustParse("0xbde814ebd17a0b25c39ee16a8b2ff48d1628e503")
	owner    = address.MustParse("0xf8a312988a0742b4c8de94f023fe15938b7cd117")
)

const recordedPermitSignature = "00231329d0ff26112a55d9a943f4da675cb9dc254402fd9d01c42fe1d2d4e233043f762ed36874a307791c5fae59828e9b5d379b23f2dd7f415d184b40094c111b"

type recordedPlan struct {
	Commands string   `json:"commands"`
	Inputs   []string `json:"inputs"`
	Deadline string   `json:"deadline"`
	Calldata string   `json:"calldata"`
}

func loadRecordedPlan(t *testing.T) recordedPlan {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "swap_v2_v3_to_native.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var rec recordedPlan
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return rec
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		t.Fatalf("decode hex %q: %v", s, err)
	}
	return b
}

func swapToNativePlan(t *testing.T) Plan {
	t.Helper()
	sig := mustHex(t, recordedPermitSignature)
	v3Path, err := EncodePath([]address.Address{usdt, jst, wtrx}, []int32{FeeLow, FeeMedium})
	if err != nil {
		t.Fatalf("encode path: %v", err)
	}
	commands := []Command{
		PermitSingle{
			Permit: permit2.PermitSingle{
				Details: permit2.PermitDetails{
					Token:  wtrx,
					Amount: big.NewInt(1_000_000),
				},
				Spender:     protocol,
				SigDeadline: big.NewInt(DefaultDeadline),
			},
			Signature: sig,
		},
		V2Swap{
			Recipient:   AddressThis,
			Amount:      big.NewInt(1_000_000),
			AmountLimit: big.NewInt(1),
			Path:        []address.Address{wtrx, jst, usdt},
			PayerIsUser: SourceRouter,
		},
		V3Swap{
			Recipient:   AddressThis,
			Amount:      ContractBalance,
			AmountLimit: big.NewInt(1),
			Path:        v3Path,
			PayerIsUser: SourceRouter,
		},
		Unwrap{Recipient: AddressThis, AmountMin: big.NewInt(1)},
		PayPortionOf{Token: address.Zero, Recipient: owner, Bips: big.NewInt(OnePercentBips)},
		SweepToken{Token: address.Zero, Recipient: owner, AmountMin: big.NewInt(1)},
	}
	planner := NewRoutePlanner()
	for i, cmd := range commands {
		if err := planner.Add(cmd); err != nil {
			t.Fatalf("add command %d: %v", i, err)
		}
	}
	plan, err := planner.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return plan
}

func TestSwapPlanMatchesRecordedTransaction(t *testing.T) {
	rec := loadRecordedPlan(t)
	plan := swapToNativePlan(t)

	if got := "0x" + hex.EncodeToString(plan.Commands); got != rec.Commands {
		t.Fatalf("commands mismatch: got %s want %s", got, rec.Commands)
	}
	if len(plan.Inputs) != len(rec.Inputs) {
		t.Fatalf("expected %d inputs, got %d", len(rec.Inputs), len(plan.Inputs))
	}
	for i := range rec.Inputs {
		if got := "0x" + hex.EncodeToString(plan.Inputs[i]); got != rec.Inputs[i] {
			t.Fatalf("input %d mismatch:\n got %s\nwant %s", i, got, rec.Inputs[i])
		}
	}

	deadline, _ := new(big.Int).SetString(rec.Deadline, 10)
	calldata, err := PackExecute(plan, deadline)
	if err != nil {
		t.Fatalf("pack execute: %v", err)
	}
	if got := "0x" + hex.EncodeToString(calldata); got != rec.Calldata {
		t.Fatalf("calldata mismatch:\n got %s\nwant %s", got, rec.Calldata)
	}
}

func TestWrapPlanMatchesRecordedTransaction(t *testing.T) {
	planner := NewRoutePlanner()
	if err := planner.Add(Wrap{Recipient: owner, AmountMin: big.NewInt(10_000_000)}); err != nil {
		t.Fatalf("add wrap: %v", err)
	}
	plan, err := planner.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := hex.EncodeToString(plan.Commands); got != "0b" {
		t.Fatalf("unexpected commands %s", got)
	}
	want := "000000000000000000000000f8a312988a0742b4c8de94f023fe15938b7cd117" +
		"0000000000000000000000000000000000000000000000000000000000989680"
	if got := hex.EncodeToString(plan.Inputs[0]); got != want {
		t.Fatalf("unexpected wrap input:\n got %s\nwant %s", got, want)
	}
}

func TestDecodeExecuteRoundTrip(t *testing.T) {
	rec := loadRecordedPlan(t)
	decoded, err := DecodeExecute(mustHex(t, rec.Calldata))
	if err != nil {
		t.Fatalf("decode execute: %v", err)
	}
	if decoded.Method != "execute(bytes,bytes[],uint256)" {
		t.Fatalf("unexpected method %s", decoded.Method)
	}
	if decoded.Deadline != "6000000000" {
		t.Fatalf("unexpected deadline %s", decoded.Deadline)
	}
	wantNames := []string{"PERMIT2_PERMIT", "V2_SWAP_EXACT_IN", "V3_SWAP_EXACT_IN", "UNWRAP_WETH", "PAY_PORTION", "SWEEP"}
	if len(decoded.Commands) != len(wantNames) {
		t.Fatalf("expected %d commands, got %d", len(wantNames), len(decoded.Commands))
	}
	for i, name := range wantNames {
		if decoded.Commands[i].Command != name {
			t.Fatalf("command %d: expected %s, got %s", i, name, decoded.Commands[i].Command)
		}
	}

	v2 := decoded.Commands[1].Params
	if v2["recipient"] != "ADDRESS_THIS" || v2["amount"] != "1000000" || v2["payerIsUser"] != false {
		t.Fatalf("unexpected V2 params: %#v", v2)
	}
	v3Path, ok := decoded.Commands[2].Params["path"].(map[string]any)
	if !ok {
		t.Fatalf("expected decoded V3 path, got %#v", decoded.Commands[2].Params["path"])
	}
	fees, _ := v3Path["fees"].([]int32)
	if len(fees) != 2 || fees[0] != 500 || fees[1] != 3000 {
		t.Fatalf("unexpected V3 fees %#v", v3Path["fees"])
	}
	if decoded.Commands[4].Params["bips"] != "100" {
		t.Fatalf("unexpected pay portion params %#v", decoded.Commands[4].Params)
	}
	if _, err := json.Marshal(decoded); err != nil {
		t.Fatalf("decoded execute should render as json: %v", err)
	}
}

func TestPackExecuteWithoutDeadline(t *testing.T) {
	plan := Plan{Commands: []byte{byte(UnwrapNative)}, Inputs: [][]byte{mustHex(t, "0x00000000000000000000000000000000000000000000000000000000000000020000000000000000000000000000000000000000000000000000000000000001")}}
	data, err := PackExecute(plan, nil)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	decoded, err := DecodeExecute(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Method != "execute(bytes,bytes[])" || decoded.Deadline != "" {
		t.Fatalf("unexpected overload %+v", decoded)
	}
}

func TestPackExecuteRejectsMismatchedPlan(t *testing.T) {
	_, err := PackExecute(Plan{Commands: []byte{0x0b, 0x0c}, Inputs: [][]byte{{}}}, big.NewInt(DefaultDeadline))
	assertCode(t, err, clierr.CodeInvalidCommand)
}

func TestExecuteCallTargetsProtocol(t *testing.T) {
	plan := swapToNativePlan(t)
	req, err := ExecuteCall(owner, protocol, plan, big.NewInt(DefaultDeadline), nil)
	if err != nil {
		t.Fatalf("execute call: %v", err)
	}
	if req.To != protocol || req.From != owner {
		t.Fatalf("unexpected call endpoints %+v", req)
	}
	if req.Selector() != "0x3593564c" {
		t.Fatalf("unexpected selector %s", req.Selector())
	}
	if req.CallValue().Sign() != 0 {
		t.Fatalf("expected zero call value")
	}
}

func TestDecodeExecuteRejectsForeignCalldata(t *testing.T) {
	_, err := DecodeExecute(mustHex(t, "0xa9059cbb"))
	assertCode(t, err, clierr.CodeUsage)
	_, err = DecodeExecute([]byte{0x01})
	assertCode(t, err, clierr.CodeUsage)
}

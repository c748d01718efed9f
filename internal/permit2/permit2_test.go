package permit2

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

const (
	testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	// Produced by both ethers and TronWeb for the permit in recordedPermit.
	recordedSignature = "7cc55f569ea2b4589bb3fecf12b3496d95c4b7fd70548f9df8465238e2f4810e28f4b85184550b740a1ead88a339b71292649bab9deeb1c1c21ca27b6ece478f1b"
)

type keyBackend struct {
	key   *ecdsa.PrivateKey
	calls int
}

func newKeyBackend(t *testing.T) *keyBackend {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	return &keyBackend{key: key}
}

func (b *keyBackend) SignHash(hash []byte) ([]byte, error) {
	b.calls++
	sig, err := crypto.Sign(hash, b.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (b *keyBackend) address() address.Address {
	return address.FromCommon(crypto.PubkeyToAddress(b.key.PublicKey))
}

func recordedDomain() Domain {
	return NewDomain(big.NewInt(728126428), address.MustParse("0x24882B624B3A72AF211CAEFE3B83DC12165608CD"))
}

func recordedPermit() PermitSingle {
	return PermitSingle{
		Details: PermitDetails{
			Token:      address.MustParse("0xA614F803B6FD780986A42C78EC9C7F77E6DED13C"),
			Amount:     big.NewInt(1000),
			Expiration: 0,
			Nonce:      0,
		},
		Spender:     address.MustParse("0xBDE814EBD17A0B25C39EE16A8B2FF48D1628E503"),
		SigDeadline: big.NewInt(6000000000),
	}
}

func TestSignMatchesRecordedVector(t *testing.T) {
	backend := newKeyBackend(t)
	sig, err := Sign(recordedPermit(), recordedDomain(), backend)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if got := hex.EncodeToString(sig); got != recordedSignature {
		t.Fatalf("signature mismatch\n got %s\nwant %s", got, recordedSignature)
	}
}

type highSBackend struct {
	inner *keyBackend
}

// SignHash returns the valid but malleated twin (n - s, flipped v).
func (b highSBackend) SignHash(hash []byte) ([]byte, error) {
	sig, err := b.inner.SignHash(hash)
	if err != nil {
		return nil, err
	}
	s := new(big.Int).SetBytes(sig[32:64])
	s.Sub(crypto.S256().Params().N, s)
	s.FillBytes(sig[32:64])
	sig[64] ^= 1
	return sig, nil
}

func TestSignRejectsHighS(t *testing.T) {
	_, err := Sign(recordedPermit(), recordedDomain(), highSBackend{inner: newKeyBackend(t)})
	if !clierr.Is(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error for high-s signature, got %v", err)
	}
}

func TestDomainFieldsChangeSignature(t *testing.T) {
	backend := newKeyBackend(t)
	base, err := Sign(recordedPermit(), recordedDomain(), backend)
	if err != nil {
		t.Fatal(err)
	}

	otherChain := recordedDomain()
	otherChain.ChainID = big.NewInt(3448148188)
	otherContract := recordedDomain()
	otherContract.VerifyingContract = address.MustParse("TMw3MtL3WJeVG9nbsXDDrukjTVryQrQu5F")
	otherName := recordedDomain()
	otherName.Name = "Permit3"

	for name, domain := range map[string]Domain{"chain": otherChain, "contract": otherContract, "name": otherName} {
		sig, err := Sign(recordedPermit(), domain, backend)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if hex.EncodeToString(sig) == hex.EncodeToString(base) {
			t.Fatalf("%s: changing the domain did not change the signature", name)
		}
		again, _ := Sign(recordedPermit(), domain, backend)
		if hex.EncodeToString(sig) != hex.EncodeToString(again) {
			t.Fatalf("%s: signature is not deterministic", name)
		}
	}
}

func TestDomainSeparatorMatchesManualEncoding(t *testing.T) {
	domain := recordedDomain()
	typeHash := crypto.Keccak256([]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"))
	encoded := append([]byte{}, typeHash...)
	encoded = append(encoded, crypto.Keccak256([]byte("Permit2"))...)
	encoded = append(encoded, common.LeftPadBytes(domain.ChainID.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(domain.VerifyingContract.Bytes(), 32)...)
	want := crypto.Keccak256(encoded)

	got, err := DomainSeparator(domain)
	if err != nil {
		t.Fatalf("DomainSeparator: %v", err)
	}
	if hex.EncodeToString(got) != hex.EncodeToString(want) {
		t.Fatalf("domain separator mismatch: %x vs %x", got, want)
	}
}

func TestRecoverReturnsSigner(t *testing.T) {
	backend := newKeyBackend(t)
	sig, err := hex.DecodeString(recordedSignature)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := Recover(recordedPermit(), recordedDomain(), sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if signer != backend.address() {
		t.Fatalf("recovered %s, want %s", signer.Hex(), backend.address().Hex())
	}

	tampered := recordedPermit()
	tampered.Details.Amount = big.NewInt(1001)
	other, err := Recover(tampered, recordedDomain(), sig)
	if err != nil {
		t.Fatalf("Recover tampered: %v", err)
	}
	if other == signer {
		t.Fatal("tampered permit must not recover the original signer")
	}
}

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	overAmount := recordedPermit()
	overAmount.Details.Amount = new(big.Int).Lsh(big.NewInt(1), 160)
	overNonce := recordedPermit()
	overNonce.Details.Nonce = MaxUint48 + 1
	overExpiration := recordedPermit()
	overExpiration.Details.Expiration = MaxUint48 + 1
	negative := recordedPermit()
	negative.Details.Amount = big.NewInt(-1)
	missingDeadline := recordedPermit()
	missingDeadline.SigDeadline = nil
	noSpender := recordedPermit()
	noSpender.Spender = address.Zero

	backend := newKeyBackend(t)
	for name, permit := range map[string]PermitSingle{
		"amount":     overAmount,
		"nonce":      overNonce,
		"expiration": overExpiration,
		"negative":   negative,
		"deadline":   missingDeadline,
		"spender":    noSpender,
	} {
		if _, err := Sign(permit, recordedDomain(), backend); !clierr.Is(err, clierr.CodeUsage) {
			t.Fatalf("%s: expected usage error, got %v", name, err)
		}
	}
	if backend.calls != 0 {
		t.Fatalf("backend must not be called for invalid permits, got %d calls", backend.calls)
	}

	maxAmount := recordedPermit()
	maxAmount.Details.Amount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
	maxAmount.Details.Nonce = MaxUint48
	if err := maxAmount.Validate(); err != nil {
		t.Fatalf("max values must validate: %v", err)
	}
}

func TestSignBatchRecovers(t *testing.T) {
	backend := newKeyBackend(t)
	single := recordedPermit()
	batch := PermitBatch{
		Details: []PermitDetails{
			single.Details,
			{Token: address.MustParse("TCFLL5dx5ZJdKnWuesXxi1VPwjLVmWZZy9"), Amount: big.NewInt(5), Nonce: 3},
		},
		Spender:     single.Spender,
		SigDeadline: single.SigDeadline,
	}
	sig, err := SignBatch(batch, recordedDomain(), backend)
	if err != nil {
		t.Fatalf("SignBatch: %v", err)
	}
	hash, err := BatchHash(recordedDomain(), batch)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := RecoverDigest(hash, sig)
	if err != nil || signer != backend.address() {
		t.Fatalf("batch recover mismatch: %s err=%v", signer.Hex(), err)
	}
	if _, err := SignBatch(PermitBatch{Spender: single.Spender, SigDeadline: single.SigDeadline}, recordedDomain(), backend); err == nil {
		t.Fatal("expected empty batch to fail")
	}
}

type stubCaller struct {
	nonce    uint64
	err      error
	requests []execution.CallRequest
}

func (s *stubCaller) CallContract(_ context.Context, req execution.CallRequest) ([]byte, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return permit2ABI.Methods["allowance"].Outputs.Pack(big.NewInt(0), big.NewInt(0), new(big.Int).SetUint64(s.nonce))
}

func TestGetPermitSignatureUsesFreshNonce(t *testing.T) {
	backend := newKeyBackend(t)
	caller := &stubCaller{nonce: 7}
	domain := recordedDomain()
	reg := NewRegistry(domain.VerifyingContract, domain.ChainID, caller)

	permit := recordedPermit()
	permit.Details.Nonce = 2
	updated, sig, err := GetPermitSignature(context.Background(), permit, backend.address(), reg, backend)
	if err != nil {
		t.Fatalf("GetPermitSignature: %v", err)
	}
	if updated.Details.Nonce != 7 {
		t.Fatalf("expected nonce 7, got %d", updated.Details.Nonce)
	}
	want, err := Sign(updated, domain, backend)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(sig) != hex.EncodeToString(want) {
		t.Fatal("signature must be computed over the refreshed nonce")
	}

	if len(caller.requests) != 1 {
		t.Fatalf("expected one allowance read, got %d", len(caller.requests))
	}
	req := caller.requests[0]
	if req.To != domain.VerifyingContract || req.From != backend.address() || req.Method != registry.AllowanceSignature {
		t.Fatalf("unexpected allowance request %+v", req)
	}
	args, err := permit2ABI.Methods["allowance"].Inputs.Unpack(req.Params())
	if err != nil {
		t.Fatal(err)
	}
	if args[1].(common.Address) != permit.Details.Token.Common() || args[2].(common.Address) != permit.Spender.Common() {
		t.Fatalf("allowance queried for wrong token or spender: %v", args)
	}
}

func TestGetPermitSignatureSurfacesReadFailure(t *testing.T) {
	backend := newKeyBackend(t)
	caller := &stubCaller{err: errors.New("connection refused")}
	domain := recordedDomain()
	reg := NewRegistry(domain.VerifyingContract, domain.ChainID, caller)

	_, _, err := GetPermitSignature(context.Background(), recordedPermit(), backend.address(), reg, backend)
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if backend.calls != 0 {
		t.Fatal("signing must not happen before the nonce read succeeds")
	}
}

func TestVerifyNonceReportsStaleNonce(t *testing.T) {
	caller := &stubCaller{nonce: 8}
	domain := recordedDomain()
	reg := NewRegistry(domain.VerifyingContract, domain.ChainID, caller)
	owner := address.MustParse("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	permit := recordedPermit()
	permit.Details.Nonce = 7
	err := VerifyNonce(context.Background(), permit, owner, reg)
	if !clierr.Is(err, clierr.CodeStaleNonce) {
		t.Fatalf("expected stale nonce, got %v", err)
	}
	if clierr.Is(err, clierr.CodeSigner) {
		t.Fatal("stale nonce must not be reported as a signing failure")
	}

	permit.Details.Nonce = 8
	if err := VerifyNonce(context.Background(), permit, owner, reg); err != nil {
		t.Fatalf("expected current nonce to verify, got %v", err)
	}
}

func TestEncodePermitCallRoundTrip(t *testing.T) {
	owner := address.MustParse("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	sig, _ := hex.DecodeString(recordedSignature)
	permit := recordedPermit()

	req, err := PermitCallRequest(owner, recordedDomain().VerifyingContract, permit, sig)
	if err != nil {
		t.Fatalf("PermitCallRequest: %v", err)
	}
	wantSelector := crypto.Keccak256([]byte(registry.PermitSignature))[:4]
	if req.Selector() != "0x"+hex.EncodeToString(wantSelector) {
		t.Fatalf("unexpected selector %s", req.Selector())
	}
	values, err := permit2ABI.Methods["permit"].Inputs.Unpack(req.Params())
	if err != nil {
		t.Fatalf("unpack permit call: %v", err)
	}
	if values[0].(common.Address) != owner.Common() {
		t.Fatalf("unexpected owner %v", values[0])
	}
	back, err := SingleFromABI(values[1])
	if err != nil {
		t.Fatal(err)
	}
	if back.Details.Token != permit.Details.Token || back.Details.Amount.Cmp(permit.Details.Amount) != 0 ||
		back.Spender != permit.Spender || back.SigDeadline.Cmp(permit.SigDeadline) != 0 {
		t.Fatalf("permit did not survive encoding: %+v", back)
	}
	if hex.EncodeToString(values[2].([]byte)) != recordedSignature {
		t.Fatal("signature did not survive encoding")
	}
}

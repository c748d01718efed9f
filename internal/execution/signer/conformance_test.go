package signer_test

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	"github.com/ggonzalez94/tomo-cli/internal/execution/signer"
	"github.com/ggonzalez94/tomo-cli/internal/permit2"
)

// One fixed (key, domain, permit) vector; every backend must reproduce the
// signature that both ethers and TronWeb emitted for it.
const (
	vectorKey       = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	vectorAddress   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	vectorSignature = "7cc55f569ea2b4589bb3fecf12b3496d95c4b7fd70548f9df8465238e2f4810e28f4b85184550b740a1ead88a339b71292649bab9deeb1c1c21ca27b6ece478f1b"
)

func vectorDomain() permit2.Domain {
	return permit2.NewDomain(big.NewInt(728126428), address.MustParse("TDJNTBi51CnnpCYYgi6GitoT4CJWrqim2G"))
}

func vectorPermit() permit2.PermitSingle {
	return permit2.PermitSingle{
		Details: permit2.PermitDetails{
			Token:  address.MustParse("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
			Amount: big.NewInt(1000),
		},
		Spender:     address.MustParse("TTHLjdq1suzroV7AEAvLQYm1UNbTqvnuZY"),
		SigDeadline: big.NewInt(6000000000),
	}
}

func loadBackends(t *testing.T) []signer.Signer {
	t.Helper()
	var out []signer.Signer
	for _, name := range signer.Backends() {
		s, err := signer.New(name, signer.LocalSignerConfig{PrivateKeyHex: vectorKey})
		if err != nil {
			t.Fatalf("load %s backend: %v", name, err)
		}
		if s.Name() != name {
			t.Fatalf("backend %s reports name %s", name, s.Name())
		}
		out = append(out, s)
	}
	if len(out) < 2 {
		t.Fatal("conformance needs at least two backends")
	}
	return out
}

func TestBackendsProduceRecordedPermitSignature(t *testing.T) {
	want := address.MustParse(vectorAddress)
	for _, backend := range loadBackends(t) {
		if backend.Address() != want {
			t.Fatalf("%s: address %s, want %s", backend.Name(), backend.Address().Hex(), want.Hex())
		}
		sig, err := permit2.Sign(vectorPermit(), vectorDomain(), backend)
		if err != nil {
			t.Fatalf("%s: sign: %v", backend.Name(), err)
		}
		if got := hex.EncodeToString(sig); got != vectorSignature {
			t.Fatalf("%s: signature mismatch\n got %s\nwant %s", backend.Name(), got, vectorSignature)
		}
	}
}

func TestBackendsAgreeOnArbitraryDigests(t *testing.T) {
	backends := loadBackends(t)
	for i := 0; i < 32; i++ {
		digest := crypto.Keccak256([]byte{byte(i), byte(i * 7), 0x42})
		var first []byte
		for _, backend := range backends {
			sig, err := backend.SignHash(digest)
			if err != nil {
				t.Fatalf("%s: %v", backend.Name(), err)
			}
			if !signer.IsLowS(sig) {
				t.Fatalf("%s: non-canonical s for digest %d", backend.Name(), i)
			}
			recovered, err := permit2.RecoverDigest(digest, sig)
			if err != nil || recovered != backend.Address() {
				t.Fatalf("%s: recovered %s err=%v", backend.Name(), recovered.Hex(), err)
			}
			if first == nil {
				first = sig
				continue
			}
			if !bytes.Equal(first, sig) {
				t.Fatalf("%s disagrees on digest %d:\n%x\n%x", backend.Name(), i, first, sig)
			}
		}
	}
}

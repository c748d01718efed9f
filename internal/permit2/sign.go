package permit2

import (
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution/signer"
)

// SignatureLength is r || s || v.
const SignatureLength = 65

// Backend signs a 32-byte digest and returns r || s || v with v in {27, 28}.
type Backend interface {
	SignHash(hash []byte) ([]byte, error)
}

// Sign signs a single permit with whichever backend holds the key.
func Sign(permit PermitSingle, domain Domain, backend Backend) ([]byte, error) {
	hash, err := Hash(domain, permit)
	if err != nil {
		return nil, err
	}
	return signDigest(hash, backend)
}

// SignBatch signs a batch permit.
func SignBatch(permit PermitBatch, domain Domain, backend Backend) ([]byte, error) {
	hash, err := BatchHash(domain, permit)
	if err != nil {
		return nil, err
	}
	return signDigest(hash, backend)
}

func signDigest(hash []byte, backend Backend) ([]byte, error) {
	if backend == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signing backend")
	}
	sig, err := backend.SignHash(hash)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign permit digest", err)
	}
	out, err := normalizeSignature(sig)
	if err != nil {
		return nil, err
	}
	if !signer.IsLowS(out) {
		return nil, clierr.New(clierr.CodeSigner, "signing backend returned a non-canonical high-s signature")
	}
	return out, nil
}

func normalizeSignature(sig []byte) ([]byte, error) {
	if len(sig) != SignatureLength {
		return nil, clierr.Newf(clierr.CodeSigner, "signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	out := append([]byte(nil), sig...)
	if out[64] < 27 {
		out[64] += 27
	}
	if out[64] != 27 && out[64] != 28 {
		return nil, clierr.Newf(clierr.CodeSigner, "unexpected recovery id %d", out[64])
	}
	return out, nil
}

// Recover returns the address that produced sig over the permit.
func Recover(permit PermitSingle, domain Domain, sig []byte) (address.Address, error) {
	hash, err := Hash(domain, permit)
	if err != nil {
		return address.Zero, err
	}
	return RecoverDigest(hash, sig)
}

// RecoverDigest recovers the signer of a 32-byte digest.
func RecoverDigest(hash []byte, sig []byte) (address.Address, error) {
	normalized, err := normalizeSignature(sig)
	if err != nil {
		return address.Zero, err
	}
	normalized[64] -= 27
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return address.Zero, clierr.Wrap(clierr.CodeSigner, "recover permit signer", err)
	}
	return address.FromCommon(crypto.PubkeyToAddress(*pub)), nil
}

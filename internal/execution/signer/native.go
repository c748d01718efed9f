package signer

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ggonzalez94/tomo-cli/internal/address"
)

// NativeSigner signs with the pure-Go decred secp256k1 implementation, the
// curve library TRON wallets build on. It must produce the same bytes as
// LocalSigner for the same key and digest.
type NativeSigner struct {
	key     *secp256k1.PrivateKey
	address address.Address
}

func NewNativeSigner(cfg LocalSignerConfig) (*NativeSigner, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	key := secp256k1.PrivKeyFromBytes(crypto.FromECDSA(pk))
	return &NativeSigner{
		key:     key,
		address: address.FromCommon(crypto.PubkeyToAddress(pk.PublicKey)),
	}, nil
}

func (s *NativeSigner) Name() string { return BackendNative }

func (s *NativeSigner) Address() address.Address { return s.address }

func (s *NativeSigner) SignHash(hash []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("native signer is not initialized")
	}
	if err := checkDigest(hash); err != nil {
		return nil, err
	}
	// SignCompact emits [27+recid] || r || s for an uncompressed key.
	compact := ecdsa.SignCompact(s.key, hash, false)
	if len(compact) != 65 {
		return nil, errors.New("native signer returned a malformed signature")
	}
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig, nil
}

package signer

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/ggonzalez94/tomo-cli/internal/address"
)

// Signer holds one secp256k1 key and signs 32-byte digests. Permits and
// transactions of both network families are signed through it. Signatures
// are r || s || v with v in {27, 28}.
type Signer interface {
	Name() string
	Address() address.Address
	SignHash(hash []byte) ([]byte, error)
}

const (
	BackendGeth   = "geth"
	BackendNative = "native"
)

// Backends lists the available signing backends.
func Backends() []string { return []string{BackendGeth, BackendNative} }

// New loads the key described by cfg into the named backend.
func New(backend string, cfg LocalSignerConfig) (Signer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendGeth:
		return NewLocalSigner(cfg)
	case BackendNative:
		return NewNativeSigner(cfg)
	default:
		return nil, fmt.Errorf("unsupported signer backend %q (expected %s)", backend, strings.Join(Backends(), "|"))
	}
}

// secp256k1HalfN is half the curve order; canonical signatures keep s at
// or below it.
var secp256k1HalfN = uint256.MustFromHex("0x7fffffffffffffffffffffffffffffff5d576e7357a4501ddfe92f46681b20a0")

// IsLowS reports whether a 65-byte signature has a canonical s value.
func IsLowS(sig []byte) bool {
	if len(sig) != 65 {
		return false
	}
	s := new(uint256.Int).SetBytes(sig[32:64])
	return !s.IsZero() && !s.Gt(secp256k1HalfN)
}

func checkDigest(hash []byte) error {
	if len(hash) != 32 {
		return fmt.Errorf("digest must be 32 bytes, got %d", len(hash))
	}
	return nil
}

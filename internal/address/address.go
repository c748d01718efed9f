// Package address implements the 20-byte account identifier shared by both
// network families together with its two text forms: 0x-prefixed hex and
// the base58check encoding used by TRON, whose payload carries the 0x41
// version byte in front of the same 20 bytes.
package address

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

const (
	// Length is the size of a canonical address in bytes.
	Length = 20
	// NativeVersion is the version byte prefixed to TRON addresses.
	NativeVersion byte = 0x41
)

// Address is the canonical 20-byte form embedded in ABI payloads.
type Address [Length]byte

// Zero is the all-zero address.
var Zero Address

// FromCommon converts a go-ethereum address.
func FromCommon(a common.Address) Address { return Address(a) }

// FromHex decodes a 0x-prefixed (or bare) 40 character hex string. All
// lower or all upper case digits carry no checksum and are taken as is;
// mixed case must be a valid EIP-55 checksum.
func FromHex(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return Zero, clierr.Newf(clierr.CodeInvalidAddress, "invalid hex address %q", s)
	}
	a := common.HexToAddress(trimmed)
	digits := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if mixedCase(digits) && digits != a.Hex()[2:] {
		return Zero, clierr.Newf(clierr.CodeInvalidAddress, "hex address %q fails its EIP-55 checksum (expected %s)", s, a.Hex())
	}
	return Address(a), nil
}

func mixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}

// ToCanonical decodes a base58check native address. The version byte must
// be present exactly once and the payload must be exactly 20 bytes.
func ToCanonical(native string) (Address, error) {
	trimmed := strings.TrimSpace(native)
	if trimmed == "" {
		return Zero, clierr.New(clierr.CodeInvalidAddress, "empty native address")
	}
	payload, version, err := base58.CheckDecode(trimmed)
	if err != nil {
		return Zero, clierr.Wrap(clierr.CodeInvalidAddress, "decode native address "+trimmed, err)
	}
	if version != NativeVersion {
		return Zero, clierr.Newf(clierr.CodeInvalidAddress, "native address %s has version byte 0x%02x, expected 0x%02x", trimmed, version, NativeVersion)
	}
	if len(payload) != Length {
		return Zero, clierr.Newf(clierr.CodeInvalidAddress, "native address %s decodes to %d bytes, expected %d", trimmed, len(payload), Length)
	}
	var out Address
	copy(out[:], payload)
	return out, nil
}

// ToNative encodes a canonical address as base58check with the version byte.
func ToNative(a Address) string {
	return base58.CheckEncode(a[:], NativeVersion)
}

// FromNativeHex decodes the 41-prefixed hex form used by TRON node APIs.
func FromNativeHex(s string) (Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Zero, clierr.Wrap(clierr.CodeInvalidAddress, "decode node hex address "+s, err)
	}
	if len(raw) != Length+1 || raw[0] != NativeVersion {
		return Zero, clierr.Newf(clierr.CodeInvalidAddress, "node hex address %q must be 0x41 followed by %d bytes", s, Length)
	}
	var out Address
	copy(out[:], raw[1:])
	return out, nil
}

// Parse accepts any of the supported text forms: base58check native,
// 41-prefixed node hex, or 0x hex.
func Parse(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case trimmed == "":
		return Zero, clierr.New(clierr.CodeInvalidAddress, "empty address")
	case strings.HasPrefix(trimmed, "T") && len(trimmed) == 34:
		return ToCanonical(trimmed)
	case len(trimmed) == 2*(Length+1) && strings.HasPrefix(trimmed, "41"):
		return FromNativeHex(trimmed)
	default:
		return FromHex(trimmed)
	}
}

// MustParse is Parse for package-level constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) Hex() string            { return common.Address(a).Hex() }
func (a Address) Native() string         { return ToNative(a) }
func (a Address) NativeHex() string      { return "41" + hex.EncodeToString(a[:]) }
func (a Address) Common() common.Address { return common.Address(a) }
func (a Address) Bytes() []byte          { return append([]byte(nil), a[:]...) }
func (a Address) IsZero() bool           { return a == Zero }
func (a Address) String() string         { return a.Hex() }

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Format renders a for the given network family. TRON callers see the
// base58check form, everything else sees checksummed hex.
func (a Address) Format(native bool) string {
	if native {
		return a.Native()
	}
	return a.Hex()
}

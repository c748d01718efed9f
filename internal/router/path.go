package router

import (
	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

// Common V3 fee tiers in hundredths of a basis point.
const (
	FeeLowest int32 = 100
	FeeLow    int32 = 500
	FeeMedium int32 = 3000
	FeeHigh   int32 = 10000
)

const (
	pathAddressSize = address.Length
	pathFeeSize     = 3
	pathHopSize     = pathAddressSize + pathFeeSize

	minInt24 = -1 << 23
	maxInt24 = 1<<23 - 1
)

// EncodePath packs token || fee || token ... || token. Fees are written as
// 3-byte big-endian two's complement integers.
func EncodePath(tokens []address.Address, fees []int32) ([]byte, error) {
	if len(tokens) != len(fees)+1 {
		return nil, clierr.Newf(clierr.CodePathLength, "path needs one more token than fees, got %d tokens and %d fees", len(tokens), len(fees))
	}
	out := make([]byte, 0, len(tokens)*pathAddressSize+len(fees)*pathFeeSize)
	for i, fee := range fees {
		if fee < minInt24 || fee > maxInt24 {
			return nil, clierr.Newf(clierr.CodeInvalidCommand, "path fee %d at hop %d does not fit int24", fee, i)
		}
		out = append(out, tokens[i][:]...)
		u := uint32(fee)
		out = append(out, byte(u>>16), byte(u>>8), byte(u))
	}
	out = append(out, tokens[len(tokens)-1][:]...)
	return out, nil
}

// EncodePathExactInput is EncodePath in swap order.
func EncodePathExactInput(tokens []address.Address, fees []int32) ([]byte, error) {
	return EncodePath(tokens, fees)
}

// EncodePathExactOutput encodes the route output-first, as exact-output
// swaps walk it backwards.
func EncodePathExactOutput(tokens []address.Address, fees []int32) ([]byte, error) {
	reversedTokens := make([]address.Address, len(tokens))
	for i, token := range tokens {
		reversedTokens[len(tokens)-1-i] = token
	}
	reversedFees := make([]int32, len(fees))
	for i, fee := range fees {
		reversedFees[len(fees)-1-i] = fee
	}
	return EncodePath(reversedTokens, reversedFees)
}

// DecodePath walks 20 bytes for a token then, while bytes remain, 3 bytes
// for a fee. Any length that does not end on a token is rejected.
func DecodePath(path []byte) ([]address.Address, []int32, error) {
	if len(path) < pathAddressSize || (len(path)-pathAddressSize)%pathHopSize != 0 {
		return nil, nil, clierr.Newf(clierr.CodePathLength, "path of %d bytes is not 20 + 23*n", len(path))
	}
	hops := (len(path) - pathAddressSize) / pathHopSize
	tokens := make([]address.Address, 0, hops+1)
	fees := make([]int32, 0, hops)
	offset := 0
	for {
		var token address.Address
		copy(token[:], path[offset:offset+pathAddressSize])
		tokens = append(tokens, token)
		offset += pathAddressSize
		if offset == len(path) {
			break
		}
		raw := int32(path[offset])<<16 | int32(path[offset+1])<<8 | int32(path[offset+2])
		if raw&0x800000 != 0 {
			raw -= 1 << 24
		}
		fees = append(fees, raw)
		offset += pathFeeSize
	}
	return tokens, fees, nil
}

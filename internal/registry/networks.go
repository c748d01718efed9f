package registry

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Family identifies the account and fee model of a network.
type Family string

const (
	FamilyEVM  Family = "evm"
	FamilyTron Family = "tron"
)

// Token is a well-known token alias available to plan files.
type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// Profile is the explicit network configuration handed to the planner,
// permit signer and submitter. It is copied by value; nothing in the
// process keeps a mutable "current network".
//
// EnergyPriceSun is the fixed per-energy price in sun for TRON networks.
// EVM networks read the unit price from the node instead.
type Profile struct {
	Name           string  `json:"name"`
	Family         Family  `json:"family"`
	ChainID        uint64  `json:"chain_id"`
	RPCURL         string  `json:"rpc_url"`
	Permit2        string  `json:"permit2"`
	Protocol       string  `json:"protocol,omitempty"`
	Router         string  `json:"router,omitempty"`
	NativeSymbol   string  `json:"native_symbol"`
	NativeDecimals int     `json:"native_decimals"`
	EnergyPriceSun int64   `json:"energy_price_sun,omitempty"`
	Tokens         []Token `json:"tokens,omitempty"`
}

// DefaultEnergyPriceSun is 0.00021 TRX per unit of energy.
const DefaultEnergyPriceSun int64 = 210

// CanonicalPermit2 is the deterministic permit registry deployment shared by
// EVM networks.
const CanonicalPermit2 = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

var profiles = map[string]Profile{
	"tron": {
		Name:           "tron",
		Family:         FamilyTron,
		ChainID:        728126428,
		RPCURL:         "https://api.trongrid.io",
		Permit2:        "TDJNTBi51CnnpCYYgi6GitoT4CJWrqim2G",
		Protocol:       "TTHLjdq1suzroV7AEAvLQYm1UNbTqvnuZY",
		Router:         "TM9y9N5RoEkHFxAwkbzYu1Sz72DKeLYprS",
		NativeSymbol:   "TRX",
		NativeDecimals: 6,
		EnergyPriceSun: DefaultEnergyPriceSun,
		Tokens: []Token{
			{Symbol: "WTRX", Address: "TNUC9Qb1rRpS5CbWLmNMxXBjyFoydXjWFR", Decimals: 6},
			{Symbol: "USDT", Address: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Decimals: 6},
			{Symbol: "JST", Address: "TCFLL5dx5ZJdKnWuesXxi1VPwjLVmWZZy9", Decimals: 18},
		},
	},
	"nile": {
		Name:           "nile",
		Family:         FamilyTron,
		ChainID:        3448148188,
		RPCURL:         "https://nile.trongrid.io",
		Permit2:        "TMw3MtL3WJeVG9nbsXDDrukjTVryQrQu5F",
		Protocol:       "TGgoD3xzR6kPTdRUbXTwUPdtZ9VmSGt4WU",
		Router:         "TNZndMV9cxz4vxvAmEsoi7JJXaqutoJwRi",
		NativeSymbol:   "TRX",
		NativeDecimals: 6,
		EnergyPriceSun: DefaultEnergyPriceSun,
		Tokens: []Token{
			{Symbol: "WTRX", Address: "TYsbWxNnyTgsZaTFaue9hqpxkU3Fkco94a", Decimals: 6},
			{Symbol: "USDT", Address: "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf", Decimals: 6},
			{Symbol: "JST", Address: "TF17BgPaZYbz8oxbjhriubPDsA7ArKoLX3", Decimals: 18},
		},
	},
	"bsc": {
		Name:           "bsc",
		Family:         FamilyEVM,
		ChainID:        56,
		RPCURL:         "https://bsc-dataseed.binance.org",
		Permit2:        CanonicalPermit2,
		Protocol:       "0x1628d966d33b32f9a97ef7bB773546e363C19b26",
		NativeSymbol:   "BNB",
		NativeDecimals: 18,
		Tokens: []Token{
			{Symbol: "WBNB", Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Decimals: 18},
		},
	},
	"ethereum": {
		Name:           "ethereum",
		Family:         FamilyEVM,
		ChainID:        1,
		RPCURL:         "https://eth.llamarpc.com",
		Permit2:        CanonicalPermit2,
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
	},
	"arbitrum": {
		Name:           "arbitrum",
		Family:         FamilyEVM,
		ChainID:        42161,
		RPCURL:         "https://arb1.arbitrum.io/rpc",
		Permit2:        CanonicalPermit2,
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
	},
	"sepolia": {
		Name:           "sepolia",
		Family:         FamilyEVM,
		ChainID:        11155111,
		RPCURL:         "https://ethereum-sepolia-rpc.publicnode.com",
		Permit2:        CanonicalPermit2,
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
	},
}

var networkAliases = map[string]string{
	"tron-mainnet": "tron",
	"mainnet":      "tron",
	"tron-nile":    "nile",
	"bnb":          "bsc",
	"eth":          "ethereum",
	"arb":          "arbitrum",
}

// Network returns a copy of the named profile.
func Network(name string) (Profile, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := networkAliases[key]; ok {
		key = alias
	}
	profile, ok := profiles[key]
	if !ok {
		return Profile{}, false
	}
	profile.Tokens = append([]Token(nil), profile.Tokens...)
	return profile, true
}

// Networks lists every built-in profile ordered by name.
func Networks() []Profile {
	out := make([]Profile, 0, len(profiles))
	for name := range profiles {
		profile, _ := Network(name)
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Token looks up a token alias (case-insensitive) on the profile.
func (p Profile) Token(symbol string) (Token, bool) {
	for _, token := range p.Tokens {
		if strings.EqualFold(token.Symbol, strings.TrimSpace(symbol)) {
			return token, true
		}
	}
	return Token{}, false
}

// ChainIDBig is ChainID as a big.Int for signing and typed data.
func (p Profile) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(p.ChainID)
}

// ResolveRPCURL prefers a non-empty override over the profile endpoint.
func ResolveRPCURL(override string, profile Profile) (string, error) {
	if strings.TrimSpace(override) != "" {
		endpoint := strings.TrimSpace(override)
		if !IsAllowedRPCURL(endpoint) {
			return "", fmt.Errorf("rpc url %q must use https unless it targets a loopback host", endpoint)
		}
		return endpoint, nil
	}
	if strings.TrimSpace(profile.RPCURL) != "" {
		return profile.RPCURL, nil
	}
	return "", fmt.Errorf("no default rpc configured for network %s; provide --rpc-url", profile.Name)
}

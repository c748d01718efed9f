package permit2

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

// DomainName is the registry's EIP-712 domain name.
const DomainName = "Permit2"

// Domain is the typed-data domain. The registry omits version and salt.
type Domain struct {
	Name              string          `json:"name"`
	ChainID           *big.Int        `json:"chain_id"`
	VerifyingContract address.Address `json:"verifying_contract"`
}

// NewDomain returns the domain for a registry deployment. The same value is
// used whichever chain family or backend signs.
func NewDomain(chainID *big.Int, registry address.Address) Domain {
	return Domain{
		Name:              DomainName,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: registry,
	}
}

var (
	domainFields = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
	detailsFields = []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint160"},
		{Name: "expiration", Type: "uint48"},
		{Name: "nonce", Type: "uint48"},
	}
)

func (d Domain) typedDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		ChainId:           math.NewHexOrDecimal256(d.ChainID.Int64()),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

func detailsMessage(d PermitDetails) map[string]interface{} {
	return map[string]interface{}{
		"token":      d.Token.Hex(),
		"amount":     d.Amount.String(),
		"expiration": strconv.FormatUint(d.Expiration, 10),
		"nonce":      strconv.FormatUint(d.Nonce, 10),
	}
}

// TypedData returns the EIP-712 document for a single permit.
func TypedData(domain Domain, permit PermitSingle) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainFields,
			"PermitDetails": detailsFields,
			"PermitSingle": {
				{Name: "details", Type: "PermitDetails"},
				{Name: "spender", Type: "address"},
				{Name: "sigDeadline", Type: "uint256"},
			},
		},
		PrimaryType: "PermitSingle",
		Domain:      domain.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"details":     detailsMessage(permit.Details),
			"spender":     permit.Spender.Hex(),
			"sigDeadline": permit.SigDeadline.String(),
		},
	}
}

// BatchTypedData returns the EIP-712 document for a batch permit.
func BatchTypedData(domain Domain, permit PermitBatch) apitypes.TypedData {
	details := make([]interface{}, 0, len(permit.Details))
	for _, d := range permit.Details {
		details = append(details, detailsMessage(d))
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainFields,
			"PermitDetails": detailsFields,
			"PermitBatch": {
				{Name: "details", Type: "PermitDetails[]"},
				{Name: "spender", Type: "address"},
				{Name: "sigDeadline", Type: "uint256"},
			},
		},
		PrimaryType: "PermitBatch",
		Domain:      domain.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"details":     details,
			"spender":     permit.Spender.Hex(),
			"sigDeadline": permit.SigDeadline.String(),
		},
	}
}

// DomainSeparator is the hashStruct of the domain alone.
func DomainSeparator(domain Domain) ([]byte, error) {
	td := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": domainFields},
		Domain: domain.typedDomain(),
	}
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "hash permit domain", err)
	}
	return sep, nil
}

// Digest computes keccak256(0x1901 || domainSeparator || hashStruct(message)).
func Digest(td apitypes.TypedData) ([]byte, error) {
	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "hash permit domain", err)
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "hash permit message", err)
	}
	rawData := fmt.Sprintf("\x19\x01%s%s", string(domainSep), string(msgHash))
	return crypto.Keccak256([]byte(rawData)), nil
}

// Hash is the signing digest of a single permit.
func Hash(domain Domain, permit PermitSingle) ([]byte, error) {
	if err := validateDomain(domain); err != nil {
		return nil, err
	}
	if err := permit.Validate(); err != nil {
		return nil, err
	}
	return Digest(TypedData(domain, permit))
}

// BatchHash is the signing digest of a batch permit.
func BatchHash(domain Domain, permit PermitBatch) ([]byte, error) {
	if err := validateDomain(domain); err != nil {
		return nil, err
	}
	if err := permit.Validate(); err != nil {
		return nil, err
	}
	return Digest(BatchTypedData(domain, permit))
}

func validateDomain(domain Domain) error {
	if domain.ChainID == nil || domain.ChainID.Sign() <= 0 || !domain.ChainID.IsInt64() {
		return clierr.New(clierr.CodeUsage, "permit domain needs a positive chain id")
	}
	if domain.VerifyingContract.IsZero() {
		return clierr.New(clierr.CodeUsage, "permit domain needs the registry address")
	}
	if domain.Name == "" {
		return clierr.New(clierr.CodeUsage, "permit domain needs a name")
	}
	return nil
}

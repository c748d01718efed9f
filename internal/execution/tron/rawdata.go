package tron

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of protocol.Transaction.raw and the contract messages we
// inspect. Unknown fields are skipped.
const (
	rawRefBlockBytes = 1
	rawRefBlockHash  = 4
	rawExpiration    = 8
	rawContract      = 11
	rawTimestamp     = 14
	rawFeeLimit      = 18

	contractType      = 1
	contractParameter = 2

	anyTypeURL = 1
	anyValue   = 2

	triggerOwner     = 1
	triggerContract  = 2
	triggerCallValue = 3
	triggerData      = 4
)

// TriggerSmartContractType is ContractType.TriggerSmartContract.
const TriggerSmartContractType = 31

// RawData is the subset of a transaction's raw_data that must match the
// request before it is signed.
type RawData struct {
	RefBlockBytes []byte
	RefBlockHash  []byte
	Expiration    int64
	Timestamp     int64
	FeeLimit      int64
	Contracts     []Contract
}

// Contract is one entry of raw_data.contract. Trigger fields are only set
// for TriggerSmartContract.
type Contract struct {
	Type      int32
	TypeURL   string
	Owner     []byte
	Target    []byte
	CallValue int64
	Data      []byte
}

// DecodeRawData parses serialized raw_data bytes.
func DecodeRawData(b []byte) (RawData, error) {
	var out RawData
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == rawRefBlockBytes && typ == protowire.BytesType:
			out.RefBlockBytes = v
		case num == rawRefBlockHash && typ == protowire.BytesType:
			out.RefBlockHash = v
		case num == rawExpiration && typ == protowire.VarintType:
			out.Expiration = int64(n)
		case num == rawTimestamp && typ == protowire.VarintType:
			out.Timestamp = int64(n)
		case num == rawFeeLimit && typ == protowire.VarintType:
			out.FeeLimit = int64(n)
		case num == rawContract && typ == protowire.BytesType:
			c, err := decodeContract(v)
			if err != nil {
				return err
			}
			out.Contracts = append(out.Contracts, c)
		}
		return nil
	})
	if err != nil {
		return RawData{}, fmt.Errorf("decode raw_data: %w", err)
	}
	return out, nil
}

func decodeContract(b []byte) (Contract, error) {
	var c Contract
	var param []byte
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == contractType && typ == protowire.VarintType:
			c.Type = int32(n)
		case num == contractParameter && typ == protowire.BytesType:
			param = v
		}
		return nil
	})
	if err != nil {
		return Contract{}, err
	}
	var value []byte
	err = walk(param, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch {
		case num == anyTypeURL && typ == protowire.BytesType:
			c.TypeURL = string(v)
		case num == anyValue && typ == protowire.BytesType:
			value = v
		}
		return nil
	})
	if err != nil {
		return Contract{}, err
	}
	if c.Type != TriggerSmartContractType {
		return c, nil
	}
	err = walk(value, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == triggerOwner && typ == protowire.BytesType:
			c.Owner = v
		case num == triggerContract && typ == protowire.BytesType:
			c.Target = v
		case num == triggerCallValue && typ == protowire.VarintType:
			c.CallValue = int64(n)
		case num == triggerData && typ == protowire.BytesType:
			c.Data = v
		}
		return nil
	})
	return c, err
}

// walk calls fn for every top-level field of a message. Bytes fields pass
// their payload, varint fields their value.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return protowire.ParseError(tagLen)
		}
		b = b[tagLen:]
		var (
			bytesVal []byte
			varint   uint64
			valLen   int
		)
		switch typ {
		case protowire.VarintType:
			varint, valLen = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			bytesVal, valLen = protowire.ConsumeBytes(b)
		default:
			valLen = protowire.ConsumeFieldValue(num, typ, b)
		}
		if valLen < 0 {
			return protowire.ParseError(valLen)
		}
		b = b[valLen:]
		if err := fn(num, typ, bytesVal, varint); err != nil {
			return err
		}
	}
	return nil
}

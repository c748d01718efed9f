package execution

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

// DefaultSafetyMultiplier pads simulated estimates, which understate the
// real cost on some chains.
const DefaultSafetyMultiplier = 1.5

// Estimate simulates req, prices the resource units and reads the sender's
// balance. It never mutates chain state. A zero unit count is a valid quote;
// a reverted simulation is CodeEstimationFailed.
func Estimate(ctx context.Context, chain Chain, req CallRequest) (FeeQuote, error) {
	if chain == nil {
		return FeeQuote{}, clierr.New(clierr.CodeInternal, "missing chain adapter")
	}
	units, err := chain.EstimateResources(ctx, req)
	if err != nil {
		return FeeQuote{}, estimationError(req, "simulate call", err)
	}
	price, err := chain.UnitPrice(ctx)
	if err != nil {
		return FeeQuote{}, estimationError(req, "read unit price", err)
	}
	if price == nil || price.Sign() < 0 {
		return FeeQuote{}, estimationError(req, "read unit price", fmt.Errorf("invalid unit price %v", price))
	}
	balance, err := chain.Balance(ctx, req.From)
	if err != nil {
		return FeeQuote{}, estimationError(req, "read sender balance", err)
	}
	if balance == nil {
		balance = new(big.Int)
	}
	fee := new(big.Int).SetUint64(units)
	fee.Mul(fee, price)
	return FeeQuote{
		ResourceUnits: units,
		UnitPrice:     new(big.Int).Set(price),
		NativeFee:     fee,
		Balance:       new(big.Int).Set(balance),
	}, nil
}

func estimationError(req CallRequest, step string, err error) error {
	return clierr.Wrap(clierr.CodeEstimationFailed, fmt.Sprintf("%s (target %s, selector %s)", step, req.To.Hex(), req.Selector()), err)
}

// FeeCap returns ceil(nativeFee * multiplier). The multiplier is taken at
// its shortest decimal form so 1.2 means exactly 12/10.
func FeeCap(nativeFee *big.Int, multiplier float64) (*big.Int, error) {
	if multiplier < 1 {
		return nil, clierr.Newf(clierr.CodeUsage, "safety multiplier must be >= 1, got %v", multiplier)
	}
	if nativeFee == nil || nativeFee.Sign() < 0 {
		return nil, clierr.New(clierr.CodeUsage, "native fee must be non-negative")
	}
	factor, ok := new(big.Rat).SetString(strconv.FormatFloat(multiplier, 'f', -1, 64))
	if !ok {
		return nil, clierr.Newf(clierr.CodeUsage, "invalid safety multiplier %v", multiplier)
	}
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(nativeFee), factor)
	quo, rem := new(big.Int).QuoRem(scaled.Num(), scaled.Denom(), new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// CheckBalance fails with CodeInsufficientBalance unless the quoted balance
// covers feeCap plus the call value.
func CheckBalance(quote FeeQuote, feeCap *big.Int, req CallRequest) error {
	required := new(big.Int).Add(feeCap, req.CallValue())
	balance := quote.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	if balance.Cmp(required) < 0 {
		return clierr.Newf(clierr.CodeInsufficientBalance,
			"balance %s is below fee cap %s plus call value %s (target %s, selector %s)",
			balance, feeCap, req.CallValue(), req.To.Hex(), req.Selector())
	}
	return nil
}

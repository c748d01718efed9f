// Package evm adapts an Ethereum-style JSON-RPC endpoint to execution.Chain:
// gas is the resource unit and maxFeePerGas its price.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

var (
	fallbackBaseFee = big.NewInt(1_000_000_000)
	fallbackTipCap  = big.NewInt(2_000_000_000)
)

type Chain struct {
	client  *ethclient.Client
	chainID *big.Int
	logger  *zap.Logger
}

// Dial connects to rpcURL and checks that the endpoint serves chainID.
func Dial(ctx context.Context, rpcURL string, chainID *big.Int, logger *zap.Logger) (*Chain, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if chainID != nil && remote.Cmp(chainID) != 0 {
		client.Close()
		return nil, clierr.Newf(clierr.CodeUsage, "rpc chain mismatch: expected %s, got %s", chainID, remote)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{client: client, chainID: remote, logger: logger}, nil
}

func (c *Chain) Close() {
	if c != nil && c.client != nil {
		c.client.Close()
	}
}

func (c *Chain) Family() registry.Family { return registry.FamilyEVM }

func callMsg(req execution.CallRequest) ethereum.CallMsg {
	to := req.To.Common()
	return ethereum.CallMsg{From: req.From.Common(), To: &to, Value: req.CallValue(), Data: req.Data}
}

func (c *Chain) CallContract(ctx context.Context, req execution.CallRequest) ([]byte, error) {
	out, err := c.client.CallContract(ctx, callMsg(req), nil)
	if err != nil {
		c.logger.Debug("eth_call failed", zap.String("target", req.To.Hex()), zap.Error(err))
		return nil, wrapExecutionError(clierr.CodeUnavailable, "eth_call", err)
	}
	return out, nil
}

func (c *Chain) EstimateResources(ctx context.Context, req execution.CallRequest) (uint64, error) {
	gas, err := c.client.EstimateGas(ctx, callMsg(req))
	if err != nil {
		c.logger.Debug("eth_estimateGas failed", zap.String("target", req.To.Hex()), zap.Error(err))
		return 0, wrapExecutionError(clierr.CodeEstimationFailed, "estimate gas", err)
	}
	return gas, nil
}

// UnitPrice is the worst-case maxFeePerGas: twice the latest base fee plus
// the suggested tip.
func (c *Chain) UnitPrice(ctx context.Context) (*big.Int, error) {
	tipCap := c.tipCap(ctx)
	baseFee, err := c.latestBaseFee(ctx)
	if err != nil {
		return nil, err
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap), nil
}

func (c *Chain) latestBaseFee(ctx context.Context) (*big.Int, error) {
	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := c.client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", "latest", false); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest block", err)
	}
	if block.BaseFeePerGas == nil {
		return new(big.Int).Set(fallbackBaseFee), nil
	}
	return new(big.Int).Set((*big.Int)(block.BaseFeePerGas)), nil
}

func (c *Chain) tipCap(ctx context.Context) *big.Int {
	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return new(big.Int).Set(fallbackTipCap)
	}
	return tipCap
}

func (c *Chain) Balance(ctx context.Context, account address.Address) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, account.Common(), nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read balance", err)
	}
	return balance, nil
}

// BuildTransaction prices an EIP-1559 transaction so that gas * maxFee never
// exceeds feeCap. It refuses to build when the current max fee leaves less
// gas than the quote simulated.
func (c *Chain) BuildTransaction(ctx context.Context, req execution.CallRequest, quote execution.FeeQuote, feeCap *big.Int) (execution.UnsignedTx, error) {
	maxFee, err := c.UnitPrice(ctx)
	if err != nil {
		return nil, err
	}
	if maxFee.Sign() == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "rpc reported a zero gas price")
	}
	gas := new(big.Int).Quo(feeCap, maxFee)
	if !gas.IsUint64() || gas.Uint64() == 0 {
		return nil, clierr.Newf(clierr.CodeUsage, "fee cap %s does not cover one unit of gas at %s", feeCap, maxFee)
	}
	if gas.Uint64() < quote.ResourceUnits {
		return nil, clierr.Newf(clierr.CodeEstimationFailed,
			"max fee rose to %s since the estimate (%s): fee cap %s buys %d gas, call needs %d; re-estimate",
			maxFee, quote.UnitPrice, feeCap, gas.Uint64(), quote.ResourceUnits)
	}
	tipCap := c.tipCap(ctx)
	if tipCap.Cmp(maxFee) > 0 {
		tipCap = new(big.Int).Set(maxFee)
	}
	nonce, err := c.client.PendingNonceAt(ctx, req.From.Common())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	to := req.To.Common()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: maxFee,
		Gas:       gas.Uint64(),
		To:        &to,
		Value:     req.CallValue(),
		Data:      req.Data,
	})
	return &UnsignedTx{tx: tx, signer: types.LatestSignerForChainID(c.chainID)}, nil
}

func (c *Chain) Broadcast(ctx context.Context, signed execution.SignedTx) (string, error) {
	tx, ok := signed.(*SignedTx)
	if !ok {
		return "", clierr.Newf(clierr.CodeInternal, "unexpected transaction type %T", signed)
	}
	if err := c.client.SendTransaction(ctx, tx.tx); err != nil {
		return "", wrapExecutionError(clierr.CodeSubmissionFailed, "broadcast transaction", err)
	}
	return tx.ID(), nil
}

func (c *Chain) Receipt(ctx context.Context, txID string) (*execution.Receipt, bool, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		return nil, false, clierr.Wrap(clierr.CodeUnavailable, "fetch receipt", err)
	}
	out := &execution.Receipt{
		TxID:    txID,
		Success: receipt.Status == types.ReceiptStatusSuccessful,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.EffectiveGasPrice != nil {
		fee := new(big.Int).SetUint64(receipt.GasUsed)
		out.FeePaid = fee.Mul(fee, receipt.EffectiveGasPrice).String()
	}
	return out, true, nil
}

// UnsignedTx pairs a transaction with the signer that hashes it.
type UnsignedTx struct {
	tx     *types.Transaction
	signer types.Signer
}

func (u *UnsignedTx) Transaction() *types.Transaction { return u.tx }

func (u *UnsignedTx) SigningHash() []byte { return u.signer.Hash(u.tx).Bytes() }

// WithSignature accepts r || s || v with v in {27, 28}.
func (u *UnsignedTx) WithSignature(sig []byte) (execution.SignedTx, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	raw := append([]byte(nil), sig...)
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	signed, err := u.tx.WithSignature(u.signer, raw)
	if err != nil {
		return nil, err
	}
	return &SignedTx{tx: signed}, nil
}

type SignedTx struct {
	tx *types.Transaction
}

func (s *SignedTx) ID() string { return s.tx.Hash().Hex() }

func (s *SignedTx) Encoded() string {
	raw, err := s.tx.MarshalBinary()
	if err != nil {
		return ""
	}
	return hexutil.Encode(raw)
}

// Sender recovers the signing account.
func (s *SignedTx) Sender() (address.Address, error) {
	from, err := types.Sender(types.LatestSignerForChainID(s.tx.ChainId()), s.tx)
	if err != nil {
		return address.Address{}, err
	}
	return address.FromCommon(from), nil
}

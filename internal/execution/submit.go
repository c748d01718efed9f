package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

// HashSigner signs a 32-byte digest and returns r || s || v with v in
// {27, 28}.
type HashSigner interface {
	Address() address.Address
	SignHash(hash []byte) ([]byte, error)
}

type SubmitOptions struct {
	Network          string
	DryRun           bool
	SafetyMultiplier float64
	Wait             bool
	PollInterval     time.Duration
	WaitTimeout      time.Duration
	Store            *Store
	Logger           *zap.Logger
}

func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		DryRun:           true,
		SafetyMultiplier: DefaultSafetyMultiplier,
		PollInterval:     3 * time.Second,
		WaitTimeout:      2 * time.Minute,
	}
}

// Submit drives one call through built -> fee_checked -> broadcast, stopping
// at aborted when the balance cannot cover the fee cap and at
// dry_run_skipped in dry-run mode. Dry-run never builds, signs or
// broadcasts. Nothing is retried.
func Submit(ctx context.Context, chain Chain, txSigner HashSigner, req CallRequest, opts SubmitOptions) (Submission, error) {
	if chain == nil {
		return Submission{}, clierr.New(clierr.CodeInternal, "missing chain adapter")
	}
	if !opts.DryRun && txSigner == nil {
		return Submission{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if opts.SafetyMultiplier == 0 {
		opts.SafetyMultiplier = DefaultSafetyMultiplier
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sub := NewSubmission(NewSubmissionID(), opts.Network, chain.Family(), req, opts.DryRun)
	sub.Multiplier = opts.SafetyMultiplier
	logger = logger.With(
		zap.String("submission_id", sub.SubmissionID),
		zap.String("network", sub.Network),
		zap.String("target", sub.Target),
		zap.String("selector", sub.Selector),
	)
	j := journal{store: opts.Store, logger: logger}
	j.transition(&sub, StateBuilt)

	quote, err := Estimate(ctx, chain, req)
	if err != nil {
		if opts.DryRun {
			sub.Error = err.Error()
			j.transition(&sub, StateDryRunSkipped, zap.Error(err))
			return sub, nil
		}
		return j.fail(&sub, err)
	}
	sub.Quote = newQuoteView(quote)

	feeCap, err := FeeCap(quote.NativeFee, opts.SafetyMultiplier)
	if err != nil {
		return j.fail(&sub, err)
	}
	sub.FeeCap = feeCap.String()
	j.transition(&sub, StateFeeChecked,
		zap.Uint64("resource_units", quote.ResourceUnits),
		zap.String("native_fee", quote.NativeFee.String()),
		zap.String("fee_cap", sub.FeeCap),
		zap.String("balance", quote.Balance.String()),
	)

	if err := CheckBalance(quote, feeCap, req); err != nil {
		sub.Error = err.Error()
		j.transition(&sub, StateAborted, zap.Error(err))
		return sub, err
	}
	if opts.DryRun {
		j.transition(&sub, StateDryRunSkipped)
		return sub, nil
	}

	tx, err := chain.BuildTransaction(ctx, req, quote, feeCap)
	if err != nil {
		return j.fail(&sub, submissionError(sub, "build transaction", err))
	}
	sig, err := txSigner.SignHash(tx.SigningHash())
	if err != nil {
		return j.fail(&sub, clierr.Wrap(clierr.CodeSigner, "sign transaction", err))
	}
	signed, err := tx.WithSignature(sig)
	if err != nil {
		return j.fail(&sub, clierr.Wrap(clierr.CodeSigner, "attach signature", err))
	}
	txID, err := chain.Broadcast(ctx, signed)
	if err != nil {
		return j.fail(&sub, submissionError(sub, "broadcast transaction", err))
	}
	sub.TxID = txID
	j.transition(&sub, StateBroadcast, zap.String("tx_id", txID))

	if !opts.Wait {
		return sub, nil
	}
	return waitForReceipt(ctx, chain, sub, j, opts)
}

func waitForReceipt(ctx context.Context, chain Chain, sub Submission, j journal, opts SubmitOptions) (Submission, error) {
	waitCtx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, found, err := chain.Receipt(waitCtx, sub.TxID)
		if err != nil {
			j.logger.Debug("receipt lookup failed", zap.Error(err))
		}
		if err == nil && found {
			sub.Receipt = receipt
			if receipt.Success {
				j.transition(&sub, StateConfirmed, zap.Uint64("block", receipt.BlockNumber))
				return sub, nil
			}
			return j.fail(&sub, submissionError(sub, "transaction reverted on-chain", fmt.Errorf("tx %s", sub.TxID)))
		}
		select {
		case <-waitCtx.Done():
			// The transaction was sent; stay in broadcast and report the timeout.
			return sub, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("timed out waiting for receipt of %s", sub.TxID), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// Refresh looks up the receipt of a broadcast submission once and records
// the outcome. Other states are returned unchanged; nothing is re-sent.
func Refresh(ctx context.Context, chain Chain, sub Submission, store *Store, logger *zap.Logger) (Submission, error) {
	if sub.State != StateBroadcast || sub.TxID == "" {
		return sub, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := journal{store: store, logger: logger.With(zap.String("submission_id", sub.SubmissionID))}
	receipt, found, err := chain.Receipt(ctx, sub.TxID)
	if err != nil {
		return sub, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("look up receipt of %s", sub.TxID), err)
	}
	if !found {
		return sub, nil
	}
	sub.Receipt = receipt
	if !receipt.Success {
		sub.Error = submissionError(sub, "transaction reverted on-chain", fmt.Errorf("tx %s", sub.TxID)).Error()
		j.transition(&sub, StateFailed)
		return sub, nil
	}
	j.transition(&sub, StateConfirmed, zap.Uint64("block", receipt.BlockNumber))
	return sub, nil
}

func submissionError(sub Submission, step string, err error) error {
	return clierr.Wrap(clierr.CodeSubmissionFailed, fmt.Sprintf("%s (target %s, selector %s, fee cap %s)", step, sub.Target, sub.Selector, sub.FeeCap), err)
}

type journal struct {
	store  *Store
	logger *zap.Logger
}

func (j journal) transition(sub *Submission, state SubmissionState, fields ...zap.Field) {
	sub.State = state
	sub.Touch()
	j.logger.Info("submission "+string(state), fields...)
	if j.store == nil {
		return
	}
	if err := j.store.Save(*sub); err != nil {
		j.logger.Warn("persist submission failed", zap.Error(err))
	}
}

func (j journal) fail(sub *Submission, err error) (Submission, error) {
	sub.Error = err.Error()
	j.transition(sub, StateFailed, zap.Error(err))
	return *sub, err
}

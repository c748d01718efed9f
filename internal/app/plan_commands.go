package app

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ggonzalez94/tomo-cli/internal/config"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	execsigner "github.com/ggonzalez94/tomo-cli/internal/execution/signer"
	"github.com/ggonzalez94/tomo-cli/internal/model"
	"github.com/ggonzalez94/tomo-cli/internal/permit2"
	"github.com/ggonzalez94/tomo-cli/internal/planfile"
	"github.com/ggonzalez94/tomo-cli/internal/router"
	"github.com/ggonzalez94/tomo-cli/internal/units"
)

type planFlags struct {
	path   string
	from   string
	signer signerFlags
}

func addPlanFlags(cmd *cobra.Command, f *planFlags) {
	cmd.Flags().StringVar(&f.path, "plan", "", "Path to a YAML route plan")
	cmd.Flags().StringVar(&f.from, "from", "", "Sender address (overrides the plan's from; defaults to the signer)")
	addSignerFlags(cmd, &f.signer)
	_ = cmd.MarkFlagRequired("plan")
}

// senderMode says how strictly a command needs a sender and a signer.
type senderMode int

const (
	senderOptional senderMode = iota
	senderRequired
	signerRequired
)

type preparedPlan struct {
	network config.Network
	built   planfile.Built
	call    execution.CallRequest
	signer  execsigner.Signer
}

func (s *runtimeState) preparePlan(ctx context.Context, f planFlags, mode senderMode) (preparedPlan, error) {
	doc, err := planfile.Load(f.path)
	if err != nil {
		return preparedPlan{}, err
	}
	// --network beats the plan file; the plan file beats config.
	if doc.Network != "" && s.flags.Network == "" {
		s.settings.Network = doc.Network
	}
	n, err := s.network()
	if err != nil {
		return preparedPlan{}, err
	}

	var signer execsigner.Signer
	loadSigner := func() (execsigner.Signer, error) {
		if signer != nil {
			return signer, nil
		}
		loaded, err := f.signer.load()
		if err != nil {
			return nil, err
		}
		signer = loaded
		return signer, nil
	}

	opts := planfile.Options{
		Profile: n.Profile,
		SignPermit: func(ctx context.Context, permit permit2.PermitSingle) (permit2.PermitSingle, []byte, error) {
			owner, err := loadSigner()
			if err != nil {
				return permit, nil, err
			}
			reg, err := s.permitRegistry(ctx, n)
			if err != nil {
				return permit, nil, err
			}
			return permit2.GetPermitSignature(ctx, permit, owner.Address(), reg, owner)
		},
	}
	// plan build stays offline; anything that reaches the chain checks
	// pre-signed permits against the registry nonce first.
	if mode != senderOptional {
		opts.CheckPermit = func(ctx context.Context, permit permit2.PermitSingle, sig []byte) error {
			reg, err := s.permitRegistry(ctx, n)
			if err != nil {
				return err
			}
			owner, err := permit2.Recover(permit, reg.Domain(), sig)
			if err != nil {
				return err
			}
			return permit2.VerifyNonce(ctx, permit, owner, reg)
		}
	}
	built, err := planfile.Build(ctx, doc, opts)
	if err != nil {
		return preparedPlan{}, err
	}

	explicit := built.From
	if flagFrom, err := parseOptionalAddress(f.from, "--from"); err != nil {
		return preparedPlan{}, err
	} else if !flagFrom.IsZero() {
		explicit = flagFrom
	}
	if mode == signerRequired || (mode == senderRequired && explicit.IsZero()) {
		if _, err := loadSigner(); err != nil {
			return preparedPlan{}, err
		}
	}
	from := explicit
	if signer != nil || mode != senderOptional {
		if from, err = resolveSender(explicit, signer); err != nil {
			return preparedPlan{}, err
		}
	}

	protocol, err := requireAddress(n.Profile.Protocol, "protocol contract")
	if err != nil {
		return preparedPlan{}, err
	}
	call, err := router.ExecuteCall(from, protocol, built.Plan, built.Deadline, built.Value)
	if err != nil {
		return preparedPlan{}, err
	}
	s.logger.Debug("plan prepared",
		zap.String("plan", f.path),
		zap.Int("commands", built.Plan.Len()),
		zap.Int("permits", len(built.Permits)),
		zap.String("selector", call.Selector()),
	)
	return preparedPlan{network: n, built: built, call: call, signer: signer}, nil
}

func (s *runtimeState) newPlanCommand() *cobra.Command {
	root := &cobra.Command{Use: "plan", Short: "Route plan construction"}
	var f planFlags
	build := &cobra.Command{
		Use:   "build",
		Short: "Build execute calldata from a YAML route plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()
			prepared, err := s.preparePlan(ctx, f, senderOptional)
			if err != nil {
				return err
			}
			view, err := planView(prepared)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view)
		},
	}
	addPlanFlags(build, &f)
	root.AddCommand(build)
	return root
}

func planView(p preparedPlan) (model.PlanView, error) {
	decoded, err := router.DecodePlan(p.built.Plan)
	if err != nil {
		return model.PlanView{}, err
	}
	family := p.network.Profile.Family
	view := model.PlanView{
		Network:  p.network.Profile.Name,
		Protocol: formatAddress(p.call.To, family),
		Commands: "0x" + hex.EncodeToString(p.built.Plan.Commands),
		Inputs:   make([]string, 0, len(p.built.Plan.Inputs)),
		Value:    p.built.Value.String(),
		Calldata: "0x" + hex.EncodeToString(p.call.Data),
		Decoded:  decoded,
	}
	if !p.call.From.IsZero() {
		view.From = formatAddress(p.call.From, family)
	}
	for _, input := range p.built.Plan.Inputs {
		view.Inputs = append(view.Inputs, "0x"+hex.EncodeToString(input))
	}
	if p.built.Deadline != nil {
		view.Deadline = p.built.Deadline.String()
	}
	if len(p.built.Permits) > 0 {
		view.Permits = p.built.Permits
	}
	return view, nil
}

func (s *runtimeState) newEstimateCommand() *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the fee, fee cap and balance coverage of a route plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()
			prepared, err := s.preparePlan(ctx, f, senderRequired)
			if err != nil {
				return err
			}
			chain, err := s.chainFor(ctx, prepared.network)
			if err != nil {
				return err
			}
			view, err := estimateCall(ctx, chain, prepared.network, prepared.call, s.settings.SafetyMultiplier)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view)
		},
	}
	addPlanFlags(cmd, &f)
	return cmd
}

// estimateCall reports an insufficient balance in the view instead of
// failing, so the caller sees how far short the sender is.
func estimateCall(ctx context.Context, chain execution.Chain, n config.Network, req execution.CallRequest, multiplier float64) (model.EstimateView, error) {
	quote, err := execution.Estimate(ctx, chain, req)
	if err != nil {
		return model.EstimateView{}, err
	}
	feeCap, err := execution.FeeCap(quote.NativeFee, multiplier)
	if err != nil {
		return model.EstimateView{}, err
	}
	return model.EstimateView{
		Network:       n.Profile.Name,
		Target:        formatAddress(req.To, n.Profile.Family),
		Selector:      req.Selector(),
		ResourceUnits: quote.ResourceUnits,
		UnitPrice:     quote.UnitPrice.String(),
		NativeFee:     quote.NativeFee.String(),
		FeeCap:        feeCap.String(),
		CallValue:     req.CallValue().String(),
		Balance:       quote.Balance.String(),
		Multiplier:    multiplier,
		Sufficient:    execution.CheckBalance(quote, feeCap, req) == nil,
		NativeSymbol:  n.Profile.NativeSymbol,
		FeeCapDecimal: units.Format(feeCap, n.Profile.NativeDecimals),
	}, nil
}

func (s *runtimeState) newExecuteCommand() *cobra.Command {
	var f planFlags
	var wait bool
	var pollInterval, waitTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Estimate, fee-check and (outside dry run) sign and broadcast a route plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := s.commandContext()
			if wait {
				// Receipt polling outlives the per-request timeout.
				cancel()
				ctx, cancel = context.WithTimeout(context.Background(), s.settings.Timeout+waitTimeout)
			}
			defer cancel()
			mode := senderRequired
			if !s.settings.DryRun {
				mode = signerRequired
			}
			prepared, err := s.preparePlan(ctx, f, mode)
			if err != nil {
				return err
			}
			chain, err := s.chainFor(ctx, prepared.network)
			if err != nil {
				return err
			}
			if err := s.ensureStore(); err != nil {
				return err
			}
			opts := s.submitOptions(prepared.network)
			opts.Wait = wait
			opts.PollInterval = pollInterval
			opts.WaitTimeout = waitTimeout

			sub, err := execution.Submit(ctx, chain, prepared.signer, prepared.call, opts)
			if err != nil {
				return err
			}
			return s.emitSubmission(trimRootPath(cmd.CommandPath()), sub, sub.DryRun)
		},
	}
	addPlanFlags(cmd, &f)
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll for the receipt after broadcast")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 3*time.Second, "Receipt poll interval")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 2*time.Minute, "Give up polling after this long")
	return cmd
}

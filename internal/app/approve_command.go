package app

import (
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/execution/planner"
	"github.com/ggonzalez94/tomo-cli/internal/model"
	"github.com/ggonzalez94/tomo-cli/internal/units"
)

func (s *runtimeState) newApproveCommand() *cobra.Command {
	var tokenArg, amountBase, amountDecimal, spenderArg, fromArg string
	var allowMax bool
	var sf signerFlags
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the permit registry (or another spender) when the allowance is short",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := s.network()
			if err != nil {
				return err
			}
			token, err := resolveToken(n.Profile, tokenArg, "--token")
			if err != nil {
				return err
			}
			decimals, ok := tokenDecimals(n.Profile, token)
			if !ok && strings.TrimSpace(amountDecimal) != "" {
				return clierr.New(clierr.CodeUsage, "--amount-decimal needs a token alias with known decimals")
			}
			amount, _, err := units.Normalize(amountBase, amountDecimal, decimals)
			if err != nil {
				return err
			}
			if strings.TrimSpace(spenderArg) == "" {
				spenderArg = n.Profile.Permit2
			}
			spender, err := requireAddress(spenderArg, "--spender")
			if err != nil {
				return err
			}
			explicit, err := parseOptionalAddress(fromArg, "--from")
			if err != nil {
				return err
			}

			var signer execution.HashSigner
			if !s.settings.DryRun || explicit.IsZero() {
				loaded, err := sf.load()
				if err != nil {
					return err
				}
				signer = loaded
				if explicit, err = resolveSender(explicit, loaded); err != nil {
					return err
				}
			}

			ctx, cancel := s.commandContext()
			defer cancel()
			chain, err := s.chainFor(ctx, n)
			if err != nil {
				return err
			}
			approval, err := planner.PlanApproval(ctx, chain, planner.ApprovalRequest{
				Token:            token,
				Owner:            explicit,
				Spender:          spender,
				Amount:           amount,
				AllowMaxApproval: allowMax,
			})
			if err != nil {
				return err
			}
			family := n.Profile.Family
			view := model.ApprovalView{
				Token:   formatAddress(token, family),
				Owner:   formatAddress(explicit, family),
				Spender: formatAddress(spender, family),
				Current: approval.Current.String(),
				Amount:  approval.Amount.String(),
				Needed:  approval.Needed(),
			}
			if !approval.Needed() {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), view)
			}
			if err := s.ensureStore(); err != nil {
				return err
			}
			sub, err := execution.Submit(ctx, chain, signer, *approval.Call, s.submitOptions(n))
			if err != nil {
				return err
			}
			view.Submission = sub
			return s.emitSubmission(trimRootPath(cmd.CommandPath()), view, sub.DryRun)
		},
	}
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token alias or address")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Required allowance in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Required allowance as a decimal amount")
	cmd.Flags().StringVar(&spenderArg, "spender", "", "Spender (defaults to the permit registry)")
	cmd.Flags().StringVar(&fromArg, "from", "", "Token owner (defaults to the signer)")
	cmd.Flags().BoolVar(&allowMax, "allow-max-approval", false, "Approve the maximum amount instead of the exact one")
	addSignerFlags(cmd, &sf)
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

package app

import (
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/tomo-cli/internal/config"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
)

func (s *runtimeState) newSubmissionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "submissions", Short: "Submission journal"}

	var state string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent submissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if state != "" && !knownState(execution.SubmissionState(state)) {
				return clierr.Newf(clierr.CodeUsage, "unknown submission state %q", state)
			}
			if err := s.ensureStore(); err != nil {
				return err
			}
			subs, err := s.store.List(state, limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list submissions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), subs)
		},
	}
	list.Flags().StringVar(&state, "state", "", "Filter by state (built|fee_checked|broadcast|confirmed|aborted|dry_run_skipped|failed)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum submissions to return")

	var refresh bool
	status := &cobra.Command{
		Use:   "status <submission-id|tx-id>",
		Short: "Show one submission, optionally refreshing its receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.ensureStore(); err != nil {
				return err
			}
			sub, err := s.store.Get(args[0])
			if err != nil {
				return err
			}
			if refresh && sub.State == execution.StateBroadcast {
				if s.flags.Network == "" {
					s.settings.Network = sub.Network
				}
				n, err := s.network()
				if err != nil {
					return err
				}
				if err := sameFamily(n, sub); err != nil {
					return err
				}
				ctx, cancel := s.commandContext()
				defer cancel()
				chain, err := s.chainFor(ctx, n)
				if err != nil {
					return err
				}
				if sub, err = execution.Refresh(ctx, chain, sub, s.store, s.logger); err != nil {
					return err
				}
			}
			s.lastNetwork = sub.Network
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), sub)
		},
	}
	status.Flags().BoolVar(&refresh, "refresh", false, "Look up the receipt of a broadcast submission once")

	root.AddCommand(list)
	root.AddCommand(status)
	return root
}

func knownState(state execution.SubmissionState) bool {
	switch state {
	case execution.StateBuilt, execution.StateFeeChecked, execution.StateBroadcast, execution.StateConfirmed,
		execution.StateAborted, execution.StateDryRunSkipped, execution.StateFailed:
		return true
	}
	return false
}

func sameFamily(n config.Network, sub execution.Submission) error {
	if sub.Family != "" && sub.Family != n.Profile.Family {
		return clierr.Newf(clierr.CodeUsage, "submission %s was sent on a %s network, not %s", sub.SubmissionID, sub.Family, n.Profile.Name)
	}
	return nil
}

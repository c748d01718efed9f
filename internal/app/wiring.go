package app

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	"github.com/ggonzalez94/tomo-cli/internal/config"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/execution/evm"
	execsigner "github.com/ggonzalez94/tomo-cli/internal/execution/signer"
	"github.com/ggonzalez94/tomo-cli/internal/execution/tron"
	"github.com/ggonzalez94/tomo-cli/internal/httpx"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

// network resolves the selected profile and records it for envelope metadata.
func (s *runtimeState) network() (config.Network, error) {
	n, err := s.settings.ResolveNetwork()
	if err != nil {
		return config.Network{}, clierr.Wrap(clierr.CodeUsage, "resolve network", err)
	}
	s.lastNetwork = n.Profile.Name
	return n, nil
}

// openChain connects the adapter for the network family. The returned
// close func is always non-nil on success.
func (s *runtimeState) openChain(ctx context.Context, n config.Network) (execution.Chain, func(), error) {
	switch n.Profile.Family {
	case registry.FamilyEVM:
		chain, err := evm.Dial(ctx, n.Profile.RPCURL, n.Profile.ChainIDBig(), s.logger)
		if err != nil {
			return nil, nil, err
		}
		return chain, chain.Close, nil
	case registry.FamilyTron:
		chain := tron.New(tron.Config{
			BaseURL:        n.Profile.RPCURL,
			APIKey:         n.APIKey,
			EnergyPriceSun: n.Profile.EnergyPriceSun,
		}, httpx.New(s.settings.Timeout), s.logger)
		return chain, func() {}, nil
	default:
		return nil, nil, clierr.Newf(clierr.CodeUnsupported, "unsupported network family %q", n.Profile.Family)
	}
}

// chainFor opens the adapter once per command run and reuses it.
func (s *runtimeState) chainFor(ctx context.Context, n config.Network) (execution.Chain, error) {
	if s.chain != nil {
		return s.chain, nil
	}
	chain, closeFn, err := s.openChain(ctx, n)
	if err != nil {
		return nil, err
	}
	s.chain, s.closeChain = chain, closeFn
	return chain, nil
}

func (s *runtimeState) ensureStore() error {
	if s.store != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.SubmissionsPath, s.settings.SubmissionsLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open submission store", err)
	}
	s.store = store
	return nil
}

func (s *runtimeState) submitOptions(n config.Network) execution.SubmitOptions {
	opts := execution.DefaultSubmitOptions()
	opts.Network = n.Profile.Name
	opts.DryRun = s.settings.DryRun
	opts.SafetyMultiplier = s.settings.SafetyMultiplier
	opts.Store = s.store
	opts.Logger = s.logger
	return opts
}

type signerFlags struct {
	backend        string
	keySource      string
	confirmAddress string
}

func addSignerFlags(cmd *cobra.Command, f *signerFlags) {
	cmd.Flags().StringVar(&f.backend, "signer", execsigner.BackendGeth, "Signing backend (geth|native)")
	cmd.Flags().StringVar(&f.keySource, "key-source", execsigner.KeySourceAuto, "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&f.confirmAddress, "confirm-address", "", "Require the signer address to match this value")
}

func (f signerFlags) load() (execsigner.Signer, error) {
	cfg, err := execsigner.ConfigFromEnv(f.keySource, "")
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve key source", err)
	}
	signer, err := execsigner.New(f.backend, cfg)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signer", err)
	}
	if strings.TrimSpace(f.confirmAddress) != "" {
		want, err := address.Parse(f.confirmAddress)
		if err != nil {
			return nil, err
		}
		if want != signer.Address() {
			return nil, clierr.Newf(clierr.CodeSigner, "signer address %s does not match --confirm-address %s", signer.Address().Hex(), want.Hex())
		}
	}
	return signer, nil
}

// resolveSender picks the transaction sender: an explicit address wins,
// otherwise the signer's. Both must agree when set outside dry run.
func resolveSender(explicit address.Address, signer execsigner.Signer) (address.Address, error) {
	if signer == nil {
		if explicit.IsZero() {
			return address.Zero, clierr.New(clierr.CodeUsage, "--from is required when no signer is loaded")
		}
		return explicit, nil
	}
	if !explicit.IsZero() && explicit != signer.Address() {
		return address.Zero, clierr.Newf(clierr.CodeSigner, "signer address %s does not match sender %s", signer.Address().Hex(), explicit.Hex())
	}
	return signer.Address(), nil
}

func parseOptionalAddress(raw, flag string) (address.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return address.Zero, nil
	}
	a, err := address.Parse(raw)
	if err != nil {
		return address.Zero, clierr.Wrap(clierr.CodeInvalidAddress, "parse "+flag, err)
	}
	return a, nil
}

func requireAddress(raw, flag string) (address.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return address.Zero, clierr.Newf(clierr.CodeUsage, "%s is required", flag)
	}
	return parseOptionalAddress(raw, flag)
}

// formatAddress renders a in the native form of the network family.
func formatAddress(a address.Address, family registry.Family) string {
	return a.Format(family == registry.FamilyTron)
}

// resolveToken accepts a token alias of the profile or any address form.
func resolveToken(profile registry.Profile, raw, flag string) (address.Address, error) {
	if token, ok := profile.Token(raw); ok {
		raw = token.Address
	}
	return requireAddress(raw, flag)
}

// tokenDecimals returns alias decimals, or the native decimals for the
// zero address.
func tokenDecimals(profile registry.Profile, token address.Address) (int, bool) {
	if token.IsZero() {
		return profile.NativeDecimals, true
	}
	for _, t := range profile.Tokens {
		if a, err := address.Parse(t.Address); err == nil && a == token {
			return t.Decimals, true
		}
	}
	return 0, false
}

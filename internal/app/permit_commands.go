package app

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	"github.com/ggonzalez94/tomo-cli/internal/config"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
	"github.com/ggonzalez94/tomo-cli/internal/model"
	"github.com/ggonzalez94/tomo-cli/internal/permit2"
	"github.com/ggonzalez94/tomo-cli/internal/units"
)

const (
	defaultPermitExpiration  = 30 * 24 * time.Hour
	defaultPermitSigDeadline = 30 * time.Minute
)

// permitFlags describe one PermitSingle on the command line.
type permitFlags struct {
	token         string
	amount        string
	amountDecimal string
	spender       string
	expiration    uint64
	sigDeadline   string
	nonce         uint64
}

func addPermitFlags(cmd *cobra.Command, f *permitFlags) {
	cmd.Flags().StringVar(&f.token, "token", "", "Token alias or address")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Allowance in base units, or max")
	cmd.Flags().StringVar(&f.amountDecimal, "amount-decimal", "", "Allowance as a decimal amount")
	cmd.Flags().StringVar(&f.spender, "spender", "", "Permit spender (defaults to the network's protocol contract)")
	cmd.Flags().Uint64Var(&f.expiration, "expiration", 0, "Allowance expiry as unix seconds (default now + 30 days)")
	cmd.Flags().StringVar(&f.sigDeadline, "sig-deadline", "", "Signature deadline as unix seconds (default now + 30 minutes)")
	cmd.Flags().Uint64Var(&f.nonce, "nonce", 0, "Permit nonce (read from the registry when omitted)")
	_ = cmd.MarkFlagRequired("token")
}

func (s *runtimeState) buildPermit(f permitFlags, n config.Network) (permit2.PermitSingle, error) {
	token, err := resolveToken(n.Profile, f.token, "--token")
	if err != nil {
		return permit2.PermitSingle{}, err
	}
	var amount *big.Int
	if strings.EqualFold(strings.TrimSpace(f.amount), "max") {
		if strings.TrimSpace(f.amountDecimal) != "" {
			return permit2.PermitSingle{}, clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
		}
		amount = new(big.Int).Set(permit2.MaxUint160)
	} else {
		decimals, ok := tokenDecimals(n.Profile, token)
		if !ok && strings.TrimSpace(f.amountDecimal) != "" {
			return permit2.PermitSingle{}, clierr.New(clierr.CodeUsage, "--amount-decimal needs a token alias with known decimals")
		}
		amount, _, err = units.Normalize(f.amount, f.amountDecimal, decimals)
		if err != nil {
			return permit2.PermitSingle{}, err
		}
	}

	spenderRaw := f.spender
	if strings.TrimSpace(spenderRaw) == "" {
		spenderRaw = n.Profile.Protocol
	}
	spender, err := requireAddress(spenderRaw, "--spender")
	if err != nil {
		return permit2.PermitSingle{}, err
	}

	now := s.runner.now()
	expiration := f.expiration
	if expiration == 0 {
		expiration = uint64(now.Add(defaultPermitExpiration).Unix())
	}
	sigDeadline := big.NewInt(now.Add(defaultPermitSigDeadline).Unix())
	if strings.TrimSpace(f.sigDeadline) != "" {
		sigDeadline, err = units.ParseBaseUnits(f.sigDeadline)
		if err != nil {
			return permit2.PermitSingle{}, clierr.Wrap(clierr.CodeUsage, "parse --sig-deadline", err)
		}
	}

	permit := permit2.PermitSingle{
		Details: permit2.PermitDetails{
			Token:      token,
			Amount:     amount,
			Expiration: expiration,
			Nonce:      f.nonce,
		},
		Spender:     spender,
		SigDeadline: sigDeadline,
	}
	if err := permit.Validate(); err != nil {
		return permit2.PermitSingle{}, err
	}
	return permit, nil
}

// permitRegistry binds the network's registry to the chain adapter.
func (s *runtimeState) permitRegistry(ctx context.Context, n config.Network) (*permit2.Registry, error) {
	addr, err := requireAddress(n.Profile.Permit2, "permit registry")
	if err != nil {
		return nil, err
	}
	chain, err := s.chainFor(ctx, n)
	if err != nil {
		return nil, err
	}
	return permit2.NewRegistry(addr, n.Profile.ChainIDBig(), chain), nil
}

func (s *runtimeState) newPermitCommand() *cobra.Command {
	root := &cobra.Command{Use: "permit", Short: "Permit registry allowance signatures"}
	root.AddCommand(s.newPermitSignCommand())
	root.AddCommand(s.newPermitVerifyCommand())
	root.AddCommand(s.newPermitSubmitCommand())
	return root
}

func (s *runtimeState) newPermitSignCommand() *cobra.Command {
	var pf permitFlags
	var sf signerFlags
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a single-token permit with the registry's current nonce",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := s.network()
			if err != nil {
				return err
			}
			permit, err := s.buildPermit(pf, n)
			if err != nil {
				return err
			}
			signer, err := sf.load()
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()

			permit, sig, err := s.signPermit(ctx, n, permit, signer.Address(), signer, cmd.Flags().Changed("nonce"))
			if err != nil {
				return err
			}
			view, err := permitView(n, permit, signer.Address(), sig)
			if err != nil {
				return err
			}
			view.Backend = signer.Name()
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view)
		},
	}
	addPermitFlags(cmd, &pf)
	addSignerFlags(cmd, &sf)
	return cmd
}

// signPermit signs with an explicit nonce, or reads the current one from
// the registry first.
func (s *runtimeState) signPermit(ctx context.Context, n config.Network, permit permit2.PermitSingle, owner address.Address, backend permit2.Backend, explicitNonce bool) (permit2.PermitSingle, []byte, error) {
	if explicitNonce {
		registryAddr, err := requireAddress(n.Profile.Permit2, "permit registry")
		if err != nil {
			return permit, nil, err
		}
		sig, err := permit2.Sign(permit, permit2.NewDomain(n.Profile.ChainIDBig(), registryAddr), backend)
		return permit, sig, err
	}
	reg, err := s.permitRegistry(ctx, n)
	if err != nil {
		return permit, nil, err
	}
	return permit2.GetPermitSignature(ctx, permit, owner, reg, backend)
}

func (s *runtimeState) newPermitVerifyCommand() *cobra.Command {
	var pf permitFlags
	var ownerArg, signatureArg string
	var offline bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recover a permit signer and check the nonce against the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := s.network()
			if err != nil {
				return err
			}
			owner, err := requireAddress(ownerArg, "--owner")
			if err != nil {
				return err
			}
			sig, err := decodeHexArg(signatureArg)
			if err != nil {
				return err
			}
			permit, err := s.buildPermit(pf, n)
			if err != nil {
				return err
			}
			registryAddr, err := requireAddress(n.Profile.Permit2, "permit registry")
			if err != nil {
				return err
			}
			recovered, err := permit2.Recover(permit, permit2.NewDomain(n.Profile.ChainIDBig(), registryAddr), sig)
			if err != nil {
				return err
			}
			view, err := permitView(n, permit, owner, sig)
			if err != nil {
				return err
			}
			valid := recovered == owner
			view.Recovered = formatAddress(recovered, n.Profile.Family)
			view.Valid = &valid
			if offline {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), view)
			}

			ctx, cancel := s.commandContext()
			defer cancel()
			reg, err := s.permitRegistry(ctx, n)
			if err != nil {
				return err
			}
			fresh := true
			if err := permit2.VerifyNonce(ctx, permit, owner, reg); err != nil {
				if !clierr.Is(err, clierr.CodeStaleNonce) {
					return err
				}
				fresh = false
			}
			view.NonceFresh = &fresh
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view)
		},
	}
	addPermitFlags(cmd, &pf)
	cmd.Flags().StringVar(&ownerArg, "owner", "", "Expected permit owner")
	cmd.Flags().StringVar(&signatureArg, "signature", "", "65-byte permit signature as hex")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the registry nonce check")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("signature")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}

func (s *runtimeState) newPermitSubmitCommand() *cobra.Command {
	var pf permitFlags
	var sf signerFlags
	var signatureArg string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit permit(owner, permit, signature) to the registry directly",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := s.network()
			if err != nil {
				return err
			}
			permit, err := s.buildPermit(pf, n)
			if err != nil {
				return err
			}
			signer, err := sf.load()
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()

			var sig []byte
			if strings.TrimSpace(signatureArg) != "" {
				if sig, err = decodeHexArg(signatureArg); err != nil {
					return err
				}
			} else if permit, sig, err = s.signPermit(ctx, n, permit, signer.Address(), signer, cmd.Flags().Changed("nonce")); err != nil {
				return err
			}
			reg, err := s.permitRegistry(ctx, n)
			if err != nil {
				return err
			}
			if err := permit2.VerifyNonce(ctx, permit, signer.Address(), reg); err != nil {
				return err
			}
			req, err := permit2.PermitCallRequest(signer.Address(), reg.Address, permit, sig)
			if err != nil {
				return err
			}
			if err := s.ensureStore(); err != nil {
				return err
			}
			sub, err := execution.Submit(ctx, s.chain, signer, req, s.submitOptions(n))
			if err != nil {
				return err
			}
			return s.emitSubmission(trimRootPath(cmd.CommandPath()), sub, sub.DryRun)
		},
	}
	addPermitFlags(cmd, &pf)
	addSignerFlags(cmd, &sf)
	cmd.Flags().StringVar(&signatureArg, "signature", "", "Existing signature as hex (signs with the loaded key when omitted)")
	return cmd
}

func permitView(n config.Network, permit permit2.PermitSingle, owner address.Address, sig []byte) (model.PermitView, error) {
	registryAddr, err := requireAddress(n.Profile.Permit2, "permit registry")
	if err != nil {
		return model.PermitView{}, err
	}
	digest, err := permit2.Hash(permit2.NewDomain(n.Profile.ChainIDBig(), registryAddr), permit)
	if err != nil {
		return model.PermitView{}, err
	}
	family := n.Profile.Family
	return model.PermitView{
		Owner:       formatAddress(owner, family),
		Registry:    formatAddress(registryAddr, family),
		ChainID:     n.Profile.ChainIDBig().String(),
		Token:       formatAddress(permit.Details.Token, family),
		Amount:      permit.Details.Amount.String(),
		Expiration:  permit.Details.Expiration,
		Nonce:       permit.Details.Nonce,
		Spender:     formatAddress(permit.Spender, family),
		SigDeadline: permit.SigDeadline.String(),
		Digest:      "0x" + hex.EncodeToString(digest),
		Signature:   "0x" + hex.EncodeToString(sig),
	}, nil
}

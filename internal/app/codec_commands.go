package app

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/model"
	"github.com/ggonzalez94/tomo-cli/internal/registry"
	"github.com/ggonzalez94/tomo-cli/internal/router"
)

func (s *runtimeState) newNetworksCommand() *cobra.Command {
	root := &cobra.Command{Use: "networks", Short: "Network profiles"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in network profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), registry.Networks())
		},
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the selected network after config and flag overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := s.network()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), n.Profile)
		},
	}
	root.AddCommand(list)
	root.AddCommand(show)
	return root
}

func (s *runtimeState) newAddressCommand() *cobra.Command {
	root := &cobra.Command{Use: "address", Short: "Address codec"}
	convert := &cobra.Command{
		Use:   "convert <address>",
		Short: "Convert between hex, base58check and node hex forms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := address.Parse(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), addressView(a))
		},
	}
	root.AddCommand(convert)
	return root
}

func addressView(a address.Address) model.AddressView {
	return model.AddressView{Hex: a.Hex(), Base58: a.Native(), NodeHex: a.NativeHex()}
}

func (s *runtimeState) newPathCommand() *cobra.Command {
	root := &cobra.Command{Use: "path", Short: "V3 fee-tier path codec"}

	var tokensArg, feesArg string
	var exactOutput bool
	encode := &cobra.Command{
		Use:   "encode",
		Short: "Pack tokens and fee tiers into a V3 path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := s.network()
			if err != nil {
				return err
			}
			tokens := make([]address.Address, 0)
			for _, raw := range splitList(tokensArg) {
				token, err := resolveToken(n.Profile, raw, "--tokens")
				if err != nil {
					return err
				}
				tokens = append(tokens, token)
			}
			fees := make([]int32, 0)
			for _, raw := range splitList(feesArg) {
				fee, err := strconv.ParseInt(raw, 10, 32)
				if err != nil {
					return clierr.Newf(clierr.CodeUsage, "--fees: %q is not an integer", raw)
				}
				fees = append(fees, int32(fee))
			}
			encodePath := router.EncodePathExactInput
			if exactOutput {
				encodePath = router.EncodePathExactOutput
			}
			path, err := encodePath(tokens, fees)
			if err != nil {
				return err
			}
			view, err := pathView(n.Profile.Family, path)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view)
		},
	}
	encode.Flags().StringVar(&tokensArg, "tokens", "", "Comma-separated tokens in swap order (aliases or addresses)")
	encode.Flags().StringVar(&feesArg, "fees", "", "Comma-separated fee tiers, one fewer than tokens")
	encode.Flags().BoolVar(&exactOutput, "exact-output", false, "Reverse the path for exact-output swaps")
	_ = encode.MarkFlagRequired("tokens")
	_ = encode.MarkFlagRequired("fees")

	decode := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Unpack a V3 path into tokens and fee tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := decodeHexArg(args[0])
			if err != nil {
				return err
			}
			family := registry.FamilyEVM
			if n, err := s.network(); err == nil {
				family = n.Profile.Family
			}
			view, err := pathView(family, raw)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view)
		},
	}

	root.AddCommand(encode)
	root.AddCommand(decode)
	return root
}

func pathView(family registry.Family, path []byte) (model.PathView, error) {
	tokens, fees, err := router.DecodePath(path)
	if err != nil {
		return model.PathView{}, err
	}
	view := model.PathView{Fees: fees, Path: "0x" + hex.EncodeToString(path)}
	for _, token := range tokens {
		view.Tokens = append(view.Tokens, formatAddress(token, family))
	}
	return view, nil
}

func (s *runtimeState) newCalldataCommand() *cobra.Command {
	root := &cobra.Command{Use: "calldata", Short: "Execute calldata diagnostics"}
	decode := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode execute calldata into commands and parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := decodeHexArg(args[0])
			if err != nil {
				return err
			}
			decoded, err := router.DecodeExecute(raw)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), decoded)
		},
	}
	root.AddCommand(decode)
	return root
}

func decodeHexArg(raw string) ([]byte, error) {
	out, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "decode hex argument", err)
	}
	return out, nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}

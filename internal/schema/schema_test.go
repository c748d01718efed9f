package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func newTree() *cobra.Command {
	root := &cobra.Command{Use: "tomo"}
	root.PersistentFlags().String("network", "tron", "network profile")
	child := &cobra.Command{Use: "path", Short: "path codec"}
	leaf := &cobra.Command{Use: "encode", Short: "encode a V3 path", Aliases: []string{"enc"}, Run: func(*cobra.Command, []string) {}}
	leaf.Flags().StringSlice("token", nil, "path tokens")
	_ = leaf.MarkFlagRequired("token")
	child.AddCommand(leaf)
	root.AddCommand(child)
	return root
}

func TestBuildSchema(t *testing.T) {
	s, err := Build(newTree(), "path encode")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "tomo path encode" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
	if len(s.Flags) != 1 || s.Flags[0].Name != "token" || !s.Flags[0].Required {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	if len(s.Inherited) != 1 || s.Inherited[0].Name != "network" {
		t.Fatalf("unexpected inherited flags: %+v", s.Inherited)
	}
}

func TestBuildSchemaAliasAndMissing(t *testing.T) {
	root := newTree()
	if _, err := Build(root, "path enc"); err != nil {
		t.Fatalf("expected alias lookup to work: %v", err)
	}
	if _, err := Build(root, "path compress"); err == nil {
		t.Fatal("expected missing command error")
	}
	s, err := Build(root, "")
	if err != nil {
		t.Fatalf("Build root failed: %v", err)
	}
	if len(s.Subcommands) != 1 || s.Subcommands[0].Subcommands[0].Use != "encode" {
		t.Fatalf("unexpected tree: %+v", s)
	}
}

package schema

import (
	"testing"

	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/spf13/cobra"
)

func testTree() *cobra.Command {
	root := &cobra.Command{Use: "sncast"}
	root.PersistentFlags().StringP("url", "u", "", "RPC URL")
	account := &cobra.Command{Use: "account", Short: "account cmds"}
	deploy := &cobra.Command{Use: "deploy", Short: "deploy an account", RunE: func(*cobra.Command, []string) error { return nil }}
	deploy.Flags().String("name", "", "account name")
	deploy.Flags().String("max-fee", "", "fee cap")
	_ = deploy.MarkFlagRequired("name")
	account.AddCommand(deploy)
	root.AddCommand(account)
	return root
}

func TestBuildSchema(t *testing.T) {
	s, err := Build(testTree(), "account deploy")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "sncast account deploy" || !s.Runnable {
		t.Fatalf("unexpected command: %+v", s)
	}
	if len(s.Flags) != 2 {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	for _, f := range s.Flags {
		if (f.Name == "name") != f.Required {
			t.Fatalf("unexpected required marker on %s", f.Name)
		}
	}
	if len(s.GlobalFlags) != 1 || s.GlobalFlags[0].Shorthand != "u" {
		t.Fatalf("expected the global url flag, got %+v", s.GlobalFlags)
	}
}

func TestBuildSchemaUnknownCommand(t *testing.T) {
	_, err := Build(testTree(), "account teleport")
	if clierr.ExitCode(err) != int(clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/execution"
	"github.com/spf13/cobra"
)

type multicallTemplate struct {
	Path string `json:"path"`
}

func (s *runtimeState) newMulticallCommand() *cobra.Command {
	root := &cobra.Command{Use: "multicall", Short: "Run a batch of deploy and invoke entries from a TOML file"}

	var overwrite bool
	newCmd := &cobra.Command{
		Use:   "new <path>",
		Short: "Write a template batch file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !overwrite {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s already exists; pass --overwrite to replace it", path))
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("stat %s", path), err)
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return clierr.Wrap(clierr.CodePersistence, "create batch directory", err)
				}
			}
			if err := os.WriteFile(path, []byte(execution.NewBatchTemplate()), 0o644); err != nil {
				return clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("write %s", path), err)
			}
			return s.emitSuccess(multicallTemplate{Path: path}, nil)
		},
	}
	newCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")

	var path, maxFee string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit every entry of a batch file in order, stopping at the first failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, err := execution.LoadBatch(path)
			if err != nil {
				return err
			}
			fee, err := parseOptionalFelt("max-fee", maxFee)
			if err != nil {
				return err
			}
			p, err := s.ensureProvider()
			if err != nil {
				return err
			}
			sgn, err := s.openSigner()
			if err != nil {
				return err
			}

			progress := s.startProgress(s.settings.Wait)
			defer progress.stop()
			runner := &execution.MulticallRunner{
				Builder:      s.newBuilder(p),
				Orchestrator: s.newOrchestrator(p, s.chain.Network, progress),
				SaltSource:   execution.RandomSalt,
			}
			results, err := runner.Run(s.ctx, batch, sgn, fee, s.settings.Wait)
			progress.stop()
			warnings := batchWarnings(results)
			s.lastWarnings = warnings
			if err != nil {
				return err
			}
			return s.emitSuccess(results, warnings)
		},
	}
	runCmd.Flags().StringVar(&path, "path", "", "Path to the batch TOML file")
	runCmd.Flags().StringVarP(&maxFee, "max-fee", "m", "", "Maximum fee per entry; estimated when omitted")
	_ = runCmd.MarkFlagRequired("path")

	root.AddCommand(newCmd)
	root.AddCommand(runCmd)
	return root
}

func batchWarnings(results []execution.EntryResult) []string {
	var out []string
	for _, r := range results {
		if r.Result == nil {
			continue
		}
		for _, w := range r.Result.Warnings {
			out = append(out, fmt.Sprintf("entry %d: %s", r.Index, w))
		}
	}
	return out
}

package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ggonzalez94/sncast/internal/config"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/execution"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/schema"
	"github.com/ggonzalez94/sncast/internal/version"
	"github.com/spf13/cobra"
)

type showConfigResult struct {
	config.EffectiveConfig
	Network     string  `json:"network,omitempty"`
	ChainID     string  `json:"chain_id,omitempty"`
	OutputMode  string  `json:"output"`
	ValueFormat string  `json:"value_format"`
	Wait        bool    `json:"wait"`
	FeeOverhead float64 `json:"fee_overhead"`
	Journal     string  `json:"journal_path"`
}

type scriptResult struct {
	Path     string   `json:"path"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

type txStatusResult struct {
	TransactionHash string              `json:"transaction_hash"`
	FinalityStatus  rpc.FinalityStatus  `json:"finality_status"`
	ExecutionStatus rpc.ExecutionStatus `json:"execution_status,omitempty"`
	State           execution.WaitState `json:"state"`
}

type txWaitResult struct {
	TransactionHash string                `json:"transaction_hash"`
	Wait            execution.WaitOutcome `json:"wait"`
}

func (s *runtimeState) newShowConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Print the resolved profile and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := showConfigResult{
				EffectiveConfig: s.effective,
				OutputMode:      s.settings.OutputMode,
				ValueFormat:     s.settings.ValueFormat,
				Wait:            s.settings.Wait,
				FeeOverhead:     s.settings.FeeOverhead,
				Journal:         s.settings.JournalPath,
			}
			var warnings []string
			if s.effective.URL != "" {
				chain, err := s.ensureChain()
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("network_unavailable: %v", err))
				} else {
					res.Network = chain.Network
					res.ChainID = chain.ID.String()
				}
			}
			return s.emitSuccess(res, warnings)
		},
	}
}

func (s *runtimeState) newScriptCommand() *cobra.Command {
	root := &cobra.Command{Use: "script", Short: "Run deployment scripts"}
	runCmd := &cobra.Command{
		Use:   "run <executable> [args...]",
		Short: "Run an executable with the resolved profile in SNCAST_* variables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stdout, stderr bytes.Buffer
			c := exec.CommandContext(s.ctx, args[0], args[1:]...)
			c.Dir = s.runner.workDir
			c.Env = append(os.Environ(), s.scriptEnv()...)
			c.Stdout = &stdout
			c.Stderr = &stderr

			start := time.Now()
			err := c.Run()
			res := scriptResult{Path: args[0], Args: args[1:], Stdout: stdout.String(), Stderr: stderr.String()}
			s.log.Debug().Str("script", args[0]).Dur("elapsed", time.Since(start)).Msg("script finished")
			var exitErr *exec.ExitError
			switch {
			case errors.As(err, &exitErr):
				res.ExitCode = exitErr.ExitCode()
				return clierr.New(clierr.CodeInternal, fmt.Sprintf("script %s exited with status %d", args[0], res.ExitCode)).WithData(res)
			case err != nil:
				return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("run script %s", args[0]), err)
			}
			return s.emitSuccess(res, nil)
		},
	}
	runCmd.Flags().SetInterspersed(false)
	root.AddCommand(runCmd)
	return root
}

func (s *runtimeState) scriptEnv() []string {
	vars := map[string]string{
		"SNCAST_PROFILE":       s.effective.Profile,
		"SNCAST_URL":           s.effective.URL,
		"SNCAST_ACCOUNT":       s.effective.Account,
		"SNCAST_ACCOUNTS_FILE": s.effective.AccountsFile,
		"SNCAST_KEYSTORE":      s.effective.Keystore,
	}
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		if v != "" {
			out = append(out, k+"="+v)
		}
	}
	return out
}

func (s *runtimeState) newTxCommand() *cobra.Command {
	root := &cobra.Command{Use: "tx", Short: "Inspect submitted transactions"}

	statusCmd := &cobra.Command{
		Use:   "status <hash>",
		Short: "Read the current status of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseFelt("hash", args[0])
			if err != nil {
				return err
			}
			p, err := s.ensureProvider()
			if err != nil {
				return err
			}
			status, err := p.TransactionStatus(s.ctx, hash)
			if err != nil {
				if rpc.IsTransactionNotFound(err) {
					return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("transaction %s not found", hash), err)
				}
				return clierr.Wrap(clierr.CodeUnavailable, "read transaction status", err)
			}
			return s.emitSuccess(txStatusResult{
				TransactionHash: hash.String(),
				FinalityStatus:  status.FinalityStatus,
				ExecutionStatus: status.ExecutionStatus,
				State:           execution.Transition(execution.StateReceived, status),
			}, nil)
		},
	}

	waitCmd := &cobra.Command{
		Use:   "wait <hash>",
		Short: "Wait for a transaction to reach a final status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseFelt("hash", args[0])
			if err != nil {
				return err
			}
			p, err := s.ensureProvider()
			if err != nil {
				return err
			}
			progress := s.startProgress(true)
			defer progress.stop()
			loop := &execution.WaitLoop{
				Provider: p,
				Policy:   s.settings.WaitPolicy,
				Sleep:    s.runner.sleep,
				Log:      s.log,
				OnPoll:   progress.update,
			}
			outcome := loop.Run(s.ctx, hash)
			progress.stop()
			s.updateJournal(hash.String(), outcome)

			res := txWaitResult{TransactionHash: hash.String(), Wait: outcome}
			switch outcome.State {
			case execution.StateRejected:
				return clierr.New(clierr.CodeRejected, fmt.Sprintf("transaction %s was rejected", hash)).WithData(res)
			case execution.StateTimedOut:
				warning := fmt.Sprintf("%s: no final status after %d polls", execution.WarnWaitTimedOut, outcome.Polls)
				return s.emitSuccess(res, []string{warning})
			}
			return s.emitSuccess(res, nil)
		},
	}

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions recorded in the local journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j := s.ensureJournal()
			if j == nil {
				return clierr.New(clierr.CodePersistence, fmt.Sprintf("open transaction journal %s", s.settings.JournalPath))
			}
			records, err := j.List(s.ctx, strings.TrimSpace(status), limit)
			if err != nil {
				return err
			}
			return s.emitSuccess(records, nil)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Only list records with this status (received|pending|accepted|rejected|timed_out)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to list")

	root.AddCommand(statusCmd)
	root.AddCommand(waitCmd)
	root.AddCommand(listCmd)
	return root
}

// updateJournal stores the outcome of a resumed wait when the hash is in
// the journal. Unknown hashes are left alone.
func (s *runtimeState) updateJournal(hash string, outcome execution.WaitOutcome) {
	j := s.ensureJournal()
	if j == nil {
		return
	}
	rec, err := j.Get(s.ctx, hash)
	if err != nil {
		return
	}
	rec.Status = outcome.State
	rec.Error = outcome.LastError
	if err := j.Save(s.ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("tx", hash).Msg("journal update failed")
	}
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Describe commands and flags as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(desc, nil)
		},
	}
}

func (s *runtimeState) newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if long {
				_, err := fmt.Fprintln(s.runner.stdout, version.Long())
				return err
			}
			return s.emitSuccess(version.Get(), nil)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print build metadata as text")
	return cmd
}

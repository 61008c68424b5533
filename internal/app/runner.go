package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ggonzalez94/sncast/internal/config"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/execution"
	"github.com/ggonzalez94/sncast/internal/logging"
	"github.com/ggonzalez94/sncast/internal/model"
	"github.com/ggonzalez94/sncast/internal/out"
	"github.com/ggonzalez94/sncast/internal/prompt"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Interactor asks the user questions. The terminal implementation fails
// with prompt.ErrNotInteractive when stdin is not a TTY.
type Interactor interface {
	Confirm(ctx context.Context, label string) (bool, error)
	Password(ctx context.Context, label string) (string, error)
}

// DialFunc connects to a Starknet JSON-RPC node.
type DialFunc func(ctx context.Context, url string, httpClient *http.Client) (rpc.Provider, error)

type Runner struct {
	stdout   io.Writer
	stderr   io.Writer
	now      func() time.Time
	workDir  string
	dial     DialFunc
	terminal Interactor
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	wd, _ := os.Getwd()
	return &Runner{
		stdout:   stdout,
		stderr:   stderr,
		now:      time.Now,
		workDir:  wd,
		dial:     dialRPC,
		terminal: prompt.NewTerminal(),
		sleep:    execution.SleepContext,
	}
}

func dialRPC(ctx context.Context, url string, httpClient *http.Client) (rpc.Provider, error) {
	return rpc.Dial(ctx, url, httpClient)
}

type runtimeState struct {
	runner *Runner
	ctx    context.Context

	flags       config.GlobalFlags
	profileName string
	scarbPath   string
	overrides   config.ProfileOverrides

	settings  config.Settings
	effective config.EffectiveConfig
	log       zerolog.Logger

	root         *cobra.Command
	lastCommand  string
	lastWarnings []string
	lastNetwork  string

	provider rpc.Provider
	chain    *chainInfo
	journal  *execution.Journal
}

func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state := &runtimeState{runner: r, ctx: ctx, log: zerolog.Nop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	err = normalizeRunError(err)
	defer state.close()
	if err == nil {
		return 0
	}
	state.renderError(err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if c, ok := s.provider.(interface{ Close() }); ok {
		c.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Starknet transaction CLI: declare, deploy, invoke and manage accounts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			s.lastCommand = trimRootPath(cmd.CommandPath())
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			logger, err := logging.New(s.runner.stderr, settings.LogLevel)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.log = logger

			eff, err := config.ResolveProfile(config.ResolveOptions{
				Profile:   s.profileName,
				ScarbPath: s.scarbPath,
				WorkDir:   s.runner.workDir,
				Overrides: s.overrides,
			})
			if err != nil {
				return err
			}
			s.effective = eff
			s.log.Debug().Str("profile", eff.Profile).Str("url", eff.URL).Str("accounts_file", eff.AccountsFile).Msg("resolved configuration")
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.StringVarP(&s.profileName, "profile", "p", "", "Profile from Scarb.toml [tool.sncast] to use")
	pf.StringVarP(&s.scarbPath, "path-to-scarb-toml", "s", "", "Path to Scarb.toml (default: searched upwards from the working directory)")
	pf.StringVarP(&s.overrides.URL, "url", "u", "", "Starknet JSON-RPC URL")
	pf.StringVarP(&s.overrides.Account, "account", "a", "", "Account name in the accounts file, or the account file path with --keystore")
	pf.StringVarP(&s.overrides.AccountsFile, "accounts-file", "f", "", "Path to the accounts file")
	pf.StringVarP(&s.overrides.Keystore, "keystore", "k", "", "Path to an encrypted keystore")
	pf.BoolVar(&s.flags.HexFormat, "hex-format", false, "Print felts as hex (default)")
	pf.BoolVar(&s.flags.IntFormat, "int-format", false, "Print felts as decimal integers")
	pf.BoolVarP(&s.flags.JSON, "json", "j", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	pf.BoolVarP(&s.flags.Wait, "wait", "w", false, "Wait for submitted transactions to reach a final status")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to the settings file")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "RPC request timeout")
	pf.IntVar(&s.flags.Retries, "retries", -1, "Retries per read-only RPC request")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.Float64Var(&s.flags.FeeOverhead, "fee-overhead", 0, "Multiplier applied to fee estimates")
	cmd.MarkFlagsMutuallyExclusive("hex-format", "int-format")
	cmd.MarkFlagsMutuallyExclusive("json", "plain")

	cmd.AddCommand(s.newDeclareCommand())
	cmd.AddCommand(s.newDeployCommand())
	cmd.AddCommand(s.newCallCommand())
	cmd.AddCommand(s.newInvokeCommand())
	cmd.AddCommand(s.newMulticallCommand())
	cmd.AddCommand(s.newAccountCommand())
	cmd.AddCommand(s.newShowConfigCommand())
	cmd.AddCommand(s.newScriptCommand())
	cmd.AddCommand(s.newTxCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newVersionCommand())
	return cmd
}

func (s *runtimeState) emitSuccess(data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta:     s.meta(false),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) meta(partial bool) model.EnvelopeMeta {
	command := s.lastCommand
	if command == "" {
		command = version.CLIName
	}
	return model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   command,
		Profile:   s.effective.Profile,
		Network:   s.lastNetwork,
		Partial:   partial,
	}
}

// renderError writes the failure envelope to stderr. Data attached to the
// error, such as a transaction hash, is kept in the envelope.
func (s *runtimeState) renderError(err error) {
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	var data any
	if cErr, ok := clierr.As(err); ok {
		typ = clierr.TypeName(cErr.Code)
		data = cErr.Data
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
			Data:    data,
		},
		Warnings: s.lastWarnings,
		Meta:     s.meta(data != nil),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return clierr.Wrap(clierr.CodeInternal, "interrupted", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "unknown command") || strings.Contains(msg, "unknown flag") ||
		strings.Contains(msg, "required flag") || strings.Contains(msg, "accepts") ||
		strings.Contains(msg, "if any flags in the group") {
		return clierr.Wrap(clierr.CodeUsage, "invalid command usage", err)
	}
	return clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("%s failed", version.CLIName), err)
}

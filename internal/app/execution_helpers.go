package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/briandowns/spinner"
	"github.com/ggonzalez94/sncast/internal/config"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/execution"
	"github.com/ggonzalez94/sncast/internal/httpx"
	"github.com/ggonzalez94/sncast/internal/lifecycle"
	"github.com/ggonzalez94/sncast/internal/prompt"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/signer"
	"github.com/ggonzalez94/sncast/internal/starknet"
)

type chainInfo struct {
	ID      *felt.Felt
	Network string
}

func (s *runtimeState) ensureProvider() (rpc.Provider, error) {
	if s.provider != nil {
		return s.provider, nil
	}
	url := strings.TrimSpace(s.effective.URL)
	if url == "" {
		return nil, clierr.New(clierr.CodeConfig, "no RPC URL: pass --url or set url in the Scarb.toml profile")
	}
	p, err := s.runner.dial(s.ctx, url, httpx.New(s.settings.Timeout, s.settings.Retries))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("connect to %s", url), err)
	}
	s.provider = p
	return p, nil
}

// ensureChain reads the chain id once per invocation.
func (s *runtimeState) ensureChain() (*chainInfo, error) {
	if s.chain != nil {
		return s.chain, nil
	}
	p, err := s.ensureProvider()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.settings.Timeout)
	defer cancel()
	id, err := p.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	s.chain = &chainInfo{ID: id, Network: starknet.NetworkName(id)}
	s.lastNetwork = s.chain.Network
	s.log.Debug().Str("network", s.chain.Network).Msg("connected")
	return s.chain, nil
}

// networkOrChain returns override when set and otherwise asks the node.
func (s *runtimeState) networkOrChain(override string) (string, error) {
	if v := strings.TrimSpace(override); v != "" {
		s.lastNetwork = v
		return v, nil
	}
	chain, err := s.ensureChain()
	if err != nil {
		return "", err
	}
	return chain.Network, nil
}

func (s *runtimeState) passphrase() signer.PassphraseFunc {
	return signer.OncePassphrase(signer.EnvPassphrase(signer.PromptPassphrase(s.runner.terminal)))
}

func (s *runtimeState) confirm(ctx context.Context, question string) (bool, error) {
	ok, err := s.runner.terminal.Confirm(ctx, question)
	if err == prompt.ErrNotInteractive {
		return false, nil
	}
	return ok, err
}

func (s *runtimeState) openSigner() (signer.Signer, error) {
	chain, err := s.ensureChain()
	if err != nil {
		return nil, err
	}
	id, err := signer.Resolve(s.ctx, signer.ResolveRequest{
		Account:             s.effective.Account,
		AccountsFile:        s.effective.AccountsFile,
		DefaultAccountsFile: config.DefaultAccountsFilePath(),
		Keystore:            s.effective.Keystore,
		Network:             chain.Network,
		Confirm:             s.confirm,
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("account", id.Label()).Msg("resolved signer")
	return signer.Open(id, s.passphrase())
}

// ensureJournal opens the transaction journal. Failure to open it is logged
// and submission continues without one.
func (s *runtimeState) ensureJournal() *execution.Journal {
	if s.journal != nil {
		return s.journal
	}
	j, err := execution.OpenJournal(s.settings.JournalPath, s.settings.JournalLockPath)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.settings.JournalPath).Msg("transaction journal unavailable")
		return nil
	}
	s.journal = j
	return j
}

func (s *runtimeState) newBuilder(p rpc.Provider) *execution.Builder {
	return execution.NewBuilder(p, s.settings.FeeOverhead, s.log)
}

func (s *runtimeState) newOrchestrator(p rpc.Provider, network string, progress *waitProgress) *execution.Orchestrator {
	o := &execution.Orchestrator{
		Provider: p,
		Network:  network,
		Wait:     s.settings.WaitPolicy,
		Sleep:    s.runner.sleep,
		Log:      s.log,
	}
	if j := s.ensureJournal(); j != nil {
		o.Journal = j
	}
	if progress != nil {
		o.OnPoll = progress.update
	}
	return o
}

func (s *runtimeState) newManager(p rpc.Provider, network string, progress *waitProgress) *lifecycle.Manager {
	return &lifecycle.Manager{
		Provider:     p,
		Builder:      s.newBuilder(p),
		Orchestrator: s.newOrchestrator(p, network, progress),
		Log:          s.log,
	}
}

// waitProgress shows a spinner on stderr while the wait loop polls. It is
// a no-op unless stderr is a terminal.
type waitProgress struct {
	sp *spinner.Spinner
}

func (s *runtimeState) startProgress(enabled bool) *waitProgress {
	f, ok := s.runner.stderr.(*os.File)
	if !enabled || !ok || !prompt.IsTerminal(f) {
		return &waitProgress{}
	}
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(f))
	sp.Suffix = " waiting for transaction"
	return &waitProgress{sp: sp}
}

func (w *waitProgress) update(poll int, state execution.WaitState) {
	if w == nil || w.sp == nil {
		return
	}
	w.sp.Lock()
	w.sp.Suffix = fmt.Sprintf(" waiting for transaction (poll %d, %s)", poll, state)
	w.sp.Unlock()
	if !w.sp.Active() {
		w.sp.Start()
	}
}

func (w *waitProgress) stop() {
	if w == nil || w.sp == nil {
		return
	}
	w.sp.Stop()
}

func parseFelt(flag, raw string) (*felt.Felt, error) {
	v, err := starknet.FeltFromString(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid --%s %q", flag, raw), err)
	}
	return v, nil
}

func parseOptionalFelt(flag, raw string) (*felt.Felt, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseFelt(flag, raw)
}

func parseFelts(flag string, raw []string) ([]*felt.Felt, error) {
	values, err := starknet.FeltsFromStrings(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid --%s", flag), err)
	}
	return values, nil
}

// submission renders a submission result. Warnings gathered before the
// error are kept on the failure envelope too.
func (s *runtimeState) submission(res execution.SubmissionResult, err error) error {
	s.lastWarnings = res.Warnings
	if err != nil {
		return err
	}
	return s.emitSuccess(res, res.Warnings)
}

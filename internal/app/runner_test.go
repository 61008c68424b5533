package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/accounts"
	"github.com/ggonzalez94/sncast/internal/execution"
	"github.com/ggonzalez94/sncast/internal/prompt"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/rpc/rpctest"
	"github.com/ggonzalez94/sncast/internal/starknet"
)

type fakeTerminal struct {
	confirm bool
	err     error
	asked   []string
}

func (f *fakeTerminal) Confirm(_ context.Context, label string) (bool, error) {
	f.asked = append(f.asked, label)
	return f.confirm, f.err
}

func (f *fakeTerminal) Password(context.Context, string) (string, error) {
	return "", prompt.ErrNotInteractive
}

type harness struct {
	runner   *Runner
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	provider *rpctest.Provider
	terminal *fakeTerminal
	dir      string
	dials    []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("SNCAST_KEYSTORE_PASSWORD", "")

	h := &harness{
		stdout:   &bytes.Buffer{},
		stderr:   &bytes.Buffer{},
		provider: rpctest.New(),
		terminal: &fakeTerminal{err: prompt.ErrNotInteractive},
		dir:      dir,
	}
	r := NewRunnerWithWriters(h.stdout, h.stderr)
	r.workDir = dir
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	r.terminal = h.terminal
	r.sleep = func(context.Context, time.Duration) error { return nil }
	r.dial = func(_ context.Context, url string, _ *http.Client) (rpc.Provider, error) {
		h.dials = append(h.dials, url)
		return h.provider, nil
	}
	h.runner = r
	return h
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.runner.Run(args)
}

func decodeEnvelope(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse envelope: %v output=%s", err, buf.String())
	}
	return env
}

// seedAccount stores a deployed account called dev on Sepolia.
func seedAccount(t *testing.T, dir string) string {
	t.Helper()
	key, err := starknet.NewPrivateKey(starknet.FeltFromUint64(0x1234))
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "accounts.json")
	err = accounts.Open(file).Insert(context.Background(), "alpha-sepolia", "dev", accounts.Entry{
		PrivateKey: key.Felt(),
		PublicKey:  key.PublicKey(),
		Address:    starknet.FeltFromUint64(0xacc),
		Deployed:   true,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return file
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("sncast account create"); got != "account create" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	h := newHarness(t)
	if code := h.run("version"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	env := decodeEnvelope(t, h.stdout)
	data := env["data"].(map[string]any)
	if env["success"] != true || data["name"] != "sncast" {
		t.Fatalf("unexpected envelope: %v", env)
	}
	meta := env["meta"].(map[string]any)
	if meta["command"] != "version" || meta["request_id"] == "" {
		t.Fatalf("unexpected meta: %v", meta)
	}
	if len(h.dials) != 0 {
		t.Fatalf("version must not connect to a node")
	}
}

func TestShowConfigUsesProfile(t *testing.T) {
	h := newHarness(t)
	manifest := "[tool.sncast]\nurl = \"http://default:5050\"\n\n[tool.sncast.dev]\nurl = \"http://dev:5050\"\naccount = \"alice\"\naccounts-file = \"${ACCOUNTS}\"\n"
	if err := os.WriteFile(filepath.Join(h.dir, "Scarb.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.dir, ".env"), []byte("ACCOUNTS=/tmp/dev-accounts.json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if code := h.run("--profile", "dev", "--account", "bob", "show-config"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	data := decodeEnvelope(t, h.stdout)["data"].(map[string]any)
	if data["url"] != "http://dev:5050" || data["account"] != "bob" || data["accounts_file"] != "/tmp/dev-accounts.json" {
		t.Fatalf("unexpected config: %v", data)
	}
	if data["network"] != "alpha-sepolia" || data["profile"] != "dev" {
		t.Fatalf("expected the connected network: %v", data)
	}

	if code := h.run("--profile", "missing", "show-config"); code != 3 {
		t.Fatalf("expected config error for an unknown profile, got %d", code)
	}
}

func TestInvokeSubmitsAndJournals(t *testing.T) {
	h := newHarness(t)
	file := seedAccount(t, h.dir)

	code := h.run("--url", "http://node", "--accounts-file", file, "--account", "dev",
		"invoke", "--contract-address", "0x99", "--function", "transfer", "--calldata", "0x1,2")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	if len(h.provider.Invokes) != 1 {
		t.Fatalf("expected one invoke, got %d", len(h.provider.Invokes))
	}
	sent := h.provider.Invokes[0]
	if !sent.SenderAddress.Equal(starknet.FeltFromUint64(0xacc)) || !sent.MaxFee.Equal(starknet.FeltFromUint64(1500)) {
		t.Fatalf("unexpected transaction: %+v", sent)
	}
	data := decodeEnvelope(t, h.stdout)["data"].(map[string]any)
	hash, _ := data["transaction_hash"].(string)
	if hash == "" || data["kind"] != "invoke" {
		t.Fatalf("unexpected data: %v", data)
	}

	if code := h.run("tx", "list"); code != 0 {
		t.Fatalf("tx list failed: %d %s", code, h.stderr.String())
	}
	records := decodeEnvelope(t, h.stdout)["data"].([]any)
	if len(records) != 1 || records[0].(map[string]any)["transaction_hash"] != hash {
		t.Fatalf("expected the submitted hash in the journal, got %v", records)
	}
}

func TestInvokeWaitTimeoutIsNotAnError(t *testing.T) {
	h := newHarness(t)
	file := seedAccount(t, h.dir)
	h.provider.Statuses = []rpctest.StatusStep{rpctest.Pending()}

	code := h.run("--url", "http://node", "--accounts-file", file, "--account", "dev", "--wait",
		"invoke", "--contract-address", "0x99", "--function", "ping")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	env := decodeEnvelope(t, h.stdout)
	data := env["data"].(map[string]any)
	if data["status"] != string(execution.StateTimedOut) || data["transaction_hash"] == nil {
		t.Fatalf("unexpected data: %v", data)
	}
	warnings, _ := env["warnings"].([]any)
	found := false
	for _, w := range warnings {
		found = found || strings.HasPrefix(w.(string), execution.WarnWaitTimedOut)
	}
	if !found {
		t.Fatalf("expected a wait timeout warning, got %v", warnings)
	}
}

func TestInvokeRejectedKeepsHash(t *testing.T) {
	h := newHarness(t)
	file := seedAccount(t, h.dir)
	h.provider.Statuses = []rpctest.StatusStep{rpctest.Reverted()}

	code := h.run("--url", "http://node", "--accounts-file", file, "--account", "dev", "--wait",
		"invoke", "--contract-address", "0x99", "--function", "ping")
	if code != 7 {
		t.Fatalf("expected exit 7, got %d stderr=%s", code, h.stderr.String())
	}
	if h.stdout.Len() != 0 {
		t.Fatalf("failures must not write to stdout: %s", h.stdout.String())
	}
	env := decodeEnvelope(t, h.stderr)
	body := env["error"].(map[string]any)
	data, _ := body["data"].(map[string]any)
	if env["success"] != false || body["type"] != "transaction_rejected" || data["transaction_hash"] == nil {
		t.Fatalf("unexpected error envelope: %v", env)
	}
}

func TestCallIntFormat(t *testing.T) {
	h := newHarness(t)
	h.provider.CallFunc = func(call rpc.FunctionCall) ([]*felt.Felt, error) {
		if !call.EntryPointSelector.Equal(starknet.Selector("get_balance")) {
			t.Errorf("unexpected selector %s", call.EntryPointSelector)
		}
		return []*felt.Felt{starknet.FeltFromUint64(255)}, nil
	}

	if code := h.run("--url", "http://node", "--int-format", "call", "--contract-address", "0x10", "--function", "get_balance"); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, h.stderr.String())
	}
	data := decodeEnvelope(t, h.stdout)["data"].(map[string]any)
	resp := data["response"].([]any)
	if len(resp) != 1 || resp[0] != "255" || data["contract_address"] != "16" {
		t.Fatalf("expected decimal felts, got %v", data)
	}
}

func TestExclusiveFormatFlags(t *testing.T) {
	h := newHarness(t)
	if code := h.run("--hex-format", "--int-format", "version"); code != 2 {
		t.Fatalf("expected usage error, got %d stderr=%s", code, h.stderr.String())
	}
	if code := h.run("--json", "--plain", "version"); code != 2 {
		t.Fatalf("expected usage error, got %d", code)
	}
}

func TestMissingURLIsConfigError(t *testing.T) {
	h := newHarness(t)
	code := h.run("call", "--contract-address", "0x1", "--function", "f")
	if code != 3 {
		t.Fatalf("expected exit 3, got %d stderr=%s", code, h.stderr.String())
	}
	body := decodeEnvelope(t, h.stderr)["error"].(map[string]any)
	if body["type"] != "config_error" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestMulticallNewAndRun(t *testing.T) {
	h := newHarness(t)
	file := seedAccount(t, h.dir)
	path := filepath.Join(h.dir, "batch.toml")

	if code := h.run("multicall", "new", path); code != 0 {
		t.Fatalf("multicall new failed: %d %s", code, h.stderr.String())
	}
	if code := h.run("multicall", "new", path); code != 2 {
		t.Fatalf("expected refusal to overwrite, got %d", code)
	}
	if code := h.run("multicall", "new", path, "--overwrite"); code != 0 {
		t.Fatalf("--overwrite must replace the file, got %d", code)
	}

	code := h.run("--url", "http://node", "--accounts-file", file, "--account", "dev", "multicall", "run", "--path", path)
	if code != 0 {
		t.Fatalf("multicall run failed: %d %s", code, h.stderr.String())
	}
	results := decodeEnvelope(t, h.stdout)["data"].([]any)
	if len(results) != 2 || len(h.provider.Invokes) != 2 {
		t.Fatalf("expected two submitted entries, got %d results and %d invokes", len(results), len(h.provider.Invokes))
	}
}

func TestAccountCreateListDelete(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(h.dir, "accounts.json")

	code := h.run("--accounts-file", file, "account", "create", "--name", "dev", "--network", "alpha-sepolia", "--salt", "0x10", "--add-profile", "dev")
	if code != 0 {
		t.Fatalf("account create failed: %d %s", code, h.stderr.String())
	}
	created := decodeEnvelope(t, h.stdout)["data"].(map[string]any)
	if created["deployed"] != false || created["salt"] != "0x10" || created["added_profile"] != "dev" {
		t.Fatalf("unexpected account: %v", created)
	}
	if len(h.dials) != 0 {
		t.Fatalf("account create with --network must not connect")
	}
	manifest, err := os.ReadFile(filepath.Join(h.dir, "Scarb.toml"))
	if err != nil || !strings.Contains(string(manifest), "[tool.sncast.dev]") {
		t.Fatalf("expected a profile in Scarb.toml, got %q (%v)", manifest, err)
	}

	if code := h.run("--accounts-file", file, "account", "list", "--network", "alpha-sepolia"); code != 0 {
		t.Fatalf("account list failed: %d %s", code, h.stderr.String())
	}
	list := decodeEnvelope(t, h.stdout)["data"].(map[string]any)
	if entries := list["accounts"].([]any); len(entries) != 1 || entries[0].(map[string]any)["address"] != created["address"] {
		t.Fatalf("unexpected list: %v", list)
	}
	if strings.Contains(h.stdout.String(), "private_key") {
		t.Fatalf("account list must not print private keys")
	}

	if code := h.run("--accounts-file", file, "account", "delete", "--name", "dev", "--network", "alpha-sepolia"); code != 2 {
		t.Fatalf("delete without a terminal or --yes must fail, got %d", code)
	}
	if code := h.run("--accounts-file", file, "account", "delete", "--name", "dev", "--network", "alpha-sepolia", "--yes", "--delete-profile", "dev"); code != 0 {
		t.Fatalf("account delete failed: %d %s", code, h.stderr.String())
	}
	names, err := accounts.Open(file).Names("alpha-sepolia")
	if err != nil || len(names) != 0 {
		t.Fatalf("expected no accounts left, got %v (%v)", names, err)
	}
	manifest, _ = os.ReadFile(filepath.Join(h.dir, "Scarb.toml"))
	if strings.Contains(string(manifest), "[tool.sncast.dev]") {
		t.Fatalf("expected the profile to be removed, got %q", manifest)
	}
}

func TestAccountDeleteConfirmed(t *testing.T) {
	h := newHarness(t)
	file := seedAccount(t, h.dir)
	h.terminal.err = nil

	h.terminal.confirm = false
	if code := h.run("--accounts-file", file, "account", "delete", "--name", "dev", "--network", "alpha-sepolia"); code != 2 {
		t.Fatalf("declined delete must fail, got %d", code)
	}
	h.terminal.confirm = true
	if code := h.run("--accounts-file", file, "account", "delete", "--name", "dev", "--network", "alpha-sepolia"); code != 0 {
		t.Fatalf("confirmed delete failed: %d %s", code, h.stderr.String())
	}
	if len(h.terminal.asked) != 2 {
		t.Fatalf("expected two confirmations, got %v", h.terminal.asked)
	}
}

func TestScriptRunPassesProfile(t *testing.T) {
	h := newHarness(t)
	code := h.run("--url", "http://node:5050", "script", "run", "sh", "-c", "echo \"$SNCAST_URL\"")
	if code != 0 {
		t.Fatalf("script run failed: %d %s", code, h.stderr.String())
	}
	data := decodeEnvelope(t, h.stdout)["data"].(map[string]any)
	if strings.TrimSpace(data["stdout"].(string)) != "http://node:5050" {
		t.Fatalf("unexpected script output: %v", data)
	}

	if code := h.run("script", "run", "sh", "-c", "exit 3"); code != 1 {
		t.Fatalf("expected failure exit code, got %d", code)
	}
	body := decodeEnvelope(t, h.stderr)["error"].(map[string]any)
	if body["data"].(map[string]any)["exit_code"] != float64(3) {
		t.Fatalf("expected the script exit code in the error data: %v", body)
	}
}

func TestTxWaitResumes(t *testing.T) {
	h := newHarness(t)
	h.provider.Statuses = []rpctest.StatusStep{rpctest.Pending(), rpctest.Accepted()}
	if code := h.run("--url", "http://node", "tx", "wait", "0xabc"); code != 0 {
		t.Fatalf("tx wait failed: %d %s", code, h.stderr.String())
	}
	data := decodeEnvelope(t, h.stdout)["data"].(map[string]any)
	wait := data["wait"].(map[string]any)
	if wait["state"] != string(execution.StateAccepted) || wait["polls"] != float64(2) {
		t.Fatalf("unexpected wait outcome: %v", wait)
	}
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	h := newHarness(t)
	if code := h.run("teleport"); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if env := decodeEnvelope(t, h.stderr); env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
}

func TestSchemaDescribesCommand(t *testing.T) {
	h := newHarness(t)
	if code := h.run("schema", "account", "create"); code != 0 {
		t.Fatalf("schema failed: %d %s", code, h.stderr.String())
	}
	data := decodeEnvelope(t, h.stdout)["data"].(map[string]any)
	if data["path"] != "sncast account create" {
		t.Fatalf("unexpected schema: %v", data)
	}
	if code := h.run("schema", "nope"); code != 2 {
		t.Fatalf("expected usage error, got %d", code)
	}
}

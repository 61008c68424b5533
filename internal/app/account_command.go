package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ggonzalez94/sncast/internal/accounts"
	"github.com/ggonzalez94/sncast/internal/config"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/execution"
	"github.com/ggonzalez94/sncast/internal/lifecycle"
	"github.com/ggonzalez94/sncast/internal/prompt"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type accountResult struct {
	lifecycle.Account
	AddedProfile   string `json:"added_profile,omitempty"`
	RemovedProfile string `json:"removed_profile,omitempty"`
}

type accountDeployResult struct {
	Account     lifecycle.Account          `json:"account"`
	Transaction execution.SubmissionResult `json:"transaction"`
}

type accountListEntry struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
	ClassHash string `json:"class_hash,omitempty"`
	Deployed  bool   `json:"deployed"`
}

type accountList struct {
	Network      string             `json:"network"`
	AccountsFile string             `json:"accounts_file"`
	Accounts     []accountListEntry `json:"accounts"`
}

func (s *runtimeState) newAccountCommand() *cobra.Command {
	root := &cobra.Command{Use: "account", Short: "Create, import, deploy and delete accounts"}
	root.AddCommand(s.newAccountCreateCommand())
	root.AddCommand(s.newAccountAddCommand())
	root.AddCommand(s.newAccountDeployCommand())
	root.AddCommand(s.newAccountDeleteCommand())
	root.AddCommand(s.newAccountListCommand())
	return root
}

// accountTarget maps the effective profile to an account location. With a
// keystore, --account is the path of the account file.
func (s *runtimeState) accountTarget() lifecycle.Target {
	if strings.TrimSpace(s.effective.Keystore) != "" {
		return lifecycle.Target{Keystore: s.effective.Keystore, Descriptor: s.effective.Account}
	}
	return lifecycle.Target{AccountsFile: s.effective.AccountsFile}
}

func (s *runtimeState) accountName(flag string) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	return strings.TrimSpace(s.effective.Account)
}

func (s *runtimeState) manifestPath() string {
	if s.effective.ScarbPath != "" {
		return s.effective.ScarbPath
	}
	return filepath.Join(s.runner.workDir, "Scarb.toml")
}

// addProfile writes a profile that selects the new account.
func (s *runtimeState) addProfile(profile, account string) error {
	if profile == "" {
		return nil
	}
	p := config.Profile{URL: s.effective.URL, Account: account, Keystore: s.effective.Keystore}
	if p.Keystore == "" {
		p.AccountsFile = s.effective.AccountsFile
	}
	return config.AddProfile(s.manifestPath(), profile, p)
}

func (s *runtimeState) newAccountCreateCommand() *cobra.Command {
	var name, network, classHash, salt, profile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a key and store an undeployed account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hash, err := parseOptionalFelt("class-hash", classHash)
			if err != nil {
				return err
			}
			saltFelt, err := parseOptionalFelt("salt", salt)
			if err != nil {
				return err
			}
			target := s.accountTarget()
			req := lifecycle.CreateRequest{Target: target, ClassHash: hash, Salt: saltFelt}
			if target.Keystore != "" {
				req.Passphrase = s.passphrase()
			} else {
				if req.Name = s.accountName(name); req.Name == "" {
					return clierr.New(clierr.CodeUsage, "account create requires --name")
				}
				if req.Network, err = s.networkOrChain(network); err != nil {
					return err
				}
			}

			m := &lifecycle.Manager{Scrypt: accounts.StandardScrypt, Log: s.log}
			acct, err := m.Create(s.ctx, req)
			if err != nil {
				return err
			}
			ref := acct.Name
			if target.Keystore != "" {
				ref = acct.Path
			}
			if err := s.addProfile(profile, ref); err != nil {
				return err
			}
			return s.emitSuccess(accountResult{Account: acct, AddedProfile: profile}, nil)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Account name in the accounts file (defaults to --account)")
	cmd.Flags().StringVar(&network, "network", "", "Accounts file network key; read from the node when omitted")
	cmd.Flags().StringVar(&classHash, "class-hash", "", "Account class hash (default: OpenZeppelin account)")
	cmd.Flags().StringVar(&salt, "salt", "", "Address salt; random when omitted")
	cmd.Flags().StringVar(&profile, "add-profile", "", "Write a Scarb.toml profile with this name for the account")
	return cmd
}

func (s *runtimeState) newAccountAddCommand() *cobra.Command {
	var name, address, privateKey, publicKey, classHash, salt, profile string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Import an existing account into the accounts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := parseFelt("address", address)
			if err != nil {
				return err
			}
			key, err := parseFelt("private-key", privateKey)
			if err != nil {
				return clierr.New(clierr.CodeUsage, "invalid --private-key")
			}
			pub, err := parseOptionalFelt("public-key", publicKey)
			if err != nil {
				return err
			}
			hash, err := parseOptionalFelt("class-hash", classHash)
			if err != nil {
				return err
			}
			saltFelt, err := parseOptionalFelt("salt", salt)
			if err != nil {
				return err
			}
			p, err := s.ensureProvider()
			if err != nil {
				return err
			}
			chain, err := s.ensureChain()
			if err != nil {
				return err
			}
			m := &lifecycle.Manager{Provider: p, Log: s.log}
			acct, err := m.Add(s.ctx, lifecycle.AddRequest{
				Name:         s.accountName(name),
				Network:      chain.Network,
				AccountsFile: s.effective.AccountsFile,
				Address:      addr,
				PrivateKey:   key,
				PublicKey:    pub,
				ClassHash:    hash,
				Salt:         saltFelt,
			})
			if err != nil {
				return err
			}
			if err := s.addProfile(profile, acct.Name); err != nil {
				return err
			}
			return s.emitSuccess(accountResult{Account: acct, AddedProfile: profile}, nil)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Account name in the accounts file (defaults to --account)")
	cmd.Flags().StringVar(&address, "address", "", "Account address")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "Account private key")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Account public key; checked against the private key")
	cmd.Flags().StringVar(&classHash, "class-hash", "", "Account class hash")
	cmd.Flags().StringVar(&salt, "salt", "", "Salt the account was deployed with")
	cmd.Flags().StringVar(&profile, "add-profile", "", "Write a Scarb.toml profile with this name for the account")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("private-key")
	return cmd
}

func (s *runtimeState) newAccountDeployCommand() *cobra.Command {
	var name, maxFee string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a created account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fee, err := parseOptionalFelt("max-fee", maxFee)
			if err != nil {
				return err
			}
			p, err := s.ensureProvider()
			if err != nil {
				return err
			}
			chain, err := s.ensureChain()
			if err != nil {
				return err
			}
			target := s.accountTarget()
			req := lifecycle.DeployRequest{Network: chain.Network, Target: target, MaxFee: fee, Wait: s.settings.Wait}
			if target.Keystore != "" {
				req.Passphrase = s.passphrase()
			} else if req.Name = s.accountName(name); req.Name == "" {
				return clierr.New(clierr.CodeUsage, "account deploy requires --name")
			}

			progress := s.startProgress(req.Wait)
			defer progress.stop()
			acct, res, err := s.newManager(p, chain.Network, progress).Deploy(s.ctx, req)
			progress.stop()
			s.lastWarnings = res.Warnings
			if err != nil {
				return err
			}
			return s.emitSuccess(accountDeployResult{Account: acct, Transaction: res}, res.Warnings)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Account name in the accounts file (defaults to --account)")
	cmd.Flags().StringVarP(&maxFee, "max-fee", "m", "", "Maximum fee; estimated when omitted")
	return cmd
}

func (s *runtimeState) newAccountDeleteCommand() *cobra.Command {
	var name, network, profile string
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove an account from the accounts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accountName := s.accountName(name)
			if accountName == "" {
				return clierr.New(clierr.CodeUsage, "account delete requires --name")
			}
			net, err := s.networkOrChain(network)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := s.runner.terminal.Confirm(s.ctx, fmt.Sprintf("Delete account %q on %s from %s", accountName, net, s.effective.AccountsFile))
				if errors.Is(err, prompt.ErrNotInteractive) {
					return clierr.New(clierr.CodeUsage, "account delete needs confirmation: pass --yes when not running in a terminal")
				}
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "confirm delete", err)
				}
				if !ok {
					return clierr.New(clierr.CodeUsage, "account delete cancelled")
				}
			}
			m := &lifecycle.Manager{Log: s.log}
			acct, err := m.Delete(s.ctx, lifecycle.DeleteRequest{Name: accountName, Network: net, AccountsFile: s.effective.AccountsFile})
			if err != nil {
				return err
			}
			if profile != "" {
				if err := config.RemoveProfile(s.manifestPath(), profile); err != nil {
					return err
				}
			}
			return s.emitSuccess(accountResult{Account: acct, RemovedProfile: profile}, nil)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Account name in the accounts file (defaults to --account)")
	cmd.Flags().StringVar(&network, "network", "", "Accounts file network key; read from the node when omitted")
	cmd.Flags().StringVar(&profile, "delete-profile", "", "Also remove this profile from Scarb.toml")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func (s *runtimeState) newAccountListCommand() *cobra.Command {
	var network string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts stored for a network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			net, err := s.networkOrChain(network)
			if err != nil {
				return err
			}
			file := accounts.Open(s.effective.AccountsFile)
			stored, err := file.Load(net)
			if err != nil {
				return clierr.Wrap(clierr.CodePersistence, "read accounts file", err)
			}
			names := lo.Keys(stored)
			sort.Strings(names)
			entries := make([]accountListEntry, 0, len(names))
			for _, n := range names {
				e := stored[n]
				entries = append(entries, accountListEntry{
					Name:      n,
					Address:   e.Address.String(),
					PublicKey: e.PublicKey.String(),
					ClassHash: lo.TernaryF(e.ClassHash != nil, func() string { return e.ClassHash.String() }, func() string { return "" }),
					Deployed:  e.Deployed,
				})
			}
			return s.emitSuccess(accountList{Network: net, AccountsFile: s.effective.AccountsFile, Accounts: entries}, nil)
		},
	}
	cmd.Flags().StringVar(&network, "network", "", "Accounts file network key; read from the node when omitted")
	return cmd
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	ScarbManifest = "Scarb.toml"

	DefaultAccountsFile = "~/.starknet_accounts/starknet_open_zeppelin_accounts.json"
)

var profileNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Profile is one [tool.sncast] table of Scarb.toml.
type Profile struct {
	URL          string `toml:"url" json:"url,omitempty"`
	Account      string `toml:"account" json:"account,omitempty"`
	AccountsFile string `toml:"accounts-file" json:"accounts_file,omitempty"`
	Keystore     string `toml:"keystore" json:"keystore,omitempty"`
}

// profileTable is the encoded form of a Profile; unset keys are left out.
type profileTable struct {
	URL          string `toml:"url,omitempty"`
	Account      string `toml:"account,omitempty"`
	AccountsFile string `toml:"accounts-file,omitempty"`
	Keystore     string `toml:"keystore,omitempty"`
}

// ProfileOverrides are values given on the command line. Empty means unset.
type ProfileOverrides Profile

type ResolveOptions struct {
	// Profile selects [tool.sncast.<name>]. Empty selects the unnamed profile.
	Profile string
	// ScarbPath points at Scarb.toml. Empty walks upward from WorkDir.
	ScarbPath string
	WorkDir   string
	Overrides ProfileOverrides
}

// EffectiveConfig is the merged profile of one invocation.
type EffectiveConfig struct {
	Profile      string `json:"profile,omitempty"`
	ScarbPath    string `json:"scarb_path,omitempty"`
	URL          string `json:"url,omitempty"`
	Account      string `json:"account,omitempty"`
	AccountsFile string `json:"accounts_file"`
	Keystore     string `json:"keystore,omitempty"`
}

// ResolveProfile merges, per field, command line > profile > built-in
// default. The accounts file path is always tilde-expanded.
func ResolveProfile(opts ResolveOptions) (EffectiveConfig, error) {
	manifest, err := locateManifest(opts.ScarbPath, opts.WorkDir)
	if err != nil {
		return EffectiveConfig{}, err
	}

	var profile Profile
	if manifest != "" {
		profiles, err := LoadProfiles(manifest)
		if err != nil {
			return EffectiveConfig{}, err
		}
		p, ok := profiles[opts.Profile]
		if !ok && opts.Profile != "" {
			return EffectiveConfig{}, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("profile %q not found in %s", opts.Profile, manifest), clierr.ErrProfileNotFound)
		}
		profile = p
	} else if opts.Profile != "" {
		return EffectiveConfig{}, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("profile %q requested but no %s was found", opts.Profile, ScarbManifest), clierr.ErrProfileNotFound)
	}

	o := opts.Overrides
	cfg := EffectiveConfig{
		Profile:      opts.Profile,
		ScarbPath:    manifest,
		URL:          lo.CoalesceOrEmpty(o.URL, profile.URL),
		Account:      lo.CoalesceOrEmpty(o.Account, profile.Account),
		AccountsFile: lo.CoalesceOrEmpty(o.AccountsFile, profile.AccountsFile, DefaultAccountsFile),
		Keystore:     lo.CoalesceOrEmpty(o.Keystore, profile.Keystore),
	}

	if cfg.AccountsFile, err = ExpandHome(cfg.AccountsFile); err != nil {
		return EffectiveConfig{}, err
	}
	if cfg.Keystore != "" {
		if cfg.Keystore, err = ExpandHome(cfg.Keystore); err != nil {
			return EffectiveConfig{}, err
		}
		// With a keystore the account names a descriptor file.
		if cfg.Account, err = ExpandHome(cfg.Account); err != nil {
			return EffectiveConfig{}, err
		}
	}
	return cfg, nil
}

// DefaultAccountsFilePath is DefaultAccountsFile with the home directory expanded.
func DefaultAccountsFilePath() string {
	p, err := ExpandHome(DefaultAccountsFile)
	if err != nil {
		return DefaultAccountsFile
	}
	return p
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", clierr.Wrap(clierr.CodeConfig, "resolve home directory", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func locateManifest(explicit, workDir string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("%s not found at %s", ScarbManifest, explicit), err)
		}
		return explicit, nil
	}
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", clierr.Wrap(clierr.CodeConfig, "resolve working directory", err)
		}
		workDir = wd
	}
	return FindManifest(workDir), nil
}

// FindManifest walks up from dir and returns the first Scarb.toml, or "".
func FindManifest(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ScarbManifest)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type scarbManifest struct {
	Tool struct {
		Sncast map[string]any `toml:"sncast"`
	} `toml:"tool"`
}

// LoadProfiles reads every profile of a Scarb.toml. The unnamed profile is
// stored under "". Values may reference ${VAR} from the environment or from
// a .env file next to the manifest.
func LoadProfiles(manifest string) (map[string]Profile, error) {
	var raw scarbManifest
	if _, err := toml.DecodeFile(manifest, &raw); err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("parse %s", manifest), err)
	}
	env, err := readDotEnv(filepath.Join(filepath.Dir(manifest), ".env"))
	if err != nil {
		return nil, err
	}
	expand := func(v string) string {
		return os.Expand(v, func(key string) string {
			if val, ok := os.LookupEnv(key); ok {
				return val
			}
			return env[key]
		})
	}

	profiles := map[string]Profile{}
	base := map[string]any{}
	for key, value := range raw.Tool.Sncast {
		if table, ok := value.(map[string]any); ok {
			p, err := profileFromTable(key, table, expand)
			if err != nil {
				return nil, err
			}
			profiles[key] = p
			continue
		}
		base[key] = value
	}
	p, err := profileFromTable("", base, expand)
	if err != nil {
		return nil, err
	}
	profiles[""] = p
	return profiles, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return map[string]string{}, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("parse %s", path), err)
	}
	return env, nil
}

func profileFromTable(name string, table map[string]any, expand func(string) string) (Profile, error) {
	var p Profile
	label := "[tool.sncast]"
	if name != "" {
		label = fmt.Sprintf("[tool.sncast.%s]", name)
	}
	for key, value := range table {
		s, ok := value.(string)
		if !ok {
			return Profile{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("%s: %s must be a string", label, key))
		}
		s = expand(s)
		switch key {
		case "url":
			p.URL = s
		case "account":
			p.Account = s
		case "accounts-file":
			p.AccountsFile = s
		case "keystore":
			p.Keystore = s
		default:
			return Profile{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("%s: unknown key %q", label, key))
		}
	}
	return p, nil
}

// ProfileNames lists named profiles of manifest in order.
func ProfileNames(manifest string) ([]string, error) {
	profiles, err := LoadProfiles(manifest)
	if err != nil {
		return nil, err
	}
	names := lo.Filter(lo.Keys(profiles), func(n string, _ int) bool { return n != "" })
	sort.Strings(names)
	return names, nil
}

// AddProfile appends a [tool.sncast.<name>] table to manifest, creating the
// file when it does not exist.
func AddProfile(manifest, name string, p Profile) error {
	if !profileNamePattern.MatchString(name) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid profile name %q", name))
	}
	existing, err := os.ReadFile(manifest)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("read %s", manifest), err)
	}
	if len(existing) > 0 {
		profiles, err := LoadProfiles(manifest)
		if err != nil {
			return err
		}
		if _, ok := profiles[name]; ok {
			return clierr.New(clierr.CodeConfig, fmt.Sprintf("profile %q already exists in %s", name, manifest))
		}
	}

	var b strings.Builder
	b.Write(existing)
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		b.WriteString("\n")
	}
	if len(existing) > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "[tool.sncast.%s]\n", name)
	if err := toml.NewEncoder(&b).Encode(profileTable(p)); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode profile", err)
	}
	if err := os.WriteFile(manifest, []byte(b.String()), 0o644); err != nil {
		return clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("write %s", manifest), err)
	}
	return nil
}

// RemoveProfile deletes the [tool.sncast.<name>] table and leaves every
// other line of manifest untouched.
func RemoveProfile(manifest, name string) error {
	buf, err := os.ReadFile(manifest)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("read %s", manifest), err)
	}
	header := fmt.Sprintf("[tool.sncast.%s]", name)
	lines := strings.SplitAfter(string(buf), "\n")
	out := make([]string, 0, len(lines))
	skipping, found := false, false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			skipping = trimmed == header
			found = found || skipping
		}
		if !skipping {
			out = append(out, line)
		}
	}
	if !found {
		return clierr.Wrap(clierr.CodeConfig, fmt.Sprintf("profile %q not found in %s", name, manifest), clierr.ErrProfileNotFound)
	}
	result := strings.TrimRight(strings.Join(out, ""), "\n") + "\n"
	if err := os.WriteFile(manifest, []byte(result), 0o644); err != nil {
		return clierr.Wrap(clierr.CodePersistence, fmt.Sprintf("write %s", manifest), err)
	}
	return nil
}

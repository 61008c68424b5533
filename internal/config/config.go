package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ValueFormatHex = "hex"
	ValueFormatInt = "int"
)

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	HexFormat   bool
	IntFormat   bool
	Wait        bool
	Timeout     string
	Retries     int
	LogLevel    string
	FeeOverhead float64
}

// WaitPolicy bounds the wait loop.
type WaitPolicy struct {
	PollInterval  time.Duration
	MaxPolls      int
	MaxPollErrors int
}

type Settings struct {
	OutputMode      string
	ValueFormat     string
	Wait            bool
	Timeout         time.Duration
	Retries         int
	LogLevel        string
	FeeOverhead     float64
	WaitPolicy      WaitPolicy
	JournalPath     string
	JournalLockPath string
}

type fileConfig struct {
	Output      string `yaml:"output"`
	ValueFormat string `yaml:"value_format"`
	Timeout     string `yaml:"timeout"`
	Retries     *int   `yaml:"retries"`
	LogLevel    string `yaml:"log_level"`
	Fee         struct {
		Overhead *float64 `yaml:"overhead"`
	} `yaml:"fee"`
	Wait struct {
		Enabled       *bool  `yaml:"enabled"`
		PollInterval  string `yaml:"poll_interval"`
		MaxPolls      *int   `yaml:"max_polls"`
		MaxPollErrors *int   `yaml:"max_poll_errors"`
	} `yaml:"wait"`
	Journal struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.FeeOverhead < 1 {
		return Settings{}, fmt.Errorf("fee overhead must be at least 1, got %v", settings.FeeOverhead)
	}
	if settings.WaitPolicy.PollInterval <= 0 {
		settings.WaitPolicy.PollInterval = 5 * time.Second
	}
	if settings.WaitPolicy.MaxPolls <= 0 {
		settings.WaitPolicy.MaxPolls = 60
	}
	if settings.WaitPolicy.MaxPollErrors < 0 {
		settings.WaitPolicy.MaxPollErrors = 0
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	journalPath, lockPath, err := defaultJournalPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:  "json",
		ValueFormat: ValueFormatHex,
		Timeout:     30 * time.Second,
		Retries:     2,
		LogLevel:    "warn",
		FeeOverhead: 1.5,
		WaitPolicy: WaitPolicy{
			PollInterval:  5 * time.Second,
			MaxPolls:      60,
			MaxPollErrors: 3,
		},
		JournalPath:     journalPath,
		JournalLockPath: lockPath,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "sncast", "config.yaml"), nil
}

func defaultJournalPaths() (string, string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "sncast")
	return filepath.Join(dir, "transactions.db"), filepath.Join(dir, "transactions.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.ValueFormat != "" {
		settings.ValueFormat = strings.ToLower(cfg.ValueFormat)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Fee.Overhead != nil {
		settings.FeeOverhead = *cfg.Fee.Overhead
	}
	if cfg.Wait.Enabled != nil {
		settings.Wait = *cfg.Wait.Enabled
	}
	if cfg.Wait.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Wait.PollInterval)
		if err != nil {
			return fmt.Errorf("config wait.poll_interval: %w", err)
		}
		settings.WaitPolicy.PollInterval = d
	}
	if cfg.Wait.MaxPolls != nil {
		settings.WaitPolicy.MaxPolls = *cfg.Wait.MaxPolls
	}
	if cfg.Wait.MaxPollErrors != nil {
		settings.WaitPolicy.MaxPollErrors = *cfg.Wait.MaxPollErrors
	}
	if cfg.Journal.Path != "" {
		settings.JournalPath = cfg.Journal.Path
	}
	if cfg.Journal.LockPath != "" {
		settings.JournalLockPath = cfg.Journal.LockPath
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SNCAST_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SNCAST_VALUE_FORMAT"); v != "" {
		settings.ValueFormat = strings.ToLower(v)
	}
	if v := os.Getenv("SNCAST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SNCAST_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SNCAST_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SNCAST_FEE_OVERHEAD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.FeeOverhead = f
		}
	}
	if v := os.Getenv("SNCAST_WAIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Wait = b
		}
	}
	if v := os.Getenv("SNCAST_WAIT_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.WaitPolicy.PollInterval = d
		}
	}
	if v := os.Getenv("SNCAST_WAIT_MAX_POLLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.WaitPolicy.MaxPolls = n
		}
	}
	if v := os.Getenv("SNCAST_JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := os.Getenv("SNCAST_JOURNAL_LOCK_PATH"); v != "" {
		settings.JournalLockPath = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.HexFormat && flags.IntFormat {
		return fmt.Errorf("cannot use --hex-format and --int-format together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.HexFormat {
		settings.ValueFormat = ValueFormatHex
	}
	if flags.IntFormat {
		settings.ValueFormat = ValueFormatInt
	}
	if flags.Wait {
		settings.Wait = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.ToLower(strings.TrimSpace(flags.LogLevel))
	}
	if flags.FeeOverhead != 0 {
		settings.FeeOverhead = flags.FeeOverhead
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.ValueFormat != ValueFormatHex && settings.ValueFormat != ValueFormatInt {
		return fmt.Errorf("value format must be hex or int")
	}

	return nil
}

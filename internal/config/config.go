package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/tomo-cli/internal/registry"
)

const (
	DefaultNetwork          = "tron"
	DefaultSafetyMultiplier = 1.5
	DefaultLogLevel         = "warn"
	DefaultEnvFile          = ".env"
)

// GlobalFlags carries persistent CLI flags. Pointer and empty values mean
// "not set on the command line".
type GlobalFlags struct {
	ConfigPath       string
	EnvFile          string
	JSON             bool
	Plain            bool
	Select           string
	ResultsOnly      bool
	Timeout          string
	Network          string
	RPCURL           string
	DryRun           *bool
	SafetyMultiplier float64
	LogLevel         string
	EnableCommands   string
}

type Settings struct {
	OutputMode          string
	SelectFields        []string
	ResultsOnly         bool
	Timeout             time.Duration
	Network             string
	RPCURL              string
	DryRun              bool
	SafetyMultiplier    float64
	LogLevel            string
	SubmissionsPath     string
	SubmissionsLockPath string
	EnableCommands      []string
	Networks            map[string]NetworkOverride
}

// NetworkOverride adjusts one built-in network profile.
type NetworkOverride struct {
	RPCURL         string
	APIKey         string
	EnergyPriceSun int64
}

// Network is a resolved profile plus the credentials to reach it.
type Network struct {
	Profile registry.Profile
	APIKey  string
}

type fileConfig struct {
	Output           string   `yaml:"output"`
	Timeout          string   `yaml:"timeout"`
	Network          string   `yaml:"network"`
	DryRun           *bool    `yaml:"dry_run"`
	SafetyMultiplier *float64 `yaml:"safety_multiplier"`
	LogLevel         string   `yaml:"log_level"`
	EnableCommands   []string `yaml:"enable_commands"`
	Submissions      struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"submissions"`
	Networks map[string]struct {
		RPCURL         string `yaml:"rpc_url"`
		APIKey         string `yaml:"api_key"`
		APIKeyEnv      string `yaml:"api_key_env"`
		EnergyPriceSun int64  `yaml:"energy_price_sun"`
	} `yaml:"networks"`
}

func Load(flags GlobalFlags) (Settings, error) {
	if err := loadEnvFile(flags.EnvFile); err != nil {
		return Settings{}, err
	}

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
		settings.Timeout = 10 * time.Second
	}
	if settings.SafetyMultiplier < 1 {
		return Settings{}, fmt.Errorf("safety multiplier must be >= 1, got %v", settings.SafetyMultiplier)
	}

	return settings, nil
}

// loadEnvFile fills unset variables from a dotenv file. An explicit path
// must exist; the default .env is optional.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("parse env file %s: %w", path, err)
	}
	return nil
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultStorePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:          "json",
		Timeout:             10 * time.Second,
		Network:             DefaultNetwork,
		DryRun:              true,
		SafetyMultiplier:    DefaultSafetyMultiplier,
		LogLevel:            DefaultLogLevel,
		SubmissionsPath:     storePath,
		SubmissionsLockPath: lockPath,
		Networks:            map[string]NetworkOverride{},
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
	return filepath.Join(base, "tomo", "config.yaml"), nil
}

func defaultStorePaths() (string, string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "tomo")
	return filepath.Join(dir, "submissions.db"), filepath.Join(dir, "submissions.lock"), nil
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
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Network != "" {
		settings.Network = cfg.Network
	}
	if cfg.DryRun != nil {
		settings.DryRun = *cfg.DryRun
	}
	if cfg.SafetyMultiplier != nil {
		settings.SafetyMultiplier = *cfg.SafetyMultiplier
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if len(cfg.EnableCommands) > 0 {
		settings.EnableCommands = cfg.EnableCommands
	}
	if cfg.Submissions.Path != "" {
		settings.SubmissionsPath = cfg.Submissions.Path
	}
	if cfg.Submissions.LockPath != "" {
		settings.SubmissionsLockPath = cfg.Submissions.LockPath
	}
	for name, n := range cfg.Networks {
		override := NetworkOverride{
			RPCURL:         n.RPCURL,
			APIKey:         n.APIKey,
			EnergyPriceSun: n.EnergyPriceSun,
		}
		if n.APIKeyEnv != "" {
			override.APIKey = os.Getenv(n.APIKeyEnv)
		}
		settings.Networks[strings.ToLower(name)] = override
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("TOMO_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("TOMO_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("TOMO_NETWORK"); v != "" {
		settings.Network = v
	}
	if v := os.Getenv("TOMO_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("TOMO_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.DryRun = b
		}
	}
	if v := os.Getenv("TOMO_SAFETY_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.SafetyMultiplier = f
		}
	}
	if v := os.Getenv("TOMO_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("TOMO_SUBMISSIONS_PATH"); v != "" {
		settings.SubmissionsPath = v
	}
	if v := os.Getenv("TOMO_SUBMISSIONS_LOCK_PATH"); v != "" {
		settings.SubmissionsLockPath = v
	}
	if v := os.Getenv("TOMO_ENABLE_COMMANDS"); v != "" {
		settings.EnableCommands = splitCommands(v)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if strings.TrimSpace(flags.Network) != "" {
		settings.Network = flags.Network
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.DryRun != nil {
		settings.DryRun = *flags.DryRun
	}
	if flags.SafetyMultiplier != 0 {
		settings.SafetyMultiplier = flags.SafetyMultiplier
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitCommands(flags.EnableCommands)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	switch settings.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error")
	}

	return nil
}

// ResolveNetwork returns a copy of the selected profile with file overrides
// and the RPC override applied. TRON networks fall back to TOMO_TRONGRID_API_KEY.
func (s Settings) ResolveNetwork() (Network, error) {
	profile, ok := registry.Network(s.Network)
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q", s.Network)
	}
	override := s.Networks[profile.Name]
	rpcOverride := override.RPCURL
	if strings.TrimSpace(s.RPCURL) != "" {
		rpcOverride = s.RPCURL
	}
	rpcURL, err := registry.ResolveRPCURL(rpcOverride, profile)
	if err != nil {
		return Network{}, err
	}
	profile.RPCURL = rpcURL
	if override.EnergyPriceSun > 0 {
		profile.EnergyPriceSun = override.EnergyPriceSun
	}
	apiKey := override.APIKey
	if apiKey == "" && profile.Family == registry.FamilyTron {
		apiKey = os.Getenv("TOMO_TRONGRID_API_KEY")
	}
	return Network{Profile: profile, APIKey: apiKey}, nil
}

// splitCommands reads a comma-separated list of command paths such as
// "plan build,estimate".
func splitCommands(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

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

	"github.com/ggonzalez94/defi-agent/internal/token"
)

type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	Plain      bool
	Endpoint   string
	Model      string
	Chain      string
	RPC        []string
	Timeout    string
	Retries    int
	NoCache    bool
}

type Settings struct {
	OutputMode string

	ModelProvider string
	ModelName     string
	ModelAPIKey   string
	ModelBaseURL  string
	MaxSteps      int

	CapabilityEndpoint string
	CapabilityTimeout  time.Duration
	CapabilityRetries  int

	DefaultChainID int64
	RPCOverrides   map[int64]string

	GasMultiplier    float64
	FeeBufferPercent int64
	PollInterval     time.Duration
	StepTimeout      time.Duration
	Preflight        bool

	CacheEnabled  bool
	CacheTTL      time.Duration
	CachePath     string
	CacheLockPath string
	TaskStorePath string
	TaskLockPath  string
}

type fileConfig struct {
	Output string `yaml:"output"`
	Model  struct {
		Provider  string `yaml:"provider"`
		Name      string `yaml:"name"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
		BaseURL   string `yaml:"base_url"`
		MaxSteps  *int   `yaml:"max_steps"`
	} `yaml:"model"`
	Capability struct {
		Endpoint string `yaml:"endpoint"`
		Timeout  string `yaml:"timeout"`
		Retries  *int   `yaml:"retries"`
	} `yaml:"capability"`
	Chain struct {
		Default string            `yaml:"default"`
		RPC     map[string]string `yaml:"rpc"`
	} `yaml:"chain"`
	Execution struct {
		GasMultiplier    *float64 `yaml:"gas_multiplier"`
		FeeBufferPercent *int64   `yaml:"fee_buffer_percent"`
		PollInterval     string   `yaml:"poll_interval"`
		StepTimeout      string   `yaml:"step_timeout"`
		Preflight        *bool    `yaml:"preflight"`
	} `yaml:"execution"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		TTL      string `yaml:"ttl"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Tasks struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"tasks"`
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
		settings.OutputMode = "plain"
	}
	if settings.CapabilityTimeout <= 0 {
		settings.CapabilityTimeout = 90 * time.Second
	}
	if settings.CapabilityRetries < 0 {
		settings.CapabilityRetries = 0
	}
	if settings.MaxSteps <= 0 {
		settings.MaxSteps = 10
	}
	if settings.GasMultiplier < 1 {
		settings.GasMultiplier = 1.1
	}
	if settings.FeeBufferPercent < 0 {
		settings.FeeBufferPercent = 0
	}
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = 15 * time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, cacheLock, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	taskPath, taskLock, err := defaultTaskPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:        "plain",
		ModelProvider:     "openai",
		ModelName:         "gpt-4o",
		MaxSteps:          10,
		CapabilityTimeout: 90 * time.Second,
		CapabilityRetries: 2,
		RPCOverrides:      map[int64]string{},
		GasMultiplier:     1.1,
		FeeBufferPercent:  5,
		PollInterval:      2 * time.Second,
		StepTimeout:       2 * time.Minute,
		Preflight:         true,
		CacheEnabled:      true,
		CacheTTL:          15 * time.Minute,
		CachePath:         cachePath,
		CacheLockPath:     cacheLock,
		TaskStorePath:     taskPath,
		TaskLockPath:      taskLock,
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
	return filepath.Join(base, "defi-agent", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "defi-agent")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func defaultTaskPaths() (string, string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "defi-agent")
	return filepath.Join(dir, "tasks.db"), filepath.Join(dir, "tasks.lock"), nil
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
	if cfg.Model.Provider != "" {
		settings.ModelProvider = strings.ToLower(cfg.Model.Provider)
	}
	if cfg.Model.Name != "" {
		settings.ModelName = cfg.Model.Name
	}
	if cfg.Model.APIKey != "" {
		settings.ModelAPIKey = cfg.Model.APIKey
	}
	if cfg.Model.APIKeyEnv != "" {
		settings.ModelAPIKey = os.Getenv(cfg.Model.APIKeyEnv)
	}
	if cfg.Model.BaseURL != "" {
		settings.ModelBaseURL = cfg.Model.BaseURL
	}
	if cfg.Model.MaxSteps != nil {
		settings.MaxSteps = *cfg.Model.MaxSteps
	}
	if cfg.Capability.Endpoint != "" {
		settings.CapabilityEndpoint = cfg.Capability.Endpoint
	}
	if cfg.Capability.Timeout != "" {
		d, err := time.ParseDuration(cfg.Capability.Timeout)
		if err != nil {
			return fmt.Errorf("config capability.timeout: %w", err)
		}
		settings.CapabilityTimeout = d
	}
	if cfg.Capability.Retries != nil {
		settings.CapabilityRetries = *cfg.Capability.Retries
	}
	if cfg.Chain.Default != "" {
		id, err := token.ParseChain(cfg.Chain.Default)
		if err != nil {
			return fmt.Errorf("config chain.default: %w", err)
		}
		settings.DefaultChainID = id
	}
	for chain, url := range cfg.Chain.RPC {
		id, err := token.ParseChain(chain)
		if err != nil {
			return fmt.Errorf("config chain.rpc: %w", err)
		}
		settings.RPCOverrides[id] = url
	}
	if cfg.Execution.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.Execution.GasMultiplier
	}
	if cfg.Execution.FeeBufferPercent != nil {
		settings.FeeBufferPercent = *cfg.Execution.FeeBufferPercent
	}
	if cfg.Execution.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Execution.PollInterval)
		if err != nil {
			return fmt.Errorf("config execution.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Execution.StepTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.StepTimeout)
		if err != nil {
			return fmt.Errorf("config execution.step_timeout: %w", err)
		}
		settings.StepTimeout = d
	}
	if cfg.Execution.Preflight != nil {
		settings.Preflight = *cfg.Execution.Preflight
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.TTL != "" {
		d, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("config cache.ttl: %w", err)
		}
		settings.CacheTTL = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Tasks.Path != "" {
		settings.TaskStorePath = cfg.Tasks.Path
	}
	if cfg.Tasks.LockPath != "" {
		settings.TaskLockPath = cfg.Tasks.LockPath
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("DEFI_AGENT_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("DEFI_AGENT_MODEL_PROVIDER"); v != "" {
		settings.ModelProvider = strings.ToLower(v)
	}
	if v := os.Getenv("DEFI_AGENT_MODEL"); v != "" {
		settings.ModelName = v
	}
	if v := os.Getenv("DEFI_AGENT_MODEL_API_KEY"); v != "" {
		settings.ModelAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && settings.ModelAPIKey == "" {
		settings.ModelAPIKey = v
	}
	if v := os.Getenv("DEFI_AGENT_MODEL_BASE_URL"); v != "" {
		settings.ModelBaseURL = v
	}
	if v := os.Getenv("DEFI_AGENT_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.MaxSteps = n
		}
	}
	if v := os.Getenv("DEFI_AGENT_CAPABILITY_ENDPOINT"); v != "" {
		settings.CapabilityEndpoint = v
	}
	if v := os.Getenv("DEFI_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.CapabilityTimeout = d
		}
	}
	if v := os.Getenv("DEFI_AGENT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.CapabilityRetries = n
		}
	}
	if v := os.Getenv("DEFI_AGENT_DEFAULT_CHAIN"); v != "" {
		if id, err := token.ParseChain(v); err == nil {
			settings.DefaultChainID = id
		}
	}
	if v := os.Getenv("DEFI_AGENT_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("DEFI_AGENT_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("DEFI_AGENT_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("DEFI_AGENT_TASKS_PATH"); v != "" {
		settings.TaskStorePath = v
	}
	if v := os.Getenv("DEFI_AGENT_TASKS_LOCK_PATH"); v != "" {
		settings.TaskLockPath = v
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
	if strings.TrimSpace(flags.Endpoint) != "" {
		settings.CapabilityEndpoint = flags.Endpoint
	}
	if strings.TrimSpace(flags.Model) != "" {
		settings.ModelName = flags.Model
	}
	if strings.TrimSpace(flags.Chain) != "" {
		id, err := token.ParseChain(flags.Chain)
		if err != nil {
			return fmt.Errorf("parse --chain: %w", err)
		}
		settings.DefaultChainID = id
	}
	for _, pair := range flags.RPC {
		chain, url, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return fmt.Errorf("parse --rpc: expected chain=url, got %q", pair)
		}
		id, err := token.ParseChain(chain)
		if err != nil {
			return fmt.Errorf("parse --rpc: %w", err)
		}
		settings.RPCOverrides[id] = strings.TrimSpace(url)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.CapabilityTimeout = d
	}
	if flags.Retries >= 0 {
		settings.CapabilityRetries = flags.Retries
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

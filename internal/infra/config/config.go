package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Stream  StreamConfig  `yaml:"stream"`
	Storage StorageConfig `yaml:"storage"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit       RateLimitConfig      `yaml:"rate_limit"`
}

// FailoverConfig holds provider failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig throttles how often a provider may start a request.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// Provider transports.
const (
	TransportHTTP = "http" // signed HTTP request, body decoded by internal/eventstream
	TransportSDK  = "sdk"  // bedrockruntime ConverseStream
)

// ProviderConfig holds settings for a single Bedrock provider. Credentials
// fall back to the AWS default chain when AccessKeyID is empty.
type ProviderConfig struct {
	Name            string        `yaml:"name"`
	Type            string        `yaml:"type"`
	Transport       string        `yaml:"transport"`
	Region          string        `yaml:"region"`
	Model           string        `yaml:"model"`
	Endpoint        string        `yaml:"endpoint,omitempty"`
	Profile         string        `yaml:"profile,omitempty"`
	AccessKeyID     string        `yaml:"access_key_id,omitempty"`
	SecretAccessKey string        `yaml:"secret_access_key,omitempty"`
	SessionToken    string        `yaml:"session_token,omitempty"`
	MaxTokens       int           `yaml:"max_tokens,omitempty"`
	Temperature     float64       `yaml:"temperature,omitempty"`
	ThinkingBudget  int           `yaml:"thinking_budget,omitempty"`
	ConnTimeout     time.Duration `yaml:"conn_timeout"`
	RespTimeout     time.Duration `yaml:"resp_timeout"`
	Pool            PoolConfig    `yaml:"pool"`
}

// StreamConfig controls event-stream decoding.
type StreamConfig struct {
	VerifyChecksums bool   `yaml:"verify_checksums"`
	MaxFrameSize    uint32 `yaml:"max_frame_size"`
	ReadChunkSize   int    `yaml:"read_chunk_size"`
}

// StorageConfig holds transcript persistence settings.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.convstream.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".convstream")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "bedrock",
			Providers: []ProviderConfig{{
				Name:      "bedrock",
				Type:      "bedrock",
				Transport: TransportHTTP,
				Region:    "us-east-1",
				Model:     "anthropic.claude-3-5-haiku-20241022-v1:0",
				MaxTokens: 4096,
			}},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 2,
				Burst:             4,
			},
		},
		Stream: StreamConfig{
			VerifyChecksums: true,
			MaxFrameSize:    16 * 1024 * 1024,
			ReadChunkSize:   32 * 1024,
		},
		Storage: StorageConfig{
			Enabled: false,
			Path:    filepath.Join(defaultDataDir(), "transcripts.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// A file that lists providers replaces the default provider list.
	cfg.LLM.Providers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.LLM.Providers) == 0 {
		cfg.LLM.Providers = Defaults().LLM.Providers
	}
	applyProviderDefaults(cfg)

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(KeyEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyProviderDefaults(cfg *Config) {
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if p.Type == "" {
			p.Type = "bedrock"
		}
		if p.Transport == "" {
			p.Transport = TransportHTTP
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 4096
		}
	}
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// ApplyEnvOverrides maps CONVSTREAM_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONVSTREAM_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("CONVSTREAM_LLM_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.LLM.CircuitBreaker.Enabled = v == "true"
	}
	if v := os.Getenv("CONVSTREAM_LLM_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.LLM.RateLimit.Enabled = true
			cfg.LLM.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("CONVSTREAM_STREAM_VERIFY_CHECKSUMS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Stream.VerifyChecksums = b
		}
	}
	if v := os.Getenv("CONVSTREAM_STREAM_MAX_FRAME_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.Stream.MaxFrameSize = uint32(n)
		}
	}
	if v := os.Getenv("CONVSTREAM_STREAM_READ_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Stream.ReadChunkSize = n
		}
	}
	if v := os.Getenv("CONVSTREAM_STORAGE_ENABLED"); v != "" {
		cfg.Storage.Enabled = v == "true"
	}
	if v := os.Getenv("CONVSTREAM_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("CONVSTREAM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CONVSTREAM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CONVSTREAM_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("CONVSTREAM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CONVSTREAM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider overrides: CONVSTREAM_LLM_PROVIDER_<NAME>_<FIELD>
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		prefix := "CONVSTREAM_LLM_PROVIDER_" + envName(p.Name) + "_"
		overrides := map[string]*string{
			"REGION":            &p.Region,
			"MODEL":             &p.Model,
			"TRANSPORT":         &p.Transport,
			"ENDPOINT":          &p.Endpoint,
			"PROFILE":           &p.Profile,
			"ACCESS_KEY_ID":     &p.AccessKeyID,
			"SECRET_ACCESS_KEY": &p.SecretAccessKey,
			"SESSION_TOKEN":     &p.SessionToken,
		}
		for suffix, field := range overrides {
			if v := os.Getenv(prefix + suffix); v != "" {
				*field = v
			}
		}
	}
}

// envName upper-cases a provider name and replaces characters that are not
// valid in environment variable names.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

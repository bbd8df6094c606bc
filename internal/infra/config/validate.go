package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateStream(cfg, ve)
	validateStorage(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validTransports = map[string]bool{
	TransportHTTP: true,
	TransportSDK:  true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must list at least one provider")
		return
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "bedrock" {
			ve.Add("llm.providers[%d].type %q is invalid (want: bedrock)", i, p.Type)
		}
		if !validTransports[p.Transport] {
			ve.Add("llm.providers[%d].transport %q is invalid (want: http, sdk)", i, p.Transport)
		}
		if p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required (set via CONVSTREAM_LLM_PROVIDER_%s_REGION)",
				i, p.Name, envName(p.Name))
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model is required", i, p.Name)
		}
		if (p.AccessKeyID == "") != (p.SecretAccessKey == "") {
			ve.Add("llm.providers[%d] (%s): access_key_id and secret_access_key must be set together", i, p.Name)
		}
		if p.AccessKeyID != "" && p.Profile != "" {
			ve.Add("llm.providers[%d] (%s): static credentials and profile are mutually exclusive", i, p.Name)
		}
		if p.Endpoint != "" {
			if u, err := url.Parse(p.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("llm.providers[%d] (%s): endpoint %q is not an absolute URL", i, p.Name, p.Endpoint)
			}
		}
		if p.MaxTokens < 0 {
			ve.Add("llm.providers[%d] (%s): max_tokens must be >= 0", i, p.Name)
		}
		if p.ConnTimeout < 0 || p.RespTimeout < 0 {
			ve.Add("llm.providers[%d] (%s): timeouts must be >= 0", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	if cfg.LLM.Failover.Enabled {
		if len(cfg.LLM.Failover.Fallbacks) == 0 {
			ve.Add("llm.failover.fallbacks must not be empty when failover is enabled")
		}
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if !seen[name] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", name)
			}
			if name == cfg.LLM.DefaultProvider {
				ve.Add("llm.failover.fallbacks: %q is already the default provider", name)
			}
		}
	}

	if cb := cfg.LLM.CircuitBreaker; cb.Enabled && cb.Timeout < 0 {
		ve.Add("llm.circuit_breaker.timeout must be >= 0")
	}
	if rl := cfg.LLM.RateLimit; rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			ve.Add("llm.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if rl.Burst <= 0 {
			ve.Add("llm.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}
}

// minFrameSize fits a prelude, a message checksum and a small payload.
const minFrameSize = 64

func validateStream(cfg *Config, ve *ValidationError) {
	if cfg.Stream.MaxFrameSize < minFrameSize {
		ve.Add("stream.max_frame_size must be >= %d", minFrameSize)
	}
	if cfg.Stream.ReadChunkSize <= 0 {
		ve.Add("stream.read_chunk_size must be > 0")
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if cfg.Storage.Enabled && cfg.Storage.Path == "" {
		ve.Add("storage.path must not be empty when storage is enabled")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
	validExporters  = map[string]bool{"noop": true, "stdout": true, "": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}

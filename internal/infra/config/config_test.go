package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.LLM.DefaultProvider != "bedrock" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "bedrock")
	}
	if !cfg.Stream.VerifyChecksums {
		t.Error("checksum verification should be on by default")
	}
	if cfg.Stream.MaxFrameSize != 16*1024*1024 {
		t.Errorf("MaxFrameSize = %d", cfg.Stream.MaxFrameSize)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].Transport != TransportHTTP {
		t.Errorf("expected default provider, got %+v", cfg.LLM.Providers)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: "west"
  providers:
    - name: "west"
      transport: "sdk"
      region: "us-west-2"
      model: "anthropic.claude-3-haiku-20240307-v1:0"
      resp_timeout: 90s
    - name: "east"
      region: "us-east-1"
      model: "amazon.nova-lite-v1:0"
stream:
  verify_checksums: false
  read_chunk_size: 1024
logger:
  level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.DefaultProvider != "west" {
		t.Errorf("DefaultProvider = %q", cfg.LLM.DefaultProvider)
	}
	if len(cfg.LLM.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.LLM.Providers))
	}
	west, _ := cfg.Provider("west")
	if west.Transport != TransportSDK || west.RespTimeout != 90*time.Second {
		t.Errorf("west = %+v", west)
	}
	east, ok := cfg.Provider("east")
	if !ok || east.Type != "bedrock" || east.Transport != TransportHTTP || east.MaxTokens != 4096 {
		t.Errorf("east defaults not applied: %+v", east)
	}
	if cfg.Stream.VerifyChecksums {
		t.Error("verify_checksums should be false")
	}
	if cfg.Stream.MaxFrameSize != 16*1024*1024 {
		t.Error("unset stream fields should keep defaults")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "llm: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsWorldWritable(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: info\n")
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("err = %v, want insecure permissions", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONVSTREAM_LOGGER_LEVEL", "warn")
	t.Setenv("CONVSTREAM_STREAM_VERIFY_CHECKSUMS", "false")
	t.Setenv("CONVSTREAM_STREAM_MAX_FRAME_SIZE", "4096")
	t.Setenv("CONVSTREAM_LLM_RATE_LIMIT_RPS", "0.5")
	t.Setenv("CONVSTREAM_STORAGE_ENABLED", "true")
	t.Setenv("CONVSTREAM_STORAGE_PATH", "/tmp/t.db")
	t.Setenv("CONVSTREAM_LLM_PROVIDER_BEDROCK_REGION", "eu-central-1")
	t.Setenv("CONVSTREAM_LLM_PROVIDER_BEDROCK_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("CONVSTREAM_LLM_PROVIDER_BEDROCK_SECRET_ACCESS_KEY", "secret")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "warn" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if cfg.Stream.VerifyChecksums {
		t.Error("VerifyChecksums should be overridden to false")
	}
	if cfg.Stream.MaxFrameSize != 4096 {
		t.Errorf("MaxFrameSize = %d", cfg.Stream.MaxFrameSize)
	}
	if !cfg.LLM.RateLimit.Enabled || cfg.LLM.RateLimit.RequestsPerSecond != 0.5 {
		t.Errorf("RateLimit = %+v", cfg.LLM.RateLimit)
	}
	if !cfg.Storage.Enabled || cfg.Storage.Path != "/tmp/t.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	p := cfg.LLM.Providers[0]
	if p.Region != "eu-central-1" || p.AccessKeyID != "AKIDEXAMPLE" || p.SecretAccessKey != "secret" {
		t.Errorf("provider overrides not applied: %+v", p)
	}
}

func TestEnvNameSanitises(t *testing.T) {
	if got := envName("bedrock-west.2"); got != "BEDROCK_WEST_2" {
		t.Errorf("envName = %q", got)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("wJalrXUtnFEMI/K7MDENG", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	got, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "wJalrXUtnFEMI/K7MDENG" {
		t.Errorf("got %q", got)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("wrong passphrase should fail")
	}
	if _, err := DecryptValue("nocolon", "passphrase"); err == nil {
		t.Error("malformed value should fail")
	}
}

func TestLoadDecryptsCredentials(t *testing.T) {
	secret, err := EncryptValue("top-secret", "k3y")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, `
llm:
  default_provider: "bedrock"
  providers:
    - name: "bedrock"
      region: "us-east-1"
      model: "m"
      access_key_id: "AKID"
      secret_access_key: "enc:`+secret+`"
`)
	t.Setenv("CONVSTREAM_CONFIG_KEY", "k3y")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.LLM.Providers[0].SecretAccessKey; got != "top-secret" {
		t.Errorf("SecretAccessKey = %q", got)
	}
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"converse-stream/internal/domain"
	"converse-stream/internal/infra/config"
)

const defaultConfigPath = "config.yaml"

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	provider   string
	verifyCRC  bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "convstream",
		Short: "Bedrock ConverseStream decoder and client",
		Long: `convstream decodes the binary event-stream framing used by Bedrock
ConverseStream responses and streams conversation turns through a configured
Bedrock provider.

Environment:
  CONVSTREAM_*            override config values (see config.yaml)
  CONVSTREAM_CONFIG_KEY   passphrase for enc: prefixed secrets`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path")
	pf.StringVar(&opts.provider, "provider", "", "provider name (default: llm.default_provider)")
	pf.BoolVar(&opts.verifyCRC, "verify-crc", true, "verify prelude and message checksums")

	root.AddCommand(newDecodeCmd(opts))
	root.AddCommand(newEncodeCmd())
	root.AddCommand(newEncryptCmd())
	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	return root
}

// load reads the config file and applies flags that override it.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	if f := cmd.Flag("verify-crc"); f != nil && f.Changed {
		cfg.Stream.VerifyChecksums = o.verifyCRC
	}
	return cfg, nil
}

// providerName is the provider selected by --provider or the config default.
func (o *options) providerName(cfg *config.Config) string {
	if o.provider != "" {
		return o.provider
	}
	return cfg.LLM.DefaultProvider
}

// openInput opens name for reading; "-" is the command's stdin.
func openInput(cmd *cobra.Command, name string) (io.Reader, func() error, error) {
	if name == "-" {
		return cmd.InOrStdin(), func() error { return nil }, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

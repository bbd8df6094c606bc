package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"converse-stream/internal/domain"
	"converse-stream/internal/infra/config"
)

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt VALUE|-",
		Short: "Encrypt a credential for use as an enc: config value",
		Long: `Encrypt seals VALUE with the passphrase in ` + config.KeyEnv + ` and prints
an enc: prefixed string for access_key_id, secret_access_key or session_token.
Pass - to read the value from stdin; one trailing newline is dropped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(config.KeyEnv)
			if passphrase == "" {
				return fmt.Errorf("%w: %s is not set", domain.ErrEncryption, config.KeyEnv)
			}

			value := args[0]
			if value == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimSuffix(strings.TrimSuffix(string(b), "\n"), "\r")
			}
			if value == "" {
				return errors.New("encrypt: empty value")
			}

			sealed, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrEncryption, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.EncPrefix+sealed)
			return nil
		},
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/workly/workly-gate/internal/domain/auth"
)

var hashArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [operator-key]",
	Short: "Hash an operator key for the config file",
	Long: `Hash an operator key for use in operator.key_hashes.

The default output format is "sha256:<hex>". With --argon2id the output is
an argon2id PHC string, slower to verify and harder to brute force.

Example:
  workly-gate hash-key "my-operator-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  workly-gate hash-key "$OPERATOR_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashOperatorKey(args[0], hashArgon2id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashArgon2id, "argon2id", false, "output an argon2id hash instead of sha256")
	rootCmd.AddCommand(hashKeyCmd)
}

// hashOperatorKey returns the config form of key.
func hashOperatorKey(key string, argon bool) (string, error) {
	if argon {
		hash, err := auth.HashKeyArgon2id(key)
		if err != nil {
			return "", fmt.Errorf("argon2id hash: %w", err)
		}
		return hash, nil
	}
	return "sha256:" + auth.HashKey(key), nil
}

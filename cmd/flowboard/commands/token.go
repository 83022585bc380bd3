package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/flowboard/internal/auth"
	"github.com/dyluth/flowboard/internal/printer"
	"github.com/spf13/cobra"
)

var (
	tokenHandle string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue a development bearer token",
	Long: `Issue an HS256 bearer token for USER_ID signed with the configured
JWT secret. Intended for local development against 'flowboard serve'.

Example:
  curl -H "Authorization: Bearer $(flowboard token u-alice)" \
    "localhost:3001/api/layout?projectId=p-apollo"`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenHandle, "handle", "", "User handle claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return printer.Error(
			"JWT secret not configured",
			"Tokens are signed with the same secret the engine verifies them with.",
			[]string{"Set FLOWBOARD_JWT_SECRET or auth.jwt_secret in the config file"},
		)
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	token, err := verifier.Issue(args[0], tokenHandle, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(printer.Stdout, token)
	return nil
}

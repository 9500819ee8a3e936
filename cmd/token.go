package main

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"propertyescrow/pkg/auth"
)

var tokenAddress string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for an address",
	Long: `Signs a bearer token with AUTH_SECRET whose subject is the given address.
The API treats the subject as the caller for every authenticated route.

Example:
  propertyescrow token --address 0x00000000000000000000000000000000000000a1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(tokenAddress) {
			return fmt.Errorf("--address must be a hex address, got %q", tokenAddress)
		}
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cfg.AuthSecret == "" {
			return errors.New("AUTH_SECRET is required")
		}
		token, err := auth.NewAuthenticator(auth.Config{
			Secret: cfg.AuthSecret,
			Issuer: cfg.AuthIssuer,
			TTL:    cfg.AuthTokenTTL,
		}).Issue(common.HexToAddress(tokenAddress))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenAddress, "address", "", "caller address the token speaks for")
	_ = tokenCmd.MarkFlagRequired("address")
}

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"propertyescrow/pkg/escrow"
	"propertyescrow/pkg/metrics"
	"propertyescrow/pkg/parties"
)

const defaultSeedFile = "seed/properties.yaml"

var seedPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register parties and list the properties in a seed file",
	Long: `Mints every property in the seed file to the seller authority, approves the
escrow for it and opens a listing, after registering the file's parties.

Example:
  propertyescrow seed --file seed/properties.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cfg.DatabaseURL == "" {
			return errors.New("seed requires DATABASE_URL; set SEED_FILE on serve for an in-memory run")
		}
		path := seedPath
		if path == "" {
			path = cfg.SeedFile
		}
		if path == "" {
			path = defaultSeedFile
		}

		ctx := cmd.Context()
		b, err := openBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		engine, err := b.newEngine(ctx, logger, metrics.NewEscrowMetrics(), escrow.NoopEmitter{})
		if err != nil {
			return err
		}
		return seedFromFile(ctx, path, b, engine, parties.NewPartyService(b.parties), logger)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPath, "file", "", "seed file to apply (default SEED_FILE, then "+defaultSeedFile+")")
}

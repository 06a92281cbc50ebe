package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"rescuefusion/internal/logging"
	"rescuefusion/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the storage schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

		store, err := storage.NewStore(cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Init(cmd.Context()); err != nil {
			return eris.Wrapf(err, "migrate %s store", cfg.Storage.Driver)
		}
		logger.Info("storage schema ready", "driver", cfg.Storage.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

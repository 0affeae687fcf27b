package main

import (
	"github.com/spf13/cobra"

	"github.com/seantiz/dbcop/internal/api"
	"github.com/seantiz/dbcop/internal/config"
	"github.com/seantiz/dbcop/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.config()
			logger := a.logger(cmd)

			ledger, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer ledger.Close()

			srv := api.NewServer(cfg.ListenAddr, ledger, a.registry, nil, logger)
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().String(config.KeyListenAddr, ":8080", "address to listen on")
	_ = a.v.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup(config.KeyListenAddr))
	return cmd
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/backend/bolt"
	"github.com/seantiz/dbcop/internal/backend/dgraph"
	"github.com/seantiz/dbcop/internal/backend/memory"
	"github.com/seantiz/dbcop/internal/backend/mysql"
	"github.com/seantiz/dbcop/internal/backend/postgres"
)

// newRegistry registers every backend compiled into the binary.
func newRegistry() *backend.Registry {
	reg := backend.NewRegistry()
	reg.Register(memory.Info, memory.Factory)
	reg.Register(bolt.Info, bolt.Factory)
	for _, info := range mysql.Backends {
		reg.Register(info, mysql.Factory(info.Name))
	}
	for _, info := range postgres.Backends {
		reg.Register(info, postgres.Factory(info.Name))
	}
	reg.Register(dgraph.Info, dgraph.Factory)
	return reg
}

func newBackendsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the supported database backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tISOLATION\tDESCRIPTION")
			for _, info := range a.registry.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Isolation, info.Description)
			}
			return tw.Flush()
		},
	}
}

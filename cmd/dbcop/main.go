// Command dbcop generates transactional workloads, runs them against a
// database cluster and stores the observed histories for offline checking.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newRegistry())
	if err := root.ExecuteContext(ctx); err != nil {
		printErr(root.ErrOrStderr(), err)
		stop()
		os.Exit(1)
	}
}

// printErr prints err and any hints attached to it.
func printErr(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintln(w, "Hint:", hint)
	}
}

// app carries what every command needs.
type app struct {
	v        *viper.Viper
	registry *backend.Registry
}

func (a *app) config() config.Config {
	return config.Load(a.v)
}

func (a *app) logger(cmd *cobra.Command) *slog.Logger {
	cfg := a.config()
	return config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
}

func newRootCmd(reg *backend.Registry) *cobra.Command {
	a := &app{v: config.NewViper(), registry: reg}

	root := &cobra.Command{
		Use:           "dbcop",
		Short:         "Generates histories or executes them against a database cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String(config.KeyLogLevel, "info", "log level (debug, info, warn, error)")
	pf.String(config.KeyLogFormat, "json", "log format (json, text)")
	pf.String(config.KeyDBPath, "dbcop.db", "path of the run ledger database")
	for _, key := range []string{config.KeyLogLevel, config.KeyLogFormat, config.KeyDBPath} {
		_ = a.v.BindPFlag(key, pf.Lookup(key))
	}

	root.AddCommand(
		newGenerateCmd(a),
		newPrintCmd(a),
		newConvertCmd(a),
		newRunCmd(a),
		newServeCmd(a),
		newBackendsCmd(a),
	)
	return root
}

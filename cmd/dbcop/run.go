package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/dbcop/internal/api"
	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/config"
	"github.com/seantiz/dbcop/internal/engine"
	"github.com/seantiz/dbcop/internal/store"
)

type runOptions struct {
	inDir       string
	outDir      string
	db          string
	clusterFile string
	statusAddr  string
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] ADDR...",
		Short: "Execute the histories of a directory against a cluster",
		Long: "Execute every history of --dir against the cluster whose node addresses\n" +
			"(host:port) are given as arguments or in --cluster. Results are written to\n" +
			"--out/hist-NNNNN/history.binpb; histories with existing results are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistories(cmd, a, o, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&o.inDir, "dir", "d", "", "directory containing the histories to execute")
	fl.StringVarP(&o.outDir, "out", "o", "", "directory to write executed histories to")
	fl.StringVar(&o.db, "db", "", "backend under test, one of the names listed by the backends command")
	fl.StringVar(&o.clusterFile, "cluster", "", "YAML cluster description (backend, nodes, credentials)")
	fl.StringVar(&o.statusAddr, "status-addr", "", "serve the status API on this address while running")
	fl.Duration(config.KeyDelay, engine.DefaultDelay, "pause between two executed histories")
	fl.String(config.KeyUser, "", "database user (default depends on the backend)")
	fl.String(config.KeyPassword, "", "database password")
	fl.String(config.KeyBoltPath, "", "database file of the bolt backend")
	for _, key := range []string{config.KeyDelay, config.KeyUser, config.KeyPassword, config.KeyBoltPath} {
		_ = a.v.BindPFlag(key, fl.Lookup(key))
	}
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runHistories(cmd *cobra.Command, a *app, o runOptions, addrs []string) error {
	cfg := a.config()
	logger := a.logger(cmd)

	name, opts := o.db, backend.Options{
		User:         cfg.User,
		Password:     cfg.Password,
		BoltPath:     cfg.BoltPath,
		Logger:       logger,
		DriverLogger: config.NewDriverLogger(cmd.ErrOrStderr(), cfg.LogLevel),
	}
	if o.clusterFile != "" {
		cf, err := config.ParseClusterFile(o.clusterFile)
		if err != nil {
			return err
		}
		if name == "" {
			name = cf.Backend
		}
		if len(addrs) == 0 {
			addrs = cf.Nodes
		}
		if opts.User == "" {
			opts.User = cf.User
		}
		if opts.Password == "" {
			opts.Password = cf.Password
		}
		if opts.BoltPath == "" {
			opts.BoltPath = cf.BoltPath
		}
	}
	if name == "" {
		return errors.WithHintf(errors.New("no backend selected"),
			"pass --db or a --cluster file; known backends: %s", strings.Join(a.registry.Names(), ", "))
	}

	nodes, err := backend.ParseNodes(addrs)
	if err != nil {
		return err
	}
	cluster, err := a.registry.Open(name, nodes, opts)
	if err != nil {
		return err
	}

	ledger, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	broker := engine.NewBroker()
	eng := engine.NewEngine(cluster, engine.Config{
		Backend: name,
		Store:   ledger,
		Broker:  broker,
		Delay:   cfg.Delay,
		Logger:  logger,
	})

	ctx := cmd.Context()
	if o.statusAddr == "" {
		sum, err := eng.ExecuteAll(ctx, o.inDir, o.outDir)
		printSummary(cmd, sum)
		return err
	}

	// The status server lives exactly as long as the run.
	srvCtx, stopServer := context.WithCancel(ctx)
	srv := api.NewServer(o.statusAddr, ledger, a.registry, broker, logger)
	var (
		g   errgroup.Group
		sum engine.Summary
	)
	g.Go(func() error { return srv.Run(srvCtx) })
	g.Go(func() error {
		defer stopServer()
		var err error
		sum, err = eng.ExecuteAll(ctx, o.inDir, o.outDir)
		return err
	})
	err = g.Wait()
	printSummary(cmd, sum)
	return err
}

func printSummary(cmd *cobra.Command, sum engine.Summary) {
	if sum.RunID == "" {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d executed, %d skipped\n", sum.RunID, sum.Executed, sum.Skipped)
}

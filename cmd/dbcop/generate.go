package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/seantiz/dbcop/internal/generate"
	"github.com/seantiz/dbcop/internal/histfile"
	"github.com/seantiz/dbcop/internal/model"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		dir    string
		nHist  int
		seed   uint64
		format string
		p      model.HistoryParams
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate histories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := histfile.ParseFormat(format)
			if err != nil {
				return errors.WithHint(err, "use --format binary or --format json")
			}
			if nHist < 1 {
				return errors.Newf("--nhist must be at least 1, got %d", nHist)
			}
			if err := generate.Validate(p); err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrap(err, "create history directory")
			}
			if !cmd.Flags().Changed("seed") {
				seed = uint64(time.Now().UnixNano())
			}

			hists, err := generate.New(seed).Histories(nHist, p)
			if err != nil {
				return err
			}
			logger := a.logger(cmd)
			for _, h := range hists {
				path := filepath.Join(dir, histfile.FileName(h.ID, f))
				if err := histfile.Save(path, h, f); err != nil {
					return err
				}
				logger.Info("history generated", "path", path)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&dir, "gen-dir", "d", "", "directory to generate histories in")
	fl.IntVar(&nHist, "nhist", 1, "number of histories to generate")
	fl.IntVarP(&p.Nodes, "nnode", "n", 0, "number of nodes (sessions) per history")
	fl.IntVarP(&p.Variables, "nvar", "v", 0, "number of variables per history")
	fl.IntVarP(&p.Transactions, "ntxn", "t", 0, "number of transactions per session")
	fl.IntVarP(&p.Events, "nevt", "e", 0, "number of events per transaction")
	fl.Float64Var(&p.ReadProbability, "readp", 0.5, "probability for an event to be a read")
	fl.StringVar(&p.KeyDistribution, "key-distrib", model.DistributionUniform, "key access distribution (uniform, zipf, hotspot)")
	fl.Float64Var(&p.LongTxnProportion, "longtxn-proportion", 0, "proportion of long transactions")
	fl.Float64Var(&p.LongTxnSize, "longtxn-size", 10, "size of long transactions relative to regular ones")
	fl.BoolVar(&p.RandomTxnSize, "random-txn-size", false, "randomize the size of transactions")
	fl.Uint64Var(&seed, "seed", 0, "random seed (default: current time)")
	fl.StringVar(&format, "format", string(histfile.FormatBinary), "output format (binary, json)")
	for _, name := range []string{"gen-dir", "nnode", "nvar", "ntxn", "nevt"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/dbcop/internal/histfile"
)

func newPrintCmd(_ *app) *cobra.Command {
	var dir, output string

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print an executed history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := dir
			if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
				path = filepath.Join(dir, histfile.ResultFile)
			}
			h, err := histfile.Load(path)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(h); err != nil {
					return errors.Wrap(err, "encode yaml")
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(h)
			}
			return errors.WithHint(errors.Newf("unknown output %q", output), "use -o yaml or -o json")
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory containing the executed history, or a history file")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output encoding (yaml, json)")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

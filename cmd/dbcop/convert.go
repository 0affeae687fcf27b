package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/seantiz/dbcop/internal/histfile"
)

func newConvertCmd(a *app) *cobra.Command {
	var dir, from string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert binary histories into JSON or JSON histories into binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := histfile.ParseFormat(from)
			if err != nil {
				return errors.WithHint(err, "use --from binary or --from json")
			}
			written, err := histfile.Convert(dir, f, a.logger(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "converted %d histories\n", len(written))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory containing test cases or histories")
	cmd.Flags().StringVar(&from, "from", "", "source format (binary, json)")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

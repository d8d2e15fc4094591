// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mqlens/mqlens/export"
)

var exportFlags struct {
	format string
	output string
	gzip   bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching history as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Exports carry no page size: everything matching goes out.
		searchFlags.limit = -1
		searchFlags.offset = 0

		f, err := buildFilter()
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := export.Search(context.Background(), st, f)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if exportFlags.output != "" {
			file, err := os.Create(exportFlags.output)
			if err != nil {
				return err
			}
			defer file.Close()
			w = file
		}

		var finish func() error
		if exportFlags.gzip {
			w, finish = export.Gzip(w)
		}

		switch exportFlags.format {
		case "json":
			err = export.JSON(w, recs)
		case "csv":
			err = export.CSV(w, recs)
		default:
			return fmt.Errorf("unknown format %q (json or csv)", exportFlags.format)
		}
		if err != nil {
			return err
		}
		if finish != nil {
			return finish()
		}
		return nil
	},
}

func init() {
	addFilterFlags(exportCmd)
	exportCmd.Flags().StringVar(&exportFlags.format, "format", "json", "export format (json or csv)")
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportFlags.gzip, "gzip", false, "gzip-compress the output")
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recorded history",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if err := st.Clear(context.Background()); err != nil {
			return err
		}
		fmt.Println("history cleared")
		return nil
	},
}

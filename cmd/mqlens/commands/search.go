// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/mqlens/mqlens/store"
)

var searchFlags struct {
	topic        string
	payload      string
	start        string
	end          string
	qos          int
	retained     string
	connectionID string
	limit        int
	offset       int
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query the recorded history",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		recs, err := st.Search(context.Background(), f)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for _, r := range recs {
			if err := enc.Encode(r.Flatten()); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	addFilterFlags(searchCmd)
	searchCmd.Flags().IntVar(&searchFlags.limit, "limit", 100, "maximum results (-1 = unlimited)")
	searchCmd.Flags().IntVar(&searchFlags.offset, "offset", 0, "results to skip")
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&searchFlags.topic, "topic", "", "topic filter (exact, prefix, or MQTT wildcard)")
	cmd.Flags().StringVar(&searchFlags.payload, "payload", "", "payload text query")
	cmd.Flags().StringVar(&searchFlags.start, "start", "", "range start (epoch ms or RFC 3339)")
	cmd.Flags().StringVar(&searchFlags.end, "end", "", "range end (epoch ms or RFC 3339)")
	cmd.Flags().IntVar(&searchFlags.qos, "qos", -1, "QoS level (0-2, -1 = any)")
	cmd.Flags().StringVar(&searchFlags.retained, "retained", "", "retained flag (true/false, empty = any)")
	cmd.Flags().StringVar(&searchFlags.connectionID, "connection-id", "", "broker connection id")
}

func buildFilter() (store.Filter, error) {
	f := store.Filter{
		Topic:        searchFlags.topic,
		Payload:      searchFlags.payload,
		ConnectionID: searchFlags.connectionID,
		Offset:       searchFlags.offset,
	}
	if searchFlags.limit >= 0 {
		f.Limit = &searchFlags.limit
	}

	var err error
	if f.Start, err = parseTimeArg(searchFlags.start); err != nil {
		return f, err
	}
	if f.End, err = parseTimeArg(searchFlags.end); err != nil {
		return f, err
	}
	if searchFlags.qos >= 0 {
		qos := byte(searchFlags.qos)
		f.QoS = &qos
	}
	if searchFlags.retained != "" {
		b := searchFlags.retained == "true"
		f.Retained = &b
	}
	return f, f.Validate()
}

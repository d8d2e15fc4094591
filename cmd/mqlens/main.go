// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main provides the mqlens CLI.
//
// Usage:
//
//	mqlens [flags] <command>
//
// Commands:
//
//	serve  - connect to a broker and record message history
//	search - query the recorded history
//	export - export matching history as JSON or CSV
//	stats  - print history statistics
//	clear  - wipe the recorded history
package main

import (
	"fmt"
	"os"

	"github.com/mqlens/mqlens/cmd/mqlens/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

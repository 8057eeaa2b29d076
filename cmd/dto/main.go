// Command dto is the command-line tool for serialized DTO payloads,
// envelopes and audit trails.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/bfg-s/dto-sub000/cmd/cli"
)

func main() {
	manager := cli.NewManager()

	if err := manager.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

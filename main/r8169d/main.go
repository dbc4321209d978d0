// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// This is a user space driver for Realtek RTL8169 family ethernet.
package main

import (
	"fmt"
	"os"

	"github.com/platinasystems/r8169/cmd"
	"github.com/platinasystems/r8169/cmd/r8169d"
)

func main() {
	if err := cmd.Run(&r8169d.Command{}, os.Stdout, os.Args[1:]...); err != nil {
		fmt.Fprintln(os.Stderr, "r8169d:", err)
		os.Exit(1)
	}
}

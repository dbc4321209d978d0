// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package cmd is the interface of goes style commands and a runner for
// programs built from a single command.
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/platinasystems/r8169/lang"
)

type Cmd interface {
	Apropos() lang.Alt
	Main(...string) error
	// String returns the command name.
	String() string
	Usage() string
	/* Optional
	Kind() Kind
	Man() lang.Alt
	*/
}

type Kind uint16

const (
	DontFork Kind = 1 << iota
	Daemon
	Hidden
)

type kinder interface {
	Kind() Kind
}

type manner interface {
	Man() lang.Alt
}

func WhatKind(v Cmd) Kind {
	if m, found := v.(kinder); found {
		return m.Kind()
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case DontFork:
		return "don't fork"
	case Daemon:
		return "daemon"
	case Hidden:
		return "hidden"
	}
	return "unknown"
}

var Helpers = map[string]struct{}{
	"apropos": struct{}{},
	"help":    struct{}{},
	"man":     struct{}{},
	"usage":   struct{}{},
}

// Swap moves a hyphen prefaced helper flag ahead of the rest, so,
//
//	-[-]HELPER [ARGS]...
//
// becomes
//
//	HELPER [ARGS]...
func Swap(args []string) {
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		opt := strings.TrimLeft(arg, "-")
		if _, found := Helpers[opt]; found {
			copy(args[1:i+1], args[:i])
			args[0] = opt
			return
		}
	}
}

// Run answers the helpers on w or else runs c.Main.
func Run(c Cmd, w io.Writer, args ...string) error {
	Swap(args)
	if len(args) > 0 {
		switch args[0] {
		case "apropos":
			fmt.Fprintf(w, "%s - %s\n", c, c.Apropos())
			return nil
		case "usage":
			fmt.Fprintln(w, "usage:", c.Usage())
			return nil
		case "help", "man":
			if m, found := c.(manner); found {
				fmt.Fprintf(w, "NAME\n\t%s - %s\n\nSYNOPSIS\n\t%s\n%s\n",
					c, c.Apropos(), c.Usage(), m.Man())
			} else {
				fmt.Fprintln(w, "usage:", c.Usage())
			}
			return nil
		}
	}
	return c.Main(args...)
}

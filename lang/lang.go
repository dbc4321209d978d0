// Copyright © 2015-2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package lang provides text in alternative languages.
//
// The language precedence is the value of the "LANG" environment variable
// followed by a configurable default; then en_US.UTF-8.
//
// Use this build ldflag to configure the default,
//
// -X github.com/platinasystems/r8169/lang.Default=fr_FR.UTF-8
package lang

import "os"

const (
	DeDE = "de_DE.UTF-8"
	EnGB = "en_GB.UTF-8"
	EnUS = "en_US.UTF-8"
	FrFR = "fr_FR.UTF-8"
)

var Default = EnUS

type Alt map[string]string

// If available, this returns text in the prefered language.
func (m Alt) String() string {
	for _, lang := range []string{os.Getenv("LANG"), Default, EnUS} {
		if s, found := m[lang]; found {
			return s
		}
	}
	return ""
}

// Copyright 2015-2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style license described in the
// LICENSE file.

// Package pidfile records daemon pids in /run/goes/pids
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const Dir = "/run/goes/pids"

// New records this process as Dir/name.
func New(name string) (string, error) { return Create(Dir, name) }

// Create writes the pid to dir/name unless another live process already
// holds it.
func Create(dir, name string) (fn string, err error) {
	if err = os.MkdirAll(dir, 0755); err != nil {
		return
	}
	fn = filepath.Join(dir, name)
	if pid, e := Read(fn); e == nil && pid != os.Getpid() && alive(pid) {
		return "", fmt.Errorf("%s: already running as %d", name, pid)
	}
	err = os.WriteFile(fn, []byte(fmt.Sprintln(os.Getpid())), 0644)
	if err != nil {
		fn = ""
	}
	return
}

func Read(fn string) (int, error) {
	b, err := os.ReadFile(fn)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

// Remove deletes fn if it still names this process.
func Remove(fn string) {
	if pid, err := Read(fn); err == nil && pid == os.Getpid() {
		os.Remove(fn)
	}
}

func alive(pid int) bool {
	_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	return err == nil
}

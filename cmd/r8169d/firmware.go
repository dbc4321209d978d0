// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package r8169d

import (
	"os"
	"path/filepath"
)

// firmwareDir loads rtl_nic/*.fw style blobs from below dir.  Names are
// rooted first so they cannot climb out of dir.
func firmwareDir(dir string) func(name string) ([]byte, error) {
	return func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, filepath.Clean("/"+name)))
	}
}

//go:build !windows

// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keystore

import (
	"fmt"
	"io/fs"
	"os"
)

// checkOpenFilePermissions checks the mode of an open signing key file
func checkOpenFilePermissions(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat signing key %q: %w", f.Name(), err)
	}
	return checkSigningKeyMode(f.Name(), fi.Mode())
}

// checkSigningKeyMode accepts only regular files without any group or other
// permission bits
func checkSigningKeyMode(path string, mode fs.FileMode) error {
	if err := requireRegularFile(path, mode); err != nil {
		return err
	}
	if open := mode.Perm() & 0o077; open != 0 {
		return fmt.Errorf(
			"signing key %q is %s, group/other bits %03o must be cleared (chmod 600): %w",
			path,
			mode.Perm(),
			open,
			ErrInsecureFileMode,
		)
	}
	return nil
}

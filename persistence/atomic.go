// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package persistence

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/relayerrors"
)

// readFile returns the contents of path, or nil with no error if the
// file does not exist yet (a fresh install with no prior snapshot).
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(relayerrors.ErrIO, "reading snapshot: %s", err)
	}
	return data, nil
}

// writeFileAtomic writes data to path by first writing to a temporary
// file in the same directory, fsyncing it, then renaming it over
// path. A rename within the same directory is atomic on every
// filesystem this runs on, so a crash mid-write either leaves the old
// snapshot intact or the new one fully written, never a half-written
// file (§4.9).
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(relayerrors.ErrIO, "creating temp file: %s", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(relayerrors.ErrIO, "writing temp file: %s", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(relayerrors.ErrIO, "fsyncing temp file: %s", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(relayerrors.ErrIO, "closing temp file: %s", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(relayerrors.ErrIO, "renaming temp file over target: %s", err)
	}
	return nil
}

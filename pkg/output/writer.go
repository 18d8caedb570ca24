// Package output serializes harvested sessions to the result file.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"xharvest/pkg/browser"
	"xharvest/pkg/errors"
)

// Write serializes sessions to path as an ordered JSON array,
// overwriting any prior content. The document is written to a temp
// file in the target directory and renamed into place, so a write
// failure never leaves a truncated result and a failed run leaves any
// pre-existing file untouched.
func Write(path string, sessions []*browser.Session) error {
	if sessions == nil {
		// An empty batch still produces a valid empty document
		sessions = []*browser.Session{}
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrorTypeOutputWrite, "marshal sessions", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(errors.ErrorTypeOutputWrite, fmt.Sprintf("create output directory %s", dir), err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.ErrorTypeOutputWrite, "create temp output file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(errors.ErrorTypeOutputWrite, "write temp output file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(errors.ErrorTypeOutputWrite, "close temp output file", err)
	}

	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(errors.ErrorTypeOutputWrite, "set output file permissions", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(errors.ErrorTypeOutputWrite, fmt.Sprintf("rename output file to %s", path), err)
	}

	return nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// DefaultBackupCount is how many previous versions WriteWithBackups keeps.
const DefaultBackupCount = 3

// AtomicWriteJSON writes data as indented JSON via AtomicWrite.
func AtomicWriteJSON(path string, data interface{}, perm os.FileMode) error {
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return AtomicWrite(path, append(buf, '\n'), perm)
}

// AtomicWrite replaces path with data. Readers see either the old file or
// the complete new one.
func AtomicWrite(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// BackupAndWriteJSON keeps up to keep previous versions of path, newest
// first (path.bak, path.bak.1, ...), then writes data with mode 0600.
func BackupAndWriteJSON(path string, data interface{}, keep int) error {
	if keep <= 0 {
		keep = DefaultBackupCount
	}
	if _, err := os.Stat(path); err == nil {
		shiftBackups(path, keep)
		if err := copyFile(path, backupName(path, 0)); err != nil {
			L_warn("config: could not back up before writing", "path", path, "error", err)
		}
	}
	if err := AtomicWriteJSON(path, data, 0600); err != nil {
		return err
	}
	L_debug("config: written", "path", path)
	return nil
}

func backupName(path string, n int) string {
	if n == 0 {
		return path + ".bak"
	}
	return path + ".bak." + strconv.Itoa(n)
}

// shiftBackups moves every backup one slot older and drops the one that
// falls off the end.
func shiftBackups(path string, keep int) {
	for n := keep - 1; n >= 0; n-- {
		from := backupName(path, n)
		var err error
		if n == keep-1 {
			err = os.Remove(from)
		} else {
			err = os.Rename(from, backupName(path, n+1))
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			L_trace("config: backup rotation", "path", from, "error", err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Package fstx implements a best-effort filesystem transaction: a sequence
// of move/copy/hard-link/create operations that can be rolled back in
// reverse order if something downstream fails (spec §4.9). Grounded on
// original_source/rs-utils/src/fs_transaction.rs, reimplemented with Go's
// error-return idiom instead of panicking Drop-based rollback.
package fstx

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivlog"
)

type opKind int

const (
	opBackup opKind = iota
	opMove
	opCopy
	opHardLink
	opCreateFile
	opCreateDir
	opAppendFile
)

type op struct {
	kind         opKind
	src, dest    string
	path         string
	originalSize int64
}

// Transaction collects filesystem operations so they can all be rolled
// back together. Works on files, not directories (except CreateDir
// itself). Not safe for concurrent transactions touching the same paths.
type Transaction struct {
	ops []op
}

// New returns an empty transaction.
func New() *Transaction {
	return &Transaction{}
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// BackupFile moves path to a fresh backup path and returns it, recorded so
// Commit removes it and Rollback restores it. Exposed (rather than kept
// private) so callers that need to keep reading the backed-up contents
// before the transaction commits - e.g. streaming the pre-commit main db
// as old_storage (spec §4.8 step 4) - can find it afterward.
func (tx *Transaction) BackupFile(path string) (string, error) {
	dest := fmt.Sprintf("%s-%s-backup", path, uuid.NewString()[:10])
	if pathExists(dest) {
		return "", arhiverr.InvariantViolation("backup path %s must not exist", dest)
	}

	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to back up %s to %s: %w", path, dest, err)
	}

	arhivlog.Debug(fmt.Sprintf("backed up %s to %s", path, dest))
	tx.ops = append(tx.ops, op{kind: opBackup, src: path, dest: dest})

	return dest, nil
}

func (tx *Transaction) backup(path string) error {
	_, err := tx.BackupFile(path)
	return err
}

// backupIfExists moves dest out of the way first, so a later rollback can
// restore it, before the caller overwrites dest.
func (tx *Transaction) backupIfExists(dest string) error {
	if pathExists(dest) {
		return tx.backup(dest)
	}
	return nil
}

// MoveFile moves src to dest, backing up any existing file at dest first.
func (tx *Transaction) MoveFile(src, dest string) error {
	if err := tx.backupIfExists(dest); err != nil {
		return err
	}

	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dest, err)
	}

	arhivlog.Debug(fmt.Sprintf("moved %s to %s", src, dest))
	tx.ops = append(tx.ops, op{kind: opMove, src: src, dest: dest})

	return nil
}

// CopyFile copies src to dest, backing up any existing file at dest first.
func (tx *Transaction) CopyFile(src, dest string) error {
	if err := tx.backupIfExists(dest); err != nil {
		return err
	}

	if err := copyFileContents(src, dest); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dest, err)
	}

	arhivlog.Debug(fmt.Sprintf("copied %s to %s", src, dest))
	tx.ops = append(tx.ops, op{kind: opCopy, src: src, dest: dest})

	return nil
}

// HardLinkFile hard-links src to dest, backing up any existing file at
// dest first.
func (tx *Transaction) HardLinkFile(src, dest string) error {
	if err := tx.backupIfExists(dest); err != nil {
		return err
	}

	if err := os.Link(src, dest); err != nil {
		return fmt.Errorf("failed to hard link %s to %s: %w", src, dest, err)
	}

	arhivlog.Debug(fmt.Sprintf("hard linked %s to %s", src, dest))
	tx.ops = append(tx.ops, op{kind: opHardLink, src: src, dest: dest})

	return nil
}

// RemoveFile removes src by moving it to a backup path; the removal only
// becomes permanent on Commit.
func (tx *Transaction) RemoveFile(src string) error {
	if err := tx.backup(src); err != nil {
		return err
	}

	arhivlog.Debug(fmt.Sprintf("removed file %s", src))

	return nil
}

// CreateFile creates path with the given contents.
func (tx *Transaction) CreateFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}

	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			f.Close()
			return fmt.Errorf("failed to write data into file %s: %w", path, err)
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync file changes to disk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file %s: %w", path, err)
	}

	arhivlog.Debug(fmt.Sprintf("created file %s", path))
	tx.ops = append(tx.ops, op{kind: opCreateFile, path: path})

	return nil
}

// CreateDir creates a single directory (not MkdirAll).
func (tx *Transaction) CreateDir(path string) error {
	if err := os.Mkdir(path, 0o700); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", path, err)
	}

	arhivlog.Debug(fmt.Sprintf("created dir %s", path))
	tx.ops = append(tx.ops, op{kind: opCreateDir, path: path})

	return nil
}

// AppendFile appends data to an existing file, recording its prior size
// so rollback can truncate it back.
func (tx *Transaction) AppendFile(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	originalSize := info.Size()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to append data to file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync file changes to disk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file %s: %w", path, err)
	}

	arhivlog.Debug(fmt.Sprintf("appended %d bytes to file %s", len(data), path))
	tx.ops = append(tx.ops, op{kind: opAppendFile, path: path, originalSize: originalSize})

	return nil
}

// Rollback undoes every recorded operation in reverse order. It keeps
// going even if individual reverts fail, and reports how many failed.
func (tx *Transaction) Rollback() error {
	if len(tx.ops) == 0 {
		return nil
	}

	arhivlog.Warn(fmt.Sprintf("reverting %d operations", len(tx.ops)))

	failed := 0
	total := len(tx.ops)

	for i := len(tx.ops) - 1; i >= 0; i-- {
		o := tx.ops[i]
		if err := revertOp(o); err != nil {
			arhivlog.Error(fmt.Sprintf("failed to revert operation: %v", err))
			failed++
		}
	}

	tx.ops = nil

	if failed > 0 {
		return arhiverr.InvariantViolation("failed to revert %d operation(s) out of %d", failed, total)
	}

	return nil
}

func revertOp(o op) error {
	switch o.kind {
	case opMove, opBackup:
		if err := os.Rename(o.dest, o.src); err != nil {
			return fmt.Errorf("failed to revert move %s to %s: %w", o.src, o.dest, err)
		}
		arhivlog.Warn(fmt.Sprintf("reverted move %s to %s", o.src, o.dest))

	case opCopy, opHardLink:
		if err := os.Remove(o.dest); err != nil {
			return fmt.Errorf("failed to remove %s: %w", o.dest, err)
		}
		arhivlog.Warn(fmt.Sprintf("reverted %s to %s", o.src, o.dest))

	case opCreateFile:
		if err := os.Remove(o.path); err != nil {
			return fmt.Errorf("failed to revert create file %s: %w", o.path, err)
		}
		arhivlog.Warn(fmt.Sprintf("reverted create file %s", o.path))

	case opCreateDir:
		if err := os.Remove(o.path); err != nil {
			return fmt.Errorf("failed to revert create dir %s: %w", o.path, err)
		}
		arhivlog.Warn(fmt.Sprintf("reverted create dir %s", o.path))

	case opAppendFile:
		if err := os.Truncate(o.path, o.originalSize); err != nil {
			return fmt.Errorf("failed to revert append to %s: %w", o.path, err)
		}
		arhivlog.Warn(fmt.Sprintf("reverted append to %s", o.path))
	}

	return nil
}

// Commit finalizes the transaction: backups made along the way are
// deleted for good, and the op log is cleared so a later Rollback is a
// no-op.
func (tx *Transaction) Commit() error {
	for _, o := range tx.ops {
		if o.kind != opBackup {
			continue
		}
		if err := os.Remove(o.dest); err != nil {
			arhivlog.Error(fmt.Sprintf("failed to remove backup %s: %v", o.dest, err))
		}
	}

	tx.ops = nil

	return nil
}

func copyFileContents(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		return err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

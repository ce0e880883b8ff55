package manager

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/arhivlog"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/fstx"
	"github.com/mbme/arhiv-sub000/pkg/storage"
)

// Commit runs the full commit sequence (spec §4.8): it retags every
// staged document with a shared new revision, writes the merged record
// set into a fresh main db file, moves newly-referenced BLOBs into place
// and garbage-collects unreferenced ones, persists the state/locks files,
// and only then makes all of it durable. A failure rolls back the
// filesystem transaction (spec §4.9) covering the main db, state and locks
// files, and makes the next Open/OpenMut reload State from the restored
// state file. BLOB moves and deletions run directly on disk, outside that
// transaction, and are not undone by a rollback.
//
// Grounded on original_source/baza/src/baza2/baza_manager/mod.rs's
// commit() and pkg/fstx's Rust-Drop-to-explicit-Rollback port.
func (g *WriteGuard) Commit() ([]*document.Document, error) {
	if g.m.dataKey == nil {
		return nil, arhiverr.Locked("archive is locked")
	}
	if g.m.cached.HasLocks() {
		return nil, arhiverr.Locked("cannot commit while documents are locked")
	}
	if !g.HasStagedDocuments() {
		return nil, nil
	}

	dataKey := *g.m.dataKey
	layout := g.m.layout
	dbPath := layout.DB()

	// Flush whatever is currently staged before touching Storage, so a
	// crash mid-commit still leaves the staged edits recoverable from disk
	// (spec §4.8 step 2).
	if err := g.m.cached.Save(layout, dataKey); err != nil {
		return nil, err
	}

	tx := fstx.New()

	backupPath, err := tx.BackupFile(dbPath)
	if err != nil {
		return nil, err
	}

	oldFile, err := os.Open(backupPath)
	if err != nil {
		tx.Rollback()
		return nil, arhiverr.IO(err, "failed to reopen backed-up main db")
	}
	oldStorage, err := storage.Read(oldFile, dataKey)
	oldFile.Close()
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// From here on a failure leaves the in-memory State ahead of the
	// restored state file, so force the next Open/OpenMut to reload it.
	succeeded := false
	defer func() {
		if !succeeded {
			g.m.cachedStateModTime = 0
		}
	}()

	committed, err := g.m.cached.Commit()
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	newlyReferenced := map[arhivid.BLOBId]struct{}{}
	for _, doc := range committed {
		refs := g.m.cached.ComputeRefs(doc)
		for id := range refs.Blobs {
			newlyReferenced[id] = struct{}{}
		}
	}
	allReferenced := g.m.cached.ReferencedBlobs()

	if err := storage.PlaceBlobsOnCommit(layout, newlyReferenced, allReferenced); err != nil {
		tx.Rollback()
		return nil, err
	}

	keptRecords := make([]storage.Record, 0, len(oldStorage.Records))
	for _, rec := range oldStorage.Records {
		if latestRev, ok := g.m.cached.ErasedLatestRev(rec.Key.Id); ok && rec.Key.Rev.IsOlderThan(latestRev) {
			continue
		}
		keptRecords = append(keptRecords, rec)
	}

	newRecords := make([]storage.Record, 0, len(committed))
	for _, doc := range committed {
		newRecords = append(newRecords, storage.Record{Key: document.NewKey(doc.Id, doc.Rev.Real), Doc: doc})
	}

	var dbBuf bytes.Buffer
	info := storage.Info{DataVersion: g.m.cached.DataVersion(), StorageVersion: storageVersion}
	if err := storage.Write(&dbBuf, dataKey, info, append(keptRecords, newRecords...)); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.CreateFile(dbPath, dbBuf.Bytes()); err != nil {
		tx.Rollback()
		return nil, err
	}

	stateBytes, err := g.m.cached.MarshalState(dataKey)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	locksBytes, err := g.m.cached.MarshalLocks(dataKey)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := overwriteViaTx(tx, layout.State(), stateBytes); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := overwriteViaTx(tx, layout.Locks(), locksBytes); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Every blob that belonged to this commit has now moved to
	// storage_dir/blobs; whatever is still left under state_dir/blobs is
	// unreferenced garbage (spec §4.8 step 13).
	cleanStateBlobs(layout.StateBlobsDir())

	succeeded = true
	if modTime, err := statModTime(layout.State()); err == nil {
		g.m.cachedStateModTime = modTime
	}

	return committed, nil
}

func cleanStateBlobs(dir string) {
	leftover, err := storage.ListBlobs(dir)
	if err != nil {
		arhivlog.Warn(fmt.Sprintf("failed to list leftover staged blobs: %v", err))
		return
	}
	for id := range leftover {
		path := filepath.Join(dir, id.String())
		if err := os.Remove(path); err != nil {
			arhivlog.Warn(fmt.Sprintf("failed to remove leftover staged blob %s: %v", id, err))
		}
	}
}

// overwriteViaTx backs up path first if it already exists (a state/locks
// file from a prior commit), then creates the new content - CreateFile
// alone requires the destination to be absent.
func overwriteViaTx(tx *fstx.Transaction, path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		if _, err := tx.BackupFile(path); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return arhiverr.IO(err, "failed to stat %s", path)
	}
	return tx.CreateFile(path, data)
}

func statModTime(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/arhivlog"
	"github.com/mbme/arhiv-sub000/pkg/paths"
)

// ListBlobs returns the set of BLOB ids present as files directly under
// dir, matching the original's get_local_blob_ids helper.
func ListBlobs(dir string) (map[arhivid.BLOBId]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[arhivid.BLOBId]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}

	ids := make(map[arhivid.BLOBId]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ids[arhivid.BLOBId(e.Name())] = struct{}{}
	}
	return ids, nil
}

// PlaceBlobsOnCommit moves every newly-referenced BLOB from the staged
// blobs directory to the committed blobs directory (never copies), then
// deletes any committed BLOB no longer referenced by the new State (spec
// §4.2 "BLOB placement on commit"). Missing BLOBs for existing references
// are logged but never fail the commit, since partial sync is expected.
func PlaceBlobsOnCommit(layout paths.Layout, newlyReferenced, allReferenced map[arhivid.BLOBId]struct{}) error {
	if err := os.MkdirAll(layout.StorageBlobsDir(), 0o700); err != nil {
		return err
	}

	for id := range newlyReferenced {
		src := layout.StateBlobPath(id)
		dst := layout.StorageBlobPath(id)

		if _, err := os.Stat(src); os.IsNotExist(err) {
			arhivlog.Warn(fmt.Sprintf("blob %s referenced by new state but missing from staged blobs, skipping", id))
			continue
		}

		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}

	committed, err := ListBlobs(layout.StorageBlobsDir())
	if err != nil {
		return err
	}

	for id := range committed {
		if _, referenced := allReferenced[id]; referenced {
			continue
		}
		if err := os.Remove(layout.StorageBlobPath(id)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	for id := range allReferenced {
		if _, ok := committed[id]; ok {
			continue
		}
		if _, err := os.Stat(layout.StorageBlobPath(id)); os.IsNotExist(err) {
			arhivlog.Warn(fmt.Sprintf("blob %s referenced by state but absent from storage, expected during partial sync", id))
		}
	}

	return nil
}

// blobPathJoin builds a blob path under an arbitrary directory, outside
// of a Layout. No code in this module calls it.
func blobPathJoin(dir string, id arhivid.BLOBId) string {
	return filepath.Join(dir, id.String())
}

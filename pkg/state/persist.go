package state

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/arhivlog"
	"github.com/mbme/arhiv-sub000/pkg/cryptostream"
	"github.com/mbme/arhiv-sub000/pkg/dochead"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/paths"
	"github.com/mbme/arhiv-sub000/pkg/schema"
)

// wireHead is the on-disk shape of one DocumentHead, stored under the
// state file's "documents" map (spec §4.3 "on-disk mirror files").
type wireHead struct {
	Committed      []*document.Document `json:"committed,omitempty"`
	Staged         *document.Document   `json:"staged,omitempty"`
	SnapshotsCount int                  `json:"snapshots_count"`
}

type wireStateFile struct {
	DataVersion uint8                   `json:"data_version"`
	Documents   map[arhivid.Id]wireHead `json:"documents"`
}

// Save persists State to state_dir's state/locks files, through the
// crypto+compress envelope, but only when a mutator has run since the
// last Save (spec §4.3 "modified flag ... save_changes writes to disk
// only when set").
func (s *State) Save(layout paths.Layout, key cryptostream.Key) error {
	if !s.modified {
		return nil
	}

	if err := s.saveStateFile(layout, key); err != nil {
		return err
	}
	if err := s.saveLocksFile(layout, key); err != nil {
		return err
	}

	s.modified = false
	return nil
}

// MarshalState renders the encrypted on-disk bytes of the state file,
// without touching disk. Exposed so the Manager can fold the write into
// its own filesystem transaction (spec §4.8 step 11) instead of Save
// writing straight to the path itself.
func (s *State) MarshalState(key cryptostream.Key) ([]byte, error) {
	var buf bytes.Buffer

	w, err := cryptostream.NewCompressedWriter(&buf, key)
	if err != nil {
		return nil, err
	}

	wire := wireStateFile{
		DataVersion: s.dataVersion,
		Documents:   make(map[arhivid.Id]wireHead, len(s.documents)),
	}
	for id, head := range s.documents {
		wire.Documents[id] = wireHead{
			Committed:      head.Committed,
			Staged:         head.Staged,
			SnapshotsCount: head.SnapshotsCount,
		}
	}

	if err := json.NewEncoder(w).Encode(wire); err != nil {
		w.Close()
		return nil, arhiverr.IO(err, "failed to encode state file")
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalLocks renders the encrypted on-disk bytes of the locks file.
func (s *State) MarshalLocks(key cryptostream.Key) ([]byte, error) {
	var buf bytes.Buffer

	w, err := cryptostream.NewCompressedWriter(&buf, key)
	if err != nil {
		return nil, err
	}

	if err := json.NewEncoder(w).Encode(s.locks); err != nil {
		w.Close()
		return nil, arhiverr.IO(err, "failed to encode locks file")
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *State) saveStateFile(layout paths.Layout, key cryptostream.Key) error {
	data, err := s.MarshalState(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(layout.State(), data, 0o600); err != nil {
		return arhiverr.IO(err, "failed to write state file %s", layout.State())
	}
	return nil
}

func (s *State) saveLocksFile(layout paths.Layout, key cryptostream.Key) error {
	data, err := s.MarshalLocks(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(layout.Locks(), data, 0o600); err != nil {
		return arhiverr.IO(err, "failed to write locks file %s", layout.Locks())
	}
	return nil
}

// Load reads a previously-Saved State back from state_dir. A missing
// state file means a brand-new archive: Load returns an empty State
// rather than failing.
func Load(layout paths.Layout, key cryptostream.Key, sch schema.DataSchema, selfInstance arhivid.InstanceId) (*State, error) {
	s := New(sch, selfInstance)

	if err := s.loadStateFile(layout, key); err != nil {
		return nil, err
	}
	if err := s.loadLocksFile(layout, key); err != nil {
		return nil, err
	}

	for id := range s.documents {
		s.reindexRefs(id)
	}

	return s, nil
}

func (s *State) loadStateFile(layout paths.Layout, key cryptostream.Key) error {
	f, err := os.Open(layout.State())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return arhiverr.IO(err, "failed to open state file %s", layout.State())
	}
	defer f.Close()

	r, err := cryptostream.NewCompressedReader(f, key)
	if err != nil {
		return err
	}
	defer r.Close()

	var wire wireStateFile
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return arhiverr.Corrupted(err, "failed to parse state file")
	}

	s.dataVersion = wire.DataVersion
	for id, wh := range wire.Documents {
		s.documents[id] = &dochead.Head{
			Committed:      wh.Committed,
			Staged:         wh.Staged,
			SnapshotsCount: wh.SnapshotsCount,
		}
	}

	return nil
}

func (s *State) loadLocksFile(layout paths.Layout, key cryptostream.Key) error {
	f, err := os.Open(layout.Locks())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return arhiverr.IO(err, "failed to open locks file %s", layout.Locks())
	}
	defer f.Close()

	r, err := cryptostream.NewCompressedReader(f, key)
	if err != nil {
		return err
	}
	defer r.Close()

	locks := make(map[arhivid.Id]Lock)
	if err := json.NewDecoder(r).Decode(&locks); err != nil {
		if err == io.EOF {
			return nil
		}
		return arhiverr.Corrupted(err, "failed to parse locks file")
	}
	s.locks = locks

	return nil
}

// LogIfDirty loudly warns when State is dropped with unsaved changes
// (spec §5 "Dropping Baza while modified = true logs a loud error").
func (s *State) LogIfDirty() {
	if s.modified {
		arhivlog.Error("state has unsaved changes; save_changes() was never called")
	}
}

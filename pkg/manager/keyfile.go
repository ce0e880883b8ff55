package manager

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/cryptostream"
)

// keyfilePayload is what the keyfile protects: the data key that unlocks
// every other encrypted artifact, and the replica identity assigned at
// Create (spec §6.1 "the keyfile holds the data key, wrapped under a
// password-derived key").
type keyfilePayload struct {
	DataKey      cryptostream.Key   `json:"data_key"`
	SelfInstance arhivid.InstanceId `json:"self_instance"`
}

// writeKeyfile derives a key from password over a fresh salt, and writes
// salt || encrypted(payload) to path: the salt lives in the clear since it
// is not a secret, only the per-password derivation input.
func writeKeyfile(path string, password string, payload keyfilePayload) error {
	salt, err := cryptostream.NewSalt()
	if err != nil {
		return err
	}
	passwordKey, err := cryptostream.DeriveKeyFromPassword(password, salt)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return arhiverr.IO(err, "failed to create keyfile %s", path)
	}

	if _, err := f.Write(salt); err != nil {
		f.Close()
		return arhiverr.IO(err, "failed to write keyfile salt")
	}

	w, err := cryptostream.NewCompressedWriter(f, passwordKey)
	if err != nil {
		f.Close()
		return err
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		w.Close()
		f.Close()
		return arhiverr.IO(err, "failed to encode keyfile payload")
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// readKeyfile reads the leading salt, derives the password key, and
// decrypts the payload. Returns arhiverr.NotFound if path doesn't exist
// and arhiverr.Corrupted (via cryptostream's auth failure) on a wrong
// password.
func readKeyfile(path string, password string) (keyfilePayload, error) {
	var payload keyfilePayload

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return payload, arhiverr.NotFound("no archive initialized at %s", path)
	}
	if err != nil {
		return payload, arhiverr.IO(err, "failed to open keyfile %s", path)
	}
	defer f.Close()

	salt := make([]byte, cryptostream.SaltSize)
	if _, err := io.ReadFull(f, salt); err != nil {
		return payload, arhiverr.Corrupted(err, "failed to read keyfile salt")
	}

	passwordKey, err := cryptostream.DeriveKeyFromPassword(password, salt)
	if err != nil {
		return payload, err
	}

	r, err := cryptostream.NewCompressedReader(f, passwordKey)
	if err != nil {
		return payload, err
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return payload, arhiverr.Corrupted(err, "failed to decrypt keyfile, wrong password?")
	}

	return payload, nil
}

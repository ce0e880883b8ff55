// Package arhivid generates and parses the three identifier kinds used
// throughout the core: Id, InstanceId (spec §3.1) and BLOBId (content hash).
package arhivid

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// Id is an opaque printable string, unique across all instances.
type Id string

// InstanceId is an opaque printable string, one per replica.
type InstanceId string

// BLOBIdSize is the width in bytes of a BLAKE3-256 digest.
const BLOBIdSize = 32

// BLOBId is the BLAKE3 content hash of a BLOB's plaintext bytes.
type BLOBId string

// NewId generates a new random Id with enough entropy to avoid collision
// across instances.
func NewId() Id {
	return Id(uuid.NewString())
}

// NewInstanceId generates a new random InstanceId, assigned at first-open.
func NewInstanceId() InstanceId {
	return InstanceId(uuid.NewString())
}

// NewLockKey generates a fresh unguessable document-lock key (spec §4.5).
func NewLockKey() string {
	return uuid.NewString()
}

// HashBLOB computes the BLOBId of the plaintext bytes read from r.
func HashBLOB(r io.Reader) (BLOBId, error) {
	hasher := blake3.New(BLOBIdSize, nil)
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to hash blob: %w", err)
	}
	return BLOBId(hex.EncodeToString(hasher.Sum(nil))), nil
}

// HashBLOBBytes computes the BLOBId of an in-memory plaintext buffer.
func HashBLOBBytes(data []byte) BLOBId {
	sum := blake3.Sum256(data)
	return BLOBId(hex.EncodeToString(sum[:]))
}

func (id Id) String() string         { return string(id) }
func (id InstanceId) String() string { return string(id) }
func (id BLOBId) String() string     { return string(id) }

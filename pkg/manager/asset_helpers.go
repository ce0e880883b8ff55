package manager

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/cryptostream"
	"github.com/mbme/arhiv-sub000/pkg/document"
)

// filePathBase strips any directory components, so CreateAsset never
// leaks the caller's local filesystem layout into the stored filename.
func filePathBase(path string) string {
	return filepath.Base(path)
}

// encodeBlobKey/decodeBlobKey round-trip a per-asset data key through the
// plain string field document.Data stores it in.
func encodeBlobKey(key cryptostream.Key) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

func decodeBlobKey(encoded string) (cryptostream.Key, error) {
	var key cryptostream.Key

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return key, arhiverr.Corrupted(err, "failed to decode asset blob key")
	}
	if len(raw) != len(key) {
		return key, arhiverr.Corrupted(nil, "asset blob key has wrong length")
	}
	copy(key[:], raw)
	return key, nil
}

// unmarshalField decodes doc's field into out, failing with an
// InvariantViolation if the field is absent - every asset document must
// carry it.
func unmarshalField(doc *document.Document, field string, out any) error {
	raw := doc.Data.Get(field)
	if raw == nil {
		return arhiverr.InvariantViolation("asset %s missing field %s", doc.Id, field)
	}
	return json.Unmarshal(raw, out)
}

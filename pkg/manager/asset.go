package manager

import (
	"io"
	"os"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/cryptostream"
	"github.com/mbme/arhiv-sub000/pkg/document"
)

// assetDocumentType is the document_type every Asset carries (spec §4.7).
const assetDocumentType = "asset"

// Asset field names, mechanical - the schema only needs to know blob_id is
// FieldBLOBId for reference tracking; the rest are opaque strings/numbers.
const (
	assetFieldFilename  = "filename"
	assetFieldMediaType = "media_type"
	assetFieldSize      = "size"
	assetFieldBlobId    = "blob_id"
	assetFieldBlobKey   = "blob_key"
)

// CreateAsset hashes filePath's contents, encrypts them under a fresh
// per-blob key into state_dir/blobs, and stages an Asset document
// referencing the result (spec §4.7). The caller still owns committing.
func (g *WriteGuard) CreateAsset(filePath, mediaType string, lockKey string) (*document.Document, error) {
	src, err := os.Open(filePath)
	if err != nil {
		return nil, arhiverr.IO(err, "failed to open asset source %s", filePath)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, arhiverr.IO(err, "failed to stat asset source %s", filePath)
	}

	blobId, err := arhivid.HashBLOB(src)
	if err != nil {
		return nil, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, arhiverr.IO(err, "failed to rewind asset source %s", filePath)
	}

	blobKey, err := cryptostream.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(g.m.layout.StateBlobsDir(), 0o700); err != nil {
		return nil, arhiverr.IO(err, "failed to create staged blobs dir")
	}

	destPath := g.m.layout.StateBlobPath(blobId)
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, arhiverr.IO(err, "failed to create staged blob %s", destPath)
	}

	w, err := cryptostream.NewWriter(dest, blobKey, cryptostream.DefaultChunkSize)
	if err != nil {
		dest.Close()
		return nil, err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		dest.Close()
		return nil, arhiverr.IO(err, "failed to encrypt asset into %s", destPath)
	}
	if err := w.Close(); err != nil {
		dest.Close()
		return nil, err
	}
	if err := dest.Close(); err != nil {
		return nil, arhiverr.IO(err, "failed to close staged blob %s", destPath)
	}

	doc := &document.Document{
		Id:           arhivid.NewId(),
		DocumentType: assetDocumentType,
		Data:         document.Data{},
	}
	if err := doc.Data.Set(assetFieldFilename, filePathBase(filePath)); err != nil {
		return nil, err
	}
	if err := doc.Data.Set(assetFieldMediaType, mediaType); err != nil {
		return nil, err
	}
	if err := doc.Data.Set(assetFieldSize, info.Size()); err != nil {
		return nil, err
	}
	if err := doc.Data.Set(assetFieldBlobId, string(blobId)); err != nil {
		return nil, err
	}
	if err := doc.Data.Set(assetFieldBlobKey, encodeBlobKey(blobKey)); err != nil {
		return nil, err
	}

	if err := g.Stage(doc, lockKey); err != nil {
		return nil, err
	}

	return doc, nil
}

// GetAsset returns id's current Asset document, failing if id is not an
// Asset.
func (g *ReadGuard) GetAsset(id arhivid.Id) (*document.Document, error) {
	head, err := g.MustGet(id)
	if err != nil {
		return nil, err
	}

	doc := head.Staged
	if doc == nil && len(head.Committed) > 0 {
		doc = head.Committed[0]
	}
	if doc == nil || doc.DocumentType != assetDocumentType {
		return nil, arhiverr.InvariantViolation("document %s is not an asset", id)
	}
	return doc, nil
}

// GetAssetData streams and decrypts id's underlying BLOB bytes, checking
// the staged location first (not yet committed) and falling back to
// storage (spec §4.7 "reading streams the encrypted blob from state or
// storage location").
func (g *ReadGuard) GetAssetData(id arhivid.Id) (io.ReadCloser, error) {
	doc, err := g.GetAsset(id)
	if err != nil {
		return nil, err
	}

	var blobIdStr, blobKeyStr string
	if err := unmarshalField(doc, assetFieldBlobId, &blobIdStr); err != nil {
		return nil, err
	}
	if err := unmarshalField(doc, assetFieldBlobKey, &blobKeyStr); err != nil {
		return nil, err
	}

	blobId := arhivid.BLOBId(blobIdStr)
	blobKey, err := decodeBlobKey(blobKeyStr)
	if err != nil {
		return nil, err
	}

	path := g.m.layout.StateBlobPath(blobId)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		path = g.m.layout.StorageBlobPath(blobId)
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, arhiverr.NotFound("blob %s not found for asset %s", blobId, id)
	}

	r, err := cryptostream.NewReader(f, blobKey)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &readCloser{Reader: r, closer: f}, nil
}

// readCloser pairs a cryptostream.Reader (no Close of its own) with the
// underlying file it reads from.
type readCloser struct {
	*cryptostream.Reader
	closer io.Closer
}

func (rc *readCloser) Close() error { return rc.closer.Close() }

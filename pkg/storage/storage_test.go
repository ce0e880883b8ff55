package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/cryptostream"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/revision"
)

func newCommittedDoc(id string, rev revision.Revision) *document.Document {
	return &document.Document{
		Id:           arhivid.Id(id),
		DocumentType: "note",
		Rev:          document.RealRev(rev),
		CreatedAt:    time.Unix(0, 0).UTC(),
		UpdatedAt:    time.Unix(0, 0).UTC(),
		Data:         document.Data{},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	key, err := cryptostream.GenerateKey()
	require.NoError(t, err)

	rev := revision.Revision{arhivid.InstanceId("i"): 1}
	doc := newCommittedDoc("a", rev)
	rec := Record{Key: document.NewKey(doc.Id, rev), Doc: doc}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, key, Info{DataVersion: 1, StorageVersion: 1}, []Record{rec}))

	f, err := Read(&buf, key)
	require.NoError(t, err)
	require.Equal(t, Info{DataVersion: 1, StorageVersion: 1}, f.Info)
	require.Len(t, f.Records, 1)
	require.True(t, f.Contains(rec.Key))
}

func TestAppendAndSaveRejectsDuplicateKey(t *testing.T) {
	key, err := cryptostream.GenerateKey()
	require.NoError(t, err)

	rev := revision.Revision{arhivid.InstanceId("i"): 1}
	doc := newCommittedDoc("a", rev)
	rec := Record{Key: document.NewKey(doc.Id, rev), Doc: doc}

	f := &File{Info: Info{DataVersion: 1, StorageVersion: 1}, Records: []Record{rec}}

	var buf bytes.Buffer
	err = f.AppendAndSave(&buf, key, []Record{rec})
	require.Error(t, err)
}

func TestMergeFilesSetCover(t *testing.T) {
	info := Info{DataVersion: 1, StorageVersion: 1}

	revA := revision.Revision{arhivid.InstanceId("i"): 1}
	revB := revision.Revision{arhivid.InstanceId("i"): 2}
	revC := revision.Revision{arhivid.InstanceId("i"): 3}

	docA := newCommittedDoc("a", revA)
	docB := newCommittedDoc("b", revB)
	docC := newCommittedDoc("c", revC)

	rich := &File{Info: info, Records: []Record{
		{Key: document.NewKey(docA.Id, revA), Doc: docA},
		{Key: document.NewKey(docB.Id, revB), Doc: docB},
	}}
	sparse := &File{Info: info, Records: []Record{
		{Key: document.NewKey(docB.Id, revB), Doc: docB},
		{Key: document.NewKey(docC.Id, revC), Doc: docC},
	}}

	merged, err := MergeFiles([]*File{sparse, rich})
	require.NoError(t, err)
	require.Len(t, merged.Records, 3)
}

func TestMergeFilesRejectsMismatchedInfo(t *testing.T) {
	f1 := &File{Info: Info{DataVersion: 1, StorageVersion: 1}}
	f2 := &File{Info: Info{DataVersion: 2, StorageVersion: 1}}

	_, err := MergeFiles([]*File{f1, f2})
	require.Error(t, err)
}

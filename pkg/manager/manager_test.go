package manager

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/query"
	"github.com/mbme/arhiv-sub000/pkg/schema/testschema"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m := New(filepath.Join(dir, "storage"), filepath.Join(dir, "state"), testschema.New(), nil)
	require.NoError(t, m.Create("correct horse battery staple"))
	return m
}

func stageNote(t *testing.T, g *WriteGuard, title string) *document.Document {
	t.Helper()
	doc := &document.Document{Id: arhivid.NewId(), DocumentType: testschema.TypeNote, Data: document.Data{}}
	require.NoError(t, doc.Data.Set("title", title))
	require.NoError(t, g.Stage(doc, ""))
	return doc
}

func TestCreateUnlockLockRoundtrip(t *testing.T) {
	dir := t.TempDir()
	m := New(filepath.Join(dir, "storage"), filepath.Join(dir, "state"), testschema.New(), nil)

	require.False(t, m.IsUnlocked())
	require.NoError(t, m.Create("hunter2"))
	require.True(t, m.IsUnlocked())

	require.Error(t, m.Create("hunter2"), "Create must refuse to reinitialize an existing archive")

	require.NoError(t, m.Lock())
	require.False(t, m.IsUnlocked())

	require.Error(t, (&Manager{}).Unlock("wrong"))

	m2 := New(filepath.Join(dir, "storage"), filepath.Join(dir, "state"), testschema.New(), nil)
	require.Error(t, m2.Unlock("wrong password"))
	require.NoError(t, m2.Unlock("hunter2"))
	require.True(t, m2.IsUnlocked())
}

func TestChangeKeyfilePassword(t *testing.T) {
	dir := t.TempDir()
	m := New(filepath.Join(dir, "storage"), filepath.Join(dir, "state"), testschema.New(), nil)
	require.NoError(t, m.Create("old-password"))
	require.NoError(t, m.Lock())

	require.NoError(t, m.ChangeKeyfilePassword("old-password", "new-password"))
	require.Error(t, m.Unlock("old-password"))
	require.NoError(t, m.Unlock("new-password"))
}

func TestStageAndCommit(t *testing.T) {
	m := newTestManager(t)

	wg, err := m.OpenMut()
	require.NoError(t, err)
	doc := stageNote(t, wg, "first note")
	require.NoError(t, wg.SaveChanges())
	require.True(t, wg.HasStagedDocuments())
	wg.Close()

	wg2, err := m.OpenMut()
	require.NoError(t, err)
	committed, err := wg2.Commit()
	require.NoError(t, err)
	require.Len(t, committed, 1)
	require.Equal(t, doc.Id, committed[0].Id)
	require.False(t, wg2.HasStagedDocuments())
	wg2.Close()

	rg, err := m.Open()
	require.NoError(t, err)
	defer rg.Close()
	head, ok := rg.Get(doc.Id)
	require.True(t, ok)
	require.True(t, head.IsCommitted())

	result := rg.Query(query.Filter{DocumentTypes: []string{testschema.TypeNote}})
	require.Len(t, result.Items, 1)
}

func TestCommitWithNothingStagedIsNoOp(t *testing.T) {
	m := newTestManager(t)

	wg, err := m.OpenMut()
	require.NoError(t, err)
	defer wg.Close()

	require.False(t, wg.HasStagedDocuments())
	committed, err := wg.Commit()
	require.NoError(t, err)
	require.Empty(t, committed)
}

func TestSecondProcessCannotOpenMutWhileLocked(t *testing.T) {
	dir := t.TempDir()
	storageDir := filepath.Join(dir, "storage")
	stateDir := filepath.Join(dir, "state")

	m1 := New(storageDir, stateDir, testschema.New(), nil)
	require.NoError(t, m1.Create("hunter2"))

	m2 := New(storageDir, stateDir, testschema.New(), nil)
	require.NoError(t, m2.Unlock("hunter2"))

	wg, err := m1.OpenMut()
	require.NoError(t, err)
	defer wg.Close()

	_, err = m2.OpenMut()
	require.Error(t, err, "a second process-like Manager must not be able to acquire the lockfile concurrently")
}

func TestLockEnforcement(t *testing.T) {
	m := newTestManager(t)

	wg, err := m.OpenMut()
	require.NoError(t, err)
	doc := stageNote(t, wg, "locked note")
	_, err = wg.Commit()
	require.NoError(t, err)

	key, err := wg.LockDocument(doc.Id, "editing in another client")
	require.NoError(t, err)
	require.True(t, wg.m.cached.HasLocks())

	_, err = wg.Commit()
	require.Error(t, err, "commit must refuse while a document is locked")

	edited := &document.Document{Id: doc.Id, DocumentType: testschema.TypeNote, Data: document.Data{}}
	require.NoError(t, edited.Data.Set("title", "attempted edit without key"))
	require.Error(t, wg.Stage(edited, "wrong-key"))

	require.NoError(t, wg.UnlockDocument(doc.Id, key))
	require.False(t, wg.m.cached.HasLocks())

	_, err = wg.Commit()
	require.NoError(t, err)
	wg.Close()
}

func TestEraseGarbageCollection(t *testing.T) {
	m := newTestManager(t)

	wg, err := m.OpenMut()
	require.NoError(t, err)
	doc := stageNote(t, wg, "to be erased")
	_, err = wg.Commit()
	require.NoError(t, err)

	require.NoError(t, wg.Erase(doc.Id))
	committed, err := wg.Commit()
	require.NoError(t, err)
	require.Len(t, committed, 1)
	require.True(t, committed[0].IsErased())
	wg.Close()

	rg, err := m.Open()
	require.NoError(t, err)
	defer rg.Close()
	head, ok := rg.Get(doc.Id)
	require.True(t, ok)
	require.True(t, head.IsOriginalErased())
}

func TestAssetRoundtrip(t *testing.T) {
	m := newTestManager(t)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "photo.bin")
	payload := []byte("just some bytes that pretend to be a photo")
	require.NoError(t, os.WriteFile(srcPath, payload, 0o600))

	wg, err := m.OpenMut()
	require.NoError(t, err)

	asset, err := wg.CreateAsset(srcPath, "application/octet-stream", "")
	require.NoError(t, err)

	committed, err := wg.Commit()
	require.NoError(t, err)
	require.Len(t, committed, 1)
	wg.Close()

	rg, err := m.Open()
	require.NoError(t, err)
	defer rg.Close()

	got, err := rg.GetAsset(asset.Id)
	require.NoError(t, err)
	require.Equal(t, testschema.TypeAsset, got.DocumentType)

	r, err := rg.GetAssetData(asset.Id)
	require.NoError(t, err)
	defer r.Close()

	readBack, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, readBack)
}

func TestOpenRefreshesAfterExternalCommit(t *testing.T) {
	dir := t.TempDir()
	m := New(filepath.Join(dir, "storage"), filepath.Join(dir, "state"), testschema.New(), nil)
	require.NoError(t, m.Create("correct horse battery staple"))

	writer := New(filepath.Join(dir, "storage"), filepath.Join(dir, "state"), testschema.New(), nil)
	require.NoError(t, writer.Unlock("correct horse battery staple"))

	wg, err := writer.OpenMut()
	require.NoError(t, err)
	doc := stageNote(t, wg, "written by writer A")
	_, err = wg.Commit()
	require.NoError(t, err)
	wg.Close()

	rg, err := m.Open()
	require.NoError(t, err)
	_, ok := rg.Get(doc.Id)
	require.True(t, ok)
	rg.Close()
}

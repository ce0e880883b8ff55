package container

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeContainer(t *testing.T, keys []string, lines [][]byte) []byte {
	t.Helper()
	idx, err := NewIndex(keys)
	require.NoError(t, err)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteIndex(idx))
	for _, line := range lines {
		require.NoError(t, w.WriteLine(line))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	raw := writeContainer(t, []string{"a", "b", "c"}, [][]byte{[]byte("1"), []byte("2"), []byte("3")})

	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)

	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []Record{
		{Key: "a", Line: []byte("1")},
		{Key: "b", Line: []byte("2")},
		{Key: "c", Line: []byte("3")},
	}, records)
}

func TestDuplicateKeyRejected(t *testing.T) {
	_, err := NewIndex([]string{"a", "b", "a"})
	require.Error(t, err)
}

func TestContains(t *testing.T) {
	idx, err := NewIndex([]string{"a", "b"})
	require.NoError(t, err)
	require.True(t, idx.Contains("a"))
	require.False(t, idx.Contains("z"))
}

func TestWriterRejectsTooManyLines(t *testing.T) {
	idx, err := NewIndex([]string{"a"})
	require.NoError(t, err)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteIndex(idx))
	require.NoError(t, w.WriteLine([]byte("1")))
	err = w.WriteLine([]byte("2"))
	require.Error(t, err)
}

func TestPatchEmptyIsIdentity(t *testing.T) {
	raw := writeContainer(t, []string{"a", "b"}, [][]byte{[]byte("1"), []byte("2")})

	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, ApplyPatch(r, NewPatch(), &out))

	r2, err := NewReader(&out)
	require.NoError(t, err)
	records, err := r2.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []Record{{Key: "a", Line: []byte("1")}, {Key: "b", Line: []byte("2")}}, records)
}

func TestPatchDeleteAndInsert(t *testing.T) {
	raw := writeContainer(t, []string{"a", "b", "c"}, [][]byte{[]byte("1"), []byte("2"), []byte("3")})
	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)

	p := NewPatch()
	p.Delete("b")
	p.Set("d", []byte("4"))

	var out bytes.Buffer
	require.NoError(t, ApplyPatch(r, p, &out))

	r2, err := NewReader(&out)
	require.NoError(t, err)
	records, err := r2.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []Record{
		{Key: "a", Line: []byte("1")},
		{Key: "c", Line: []byte("3")},
		{Key: "d", Line: []byte("4")},
	}, records)
}

func TestPatchOverwriteKeepsPosition(t *testing.T) {
	raw := writeContainer(t, []string{"a", "b", "c"}, [][]byte{[]byte("1"), []byte("2"), []byte("3")})
	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)

	p := NewPatch()
	p.Set("b", []byte("2-new"))

	var out bytes.Buffer
	require.NoError(t, ApplyPatch(r, p, &out))

	r2, err := NewReader(&out)
	require.NoError(t, err)
	records, err := r2.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []Record{
		{Key: "a", Line: []byte("1")},
		{Key: "b", Line: []byte("2-new")},
		{Key: "c", Line: []byte("3")},
	}, records)
}

func TestPatchDeleteOfAbsentKeyIsNoop(t *testing.T) {
	raw := writeContainer(t, []string{"a"}, [][]byte{[]byte("1")})
	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)

	p := NewPatch()
	p.Delete("nonexistent")

	var out bytes.Buffer
	require.NoError(t, ApplyPatch(r, p, &out))

	r2, err := NewReader(&out)
	require.NoError(t, err)
	records, err := r2.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []Record{{Key: "a", Line: []byte("1")}}, records)
}

func TestReaderEOFAfterAllRecords(t *testing.T) {
	raw := writeContainer(t, []string{"a"}, [][]byte{[]byte("1")})
	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)

	_, _, err = r.Next()
	require.NoError(t, err)

	_, _, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

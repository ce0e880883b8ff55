package cryptostream

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripSmall(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, key, DefaultChunkSize)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello arhiv"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(&buf, key)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "hello arhiv", out.String())
}

func TestRoundTripMultiChunk(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	plaintext := strings.Repeat("x", 5*1024)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, key, 1024)
	require.NoError(t, err)

	_, err = w.Write([]byte(plaintext))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(&buf, key)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, out.String())
}

func TestWrongKeyFailsAuthentication(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	wrongKey, err := GenerateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, key, DefaultChunkSize)
	require.NoError(t, err)
	_, err = w.Write([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(&buf, wrongKey)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.Error(t, err)
}

func TestTruncatedStreamIsDetected(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	plaintext := strings.Repeat("y", 5*1024)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, key, 1024)
	require.NoError(t, err)
	_, err = w.Write([]byte(plaintext))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-10])
	r, err := NewReader(truncated, key)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.Error(t, err)
}

func TestCompressedRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	plaintext := strings.Repeat("compress me please ", 1000)

	var buf bytes.Buffer
	w, err := NewCompressedWriter(&buf, key)
	require.NoError(t, err)
	_, err = w.Write([]byte(plaintext))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Less(t, buf.Len(), len(plaintext))

	r, err := NewCompressedReader(&buf, key)
	require.NoError(t, err)
	defer r.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, out.String())
}

func TestDeriveKeyFromPasswordDeterministic(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	k1, err := DeriveKeyFromPassword("correct horse battery staple", salt)
	require.NoError(t, err)
	k2, err := DeriveKeyFromPassword("correct horse battery staple", salt)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveKeyFromPassword("different password", salt)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

package cryptostream

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// sealedWriteCloser composes a zstd encoder on top of a crypto Writer, so
// that Close() flushes the compressor before sealing the final chunk.
type sealedWriteCloser struct {
	zw *zstd.Encoder
	cw *Writer
}

func (s *sealedWriteCloser) Write(p []byte) (int, error) { return s.zw.Write(p) }

func (s *sealedWriteCloser) Close() error {
	if err := s.zw.Close(); err != nil {
		return fmt.Errorf("failed to flush compressor: %w", err)
	}
	return s.cw.Close()
}

// NewCompressedWriter wraps w so that plaintext written to the result is
// zstd-compressed and then authenticated-encrypted before reaching w,
// matching the persisted-artifact pipeline "plaintext -> compress ->
// encrypt -> disk" (spec §4.1).
func NewCompressedWriter(w io.Writer, key Key) (io.WriteCloser, error) {
	cw, err := NewWriter(w, key, DefaultChunkSize)
	if err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(cw)
	if err != nil {
		return nil, fmt.Errorf("failed to construct compressor: %w", err)
	}

	return &sealedWriteCloser{zw: zw, cw: cw}, nil
}

// sealedReadCloser composes a zstd decoder on top of a crypto Reader.
type sealedReadCloser struct {
	zr *zstd.Decoder
	cr *Reader
}

func (s *sealedReadCloser) Read(p []byte) (int, error) { return s.zr.Read(p) }

func (s *sealedReadCloser) Close() error {
	s.zr.Close()
	return nil
}

// NewCompressedReader is the inverse of NewCompressedWriter: it decrypts
// and then decompresses the stream read from r.
func NewCompressedReader(r io.Reader, key Key) (io.ReadCloser, error) {
	cr, err := NewReader(r, key)
	if err != nil {
		return nil, err
	}

	zr, err := zstd.NewReader(cr)
	if err != nil {
		return nil, fmt.Errorf("failed to construct decompressor: %w", err)
	}

	return &sealedReadCloser{zr: zr, cr: cr}, nil
}

package fileops

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/bunpatch/internal/sizing"
)

// DefaultMaxDecoderMemory bounds the zstd decoder window (1GiB).
const DefaultMaxDecoderMemory = 1 << 30

// Compress streams r through a zstd encoder into w and returns the size and
// digest of the uncompressed bytes.
func Compress(w io.Writer, r io.Reader) (size uint64, dgst digest.Digest, err error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return 0, "", fmt.Errorf("create zstd encoder: %w", err)
	}

	digester := digest.Canonical.Digester()
	n, err := io.Copy(enc, io.TeeReader(r, digester.Hash()))
	if err != nil {
		enc.Close()
		return 0, "", err
	}
	if err := enc.Close(); err != nil {
		return 0, "", fmt.Errorf("close zstd encoder: %w", err)
	}
	return uint64(n), digester.Digest(), nil //nolint:gosec // io.Copy counts are non-negative
}

// Decompress reads a zstd stream of exactly size uncompressed bytes and
// verifies it against want.
func Decompress(r io.Reader, size uint64, want digest.Digest) ([]byte, error) {
	if err := want.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDigestMismatch, err)
	}
	n, err := sizing.ToInt(size, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(DefaultMaxDecoderMemory))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	verifier := want.Verifier()
	content := make([]byte, n)
	if _, err := io.ReadFull(io.TeeReader(dec, verifier), content); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: image shorter than %d bytes", ErrDigestMismatch, size)
		}
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if err := ensureNoExtra(dec); err != nil {
		return nil, err
	}
	if !verifier.Verified() {
		return nil, fmt.Errorf("%w: want %s", ErrDigestMismatch, want)
	}
	return content, nil
}

// ensureNoExtra returns an error if r yields more data.
func ensureNoExtra(r io.Reader) error {
	var scratch [1]byte
	n, err := r.Read(scratch[:])
	if n > 0 {
		return fmt.Errorf("%w: image longer than recorded size", ErrDigestMismatch)
	}
	if err == io.EOF {
		return nil
	}
	return err
}

// Package backup keeps compressed, digest-verified copies of executables
// taken before they are patched.
//
// A backup is a pair of files in the backup directory: <base>.zst holds the
// zstd-compressed image and <base>.manifest its FlatBuffers manifest.
package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/bunpatch/internal/container"
	"github.com/meigma/bunpatch/internal/fileops"
)

const (
	imageExt    = ".zst"
	manifestExt = ".manifest"
)

// Base returns the backup name for the executable at path: its file name plus
// a short digest of its absolute path, so equally named executables in
// different directories do not collide.
func Base(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Base(abs) + "-" + digest.FromString(abs).Encoded()[:12], nil
}

// Paths returns the image and manifest paths for base in dir.
func Paths(dir, base string) (image, manifest string) {
	return filepath.Join(dir, base+imageExt), filepath.Join(dir, base+manifestExt)
}

// Exists reports whether both files of a backup are present.
func Exists(dir, base string) bool {
	image, manifest := Paths(dir, base)
	for _, p := range []string{image, manifest} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Save writes a backup of data, the current image of the executable at src.
// The image is written before the manifest so a manifest never describes a
// missing image.
func Save(dir, src string, data []byte, modules []Record) (*Manifest, error) {
	base, err := Base(src)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	size, dgst, err := fileops.Compress(&compressed, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("compress backup: %w", err)
	}

	m := &Manifest{
		Version:    manifestVersion,
		SourcePath: abs,
		Format:     container.Detect(data),
		Mode:       fileops.ModeOf(src),
		Size:       size,
		Digest:     dgst,
		Created:    time.Now(),
		Modules:    modules,
	}

	imagePath, manifestPath := Paths(dir, base)
	if err := fileops.WriteAtomic(imagePath, compressed.Bytes(), fileops.WriteOptions{Mode: 0o644}); err != nil {
		return nil, fmt.Errorf("write backup image: %w", err)
	}
	if err := fileops.WriteAtomic(manifestPath, encodeManifest(m), fileops.WriteOptions{Mode: 0o644}); err != nil {
		return nil, fmt.Errorf("write backup manifest: %w", err)
	}
	return m, nil
}

// ReadManifest loads the manifest of a backup without touching its image.
func ReadManifest(dir, base string) (*Manifest, error) {
	_, manifestPath := Paths(dir, base)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read backup manifest: %w", err)
	}
	return decodeManifest(raw)
}

// Load reads a backup and returns its manifest and the verified image.
// A corrupted or truncated image wraps ErrDigestMismatch.
func Load(dir, base string) (*Manifest, []byte, error) {
	m, err := ReadManifest(dir, base)
	if err != nil {
		return nil, nil, err
	}

	imagePath, _ := Paths(dir, base)
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open backup image: %w", err)
	}
	defer f.Close()

	data, err := fileops.Decompress(f, m.Size, m.Digest)
	if err != nil {
		return nil, nil, fmt.Errorf("backup image %s: %w", imagePath, err)
	}
	return m, data, nil
}

// Remove deletes both files of a backup. Missing files are not an error.
func Remove(dir, base string) error {
	image, manifest := Paths(dir, base)
	for _, p := range []string{manifest, image} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

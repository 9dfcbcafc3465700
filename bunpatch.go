package bunpatch

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/meigma/bunpatch/internal/backup"
	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/bunfmt"
	"github.com/meigma/bunpatch/internal/container"
	"github.com/meigma/bunpatch/internal/fileops"
)

// writeFile replaces files on disk; tests substitute it to simulate a
// locked target.
var writeFile = fileops.WriteAtomic

// executable is an opened file with its resolved payload.
type executable struct {
	path string
	data []byte
	bin  *container.Binary
	blob *bunfmt.Blob
}

func open(path string, cfg *config) (*executable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(path, data, cfg)
}

func parse(path string, data []byte, cfg *config) (*executable, error) {
	bin, err := container.Open(data, container.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	blob, err := bunfmt.Parse(bin.Payload(), bunfmt.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.logger.Debug("parsed payload",
		slog.String("path", path),
		slog.String("format", bin.Format.String()),
		slog.Int("payload_size", len(blob.Raw)),
		slog.Int("modules", blob.Len()),
		slog.Int("module_struct_size", blob.ModuleStructSize))
	return &executable{path: path, data: data, bin: bin, blob: blob}, nil
}

func (e *executable) entrypoint() (bunfmt.Module, int, error) {
	m, idx, ok := e.blob.FindEntrypoint()
	if !ok {
		return bunfmt.Module{}, -1, fmt.Errorf("%w: %s: no claude entrypoint module among %d modules",
			bintype.ErrNotFound, e.path, e.blob.Len())
	}
	return m, idx, nil
}

// Extract returns a copy of the entrypoint module's source from the
// executable at path.
func Extract(path string, opts ...Option) ([]byte, error) {
	cfg := newConfig(opts)
	exe, err := open(path, cfg)
	if err != nil {
		return nil, err
	}
	m, idx, err := exe.entrypoint()
	if err != nil {
		return nil, err
	}
	cfg.logger.Debug("found entrypoint",
		slog.Int("index", idx),
		slog.String("name", exe.blob.Name(m)),
		slog.Int("size", int(m.Contents.Length)))
	return bytes.Clone(exe.blob.Contents(m)), nil
}

// Repack replaces the entrypoint module's source in the executable at path
// with content and writes the result to output. An empty output, or one equal
// to path, rewrites the executable in place.
//
// The write is atomic: output is either fully replaced or left untouched.
// Mach-O output is re-signed with the configured Signer; a signing failure is
// logged and does not fail the call.
func Repack(ctx context.Context, path string, content []byte, output string, opts ...Option) error {
	cfg := newConfig(opts)
	if output == "" {
		output = path
	}

	exe, err := open(path, cfg)
	if err != nil {
		return err
	}
	m, idx, err := exe.entrypoint()
	if err != nil {
		return err
	}

	if cfg.backupDir != "" {
		if err := ensureBackup(exe, cfg); err != nil {
			return err
		}
	}

	payload, err := bunfmt.Rebuild(exe.blob, idx, content)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	format := exe.bin.Format
	image, err := exe.bin.Replace(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var mode fs.FileMode
	if format != bintype.FormatPE {
		mode = fileops.ModeOf(path)
	}
	if err := writeFile(output, image, fileops.WriteOptions{Mode: mode, OwnerOf: path}); err != nil {
		return err
	}
	cfg.logger.Info("repacked executable",
		slog.String("output", output),
		slog.String("format", format.String()),
		slog.Int("old_size", int(m.Contents.Length)),
		slog.Int("new_size", len(content)),
		slog.Int("payload_size", len(payload)))

	if format == bintype.FormatMachO {
		resign(ctx, cfg, output)
	}
	return nil
}

func resign(ctx context.Context, cfg *config, path string) {
	if cfg.signer == nil {
		cfg.logger.Warn("Mach-O output is unsigned; sign it before running on macOS",
			slog.String("path", path))
		return
	}
	if err := cfg.signer.Sign(ctx, path); err != nil {
		cfg.logger.Warn("re-signing failed; sign manually with codesign -s - -f",
			slog.String("path", path),
			slog.Any("error", err))
		return
	}
	cfg.logger.Debug("re-signed executable", slog.String("path", path))
}

// ensureBackup saves a backup of exe unless one already exists.
func ensureBackup(exe *executable, cfg *config) error {
	base, err := backup.Base(exe.path)
	if err != nil {
		return err
	}
	if backup.Exists(cfg.backupDir, base) {
		cfg.logger.Debug("backup already present", slog.String("base", base))
		return nil
	}
	m, err := backup.Save(cfg.backupDir, exe.path, exe.data, exe.records())
	if err != nil {
		return fmt.Errorf("backup %s: %w", exe.path, err)
	}
	cfg.logger.Info("saved backup",
		slog.String("dir", cfg.backupDir),
		slog.String("base", base),
		slog.String("digest", m.Digest.String()))
	return nil
}

package bunpatch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/bunpatch/internal/backup"
	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/fileops"
)

// BackupInfo describes a stored backup.
type BackupInfo struct {
	ImagePath    string
	ManifestPath string
	SourcePath   string
	Format       Format
	Size         uint64
	Digest       digest.Digest
	Created      time.Time
	// Entrypoint is the name of the entrypoint module at backup time, if any.
	Entrypoint string
}

func newBackupInfo(dir, base string, m *backup.Manifest) *BackupInfo {
	image, manifest := backup.Paths(dir, base)
	info := &BackupInfo{
		ImagePath:    image,
		ManifestPath: manifest,
		SourcePath:   m.SourcePath,
		Format:       m.Format,
		Size:         m.Size,
		Digest:       m.Digest,
		Created:      m.Created,
	}
	if r, ok := m.Entrypoint(); ok {
		info.Entrypoint = r.Name
	}
	return info
}

// Backup stores a compressed copy of the executable at path in dir,
// replacing any earlier backup of the same executable.
//
// The executable does not need to carry a Bun payload; when it does, the
// manifest also records a digest of every module.
func Backup(path, dir string, opts ...Option) (*BackupInfo, error) {
	cfg := newConfig(opts)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []backup.Record
	if exe, err := parse(path, data, cfg); err == nil {
		records = exe.records()
	} else {
		cfg.logger.Debug("backing up without module records", slog.Any("error", err))
	}

	base, err := backup.Base(path)
	if err != nil {
		return nil, err
	}
	m, err := backup.Save(dir, path, data, records)
	if err != nil {
		return nil, fmt.Errorf("backup %s: %w", path, err)
	}
	cfg.logger.Info("saved backup",
		slog.String("dir", dir),
		slog.String("base", base),
		slog.String("digest", m.Digest.String()))
	return newBackupInfo(dir, base, m), nil
}

// BackupStatus returns the backup of the executable at path stored in dir.
func BackupStatus(path, dir string) (*BackupInfo, error) {
	base, err := backup.Base(path)
	if err != nil {
		return nil, err
	}
	if !backup.Exists(dir, base) {
		return nil, fmt.Errorf("%w: no backup of %s in %s", bintype.ErrNotFound, path, dir)
	}
	m, err := backup.ReadManifest(dir, base)
	if err != nil {
		return nil, err
	}
	return newBackupInfo(dir, base, m), nil
}

// Restore writes the backup of the executable at path, stored in dir, back to
// path. The image is verified against its recorded digest first.
func Restore(dir, path string, opts ...Option) error {
	cfg := newConfig(opts)
	base, err := backup.Base(path)
	if err != nil {
		return err
	}
	if !backup.Exists(dir, base) {
		return fmt.Errorf("%w: no backup of %s in %s", bintype.ErrNotFound, path, dir)
	}

	m, data, err := backup.Load(dir, base)
	if err != nil {
		return err
	}

	var mode fs.FileMode
	if m.Format != bintype.FormatPE {
		mode = m.Mode
	}
	if err := writeFile(path, data, fileops.WriteOptions{Mode: mode, OwnerOf: path}); err != nil {
		return err
	}
	cfg.logger.Info("restored executable",
		slog.String("path", path),
		slog.String("digest", m.Digest.String()),
		slog.Time("backup_created", m.Created))
	return nil
}

// DiscardBackup deletes the backup of the executable at path stored in dir.
func DiscardBackup(path, dir string, opts ...Option) error {
	cfg := newConfig(opts)
	base, err := backup.Base(path)
	if err != nil {
		return err
	}
	if !backup.Exists(dir, base) {
		return fmt.Errorf("%w: no backup of %s in %s", bintype.ErrNotFound, path, dir)
	}
	if err := backup.Remove(dir, base); err != nil {
		return fmt.Errorf("discard backup of %s: %w", path, err)
	}
	cfg.logger.Info("discarded backup", slog.String("dir", dir), slog.String("base", base))
	return nil
}

package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xyproto/env/v2"

	"github.com/meigma/bunpatch"
	"github.com/meigma/bunpatch/internal/codesign"
)

// Environment variables read as flag defaults.
const (
	envDebug     = "BUNPATCH_DEBUG"
	envBackupDir = "BUNPATCH_BACKUP_DIR"
	envCodesign  = "BUNPATCH_CODESIGN"
	envNoSign    = "BUNPATCH_NO_SIGN"
)

type options struct {
	Debug     bool
	BackupDir string
	Codesign  string
	NoSign    bool
}

func defaultOptions() options {
	return options{
		Debug:     env.Bool(envDebug),
		BackupDir: env.Str(envBackupDir, defaultBackupDir()),
		Codesign:  env.Str(envCodesign, codesign.DefaultTool),
		NoSign:    env.Bool(envNoSign),
	}
}

func defaultBackupDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "bunpatch", "backups")
	}
	return filepath.Join(dir, "bunpatch", "backups")
}

func (o *options) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// libraryOptions translates CLI options to bunpatch options.
func (o *options) libraryOptions(logger *slog.Logger) []bunpatch.Option {
	opts := []bunpatch.Option{bunpatch.WithLogger(logger)}
	switch {
	case o.NoSign:
		opts = append(opts, bunpatch.WithSigner(nil))
	case o.Codesign != codesign.DefaultTool:
		opts = append(opts, bunpatch.WithSigner(codesign.AdHoc{Path: o.Codesign}))
	}
	return opts
}

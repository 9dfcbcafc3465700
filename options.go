package bunpatch

import (
	"log/slog"
	"runtime"

	"github.com/meigma/bunpatch/internal/codesign"
)

// Signer re-signs a Mach-O executable after it has been rewritten.
type Signer = codesign.Signer

// Option configures Extract, Repack, Inspect, Backup and Restore.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	signer    Signer
	backupDir string
}

func newConfig(opts []Option) *config {
	cfg := &config{
		logger: slog.New(slog.DiscardHandler),
	}
	if runtime.GOOS == "darwin" {
		cfg.signer = codesign.AdHoc{}
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithLogger sets the logger used for diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSigner sets the signer applied to repacked Mach-O executables.
//
// On macOS the default runs `codesign -s - -f`; elsewhere no signer is set.
// Pass nil to disable signing.
func WithSigner(s Signer) Option {
	return func(c *config) {
		c.signer = s
	}
}

// WithBackupDir makes Repack back up the original executable to dir before
// the first rewrite. An existing backup is never overwritten, so repeated
// repacks keep the pristine copy.
func WithBackupDir(dir string) Option {
	return func(c *config) {
		c.backupDir = dir
	}
}

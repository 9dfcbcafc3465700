// Package bunpatch reads and rewrites the JavaScript embedded in executables
// produced by `bun build --compile`.
//
// A compiled Bun executable carries a payload holding a virtual filesystem of
// modules. The payload lives in an overlay after the ELF contents, in the
// __BUN,__bun section of a Mach-O binary, or in the .bun section of a PE
// image. This package locates the payload, extracts the entrypoint module
// (named claude or claude.exe), and writes a modified entrypoint back while
// keeping every other module byte-for-byte intact.
//
// # Quick Start
//
// Extract the entrypoint source:
//
//	src, err := bunpatch.Extract("/usr/local/bin/claude")
//	if err != nil {
//	    return err
//	}
//
// Write modified source back in place, keeping a backup of the original:
//
//	err = bunpatch.Repack(ctx, "/usr/local/bin/claude", patched, "",
//	    bunpatch.WithBackupDir(dir),
//	)
//
// # Code Signing
//
// Repacking a Mach-O binary invalidates its code signature, so the signature
// is removed and the output is re-signed ad hoc with the codesign tool on
// macOS. Use [WithSigner] to supply another signer or disable signing.
// PE Authenticode signatures are dropped and not replaced.
//
// # Backups
//
// [Backup] stores a zstd-compressed copy of an executable and a manifest with
// its digest; [Restore] verifies the digest before writing the copy back.
package bunpatch

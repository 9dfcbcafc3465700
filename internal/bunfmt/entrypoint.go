package bunfmt

import "strings"

// Entrypoint base names. Unix builds name the module /$bunfs/root/claude;
// Windows builds use B:/~BUN/root/claude.exe.
var entrypointNames = []string{"claude", "claude.exe"}

// IsEntrypoint reports whether a module name refers to the patch target.
func IsEntrypoint(name string) bool {
	for _, base := range entrypointNames {
		if name == base ||
			strings.HasSuffix(name, "/"+base) ||
			strings.HasSuffix(name, `\`+base) {
			return true
		}
	}
	return false
}

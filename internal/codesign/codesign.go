// Package codesign re-signs patched Mach-O executables.
package codesign

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultTool is the signing tool invoked by AdHoc when Path is empty.
const DefaultTool = "codesign"

// Signer applies a code signature to the executable at path.
type Signer interface {
	Sign(ctx context.Context, path string) error
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, path string) error

// Sign calls f.
func (f SignerFunc) Sign(ctx context.Context, path string) error {
	return f(ctx, path)
}

// Nop is a Signer that does nothing.
var Nop Signer = SignerFunc(func(context.Context, string) error { return nil })

// AdHoc signs with an ad-hoc identity by running `codesign -s - -f <path>`.
type AdHoc struct {
	// Path to the codesign binary. Empty uses DefaultTool from PATH.
	Path string
}

// Sign implements Signer.
func (a AdHoc) Sign(ctx context.Context, path string) error {
	tool := a.Path
	if tool == "" {
		tool = DefaultTool
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, "-s", "-", "-f", path)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", tool, err, msg)
		}
		return fmt.Errorf("%s: %w", tool, err)
	}
	return nil
}

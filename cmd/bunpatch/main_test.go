package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bunpatch"
	"github.com/meigma/bunpatch/internal/testutil"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	p := testutil.DefaultPayload()
	p.Padding = 4096
	p.Modules[1].Sourcemap = strings.Repeat(";", 4096)
	path := filepath.Join(t.TempDir(), "claude")
	img := testutil.BuildELF(t, testutil.ELFOverlay(testutil.BuildPayload(t, p)))
	require.NoError(t, os.WriteFile(path, img, 0o755))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestExtractToStdout(t *testing.T) {
	t.Parallel()

	out, err := run(t, "extract", writeFixture(t))
	require.NoError(t, err)
	assert.Equal(t, "console.log('hello');", out)
}

func TestExtractToFile(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "cli.js")
	_, err := run(t, "extract", writeFixture(t), "-o", dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "console.log('hello');", string(got))
}

func TestRepackAndRestore(t *testing.T) {
	t.Parallel()

	exe := writeFixture(t)
	original, err := os.ReadFile(exe)
	require.NoError(t, err)
	backups := t.TempDir()

	src := filepath.Join(t.TempDir(), "cli.js")
	require.NoError(t, os.WriteFile(src, []byte("patched();"), 0o644))

	_, err = run(t, "--backup-dir", backups, "repack", exe, src, "--no-sign")
	require.NoError(t, err)

	out, err := run(t, "extract", exe)
	require.NoError(t, err)
	assert.Equal(t, "patched();", out)

	out, err = run(t, "--backup-dir", backups, "backup", "--status", exe)
	require.NoError(t, err)
	assert.Contains(t, out, "format:   ELF")

	_, err = run(t, "--backup-dir", backups, "restore", exe)
	require.NoError(t, err)
	restored, err := os.ReadFile(exe)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestRestoreDiscard(t *testing.T) {
	t.Parallel()

	exe := writeFixture(t)
	backups := t.TempDir()

	_, err := run(t, "--backup-dir", backups, "backup", exe)
	require.NoError(t, err)

	_, err = run(t, "--backup-dir", backups, "restore", "--discard", exe)
	require.NoError(t, err)

	_, err = run(t, "--backup-dir", backups, "backup", "--status", exe)
	require.ErrorIs(t, err, bunpatch.ErrNotFound)
	assert.Equal(t, 2, exitCode(err))
}

func TestList(t *testing.T) {
	t.Parallel()

	out, err := run(t, "list", writeFixture(t))
	require.NoError(t, err)
	assert.Contains(t, out, "format: ELF")
	assert.Contains(t, out, "/$bunfs/root/claude *")
	assert.Contains(t, out, "/$bunfs/root/tree-sitter.wasm")
	assert.Contains(t, out, "wasm")
}

func TestArgValidation(t *testing.T) {
	t.Parallel()

	_, err := run(t, "repack", "only-one-arg")
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, exitCode(fmt.Errorf("wrap: %w", bunpatch.ErrNotFound)))
	assert.Equal(t, 3, exitCode(bunpatch.ErrFileBusy))
	assert.Equal(t, 1, exitCode(bunpatch.ErrInvalidStructure))
}

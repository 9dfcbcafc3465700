package bunpatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bunpatch/internal/codesign"
	"github.com/meigma/bunpatch/internal/testutil"
)

const entrySource = "console.log('hello');"

func fixturePayload(t *testing.T, p testutil.TestPayload) []byte {
	t.Helper()
	return testutil.BuildPayload(t, p)
}

// defaultPayload carries a large sourcemap so rebuilt payloads stay above the
// minimum size accepted in an ELF overlay.
func defaultPayload() testutil.TestPayload {
	p := testutil.DefaultPayload()
	p.Padding = 4096
	p.Modules[1].Sourcemap = strings.Repeat(";", 4096)
	return p
}

func buildImage(t *testing.T, format Format, payload []byte) []byte {
	t.Helper()
	switch format {
	case FormatELF:
		return testutil.BuildELF(t, testutil.ELFOverlay(payload))
	case FormatMachO:
		return testutil.BuildMachO(t, testutil.MachOOptions{
			CPU:       testutil.CPUTypeARM64,
			Section:   testutil.SectionData(payload, 8, 0),
			Signature: true,
		})
	case FormatPE:
		return testutil.BuildPE(t, []testutil.PESection{
			{Name: ".text", Data: make([]byte, 64)},
			{Name: ".bun", Data: testutil.SectionData(payload, 8, 0)},
			{Name: ".reloc", Data: []byte("relocs"), VirtualAddress: 0x100000},
		}, nil)
	default:
		t.Fatalf("unsupported fixture format %v", format)
		return nil
	}
}

func writeImage(t *testing.T, format Format, payload []byte) string {
	t.Helper()
	name := "claude"
	if format == FormatPE {
		name = "claude.exe"
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buildImage(t, format, payload), 0o755))
	return path
}

var allFormats = []Format{FormatELF, FormatMachO, FormatPE}

// recordingSigner records the paths it is asked to sign.
type recordingSigner struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (s *recordingSigner) Sign(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return s.err
}

func TestExtract(t *testing.T) {
	t.Parallel()

	for _, format := range allFormats {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			path := writeImage(t, format, fixturePayload(t, defaultPayload()))
			got, err := Extract(path)
			require.NoError(t, err)
			assert.Equal(t, entrySource, string(got))
		})
	}
}

func TestExtractErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "script")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o755))
	_, err := Extract(script)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Extract(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)

	p := defaultPayload()
	p.Modules[0].Name = "/$bunfs/root/claude-helper"
	_, err = Extract(writeImage(t, FormatELF, fixturePayload(t, p)))
	require.ErrorIs(t, err, ErrNotFound)

	p = defaultPayload()
	p.Modules[0].Contents = ""
	_, err = Extract(writeImage(t, FormatELF, fixturePayload(t, p)))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepackRoundTrip(t *testing.T) {
	t.Parallel()

	patched := entrySource + "\n" + strings.Repeat("// patched\n", 200)

	for _, format := range allFormats {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			path := writeImage(t, format, fixturePayload(t, defaultPayload()))
			before, err := Inspect(path)
			require.NoError(t, err)

			signer := &recordingSigner{}
			require.NoError(t, Repack(context.Background(), path, []byte(patched), "", WithSigner(signer)))

			got, err := Extract(path)
			require.NoError(t, err)
			assert.Equal(t, patched, string(got))

			after, err := Inspect(path)
			require.NoError(t, err)
			require.Len(t, after.Modules, len(before.Modules))
			assert.Equal(t, before.ModuleStructSize, after.ModuleStructSize)
			assert.Equal(t, before.SectionHeaderSize, after.SectionHeaderSize)
			assert.Equal(t, before.EntryPointID, after.EntryPointID)
			assert.Equal(t, before.Flags, after.Flags)
			assert.Equal(t, before.CompileExecArgv, after.CompileExecArgv)
			for i, m := range after.Modules {
				assert.Equal(t, before.Modules[i].Name, m.Name)
				if m.Entrypoint {
					assert.Equal(t, len(patched), m.Size)
					continue
				}
				assert.Equal(t, before.Modules[i].Digest, m.Digest, "module %s changed", m.Name)
			}

			if format == FormatMachO {
				assert.Equal(t, []string{path}, signer.paths)
			} else {
				assert.Empty(t, signer.paths)
			}
		})
	}
}

func TestRepackSeparateOutput(t *testing.T) {
	t.Parallel()

	path := writeImage(t, FormatELF, fixturePayload(t, defaultPayload()))
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	output := filepath.Join(t.TempDir(), "claude-patched")
	require.NoError(t, Repack(context.Background(), path, []byte("patched()"), output))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, current)

	got, err := Extract(output)
	require.NoError(t, err)
	assert.Equal(t, "patched()", string(got))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(output)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func TestRepackIdempotentContent(t *testing.T) {
	t.Parallel()

	path := writeImage(t, FormatELF, fixturePayload(t, defaultPayload()))
	require.NoError(t, Repack(context.Background(), path, []byte(entrySource), ""))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, Repack(context.Background(), path, []byte(entrySource), ""))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRepackSignerFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	path := writeImage(t, FormatMachO, fixturePayload(t, defaultPayload()))
	signer := &recordingSigner{err: errors.New("codesign: not available")}
	require.NoError(t, Repack(context.Background(), path, []byte("patched()"), "", WithSigner(signer)))
	assert.Len(t, signer.paths, 1)

	require.NoError(t, Repack(context.Background(), path, []byte("again()"), "", WithSigner(nil)))
	got, err := Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "again()", string(got))
}

func TestRepackNoEntrypointLeavesFile(t *testing.T) {
	t.Parallel()

	p := defaultPayload()
	p.Modules[0].Name = "/$bunfs/root/index.js"
	path := writeImage(t, FormatPE, fixturePayload(t, p))
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	err = Repack(context.Background(), path, []byte("patched()"), "", WithSigner(codesign.Nop))
	require.ErrorIs(t, err, ErrNotFound)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, current)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	p := defaultPayload()
	p.StructSize = testutil.ModuleSizeOld
	path := writeImage(t, FormatMachO, fixturePayload(t, p))

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, FormatMachO, info.Format)
	assert.Equal(t, 8, info.SectionHeaderSize)
	assert.Equal(t, testutil.ModuleSizeOld, info.ModuleStructSize)
	assert.Equal(t, uint32(3), info.Flags)
	assert.Equal(t, "--smol", info.CompileExecArgv)
	require.Len(t, info.Modules, 3)

	entry, ok := info.Entrypoint()
	require.True(t, ok)
	assert.Equal(t, 0, entry.Index)
	assert.Equal(t, "/$bunfs/root/claude", entry.Name)
	assert.Equal(t, len(entrySource), entry.Size)
	assert.Equal(t, "utf8", entry.Encoding.String())
	assert.Equal(t, "esm", entry.ModuleFormat.String())

	wasm := info.Modules[2]
	assert.False(t, wasm.Entrypoint)
	assert.Equal(t, "wasm", wasm.Loader.String())
}

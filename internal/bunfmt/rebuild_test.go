package bunfmt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bunpatch/internal/testutil"
)

func TestRebuildPreservesModules(t *testing.T) {
	t.Parallel()

	for _, structSize := range []int{testutil.ModuleSizeOld, testutil.ModuleSizeNew} {
		p := testutil.DefaultPayload()
		p.StructSize = structSize
		src := mustParse(t, testutil.BuildPayload(t, p))

		out, err := Rebuild(src, NoTarget, nil)
		require.NoError(t, err)
		got := mustParse(t, out)

		assert.Equal(t, structSize, got.ModuleStructSize)
		assert.Equal(t, src.Offsets.EntryPointID, got.Offsets.EntryPointID)
		assert.Equal(t, src.Offsets.Flags, got.Offsets.Flags)
		assert.Equal(t, src.CompileExecArgv(), got.CompileExecArgv())
		require.Equal(t, src.Len(), got.Len())

		for i, m := range got.Modules() {
			want, err := src.Module(i)
			require.NoError(t, err)
			assert.Equal(t, src.Name(want), got.Name(m))
			assert.Equal(t, src.Contents(want), got.Contents(m))
			assert.Equal(t, src.Bytes(want.Sourcemap), got.Bytes(m.Sourcemap))
			assert.Equal(t, src.Bytes(want.Bytecode), got.Bytes(m.Bytecode))
			assert.Equal(t, src.Bytes(want.ModuleInfo), got.Bytes(m.ModuleInfo))
			assert.Equal(t, src.Bytes(want.BytecodeOriginPath), got.Bytes(m.BytecodeOriginPath))
			assert.Equal(t, want.Encoding, m.Encoding)
			assert.Equal(t, want.Loader, m.Loader)
			assert.Equal(t, want.ModuleFormat, m.ModuleFormat)
			assert.Equal(t, want.Side, m.Side)
		}
	}
}

func TestRebuildRoundTripIdentity(t *testing.T) {
	t.Parallel()

	src := mustParse(t, testutil.BuildPayload(t, testutil.DefaultPayload()))
	first, err := Rebuild(src, NoTarget, nil)
	require.NoError(t, err)

	second, err := Rebuild(mustParse(t, first), NoTarget, nil)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second), "rebuild of a rebuilt payload must be byte-identical")
}

func TestRebuildSubstitution(t *testing.T) {
	t.Parallel()

	src := mustParse(t, testutil.BuildPayload(t, testutil.DefaultPayload()))
	_, target, ok := src.FindEntrypoint()
	require.True(t, ok)

	replacement := []byte("console.log('patched'); // a much longer body than before")
	out, err := Rebuild(src, target, replacement)
	require.NoError(t, err)
	got := mustParse(t, out)

	m, idx, ok := got.FindEntrypoint()
	require.True(t, ok)
	assert.Equal(t, target, idx)
	assert.Equal(t, replacement, got.Contents(m))

	// Every other module is preserved byte-for-byte.
	for i, m := range got.Modules() {
		if i == target {
			continue
		}
		want, err := src.Module(i)
		require.NoError(t, err)
		assert.Equal(t, src.Contents(want), got.Contents(m))
	}
}

func TestRebuildLayout(t *testing.T) {
	t.Parallel()

	src := mustParse(t, testutil.BuildPayload(t, testutil.DefaultPayload()))
	out, err := Rebuild(src, NoTarget, nil)
	require.NoError(t, err)
	got := mustParse(t, out)

	// ByteCount records the header's own offset.
	assert.Equal(t, uint64(len(out)-OffsetsSize-TrailerSize), got.Offsets.ByteCount)
	assert.Equal(t, Trailer, out[len(out)-TrailerSize:])

	// Every string is NUL-terminated.
	for _, m := range got.Modules() {
		for _, p := range m.pointers(got.ModuleStructSize) {
			end := int(p.Offset + p.Length)
			require.Less(t, end, len(out))
			assert.Equal(t, byte(0), out[end])
		}
	}
	argv := got.Offsets.CompileExecArgv
	assert.Equal(t, byte(0), out[argv.Offset+argv.Length])

	// The module table follows the string pool and precedes argv.
	assert.Less(t, got.Offsets.Modules.Offset, argv.Offset)
	assert.Equal(t, got.Offsets.Modules.Offset+got.Offsets.Modules.Length, argv.Offset)
}

func TestRebuildGrowth(t *testing.T) {
	t.Parallel()

	src := mustParse(t, testutil.BuildPayload(t, testutil.DefaultPayload()))
	_, target, ok := src.FindEntrypoint()
	require.True(t, ok)
	m, err := src.Module(target)
	require.NoError(t, err)

	base, err := Rebuild(src, NoTarget, nil)
	require.NoError(t, err)

	longer := append(bytes.Clone(src.Contents(m)), bytes.Repeat([]byte{' '}, 100)...)
	grown, err := Rebuild(src, target, longer)
	require.NoError(t, err)
	assert.Equal(t, len(base)+100, len(grown))
}

func TestRebuildTargetOutOfRange(t *testing.T) {
	t.Parallel()

	src := mustParse(t, testutil.BuildPayload(t, testutil.DefaultPayload()))
	_, err := Rebuild(src, src.Len(), []byte("x"))
	assert.Error(t, err)
}

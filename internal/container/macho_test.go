package container

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/testutil"
)

const (
	lcSymtab        = 0x2
	lcCodeSignature = 0x1d
)

func parseMachO(t *testing.T, data []byte) *macho.File {
	t.Helper()
	f, err := macho.NewFile(bytes.NewReader(data))
	require.NoError(t, err)
	return f
}

func hasCodeSignature(f *macho.File) bool {
	for _, l := range f.Loads {
		raw := l.Raw()
		if len(raw) >= 4 && f.ByteOrder.Uint32(raw) == lcCodeSignature {
			return true
		}
	}
	return false
}

// symtabOffsets reads symoff and stroff from the raw LC_SYMTAB command;
// debug/macho does not decode them into Symtab.
func symtabOffsets(t *testing.T, f *macho.File) (symoff, stroff uint32) {
	t.Helper()
	for _, l := range f.Loads {
		raw := l.Raw()
		if len(raw) >= 24 && f.ByteOrder.Uint32(raw) == lcSymtab {
			return f.ByteOrder.Uint32(raw[8:]), f.ByteOrder.Uint32(raw[16:])
		}
	}
	t.Fatal("no LC_SYMTAB command")
	return 0, 0
}

func TestMachOPageSize(t *testing.T) {
	t.Parallel()

	for _, cpu := range []uint32{testutil.CPUTypeARM64, testutil.CPUTypeX86_64} {
		img := testutil.BuildMachO(t, testutil.MachOOptions{CPU: cpu, Section: testutil.SectionData(payloadOf(t, 0, ""), 8, 0)})
		b, err := Open(img)
		require.NoError(t, err)
		assert.Equal(t, testutil.MachOPageSize(cpu), b.MachO.PageSize())
	}
}

func TestMachOReplaceGrowsByPage(t *testing.T) {
	t.Parallel()

	for _, cpu := range []uint32{testutil.CPUTypeARM64, testutil.CPUTypeX86_64} {
		page := testutil.MachOPageSize(cpu)
		payload := payloadOf(t, 0, "")
		img := testutil.BuildMachO(t, testutil.MachOOptions{
			CPU:       cpu,
			Section:   testutil.SectionData(payload, 8, 0),
			Signature: true,
		})
		before := parseMachO(t, img)
		bunBefore := before.Segment(MachOSegment)
		linkBefore := before.Segment("__LINKEDIT")
		sectBefore := before.Section(MachOSection)
		require.True(t, hasCodeSignature(before))

		b, err := Open(img)
		require.NoError(t, err)

		replacement := payloadOf(t, 0, strings.Repeat("x", 100))
		require.Len(t, replacement, len(payload)+100)
		out, err := b.Replace(replacement)
		require.NoError(t, err)

		after := parseMachO(t, out)
		bun := after.Segment(MachOSegment)
		require.NotNil(t, bun)
		assert.Equal(t, bunBefore.Filesz+page, bun.Filesz)
		assert.Equal(t, bunBefore.Memsz+page, bun.Memsz)
		assert.Equal(t, sectBefore.Size+100, after.Section(MachOSection).Size)

		link := after.Segment("__LINKEDIT")
		assert.Equal(t, linkBefore.Offset+page, link.Offset)
		assert.Equal(t, linkBefore.Addr+page, link.Addr)
		assert.Equal(t, uint64(testutil.MachOSymtabSize), link.Filesz)
		assert.False(t, hasCodeSignature(after))

		require.NotNil(t, after.Symtab)
		symoff, stroff := symtabOffsets(t, after)
		assert.Equal(t, uint32(link.Offset), symoff)    //nolint:gosec // fixture offsets are small
		assert.Equal(t, uint32(link.Offset+16), stroff) //nolint:gosec // fixture offsets are small
		require.Len(t, after.Symtab.Syms, 1)
		assert.Equal(t, "_main", after.Symtab.Syms[0].Name)

		assert.Len(t, out, int(link.Offset+link.Filesz)) //nolint:gosec // fixture sizes are small

		reopened, err := Open(out)
		require.NoError(t, err)
		assert.Equal(t, replacement, reopened.Payload())
	}
}

func TestMachOReplaceShrink(t *testing.T) {
	t.Parallel()

	payload := payloadOf(t, 0, "// trailing comment that will be removed")
	img := testutil.BuildMachO(t, testutil.MachOOptions{
		CPU:     testutil.CPUTypeARM64,
		Section: testutil.SectionData(payload, 4, 0),
	})
	before := parseMachO(t, img)

	b, err := Open(img)
	require.NoError(t, err)
	replacement := payloadOf(t, 0, "")
	out, err := b.Replace(replacement)
	require.NoError(t, err)

	after := parseMachO(t, out)
	assert.Equal(t, before.Segment(MachOSegment).Filesz, after.Segment(MachOSegment).Filesz)
	assert.Equal(t, uint64(4+len(replacement)), after.Section(MachOSection).Size)
	assert.Len(t, out, len(img))

	reopened, err := Open(out)
	require.NoError(t, err)
	assert.Equal(t, 4, reopened.SectionHeaderSize())
	assert.Equal(t, replacement, reopened.Payload())
}

func TestMachORemoveSignature(t *testing.T) {
	t.Parallel()

	img := testutil.BuildMachO(t, testutil.MachOOptions{
		CPU:       testutil.CPUTypeARM64,
		Section:   testutil.SectionData(payloadOf(t, 0, ""), 8, 0),
		Signature: true,
	})
	ncmds := len(parseMachO(t, img).Loads)

	b, err := Open(img)
	require.NoError(t, err)
	assert.True(t, b.MachO.Signed())

	removed, err := b.MachO.RemoveSignature()
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, b.MachO.Signed())

	out := b.MachO.Bytes()
	assert.Len(t, out, len(img)-testutil.MachOSignatureLen)
	f := parseMachO(t, out)
	assert.Len(t, f.Loads, ncmds-1)
	assert.False(t, hasCodeSignature(f))

	removed, err = b.MachO.RemoveSignature()
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMachOMissingSection(t *testing.T) {
	t.Parallel()

	img := testutil.BuildMachO(t, testutil.MachOOptions{
		CPU:     testutil.CPUTypeARM64,
		Section: testutil.SectionData(payloadOf(t, 0, ""), 8, 0),
	})
	// Rename the section so lookup fails.
	idx := bytes.Index(img, []byte(MachOSection+"\x00"))
	require.Positive(t, idx)
	copy(img[idx:], "__xyz")

	_, err := Open(img)
	require.ErrorIs(t, err, bintype.ErrNotFound)
}

func TestMachOUnsignedImage(t *testing.T) {
	t.Parallel()

	img := testutil.BuildMachO(t, testutil.MachOOptions{
		CPU:     testutil.CPUTypeX86_64,
		Section: testutil.SectionData(payloadOf(t, 0, ""), 8, 0),
	})
	b, err := Open(img)
	require.NoError(t, err)
	assert.False(t, b.MachO.Signed())

	removed, err := b.MachO.RemoveSignature()
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, img, b.MachO.Bytes())
}

func TestMachOTruncatedLoadCommands(t *testing.T) {
	t.Parallel()

	img := testutil.BuildMachO(t, testutil.MachOOptions{
		CPU:     testutil.CPUTypeARM64,
		Section: testutil.SectionData(payloadOf(t, 0, ""), 8, 0),
	})
	// Claim far more load-command bytes than the file holds.
	binary.LittleEndian.PutUint32(img[20:], uint32(len(img))*4) //nolint:gosec // fixture sizes are small

	_, err := Open(img)
	require.ErrorIs(t, err, bintype.ErrInvalidStructure)
}

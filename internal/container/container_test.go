package container

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/testutil"
)

func payloadOf(t *testing.T, padding int, extra string) []byte {
	t.Helper()
	p := testutil.DefaultPayload()
	p.Padding = padding
	p.Modules[0].Contents += extra
	return testutil.BuildPayload(t, p)
}

func TestDetect(t *testing.T) {
	t.Parallel()

	payload := payloadOf(t, 8, "")
	fat := make([]byte, 64)
	binary.BigEndian.PutUint32(fat, 0xcafebabe)

	tests := []struct {
		name string
		data []byte
		want bintype.Format
	}{
		{"elf", testutil.BuildELF(t, nil), bintype.FormatELF},
		{"macho", testutil.BuildMachO(t, testutil.MachOOptions{CPU: testutil.CPUTypeARM64, Section: testutil.SectionData(payload, 8, 0)}), bintype.FormatMachO},
		{"pe", testutil.BuildPE(t, []testutil.PESection{{Name: ".bun", Data: testutil.SectionData(payload, 8, 0)}}, nil), bintype.FormatPE},
		{"fat", fat, bintype.FormatUnknown},
		{"mz without pe", append([]byte("MZ"), make([]byte, 0x40)...), bintype.FormatUnknown},
		{"text", []byte("#!/bin/sh\necho hi\n"), bintype.FormatUnknown},
		{"empty", nil, bintype.FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Detect(tt.data))
		})
	}
}

func TestOpenUnsupported(t *testing.T) {
	t.Parallel()

	_, err := Open([]byte("#!/bin/sh\n"))
	require.ErrorIs(t, err, bintype.ErrUnsupportedFormat)

	fat := make([]byte, 64)
	binary.BigEndian.PutUint32(fat, 0xcafebabe)
	_, err = Open(fat)
	require.ErrorIs(t, err, bintype.ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "universal")

	_, err = Open(nil)
	require.ErrorIs(t, err, bintype.ErrUnsupportedFormat)
}

func TestBinaryDispatch(t *testing.T) {
	t.Parallel()

	payload := payloadOf(t, 4096, "")
	replacement := payloadOf(t, 4096, "// patched")

	images := map[bintype.Format][]byte{
		bintype.FormatELF: testutil.BuildELF(t, testutil.ELFOverlay(payload)),
		bintype.FormatMachO: testutil.BuildMachO(t, testutil.MachOOptions{
			CPU: testutil.CPUTypeX86_64, Section: testutil.SectionData(payload, 4, 0),
		}),
		bintype.FormatPE: testutil.BuildPE(t, []testutil.PESection{
			{Name: ".text", Data: make([]byte, 64)},
			{Name: ".bun", Data: testutil.SectionData(payload, 8, 0), VirtualAddress: 0x2000},
		}, nil),
	}
	wantHeader := map[bintype.Format]int{
		bintype.FormatELF:   0,
		bintype.FormatMachO: 4,
		bintype.FormatPE:    8,
	}

	for format, img := range images {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			b, err := Open(img)
			require.NoError(t, err)
			assert.Equal(t, format, b.Format)
			assert.Equal(t, payload, b.Payload())
			assert.Equal(t, wantHeader[format], b.SectionHeaderSize())

			out, err := b.Replace(replacement)
			require.NoError(t, err)

			reopened, err := Open(out)
			require.NoError(t, err)
			assert.Equal(t, replacement, reopened.Payload())
			assert.Equal(t, wantHeader[format], reopened.SectionHeaderSize())
		})
	}
}

package bunfmt

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/sizing"
)

// StringPointerSize is the encoded size of a StringPointer.
const StringPointerSize = 8

// StringPointer locates a byte range inside a payload. It never owns data.
type StringPointer struct {
	Offset uint32
	Length uint32
}

// Slice returns the bytes addressed by p. The result aliases buf.
func (p StringPointer) Slice(buf []byte) ([]byte, error) {
	if !sizing.Fits(uint64(p.Offset), uint64(p.Length), len(buf)) {
		return nil, fmt.Errorf("%w: pointer [%d, +%d) exceeds buffer of %d bytes",
			bintype.ErrInvalidStructure, p.Offset, p.Length, len(buf))
	}
	return buf[p.Offset : p.Offset+p.Length], nil
}

// IsZero reports whether p is the empty pointer.
func (p StringPointer) IsZero() bool {
	return p.Offset == 0 && p.Length == 0
}

func readStringPointer(b []byte) StringPointer {
	return StringPointer{
		Offset: binary.LittleEndian.Uint32(b[0:4]),
		Length: binary.LittleEndian.Uint32(b[4:8]),
	}
}

func (p StringPointer) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], p.Offset)
	binary.LittleEndian.PutUint32(b[4:8], p.Length)
}

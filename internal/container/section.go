package container

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/sizing"
)

// sectionSlack is how far the recorded payload length may fall short of the
// section size. Sections are padded to file alignment on disk.
const sectionSlack = 4096

// DetectSectionHeader determines the width of the length prefix stored in
// front of a Mach-O or PE section payload and returns the payload it frames.
// The 8-byte form is tried first.
func DetectSectionHeader(content []byte) (int, []byte, error) {
	for _, width := range []int{8, 4} {
		if len(content) < width {
			continue
		}
		var size uint64
		if width == 8 {
			size = binary.LittleEndian.Uint64(content)
		} else {
			size = uint64(binary.LittleEndian.Uint32(content))
		}
		end, ok := sizing.AddUint64(uint64(width), size)
		if !ok || end > uint64(len(content)) {
			continue
		}
		if end+sectionSlack < uint64(len(content)) {
			continue
		}
		return width, content[width:end], nil
	}
	return 0, nil, fmt.Errorf("%w: section of %d bytes has no recognizable length header",
		bintype.ErrInvalidStructure, len(content))
}

// BuildSectionData frames payload with a length prefix of the given width.
func BuildSectionData(payload []byte, headerSize int) []byte {
	out := make([]byte, headerSize+len(payload))
	if headerSize == 8 {
		binary.LittleEndian.PutUint64(out, uint64(len(payload)))
	} else {
		binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	}
	copy(out[headerSize:], payload)
	return out
}

// Package bintype defines shared types used across the bunpatch package and its
// internal packages. This avoids circular imports between bunpatch and internal/container.
package bintype

// Format identifies the native container that embeds a Bun payload.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatELF
	FormatMachO
	FormatPE
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "ELF"
	case FormatMachO:
		return "Mach-O"
	case FormatPE:
		return "PE"
	default:
		return "unknown"
	}
}

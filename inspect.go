package bunpatch

import (
	"github.com/opencontainers/go-digest"

	"github.com/meigma/bunpatch/internal/backup"
)

// Info describes the payload of a compiled Bun executable.
type Info struct {
	Format Format
	// SectionHeaderSize is the width of the length prefix in front of a
	// Mach-O or PE section payload (4 or 8), or 0 for ELF.
	SectionHeaderSize int
	// ModuleStructSize is the size of a module table record (36 or 52).
	ModuleStructSize int
	PayloadSize      int
	EntryPointID     uint32
	Flags            uint32
	CompileExecArgv  string
	Modules          []ModuleInfo
}

// ModuleInfo describes one module of the embedded filesystem.
type ModuleInfo struct {
	Index        int
	Name         string
	Size         int
	Digest       digest.Digest
	Encoding     Encoding
	Loader       Loader
	ModuleFormat ModuleFormat
	Side         Side
	// Entrypoint is set on the module Extract and Repack operate on.
	Entrypoint bool
}

// Entrypoint returns the entrypoint module, if any.
func (i *Info) Entrypoint() (ModuleInfo, bool) {
	for _, m := range i.Modules {
		if m.Entrypoint {
			return m, true
		}
	}
	return ModuleInfo{}, false
}

// Inspect reads the payload of the executable at path without modifying it.
func Inspect(path string, opts ...Option) (*Info, error) {
	cfg := newConfig(opts)
	exe, err := open(path, cfg)
	if err != nil {
		return nil, err
	}
	return exe.info(), nil
}

func (e *executable) info() *Info {
	_, entry, _ := e.blob.FindEntrypoint()
	info := &Info{
		Format:            e.bin.Format,
		SectionHeaderSize: e.bin.SectionHeaderSize(),
		ModuleStructSize:  e.blob.ModuleStructSize,
		PayloadSize:       len(e.blob.Raw),
		EntryPointID:      e.blob.Offsets.EntryPointID,
		Flags:             e.blob.Offsets.Flags,
		CompileExecArgv:   string(e.blob.CompileExecArgv()),
		Modules:           make([]ModuleInfo, 0, e.blob.Len()),
	}
	for i, m := range e.blob.Modules() {
		contents := e.blob.Contents(m)
		info.Modules = append(info.Modules, ModuleInfo{
			Index:        i,
			Name:         e.blob.Name(m),
			Size:         len(contents),
			Digest:       digest.FromBytes(contents),
			Encoding:     m.Encoding,
			Loader:       m.Loader,
			ModuleFormat: m.ModuleFormat,
			Side:         m.Side,
			Entrypoint:   i == entry,
		})
	}
	return info
}

func (e *executable) records() []backup.Record {
	info := e.info()
	records := make([]backup.Record, len(info.Modules))
	for i, m := range info.Modules {
		records[i] = backup.Record{
			Name:       m.Name,
			Size:       uint64(m.Size),
			Digest:     m.Digest,
			Entrypoint: m.Entrypoint,
		}
	}
	return records
}

package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/fb"
)

// manifestVersion is the only manifest layout this package reads.
const manifestVersion = 1

// Record describes one module of the backed-up executable.
type Record struct {
	Name       string
	Size       uint64
	Digest     digest.Digest
	Entrypoint bool
}

// Manifest describes a backup image.
type Manifest struct {
	Version    uint32
	SourcePath string
	Format     bintype.Format
	Mode       fs.FileMode
	Size       uint64
	Digest     digest.Digest
	Created    time.Time
	Modules    []Record
}

// Entrypoint returns the entrypoint module record, if one was recorded.
func (m *Manifest) Entrypoint() (Record, bool) {
	for _, r := range m.Modules {
		if r.Entrypoint {
			return r, true
		}
	}
	return Record{}, false
}

func encodeManifest(m *Manifest) []byte {
	builder := flatbuffers.NewBuilder(1024)

	// Build records in reverse order (FlatBuffers requirement)
	recordOffsets := make([]flatbuffers.UOffsetT, len(m.Modules))
	for i := len(m.Modules) - 1; i >= 0; i-- {
		r := m.Modules[i]
		nameOffset := builder.CreateString(r.Name)
		digestOffset := builder.CreateString(r.Digest.String())

		fb.ModuleRecordStart(builder)
		fb.ModuleRecordAddName(builder, nameOffset)
		fb.ModuleRecordAddSize(builder, r.Size)
		fb.ModuleRecordAddDigest(builder, digestOffset)
		fb.ModuleRecordAddEntrypoint(builder, r.Entrypoint)
		recordOffsets[i] = fb.ModuleRecordEnd(builder)
	}

	fb.ManifestStartModulesVector(builder, len(recordOffsets))
	for i := len(recordOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(recordOffsets[i])
	}
	modulesOffset := builder.EndVector(len(recordOffsets))

	sourceOffset := builder.CreateString(m.SourcePath)
	digestOffset := builder.CreateString(m.Digest.String())

	fb.ManifestStart(builder)
	fb.ManifestAddVersion(builder, m.Version)
	fb.ManifestAddSourcePath(builder, sourceOffset)
	fb.ManifestAddFormat(builder, byte(m.Format))
	fb.ManifestAddMode(builder, uint32(m.Mode))
	fb.ManifestAddSize(builder, m.Size)
	fb.ManifestAddDigest(builder, digestOffset)
	fb.ManifestAddCreatedUnixNs(builder, m.Created.UnixNano())
	fb.ManifestAddModules(builder, modulesOffset)
	fb.FinishManifestBuffer(builder, fb.ManifestEnd(builder))

	return builder.FinishedBytes()
}

// decodeManifest parses a FlatBuffers manifest. Malformed buffers surface as
// panics inside the generated accessors and are converted to errors.
func decodeManifest(data []byte) (m *Manifest, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: failed to parse backup manifest: %v", bintype.ErrInvalidStructure, r)
		}
	}()
	if len(data) == 0 {
		return nil, errors.New("bunpatch: empty backup manifest")
	}

	root := fb.GetRootAsManifest(data, 0)
	if v := root.Version(); v != manifestVersion {
		return nil, fmt.Errorf("%w: backup manifest version %d", bintype.ErrInvalidStructure, v)
	}

	m = &Manifest{
		Version:    root.Version(),
		SourcePath: string(root.SourcePath()),
		Format:     bintype.Format(root.Format()),
		Mode:       fs.FileMode(root.Mode()),
		Size:       root.Size(),
		Digest:     digest.Digest(root.Digest()),
		Created:    time.Unix(0, root.CreatedUnixNs()),
		Modules:    make([]Record, root.ModulesLength()),
	}
	if err := m.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: backup manifest digest: %v", bintype.ErrInvalidStructure, err)
	}

	var rec fb.ModuleRecord
	for i := range m.Modules {
		if !root.Modules(&rec, i) {
			return nil, fmt.Errorf("%w: backup manifest module %d", bintype.ErrInvalidStructure, i)
		}
		m.Modules[i] = Record{
			Name:       string(rec.Name()),
			Size:       rec.Size(),
			Digest:     digest.Digest(rec.Digest()),
			Entrypoint: rec.Entrypoint(),
		}
	}
	return m, nil
}

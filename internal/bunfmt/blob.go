package bunfmt

import (
	"bytes"
	"fmt"
	"iter"
	"log/slog"

	"github.com/meigma/bunpatch/internal/bintype"
)

// Blob is a parsed payload. It retains the raw bytes passed to Parse; callers
// must not modify them while the Blob is in use.
type Blob struct {
	Raw              []byte
	Offsets          Offsets
	ModuleStructSize int
}

// ParseOption configures Parse.
type ParseOption func(*parseConfig)

type parseConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report layout heuristics.
func WithLogger(logger *slog.Logger) ParseOption {
	return func(c *parseConfig) {
		c.logger = logger
	}
}

// Parse parses a payload of the form [data][Offsets][Trailer].
func Parse(raw []byte, opts ...ParseOption) (*Blob, error) {
	cfg := parseConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(raw) < OffsetsSize+TrailerSize {
		return nil, fmt.Errorf("%w: payload of %d bytes is too small for offsets and trailer",
			bintype.ErrInvalidStructure, len(raw))
	}

	trailerStart := len(raw) - TrailerSize
	if !bytes.Equal(raw[trailerStart:], Trailer) {
		return nil, fmt.Errorf("%w: trailer mismatch: got %x, want %x",
			bintype.ErrInvalidStructure, raw[trailerStart:], Trailer)
	}

	offsetsStart := trailerStart - OffsetsSize
	offsets := ReadOffsets(raw[offsetsStart:trailerStart])
	data := raw[:offsetsStart]

	if _, err := offsets.Modules.Slice(data); err != nil {
		return nil, fmt.Errorf("modules table: %w", err)
	}
	if _, err := offsets.CompileExecArgv.Slice(data); err != nil {
		return nil, fmt.Errorf("compile exec argv: %w", err)
	}

	b := &Blob{
		Raw:              raw,
		Offsets:          offsets,
		ModuleStructSize: DetectModuleStructSize(offsets.Modules.Length, cfg.logger),
	}

	for i, m := range b.Modules() {
		for _, p := range m.pointers(b.ModuleStructSize) {
			if _, err := p.Slice(raw); err != nil {
				return nil, fmt.Errorf("module %d: %w", i, err)
			}
		}
	}

	cfg.logger.Debug("parsed payload",
		slog.Int("size", len(raw)),
		slog.Uint64("byte_count", offsets.ByteCount),
		slog.Int("modules", b.Len()),
		slog.Int("module_struct_size", b.ModuleStructSize))

	return b, nil
}

// DetectModuleStructSize picks the module record size for a table of the given
// byte length. A length that divides evenly by both sizes resolves to the new
// layout; one that divides by neither is parsed best-effort as the new layout.
func DetectModuleStructSize(tableLen uint32, logger *slog.Logger) int {
	fitsNew := tableLen%ModuleSizeNew == 0
	fitsOld := tableLen%ModuleSizeOld == 0

	switch {
	case fitsNew && !fitsOld:
		return ModuleSizeNew
	case fitsOld && !fitsNew:
		return ModuleSizeOld
	case fitsNew && fitsOld:
		logger.Debug("module table length fits both layouts; using new layout",
			slog.Uint64("length", uint64(tableLen)))
		return ModuleSizeNew
	default:
		logger.Warn("module table length fits neither layout; parsing as new layout",
			slog.Uint64("length", uint64(tableLen)),
			slog.Int("old_size", ModuleSizeOld),
			slog.Int("new_size", ModuleSizeNew))
		return ModuleSizeNew
	}
}

// Data returns the data region preceding the Offsets header.
func (b *Blob) Data() []byte {
	return b.Raw[:len(b.Raw)-OffsetsSize-TrailerSize]
}

// Len returns the number of records in the module table.
func (b *Blob) Len() int {
	return int(b.Offsets.Modules.Length) / b.ModuleStructSize
}

// Module returns the i-th module record.
func (b *Blob) Module(i int) (Module, error) {
	if i < 0 || i >= b.Len() {
		return Module{}, fmt.Errorf("module index %d out of range [0, %d)", i, b.Len())
	}
	start := int(b.Offsets.Modules.Offset) + i*b.ModuleStructSize
	return readModule(b.Raw[start:start+b.ModuleStructSize], b.ModuleStructSize), nil
}

// Modules returns an iterator over the module table in order.
// Stopping the iteration early stops reading records.
func (b *Blob) Modules() iter.Seq2[int, Module] {
	return func(yield func(int, Module) bool) {
		base := int(b.Offsets.Modules.Offset)
		for i := range b.Len() {
			start := base + i*b.ModuleStructSize
			m := readModule(b.Raw[start:start+b.ModuleStructSize], b.ModuleStructSize)
			if !yield(i, m) {
				return
			}
		}
	}
}

// Bytes returns the payload bytes addressed by p, or nil if p is out of range.
func (b *Blob) Bytes(p StringPointer) []byte {
	s, err := p.Slice(b.Raw)
	if err != nil {
		return nil
	}
	return s
}

// Name returns the module's name.
func (b *Blob) Name(m Module) string {
	return string(b.Bytes(m.Name))
}

// Contents returns the module's source text.
func (b *Blob) Contents(m Module) []byte {
	return b.Bytes(m.Contents)
}

// CompileExecArgv returns the argv string baked in at compile time.
func (b *Blob) CompileExecArgv() []byte {
	return b.Bytes(b.Offsets.CompileExecArgv)
}

// FindEntrypoint returns the first module whose name is an entrypoint spelling
// and whose contents are non-empty.
func (b *Blob) FindEntrypoint() (Module, int, bool) {
	for i, m := range b.Modules() {
		if IsEntrypoint(b.Name(m)) && m.Contents.Length > 0 {
			return m, i, true
		}
	}
	return Module{}, -1, false
}

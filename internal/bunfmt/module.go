package bunfmt

// Module record sizes. The older layout predates ESM bytecode and carries four
// string pointers; the newer one adds ModuleInfo and BytecodeOriginPath.
const (
	ModuleSizeOld = 4*StringPointerSize + 4
	ModuleSizeNew = 6*StringPointerSize + 4
)

// Module is one entry of the module table.
type Module struct {
	Name               StringPointer
	Contents           StringPointer
	Sourcemap          StringPointer
	Bytecode           StringPointer
	ModuleInfo         StringPointer // new layout only
	BytecodeOriginPath StringPointer // new layout only
	Encoding           Encoding
	Loader             Loader
	ModuleFormat       ModuleFormat
	Side               Side
}

// pointers returns the string fields stored for the given record size, in wire order.
func (m *Module) pointers(structSize int) []*StringPointer {
	ptrs := []*StringPointer{&m.Name, &m.Contents, &m.Sourcemap, &m.Bytecode}
	if structSize == ModuleSizeNew {
		ptrs = append(ptrs, &m.ModuleInfo, &m.BytecodeOriginPath)
	}
	return ptrs
}

// readModule decodes one record. b must hold at least structSize bytes.
func readModule(b []byte, structSize int) Module {
	var m Module
	pos := 0
	for _, p := range m.pointers(structSize) {
		*p = readStringPointer(b[pos:])
		pos += StringPointerSize
	}
	m.Encoding = Encoding(b[pos])
	m.Loader = Loader(b[pos+1])
	m.ModuleFormat = ModuleFormat(b[pos+2])
	m.Side = Side(b[pos+3])
	return m
}

// put encodes m into b using the given record size.
func (m Module) put(b []byte, structSize int) {
	pos := 0
	for _, p := range m.pointers(structSize) {
		p.put(b[pos:])
		pos += StringPointerSize
	}
	b[pos] = byte(m.Encoding)
	b[pos+1] = byte(m.Loader)
	b[pos+2] = byte(m.ModuleFormat)
	b[pos+3] = byte(m.Side)
}

// Encoding is the text encoding of a module's contents.
type Encoding uint8

const (
	EncodingBinary Encoding = iota
	EncodingLatin1
	EncodingUTF8
)

func (e Encoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingLatin1:
		return "latin1"
	case EncodingUTF8:
		return "utf8"
	default:
		return "unknown"
	}
}

// Loader identifies how the runtime interprets a module.
type Loader uint8

var loaderNames = [...]string{
	"jsx", "js", "ts", "tsx", "css", "file", "json", "jsonc", "toml", "wasm", "napi",
	"base64", "dataurl", "text", "bunsh", "sqlite", "sqlite_embedded", "html", "yaml",
	"json5", "md",
}

func (l Loader) String() string {
	if int(l) < len(loaderNames) {
		return loaderNames[l]
	}
	return "unknown"
}

// ModuleFormat is the module system a module was bundled for.
type ModuleFormat uint8

const (
	ModuleFormatNone ModuleFormat = iota
	ModuleFormatESM
	ModuleFormatCJS
)

func (f ModuleFormat) String() string {
	switch f {
	case ModuleFormatNone:
		return "none"
	case ModuleFormatESM:
		return "esm"
	case ModuleFormatCJS:
		return "cjs"
	default:
		return "unknown"
	}
}

// Side records whether a module targets the server or the client.
type Side uint8

const (
	SideServer Side = iota
	SideClient
)

func (s Side) String() string {
	switch s {
	case SideServer:
		return "server"
	case SideClient:
		return "client"
	default:
		return "unknown"
	}
}

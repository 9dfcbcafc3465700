// Package bunfmt reads and rebuilds the module graph payload that `bun build --compile`
// embeds into a native executable.
//
// A payload is laid out as
//
//	[data ...][Offsets (32 bytes)][Trailer (16 bytes)]
//
// where the data region holds every module string, the module table and the
// compile-time argv string. All multi-byte fields are little-endian. Locations
// inside the payload are expressed as [StringPointer] values relative to the
// start of the payload.
//
// Parsing never copies string contents; accessors return slices that alias the
// payload passed to [Parse].
package bunfmt

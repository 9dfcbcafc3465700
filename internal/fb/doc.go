// Package fb holds the FlatBuffers bindings for the backup manifest.
package fb

//go:generate flatc --go --go-namespace fb -o .. manifest.fbs

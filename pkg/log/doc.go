// Package log provides structured logging built on zerolog.
//
// Call Init once at process startup with the desired level and output
// format, then either use the package-level Logger directly or derive a
// child logger scoped to a component, chunk, or address via WithComponent,
// WithChunkID, and WithAddress.
package log

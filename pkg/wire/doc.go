// Package wire implements the campus equipment protocol's body grammar:
// pipe-delimited ASCII fields inside a length-prefixed frame. Framing
// itself (the length prefix) lives in package transport; this package
// only knows about the bytes between the prefix and the next one.
package wire

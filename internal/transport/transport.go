// Package transport supplies the raw full-duplex byte stream the wire codec
// runs over. It deliberately knows nothing about pipes, paths, or frames —
// an external collaborator, not part of the core engine.
package transport

import "io"

// Conn is the single bidirectional stream frames are written to and
// read from.
type Conn interface {
	io.Reader
	io.Writer
	Close() error
}

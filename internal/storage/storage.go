// Package storage contains an interface for reading and writing files in a torrent.
package storage

import "io"

// Storage is an interface for reading/writing torrent data.
//
// Files are opened in a working state. Finalize must be called once, after
// every piece is verified and written, to move the data to its final place.
type Storage interface {
	// Open the file with the given path relative to the torrent root,
	// pre-sized to size bytes. exists reports whether a working copy was
	// already on disk from a previous run.
	Open(name string, size int64) (f File, exists bool, err error)

	// Finalize commits all opened files to their final names.
	Finalize() error
}

// File interface for reading/writing torrent data.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

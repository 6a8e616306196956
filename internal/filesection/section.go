// Package filesection maps contiguous piece data onto the files of the torrent.
package filesection

import "io"

// Section is a run of bytes inside a single file.
type Section struct {
	File   ReadWriterAt
	Name   string
	Offset int64
	Length int64
}

// ReadWriterAt is the access a Section needs on its file.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Sections is the ordered list of file runs that make up one piece. Piece
// hashes are computed over the concatenation of all files, so a piece near a
// file boundary spans more than one section.
type Sections []Section

// Write writes the bytes in p into the files of s. Each call writes the whole
// piece, so len(p) must equal the total length of the sections.
func (s Sections) Write(p []byte) (n int, err error) {
	var m int
	for _, sec := range s {
		m, err = sec.File.WriteAt(p[:sec.Length], sec.Offset)
		n += m
		if err != nil {
			return
		}
		if int64(m) < sec.Length {
			err = io.ErrShortWrite
			return
		}
		p = p[m:]
	}
	return
}

// ReadFull reads the whole piece into buf.
func (s Sections) ReadFull(buf []byte) error {
	readers := make([]io.Reader, len(s))
	for i := range s {
		readers[i] = io.NewSectionReader(s[i].File, s[i].Offset, s[i].Length)
	}
	_, err := io.ReadFull(io.MultiReader(readers...), buf)
	return err
}

// Length returns the total length of the sections.
func (s Sections) Length() int64 {
	var total int64
	for _, sec := range s {
		total += sec.Length
	}
	return total
}

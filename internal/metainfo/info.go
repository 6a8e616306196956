package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var (
	errInvalidPieceData = errors.New("invalid piece data")
	errZeroPieceLength  = errors.New("zero piece length")
)

// Info is the info dictionary of a torrent.
//
// The original bencoding is kept in Bytes because the info hash must be
// computed over the exact bytes in the torrent file. Re-encoding the parsed
// struct with zeebo/bencode produces the same bytes for canonical input since
// the encoder writes dictionary keys in sorted order.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length"` // single file mode
	Files       []FileDict `bencode:"files"`  // multiple file mode

	// Calculated fields
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`
}

// FileDict is one file entry in a multiple-file torrent.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo returns the Info parsed from bencoded bytes in b.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, fmt.Errorf("malformed info dict: %s", err)
	}
	if i.PieceLength == 0 {
		return nil, errZeroPieceLength
	}
	if len(i.Pieces)%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	// ".." is not allowed in file names
	for _, file := range i.Files {
		if len(file.Path) == 0 {
			return nil, errors.New("file with empty path")
		}
		for _, path := range file.Path {
			if strings.TrimSpace(path) == ".." {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(file.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	}
	// Piece count must cover the total length with less than one piece to spare.
	totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceDataLength - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	i.Hash = sha1.Sum(b) // nolint: gosec
	return &i, nil
}

// MultiFile returns true for torrents in multiple file mode.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// PieceHash returns the expected SHA-1 digest of the piece at index.
func (i *Info) PieceHash(index uint32) []byte {
	begin := index * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// PieceLengthAt returns the length of the piece at index.
// Equal to PieceLength for every piece except possibly the last.
func (i *Info) PieceLengthAt(index uint32) uint32 {
	if index == i.NumPieces-1 {
		return uint32(i.TotalLength - int64(i.PieceLength)*int64(i.NumPieces-1))
	}
	return i.PieceLength
}

// GetFiles returns the files in the torrent as a slice, even if there is a single file.
func (i *Info) GetFiles() []FileDict {
	if i.MultiFile() {
		return i.Files
	}
	return []FileDict{{Length: i.Length, Path: []string{i.Name}}}
}

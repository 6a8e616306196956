// Package piece holds the geometry and verification state of torrent pieces.
package piece

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"hash"

	"github.com/downpour-dl/downpour/internal/filesection"
	"github.com/downpour-dl/downpour/internal/metainfo"
)

// BlockSize is the fixed transfer unit of the peer protocol.
// Only the trailing block of the trailing piece may be shorter.
const BlockSize = 16 * 1024

// Piece of a torrent.
type Piece struct {
	Index   uint32               // index in torrent
	Length  uint32               // equal to piece length in metainfo except possibly the last piece
	Data    filesection.Sections // the place on disk to write downloaded bytes
	Hash    []byte               // expected SHA-1 of the piece data
	Done    bool                 // piece is downloaded, verified and written to disk
	Writing bool                 // piece data is being written to disk
}

// Block is a part of a Piece.
type Block struct {
	Begin  uint32 // offset in piece
	Length uint32
}

// NewPieces maps every piece of the torrent onto sections of the given files.
// files must be in the same order as info.GetFiles.
func NewPieces(info *metainfo.Info, files []filesection.Section) []Piece {
	var (
		fileIndex  int
		fileLength = files[fileIndex].Length
		fileEnd    = fileLength // absolute position of end of current file
		fileOffset int64        // position inside current file
	)
	nextFile := func() {
		fileIndex++
		fileLength = files[fileIndex].Length
		fileEnd += fileLength
		fileOffset = 0
	}
	fileLeft := func() int64 { return fileLength - fileOffset }

	var total int64
	pieces := make([]Piece, info.NumPieces)
	for i := uint32(0); i < info.NumPieces; i++ {
		p := Piece{
			Index: i,
			Hash:  info.PieceHash(i),
		}

		var pieceOffset uint32
		for left := info.PieceLength - pieceOffset; left > 0; left = info.PieceLength - pieceOffset {
			n := uint32(minInt64(int64(left), fileLeft()))
			p.Data = append(p.Data, filesection.Section{
				File:   files[fileIndex].File,
				Name:   files[fileIndex].Name,
				Offset: fileOffset,
				Length: int64(n),
			})
			p.Length += n
			pieceOffset += n
			fileOffset += int64(n)
			total += int64(n)

			if total == info.TotalLength {
				break
			}
			if fileLeft() == 0 {
				nextFile()
			}
		}
		pieces[i] = p
	}
	return pieces
}

// CalculateBlocks returns the blocks of the piece in offset order.
func (p *Piece) CalculateBlocks() []Block {
	div, mod := p.Length/BlockSize, p.Length%BlockSize
	numBlocks := div
	if mod != 0 {
		numBlocks++
	}
	blocks := make([]Block, numBlocks)
	for i := uint32(0); i < div; i++ {
		blocks[i] = Block{
			Begin:  i * BlockSize,
			Length: BlockSize,
		}
	}
	if mod != 0 {
		blocks[numBlocks-1] = Block{
			Begin:  div * BlockSize,
			Length: mod,
		}
	}
	return blocks
}

// FindBlock returns the block at begin with the given length.
func (p *Piece) FindBlock(begin, length uint32) (b Block, ok bool) {
	if begin%BlockSize != 0 {
		return
	}
	if begin >= p.Length {
		return
	}
	want := uint32(BlockSize)
	if begin+BlockSize > p.Length {
		want = p.Length - begin
	}
	if length != want {
		return
	}
	return Block{Begin: begin, Length: length}, true
}

// VerifyHash returns true if the piece data matches the expected hash.
func (p *Piece) VerifyHash(buf []byte, h hash.Hash) bool {
	if uint32(len(buf)) != p.Length {
		return false
	}
	_, _ = h.Write(buf)
	return bytes.Equal(h.Sum(nil), p.Hash)
}

// NewHash returns the hash function pieces are verified with.
func NewHash() hash.Hash {
	return sha1.New() // nolint: gosec
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

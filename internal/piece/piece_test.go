package piece

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/downpour-dl/downpour/internal/filesection"
	"github.com/downpour-dl/downpour/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func newInfo(t *testing.T, pieceLength uint32, fileLengths ...int64) *metainfo.Info {
	var total int64
	for _, l := range fileLengths {
		total += l
	}
	numPieces := (total + int64(pieceLength) - 1) / int64(pieceLength)
	pieces := make([]byte, numPieces*sha1.Size)

	var raw []byte
	var err error
	if len(fileLengths) == 1 {
		raw, err = bencode.EncodeBytes(map[string]interface{}{
			"piece length": pieceLength,
			"pieces":       pieces,
			"name":         "f",
			"length":       fileLengths[0],
		})
	} else {
		files := make([]map[string]interface{}, len(fileLengths))
		for i, l := range fileLengths {
			files[i] = map[string]interface{}{"length": l, "path": []string{"f", string(rune('a' + i))}}
		}
		raw, err = bencode.EncodeBytes(map[string]interface{}{
			"piece length": pieceLength,
			"pieces":       pieces,
			"name":         "d",
			"files":        files,
		})
	}
	require.NoError(t, err)
	info, err := metainfo.NewInfo(raw)
	require.NoError(t, err)
	return info
}

type nopFile struct{}

func (nopFile) ReadAt(p []byte, off int64) (int, error)  { return len(p), nil }
func (nopFile) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }

func sections(info *metainfo.Info) []filesection.Section {
	files := info.GetFiles()
	ret := make([]filesection.Section, len(files))
	for i, f := range files {
		ret[i] = filesection.Section{File: nopFile{}, Length: f.Length}
	}
	return ret
}

func TestNewPiecesSingleFile(t *testing.T) {
	info := newInfo(t, 2*BlockSize, 2*BlockSize+100)
	pieces := NewPieces(info, sections(info))
	require.Len(t, pieces, 2)
	assert.Equal(t, uint32(2*BlockSize), pieces[0].Length)
	assert.Equal(t, uint32(100), pieces[1].Length)
}

func TestNewPiecesMultiFile(t *testing.T) {
	// Two files, piece crosses the file boundary.
	info := newInfo(t, BlockSize, BlockSize/2+10, BlockSize/2-10+300)
	pieces := NewPieces(info, sections(info))
	require.Len(t, pieces, 2)
	assert.Len(t, pieces[0].Data, 2)
	assert.Equal(t, int64(BlockSize), pieces[0].Data.Length())
	assert.Equal(t, uint32(300), pieces[1].Length)
}

func TestCalculateBlocks(t *testing.T) {
	info := newInfo(t, 4*BlockSize, 4*BlockSize+2*BlockSize+100)
	pieces := NewPieces(info, sections(info))
	require.Len(t, pieces, 2)

	blocks := pieces[0].CalculateBlocks()
	require.Len(t, blocks, 4)
	for i, b := range blocks {
		assert.Equal(t, uint32(i*BlockSize), b.Begin)
		assert.Equal(t, uint32(BlockSize), b.Length)
	}

	// Trailing piece has a short trailing block.
	blocks = pieces[1].CalculateBlocks()
	require.Len(t, blocks, 3)
	assert.Equal(t, uint32(BlockSize), blocks[1].Length)
	assert.Equal(t, uint32(2*BlockSize), blocks[2].Begin)
	assert.Equal(t, uint32(100), blocks[2].Length)
}

func TestFindBlock(t *testing.T) {
	info := newInfo(t, 2*BlockSize, 2*BlockSize+100)
	pieces := NewPieces(info, sections(info))
	last := &pieces[1]

	_, ok := last.FindBlock(0, BlockSize)
	assert.False(t, ok) // piece is only 100 bytes

	b, ok := last.FindBlock(0, 100)
	assert.True(t, ok)
	assert.Equal(t, uint32(100), b.Length)

	full := &pieces[0]
	_, ok = full.FindBlock(BlockSize, BlockSize)
	assert.True(t, ok)
	_, ok = full.FindBlock(BlockSize+1, BlockSize)
	assert.False(t, ok) // not aligned
	_, ok = full.FindBlock(2*BlockSize, BlockSize)
	assert.False(t, ok) // beyond piece
}

func TestVerifyHash(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 100)
	sum := sha1.Sum(data) // nolint: gosec
	p := Piece{Length: 100, Hash: sum[:]}
	assert.True(t, p.VerifyHash(data, NewHash()))
	assert.False(t, p.VerifyHash(bytes.Repeat([]byte{'y'}, 100), NewHash()))
	assert.False(t, p.VerifyHash(data[:99], NewHash()))
}

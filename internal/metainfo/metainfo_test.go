package metainfo

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

type testInfo struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length,omitempty"`
	Files       []FileDict `bencode:"files,omitempty"`
}

type testTorrent struct {
	Info         testInfo   `bencode:"info"`
	Announce     string     `bencode:"announce,omitempty"`
	AnnounceList [][]string `bencode:"announce-list,omitempty"`
	CreationDate int64      `bencode:"creation date,omitempty"`
	Comment      string     `bencode:"comment,omitempty"`
}

func encodeTorrent(t *testing.T, tt testTorrent) []byte {
	b, err := bencode.EncodeBytes(tt)
	require.NoError(t, err)
	return b
}

func singleFileTorrent(t *testing.T) testTorrent {
	piece1 := bytes.Repeat([]byte{'a'}, 1024)
	piece2 := bytes.Repeat([]byte{'b'}, 512)
	h1 := sha1.Sum(piece1) // nolint: gosec
	h2 := sha1.Sum(piece2) // nolint: gosec
	return testTorrent{
		Info: testInfo{
			PieceLength: 1024,
			Pieces:      append(h1[:], h2[:]...),
			Name:        "file.dat",
			Length:      1536,
		},
		Announce:     "http://tracker.example.com/announce",
		CreationDate: 1234567890,
		Comment:      "test torrent",
	}
}

func TestNewSingleFile(t *testing.T) {
	mi, err := New(bytes.NewReader(encodeTorrent(t, singleFileTorrent(t))))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"http://tracker.example.com/announce"}}, mi.AnnounceList)
	assert.Equal(t, "test torrent", mi.Comment)
	assert.Equal(t, int64(1234567890), mi.CreationDate.Unix())

	i := &mi.Info
	assert.False(t, i.MultiFile())
	assert.Equal(t, uint32(2), i.NumPieces)
	assert.Equal(t, int64(1536), i.TotalLength)
	assert.Equal(t, uint32(1024), i.PieceLengthAt(0))
	assert.Equal(t, uint32(512), i.PieceLengthAt(1))
	assert.Equal(t, []FileDict{{Length: 1536, Path: []string{"file.dat"}}}, i.GetFiles())
}

func TestInfoHashRoundTrip(t *testing.T) {
	raw := encodeTorrent(t, singleFileTorrent(t))
	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	// Hash must be the SHA-1 of the info dict bytes as they appear in the file.
	assert.Equal(t, sha1.Sum(mi.Info.Bytes), mi.Info.Hash) // nolint: gosec

	// Re-encoding the parsed info dict must reproduce the original bytes.
	reencoded, err := bencode.EncodeBytes(struct {
		Length      int64  `bencode:"length"`
		Name        string `bencode:"name"`
		PieceLength uint32 `bencode:"piece length"`
		Pieces      []byte `bencode:"pieces"`
	}{
		Length:      mi.Info.Length,
		Name:        mi.Info.Name,
		PieceLength: mi.Info.PieceLength,
		Pieces:      mi.Info.Pieces,
	})
	require.NoError(t, err)
	assert.Equal(t, mi.Info.Bytes, reencoded)
	assert.Equal(t, mi.Info.Hash, sha1.Sum(reencoded)) // nolint: gosec
}

func TestNewMultiFile(t *testing.T) {
	tt := singleFileTorrent(t)
	tt.Info.Length = 0
	tt.Info.Name = "dir"
	tt.Info.Files = []FileDict{
		{Length: 1000, Path: []string{"a.dat"}},
		{Length: 536, Path: []string{"sub", "b.dat"}},
	}
	mi, err := New(bytes.NewReader(encodeTorrent(t, tt)))
	require.NoError(t, err)
	assert.True(t, mi.Info.MultiFile())
	assert.Equal(t, int64(1536), mi.Info.TotalLength)
	assert.Equal(t, uint32(2), mi.Info.NumPieces)
}

func TestAnnounceList(t *testing.T) {
	tt := singleFileTorrent(t)
	tt.Announce = ""
	tt.AnnounceList = [][]string{
		{"udp://tracker.example.com:1337"},
		{"http://t1.example.com/announce", "http://t2.example.com/announce"},
	}
	mi, err := New(bytes.NewReader(encodeTorrent(t, tt)))
	require.NoError(t, err)
	// UDP trackers are dropped, http tier survives.
	assert.Equal(t, []string{"http://t1.example.com/announce", "http://t2.example.com/announce"}, mi.Trackers())
}

func TestNewErrors(t *testing.T) {
	// Not bencode at all.
	_, err := New(bytes.NewReader([]byte("garbage")))
	assert.Error(t, err)

	// No info dict.
	b, err := bencode.EncodeBytes(map[string]interface{}{"announce": "http://example.com"})
	require.NoError(t, err)
	_, err = New(bytes.NewReader(b))
	assert.Error(t, err)

	// No usable tracker.
	tt := singleFileTorrent(t)
	tt.Announce = "udp://tracker.example.com:1337"
	_, err = New(bytes.NewReader(encodeTorrent(t, tt)))
	assert.Error(t, err)

	// Pieces not a multiple of 20.
	tt = singleFileTorrent(t)
	tt.Info.Pieces = tt.Info.Pieces[:30]
	_, err = New(bytes.NewReader(encodeTorrent(t, tt)))
	assert.Error(t, err)

	// Total length inconsistent with piece count.
	tt = singleFileTorrent(t)
	tt.Info.Length = 5000
	_, err = New(bytes.NewReader(encodeTorrent(t, tt)))
	assert.Error(t, err)

	// ".." in file path.
	tt = singleFileTorrent(t)
	tt.Info.Length = 0
	tt.Info.Files = []FileDict{{Length: 1536, Path: []string{"..", "evil"}}}
	_, err = New(bytes.NewReader(encodeTorrent(t, tt)))
	assert.Error(t, err)

	// Zero piece length.
	tt = singleFileTorrent(t)
	tt.Info.PieceLength = 0
	_, err = New(bytes.NewReader(encodeTorrent(t, tt)))
	assert.Error(t, err)
}

// Package allocator opens the files of a torrent on the storage before download starts.
package allocator

import (
	"path/filepath"

	"github.com/downpour-dl/downpour/internal/filesection"
	"github.com/downpour-dl/downpour/internal/metainfo"
	"github.com/downpour-dl/downpour/internal/storage"
)

// Allocation is the result of allocating the files of a torrent.
type Allocation struct {
	// Files in torrent order, ready to be sectioned into pieces.
	Files []File

	// HasExisting is true when at least one working file was already on disk.
	HasExisting bool
}

// File is one opened file of the torrent.
type File struct {
	Storage storage.File
	Path    string
	Length  int64
}

// Allocate opens every file of the torrent on the storage, creating missing
// files at their full size. Multi-file torrents are laid out under a directory
// named after the torrent.
func Allocate(info *metainfo.Info, sto storage.Storage) (*Allocation, error) {
	a := &Allocation{}
	for _, f := range info.GetFiles() {
		name := filepath.Join(f.Path...)
		if info.MultiFile() {
			name = filepath.Join(info.Name, name)
		}
		sf, exists, err := sto.Open(name, f.Length)
		if err != nil {
			a.Close()
			return nil, err
		}
		if exists {
			a.HasExisting = true
		}
		a.Files = append(a.Files, File{Storage: sf, Path: name, Length: f.Length})
	}
	return a, nil
}

// Sections returns the files as filesection values for piece construction.
func (a *Allocation) Sections() []filesection.Section {
	ret := make([]filesection.Section, len(a.Files))
	for i, f := range a.Files {
		ret[i] = filesection.Section{
			File:   f.Storage,
			Name:   f.Path,
			Length: f.Length,
		}
	}
	return ret
}

// Close closes all opened files.
func (a *Allocation) Close() {
	for _, f := range a.Files {
		if f.Storage != nil {
			_ = f.Storage.Close()
		}
	}
}

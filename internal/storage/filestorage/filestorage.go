// Package filestorage implements the Storage interface backed by files on disk.
//
// Every file is written under a ".part" suffix while the download is running.
// Finalize renames the working files to their real names in one pass, so an
// interrupted download never leaves a file that looks complete.
package filestorage

import (
	"os"
	"path/filepath"

	"github.com/downpour-dl/downpour/internal/storage"
)

// WorkSuffix is appended to file names until the torrent completes.
const WorkSuffix = ".part"

// FileStorage stores torrent files under a destination directory.
type FileStorage struct {
	dest  string
	files []renameEntry
}

type renameEntry struct {
	work  string
	final string
}

// New returns a new FileStorage that keeps files under dest.
func New(dest string) (*FileStorage, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

var _ storage.Storage = (*FileStorage)(nil)

// Dest returns the absolute destination directory.
func (s *FileStorage) Dest() string {
	return s.dest
}

// Open opens the working copy of the file, creating it and its parent
// directories when missing, and sizes it to size bytes.
func (s *FileStorage) Open(name string, size int64) (f storage.File, exists bool, err error) {
	name = filepath.Clean(name)

	// All files are saved under dest.
	final := filepath.Join(s.dest, name)
	work := final + WorkSuffix

	// Create containing dir if not exists.
	err = os.MkdirAll(filepath.Dir(work), os.ModeDir|0750)
	if err != nil {
		return
	}

	var of *os.File
	defer func() {
		if err != nil && of != nil {
			_ = of.Close()
		}
	}()

	const mode = 0640
	of, err = os.OpenFile(work, os.O_RDWR, mode) // nolint: gosec
	if os.IsNotExist(err) {
		of, err = os.OpenFile(work, os.O_RDWR|os.O_CREATE, mode) // nolint: gosec
		if err != nil {
			return
		}
		f = of
		err = of.Truncate(size)
		if err != nil {
			return
		}
		s.files = append(s.files, renameEntry{work: work, final: final})
		return
	}
	if err != nil {
		return
	}
	f = of
	exists = true
	fi, err := of.Stat()
	if err != nil {
		return
	}
	if fi.Size() != size {
		err = of.Truncate(size)
		if err != nil {
			return
		}
	}
	s.files = append(s.files, renameEntry{work: work, final: final})
	return
}

// Finalize renames every working file to its final name.
// Must be called after the files are closed.
func (s *FileStorage) Finalize() error {
	for _, e := range s.files {
		if err := os.Rename(e.work, e.final); err != nil {
			return err
		}
	}
	return nil
}

package display

import (
	"io/fs"
	"net/http"
	"path"

	"github.com/tonimelisma/photoframe-go/internal/mediacache"
)

// photoDir is an http.FileSystem exposing only finished photo files: no
// directory listings, no index, no in-progress downloads.
type photoDir string

func (d photoDir) Open(name string) (http.File, error) {
	base := path.Base(name)
	if name == "/" || base == "." || base == "/" || !mediacache.IsPhotoFile(base) {
		return nil, fs.ErrNotExist
	}

	f, err := http.Dir(string(d)).Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}

	return f, nil
}

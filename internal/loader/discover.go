package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Discover returns the absolute paths of every regular file under root whose
// name ends with ext, in lexical walk order. A missing root is an error.
func Discover(root, ext string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: resolve %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: stat root %s", root)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("loader: root %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), ext) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "loader: walk %s", root)
	}
	return files, nil
}

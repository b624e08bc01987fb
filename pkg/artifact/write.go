package artifact

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Write materializes artifacts below root. Each file is written to a temporary file next to its
// destination and renamed into place, so readers never observe a partially written artifact.
func Write(root string, artifacts ...Artifact) error {
	for _, item := range artifacts {
		dest := filepath.Join(root, filepath.FromSlash(item.Path))
		err := WriteFile(dest, item.Data)
		if err != nil {
			return err
		}
	}

	return nil
}

// WriteFile atomically replaces dest with data
func WriteFile(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	err := os.MkdirAll(dir, 0770)
	if err != nil {
		return &IOError{Path: dir, Op: "create directory", Err: err}
	}

	handle, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return &IOError{Path: dest, Op: "create", Err: err}
	}
	tmpName := handle.Name()

	_, err = handle.Write(data)
	if err == nil {
		err = handle.Sync()
	}
	closeErr := handle.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		// CreateTemp uses 0600 which is too strict for files served by a web server
		err = os.Chmod(tmpName, 0644)
	}

	if err == nil {
		err = os.Rename(tmpName, dest)
	}

	if err != nil {
		os.Remove(tmpName)
		return &IOError{Path: dest, Op: "write", Err: eris.Wrap(err, "atomic write failed")}
	}

	return nil
}

package stores

import (
	"errors"
	"os"
	"path/filepath"
)

// beforeRename runs between the temporary write and the rename. Tests use it
// to simulate a crash at the worst moment.
var beforeRename func(tmp string) error

// writeFileAtomic replaces path with data so that readers observe either the
// old content or the new content, never a mix. The temporary file lives in the
// same directory so the rename stays on one filesystem.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return storageErr("create temporary file", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, werr := f.Write(data); werr != nil {
		_ = f.Close()
		return storageErr("write", tmp, werr)
	}
	if serr := f.Sync(); serr != nil {
		_ = f.Close()
		return storageErr("sync", tmp, serr)
	}
	if cerr := f.Close(); cerr != nil {
		return storageErr("close", tmp, cerr)
	}

	if beforeRename != nil {
		if herr := beforeRename(tmp); herr != nil {
			return storageErr("rename", path, herr)
		}
	}

	if rerr := os.Rename(tmp, path); rerr != nil {
		return storageErr("rename", path, rerr)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return storageErr("open directory", dir, err)
	}
	serr := d.Sync()
	cerr := d.Close()
	if err := errors.Join(serr, cerr); err != nil {
		return storageErr("sync directory", dir, err)
	}
	return nil
}

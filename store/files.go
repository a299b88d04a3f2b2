package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Files is the file area visible to remote stations: a shared tree they may
// list and fetch and a download directory their uploads land in.
type Files struct {
	shared   string
	download string

	// protected are shared sub-directories readable only by
	// authenticated sessions.
	protected []string
}

// NewFiles creates a file area. Protected entries are paths relative to the
// shared root.
func NewFiles(shared, download string, protected []string) *Files {
	prot := make([]string, 0, len(protected))
	for _, p := range protected {
		p = strings.Trim(filepath.ToSlash(filepath.Clean(p)), "/")
		if p != "" && p != "." {
			prot = append(prot, p)
		}
	}

	return &Files{
		shared:    shared,
		download:  download,
		protected: prot,
	}
}

// resolve maps a remote supplied name onto a path below root. The name can
// never climb out of root.
func resolve(root, name string) (string, string, error) {
	rel := strings.Trim(filepath.ToSlash(filepath.Clean("/"+name)), "/")
	if strings.Contains(rel, "..") {
		return "", "", fmt.Errorf("%w: %q", ErrBadName, name)
	}

	return filepath.Join(root, filepath.FromSlash(rel)), rel, nil
}

func (f *Files) isProtected(rel string) bool {
	for _, p := range f.protected {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}

	return false
}

// ReadShared returns the content of a shared file.
func (f *Files) ReadShared(name string, authed bool) ([]byte, error) {
	path, rel, err := resolve(f.shared, name)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, ErrNotFound
	}
	if f.isProtected(rel) && !authed {
		return nil, ErrAuthRequired
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNotFound

	case err != nil:
		// Directories and unreadable files look missing remotely.
		log.Debugf("Shared read of %q: %v", rel, err)
		return nil, ErrNotFound
	}

	return data, nil
}

// ListShared renders the content of a shared directory, one entry per line:
// name and size, directories marked with a trailing slash.
func (f *Files) ListShared(dir string, authed bool) (string, error) {
	path, rel, err := resolve(f.shared, dir)
	if err != nil {
		return "", err
	}
	if rel != "" && f.isProtected(rel) && !authed {
		return "", ErrAuthRequired
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", ErrDirNotFound
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var b strings.Builder
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s %d\n", e.Name(), info.Size())
	}

	return b.String(), nil
}

// SaveDownload writes an uploaded file into the download directory under
// its base name and returns the full path.
func (f *Files) SaveDownload(name string, data []byte) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}

	if err := os.MkdirAll(f.download, 0o700); err != nil {
		return "", err
	}

	path := filepath.Join(f.download, base)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	log.Infof("Saved %d bytes to %s", len(data), path)

	return path, nil
}

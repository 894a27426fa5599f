// Package zip bundles generated results into a single archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
)

// Entry is one file in the archive. Open is called only when the entry is
// written.
type Entry struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Write streams entries into a zip archive on w. Repeated names get a
// numeric suffix so no entry is shadowed. Media is stored, not deflated.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(entries))
	for _, e := range entries {
		name := uniqueName(used, e.Name)
		if err := writeEntry(zw, name, e.Open); err != nil {
			_ = zw.Close()
			return fmt.Errorf("zip: %s: %w", name, err)
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, open func() (io.ReadCloser, error)) error {
	body, err := open()
	if err != nil {
		return err
	}
	defer body.Close()
	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, body)
	return err
}

func uniqueName(used map[string]int, name string) string {
	name = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "" {
		name = "file"
	}
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}

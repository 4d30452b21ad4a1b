package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ZipUnpacker extracts an archive into a directory.
type ZipUnpacker struct{}

// Unpack writes every entry of archive below dest. Entries whose names would
// land outside dest are refused; the unpack stops at the first error.
func (ZipUnpacker) Unpack(ctx context.Context, archive, dest string) (int, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	files := 0
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		name := filepath.FromSlash(strings.TrimLeft(f.Name, "/"))
		if !filepath.IsLocal(name) {
			return files, fmt.Errorf("illegal file path in archive: %s", f.Name)
		}
		target := filepath.Join(root, name)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			// 符号链接等特殊条目直接忽略
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return files, err
		}
		if err := extractFile(f, target); err != nil {
			return files, fmt.Errorf("%s: %w", f.Name, err)
		}
		files++
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/klauspost/compress/gzip"
)

var epoch = time.Unix(0, 0)

// Pack writes srcDir as a gzip-compressed tarball whose entries all live
// under prefix/. The walk is sorted and headers carry no timestamps or
// ownership, so equal trees produce equal bytes. VCS metadata directories
// are skipped.
func Pack(ctx context.Context, srcDir, prefix string, w io.Writer) (err error) {
	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	gz.ModTime = time.Time{}
	tw := tar.NewWriter(gz)

	defer func() {
		if closeErr := tw.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if closeErr := gz.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err = tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     prefix + "/",
		Mode:     0o755,
		ModTime:  epoch,
	}); err != nil {
		return err
	}

	root := os.DirFS(srcDir)
	return walkSorted(root, ".", func(rel string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeEntry(tw, srcDir, prefix, rel, d)
	})
}

func walkSorted(fsys fs.FS, dir string, fn func(rel string, d fs.DirEntry) error) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	for _, d := range entries {
		if d.IsDir() && isVCSDir(d.Name()) {
			continue
		}
		rel := path.Join(dir, d.Name())
		if err := fn(rel, d); err != nil {
			return err
		}
		if d.IsDir() {
			if err := walkSorted(fsys, rel, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEntry(tw *tar.Writer, srcDir, prefix, rel string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	full := filepath.Join(srcDir, filepath.FromSlash(rel))
	name := prefix + "/" + rel

	hdr := &tar.Header{Name: name, ModTime: epoch}
	switch {
	case d.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		hdr.Mode = 0o755
		return tw.WriteHeader(hdr)
	case info.Mode()&fs.ModeSymlink != 0:
		link, linkErr := os.Readlink(full)
		if linkErr != nil {
			return linkErr
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = link
		hdr.Mode = 0o777
		return tw.WriteHeader(hdr)
	case info.Mode().IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = info.Size()
		hdr.Mode = 0o644
		if info.Mode().Perm()&0o111 != 0 {
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, openErr := os.Open(full)
		if openErr != nil {
			return openErr
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	}
	return nil
}

func isVCSDir(name string) bool {
	return name == ".git"
}

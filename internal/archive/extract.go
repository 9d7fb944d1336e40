// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// maxEntryBytes caps a single extracted file to guard against decompression bombs.
	maxEntryBytes = 256 << 20

	dirPerm = 0o755
)

// ErrExtractionFailed is the sentinel error wrapped by ExtractionError.
var ErrExtractionFailed = errors.New("extraction failed")

type (
	// WorkingTree is the extracted view of an archive. Entries holds the
	// slash-separated relative paths of every created file, directory and
	// symlink in archive order.
	WorkingTree struct {
		Root    string
		Entries []string
	}

	// ExtractionError reports why an archive could not be unpacked.
	ExtractionError struct {
		Archive string
		Entry   string
		Err     error
	}
)

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extracting %s: entry %q: %v", e.Archive, e.Entry, e.Err)
	}
	return fmt.Sprintf("extracting %s: %v", e.Archive, e.Err)
}

// Unwrap returns ErrExtractionFailed so callers can use errors.Is for programmatic detection.
func (e *ExtractionError) Unwrap() error { return ErrExtractionFailed }

// Cause returns the underlying error.
func (e *ExtractionError) Cause() error { return e.Err }

// Path joins a slash-separated relative path onto the tree root.
func (t WorkingTree) Path(rel string) string {
	return filepath.Join(t.Root, filepath.FromSlash(rel))
}

// Extract unpacks the gzip-compressed tarball at archivePath into destDir,
// dropping exactly one leading path component from every entry.
func Extract(ctx context.Context, archivePath, destDir string) (_ WorkingTree, err error) {
	fail := func(entry string, cause error) (WorkingTree, error) {
		return WorkingTree{}, &ExtractionError{Archive: archivePath, Entry: entry, Err: cause}
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fail("", err)
	}
	defer func() {
		// Read-only handle.
		_ = f.Close()
	}()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fail("", fmt.Errorf("creating gzip reader: %w", err))
	}
	defer func() { _ = gz.Close() }()

	if err = os.MkdirAll(destDir, dirPerm); err != nil {
		return fail("", err)
	}
	// Every write goes through root, so a path that resolves through an
	// extracted symlink to outside destDir fails instead of escaping.
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return fail("", err)
	}
	defer func() { _ = root.Close() }()
	tree := WorkingTree{Root: destDir}

	tr := tar.NewReader(gz)
	for {
		if err = ctx.Err(); err != nil {
			return WorkingTree{}, err
		}

		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return fail("", fmt.Errorf("reading tar entry: %w", nextErr))
		}

		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		}

		rel, ok, relErr := stripComponent(hdr.Name)
		if relErr != nil {
			return fail(hdr.Name, relErr)
		}
		if !ok {
			// The wrapper directory itself.
			continue
		}
		target := filepath.FromSlash(rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err = root.MkdirAll(target, dirPerm); err != nil {
				return fail(hdr.Name, err)
			}
		case tar.TypeReg, tar.TypeRegA: //nolint:staticcheck // older archivers still emit TypeRegA
			if err = writeFile(root, target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return fail(hdr.Name, err)
			}
		case tar.TypeSymlink:
			if !linkStaysInside(rel, hdr.Linkname) {
				return fail(hdr.Name, fmt.Errorf("symlink target %q escapes the tree", hdr.Linkname))
			}
			if err = root.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
				return fail(hdr.Name, err)
			}
			if err = root.Symlink(hdr.Linkname, target); err != nil {
				return fail(hdr.Name, err)
			}
		default:
			// Hard links, devices and fifos never appear in source tarballs.
			continue
		}
		tree.Entries = append(tree.Entries, rel)
	}

	if len(tree.Entries) == 0 {
		return fail("", errors.New("archive contains no entries"))
	}
	return tree, nil
}

// stripComponent drops the first path segment. ok is false for the wrapper
// directory itself.
func stripComponent(name string) (rel string, ok bool, err error) {
	if strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", false, fmt.Errorf("unsafe path %q", name)
	}
	_, rest, found := strings.Cut(strings.TrimPrefix(name, "./"), "/")
	if !found {
		return "", false, nil
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", false, nil
	}
	clean := path.Clean(rest)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false, fmt.Errorf("path %q escapes the tree", name)
	}
	return clean, true, nil
}

func linkStaysInside(rel, link string) bool {
	if path.IsAbs(link) {
		return false
	}
	resolved := path.Clean(path.Join(path.Dir(rel), link))
	return resolved != ".." && !strings.HasPrefix(resolved, "../")
}

func writeFile(root *os.Root, target string, r io.Reader, perm os.FileMode) (err error) {
	if err = root.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := root.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(r, maxEntryBytes+1))
	if err != nil {
		return err
	}
	if n > maxEntryBytes {
		return fmt.Errorf("file exceeds %d bytes", maxEntryBytes)
	}
	return nil
}

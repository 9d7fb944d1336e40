// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"github.com/klauspost/compress/gzip"
)

type tarEntry struct {
	name     string
	typeflag byte
	body     string
	mode     int64
	linkname string
}

func writeTarball(t *testing.T, entries []tarEntry) string {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Mode:     mode,
			Size:     int64(len(e.body)),
			Linkname: e.linkname,
		}
		if e.typeflag == tar.TypeXGlobalHeader {
			hdr = &tar.Header{
				Typeflag:   tar.TypeXGlobalHeader,
				Name:       e.name,
				PAXRecords: map[string]string{"comment": "deadbeef"},
				Format:     tar.FormatPAX,
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", e.name, err)
		}
		if e.typeflag == tar.TypeReg && e.body != "" {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Write(%s): %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	p := filepath.Join(t.TempDir(), "source.tar.gz")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func githubStyleEntries() []tarEntry {
	return []tarEntry{
		{name: "pax_global_header", typeflag: tar.TypeXGlobalHeader},
		{name: "acme-tools-1a2b3c4/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "acme-tools-1a2b3c4/README.md", typeflag: tar.TypeReg, body: "# tools\n"},
		{name: "acme-tools-1a2b3c4/utils/kdiff/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "acme-tools-1a2b3c4/utils/kdiff/kdiff.sh", typeflag: tar.TypeReg, body: "#!/bin/bash\nmain\n", mode: 0o755},
		{name: "acme-tools-1a2b3c4/utils/kdiff/lib/a.sh", typeflag: tar.TypeReg, body: "a(){ :; }\n"},
	}
}

func TestExtract_StripsWrapperDirectory(t *testing.T) {
	t.Parallel()

	archivePath := writeTarball(t, githubStyleEntries())
	dest := filepath.Join(t.TempDir(), "tree")

	tree, err := Extract(context.Background(), archivePath, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	wantEntries := []string{"README.md", "utils/kdiff", "utils/kdiff/kdiff.sh", "utils/kdiff/lib/a.sh"}
	if !slices.Equal(tree.Entries, wantEntries) {
		t.Errorf("Entries = %v, want %v", tree.Entries, wantEntries)
	}

	data, err := os.ReadFile(tree.Path("utils/kdiff/kdiff.sh"))
	if err != nil {
		t.Fatalf("reading extracted entry script: %v", err)
	}
	if string(data) != "#!/bin/bash\nmain\n" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dest, "acme-tools-1a2b3c4")); !os.IsNotExist(err) {
		t.Errorf("wrapper directory was not stripped (stat err = %v)", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "pax_global_header")); !os.IsNotExist(err) {
		t.Errorf("pax global header was extracted as a file")
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(tree.Path("utils/kdiff/kdiff.sh"))
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm()&0o100 == 0 {
			t.Errorf("entry script mode = %v, want executable bit preserved", info.Mode())
		}
	}
}

func TestExtract_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []tarEntry
	}{
		{
			name:    "only wrapper directory",
			entries: []tarEntry{{name: "acme-tools-1a2b3c4/", typeflag: tar.TypeDir, mode: 0o755}},
		},
		{
			name:    "only global header",
			entries: []tarEntry{{name: "pax_global_header", typeflag: tar.TypeXGlobalHeader}},
		},
		{
			name: "parent traversal",
			entries: []tarEntry{
				{name: "wrap/../../escape.sh", typeflag: tar.TypeReg, body: "x"},
			},
		},
		{
			name: "absolute path",
			entries: []tarEntry{
				{name: "/etc/passwd", typeflag: tar.TypeReg, body: "x"},
			},
		},
		{
			name: "escaping symlink",
			entries: []tarEntry{
				{name: "wrap/link", typeflag: tar.TypeSymlink, linkname: "../../outside"},
			},
		},
		{
			name:    "symlink chain",
			entries: symlinkChainEntries(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			archivePath := writeTarball(t, tt.entries)
			_, err := Extract(context.Background(), archivePath, t.TempDir())
			if !errors.Is(err, ErrExtractionFailed) {
				t.Fatalf("Extract() error = %v, want ErrExtractionFailed", err)
			}
		})
	}
}

// symlinkChainEntries builds links that each look inside the tree on their
// own but together resolve to its parent directory.
func symlinkChainEntries() []tarEntry {
	return []tarEntry{
		{name: "wrap/d/s", typeflag: tar.TypeSymlink, linkname: ".."},
		{name: "wrap/d/s/x", typeflag: tar.TypeSymlink, linkname: ".."},
		{name: "wrap/d/s/x/escaped.txt", typeflag: tar.TypeReg, mode: 0o644, body: "outside"},
	}
}

func TestExtract_SymlinkChainStaysInTree(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	dest := filepath.Join(parent, "tree")
	archivePath := writeTarball(t, symlinkChainEntries())

	_, err := Extract(context.Background(), archivePath, dest)
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("Extract() error = %v, want ErrExtractionFailed", err)
	}
	if _, statErr := os.Lstat(filepath.Join(parent, "escaped.txt")); !os.IsNotExist(statErr) {
		t.Errorf("file written outside the tree (stat error = %v)", statErr)
	}
}

func TestExtract_CorruptArchive(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "source.tar.gz")
	if err := os.WriteFile(p, []byte("<html>rate limited</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Extract(context.Background(), p, t.TempDir())
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("Extract() error = %v, want *ExtractionError", err)
	}
	if ee.Archive != p {
		t.Errorf("Archive = %q, want %q", ee.Archive, p)
	}
}

func TestExtract_MissingArchive(t *testing.T) {
	t.Parallel()

	_, err := Extract(context.Background(), filepath.Join(t.TempDir(), "nope.tar.gz"), t.TempDir())
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("Extract() error = %v, want ErrExtractionFailed", err)
	}
}

func TestExtract_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Extract(ctx, writeTarball(t, githubStyleEntries()), t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Extract() error = %v, want context.Canceled", err)
	}
}

func TestStripComponent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantOK  bool
		wantErr bool
	}{
		{in: "wrap/", wantOK: false},
		{in: "wrap", wantOK: false},
		{in: "wrap/a.sh", want: "a.sh", wantOK: true},
		{in: "./wrap/lib/b.sh", want: "lib/b.sh", wantOK: true},
		{in: "wrap/lib/", want: "lib", wantOK: true},
		{in: "wrap/lib/../a.sh", want: "a.sh", wantOK: true},
		{in: "wrap/../x", wantErr: true},
		{in: "/abs/x", wantErr: true},
	}
	for _, tt := range tests {
		got, ok, err := stripComponent(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("stripComponent(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("stripComponent(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestPack_DeterministicAndExtractable(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	mustWrite := func(rel, body string, perm os.FileMode) {
		t.Helper()
		p := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), perm); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("utils/r53/r53.sh", "#!/bin/bash\nrun\n", 0o755)
	mustWrite("utils/r53/lib/b.sh", "b(){ :; }\n", 0o644)
	mustWrite("utils/r53/lib/a.sh", "a(){ :; }\n", 0o644)
	mustWrite(".git/HEAD", "ref: refs/heads/main\n", 0o644)

	var first, second bytes.Buffer
	if err := Pack(context.Background(), src, "tools-v1.2.0", &first); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	// Touch mtimes; output must not change.
	if err := os.Chtimes(filepath.Join(src, "utils/r53/lib/a.sh"), epoch.AddDate(30, 0, 0), epoch.AddDate(30, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := Pack(context.Background(), src, "tools-v1.2.0", &second); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("Pack() output differs between runs on the same tree")
	}

	archivePath := filepath.Join(t.TempDir(), "repack.tar.gz")
	if err := os.WriteFile(archivePath, first.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	tree, err := Extract(context.Background(), archivePath, t.TempDir())
	if err != nil {
		t.Fatalf("Extract(Pack()) error = %v", err)
	}
	want := []string{"utils", "utils/r53", "utils/r53/lib", "utils/r53/lib/a.sh", "utils/r53/lib/b.sh", "utils/r53/r53.sh"}
	if !slices.Equal(tree.Entries, want) {
		t.Errorf("Entries = %v, want %v", tree.Entries, want)
	}
}

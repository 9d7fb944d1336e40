// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestMustSetenv_Restores(t *testing.T) {
	const key = "TOOLSMITH_TESTUTIL_VAR"
	restoreOuter := MustUnsetenv(t, key)
	defer restoreOuter()

	cleanup := MustSetenv(t, key, "value")
	if got := os.Getenv(key); got != "value" {
		t.Fatalf("%s = %q, want value", key, got)
	}
	cleanup()
	if _, ok := os.LookupEnv(key); ok {
		t.Errorf("%s still set after cleanup", key)
	}
}

func TestUserHome(t *testing.T) {
	var home string
	t.Run("inside", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/elsewhere")
		home = UserHome(t)

		got, err := os.UserHomeDir()
		if err != nil || got != home {
			t.Errorf("UserHomeDir() = %q, %v, want %q", got, err, home)
		}
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			t.Errorf("XDG_CONFIG_HOME = %q, want cleared", xdg)
		}
		if info, err := os.Stat(home); err != nil || !info.IsDir() {
			t.Errorf("home %q is not a directory: %v", home, err)
		}
	})

	if got, _ := os.UserHomeDir(); got == home {
		t.Error("home directory not restored after the subtest")
	}
}

func TestWriteTree(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	WriteTree(t, root, map[string]string{
		"kdiff/kdiff.sh":    "main\n",
		"kdiff/lib/diff.sh": "frag\n",
	})

	data, err := os.ReadFile(filepath.Join(root, "kdiff", "lib", "diff.sh"))
	if err != nil || string(data) != "frag\n" {
		t.Fatalf("lib/diff.sh = %q, %v", data, err)
	}
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(filepath.Join(root, "kdiff", "kdiff.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("entry script mode = %v, want executable", info.Mode())
	}
}

func TestTarball_WrapsEntries(t *testing.T) {
	t.Parallel()
	data := Tarball(t, "acme-tools-abc1234", map[string]string{
		"b.txt":     "b",
		"dir/a.txt": "a",
	})

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, hdr.Name)
	}

	want := []string{"acme-tools-abc1234/", "acme-tools-abc1234/b.txt", "acme-tools-abc1234/dir/a.txt"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

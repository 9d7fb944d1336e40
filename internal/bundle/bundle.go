// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/zeebo/blake3"
	"mvdan.cc/sh/v3/syntax"

	"github.com/toolsmith/toolsmith/internal/archive"
)

const (
	// DefaultHeader is the first line of every bundled artifact.
	DefaultHeader = "#!/bin/bash"
	// DefaultLibDir is the fragment directory inside a subsystem.
	DefaultLibDir = "lib"
	// DefaultGlob selects fragment files inside the library directory.
	DefaultGlob = "*.sh"
	// MainBanner introduces the entry script section.
	MainBanner = "# === Main Script ==="
)

// ErrBundlingFailed is the sentinel error wrapped by BundlingError.
var ErrBundlingFailed = errors.New("bundling failed")

type (
	// Options is the explicit bundler configuration.
	Options struct {
		// Header is the interpreter line. Defaults to DefaultHeader.
		Header string
		// LibDir is the fragment directory relative to the subsystem.
		LibDir string
		// Glob selects fragment files by base name.
		Glob string
		// Entry is the entry script relative to the subsystem. Empty means
		// "<subsystem base name>.sh".
		Entry string
		// SkipSyntaxCheck disables parsing the artifact as bash.
		SkipSyntaxCheck bool
	}

	// Fragment is one library file.
	Fragment struct {
		Name    string
		Content []byte
	}

	// EntryScript is the tool's main script split into lines.
	EntryScript struct {
		Name  string
		Lines []string
	}

	// Artifact is the assembled script.
	Artifact struct {
		Content   []byte
		Fragments []string
		// Digest is the hex BLAKE3-256 of Content.
		Digest string
	}

	// BundlingError reports why a subsystem could not be bundled.
	BundlingError struct {
		Subsystem string
		Path      string
		Err       error
	}

	// Bundler loads fragments and the entry script from a working tree.
	Bundler struct {
		opts      Options
		sourcesRe *regexp.Regexp
		logger    *log.Logger
	}

	// Option configures a Bundler.
	Option func(*Bundler)
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bundler) {
		b.logger = l
	}
}

// NewBundler creates a Bundler, filling unset options with defaults.
func NewBundler(opts Options, bopts ...Option) (*Bundler, error) {
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	if opts.LibDir == "" {
		opts.LibDir = DefaultLibDir
	}
	if opts.Glob == "" {
		opts.Glob = DefaultGlob
	}
	opts.LibDir = path.Clean(filepath.ToSlash(opts.LibDir))
	if !fs.ValidPath(opts.LibDir) || opts.LibDir == "." {
		return nil, fmt.Errorf("library directory %q must be a relative path inside the subsystem", opts.LibDir)
	}
	if _, err := path.Match(opts.Glob, ""); err != nil {
		return nil, fmt.Errorf("fragment glob %q: %w", opts.Glob, err)
	}
	if strings.ContainsAny(opts.Header, "\r\n") {
		return nil, fmt.Errorf("header must be a single line")
	}

	b := &Bundler{opts: opts, sourcesRe: sourceDirective(opts.LibDir)}
	for _, o := range bopts {
		o(b)
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard)
	}
	return b, nil
}

// Options returns the effective configuration.
func (b *Bundler) Options() Options { return b.opts }

// Bundle assembles the subsystem at subsystemPath inside tree.
func (b *Bundler) Bundle(tree archive.WorkingTree, subsystemPath string) (Artifact, error) {
	return b.BundleFS(os.DirFS(tree.Root), subsystemPath)
}

// BundleFS is Bundle over an arbitrary file system.
func (b *Bundler) BundleFS(fsys fs.FS, subsystemPath string) (Artifact, error) {
	sub, err := cleanSubsystem(subsystemPath)
	if err != nil {
		return Artifact{}, &BundlingError{Subsystem: subsystemPath, Err: err}
	}

	fragments, err := b.loadFragments(fsys, sub)
	if err != nil {
		return Artifact{}, err
	}
	entry, err := b.loadEntry(fsys, sub)
	if err != nil {
		return Artifact{}, err
	}

	art := Assemble(b.opts.Header, fragments, FilterEntry(entry, b.sourcesRe))
	if !b.opts.SkipSyntaxCheck {
		if err := CheckSyntax(art.Content, entry.Name); err != nil {
			return Artifact{}, &BundlingError{Subsystem: sub, Path: entry.Name, Err: err}
		}
	}
	b.logger.Debug("bundled", "subsystem", sub, "fragments", len(fragments), "bytes", len(art.Content), "digest", art.Digest)
	return art, nil
}

// Single returns the entry script itself as the artifact, for tools that
// ship as one file.
func (b *Bundler) Single(tree archive.WorkingTree, subsystemPath string) (Artifact, error) {
	return b.SingleFS(os.DirFS(tree.Root), subsystemPath)
}

// SingleFS is Single over an arbitrary file system.
func (b *Bundler) SingleFS(fsys fs.FS, subsystemPath string) (Artifact, error) {
	sub, err := cleanSubsystem(subsystemPath)
	if err != nil {
		return Artifact{}, &BundlingError{Subsystem: subsystemPath, Err: err}
	}
	name := b.entryPath(sub)
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Artifact{}, &BundlingError{Subsystem: sub, Path: name, Err: fmt.Errorf("entry script: %w", err)}
	}
	if len(content) == 0 {
		return Artifact{}, &BundlingError{Subsystem: sub, Path: name, Err: errors.New("entry script is empty")}
	}
	return newArtifact(content, nil), nil
}

// Assemble renders the artifact. It is a pure function of its inputs;
// fragments are sorted by name before rendering.
func Assemble(header string, fragments []Fragment, mainLines []string) Artifact {
	sorted := slices.Clone(fragments)
	slices.SortFunc(sorted, func(a, b Fragment) int { return strings.Compare(a.Name, b.Name) })

	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteString("\n\n")

	names := make([]string, 0, len(sorted))
	for _, f := range sorted {
		names = append(names, f.Name)
		fmt.Fprintf(&buf, "# === %s ===\n", f.Name)
		content := normalizeNewlines(f.Content)
		buf.Write(content)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.WriteByte('\n')
	}

	buf.WriteString(MainBanner)
	buf.WriteByte('\n')
	for _, line := range mainLines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return newArtifact(buf.Bytes(), names)
}

// FilterEntry drops the first line and every line that sources a file from
// the library directory matched by sourcesRe.
func FilterEntry(entry EntryScript, sourcesRe *regexp.Regexp) []string {
	if len(entry.Lines) <= 1 {
		return nil
	}
	kept := make([]string, 0, len(entry.Lines)-1)
	for _, line := range entry.Lines[1:] {
		if sourcesRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

// SourceDirective returns the pattern for `source`/`.` lines referencing libDir.
func SourceDirective(libDir string) *regexp.Regexp {
	return sourceDirective(path.Clean(filepath.ToSlash(libDir)))
}

func sourceDirective(libDir string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[\s;&|(])(?:source|\.)\s+(?:.*[/"'])?` + regexp.QuoteMeta(libDir) + `/`)
}

// CheckSyntax parses content as bash.
func CheckSyntax(content []byte, name string) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	if _, err := parser.Parse(bytes.NewReader(content), name); err != nil {
		return fmt.Errorf("bundled script does not parse: %w", err)
	}
	return nil
}

// SplitLines splits content into lines after normalizing line endings. A
// trailing newline does not produce an empty final line.
func SplitLines(content []byte) []string {
	s := string(normalizeNewlines(content))
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (b *Bundler) loadFragments(fsys fs.FS, sub string) ([]Fragment, error) {
	libDir := path.Join(sub, b.opts.LibDir)
	entries, err := fs.ReadDir(fsys, libDir)
	if errors.Is(err, fs.ErrNotExist) {
		b.logger.Debug("no library directory", "path", libDir)
		return nil, nil
	}
	if err != nil {
		return nil, &BundlingError{Subsystem: sub, Path: libDir, Err: fmt.Errorf("reading library directory: %w", err)}
	}

	var fragments []Fragment
	for _, e := range entries {
		if ok, _ := path.Match(b.opts.Glob, e.Name()); !ok { //nolint:errcheck // pattern validated in NewBundler
			continue
		}
		p := path.Join(libDir, e.Name())
		info, statErr := fs.Stat(fsys, p)
		if statErr != nil {
			return nil, &BundlingError{Subsystem: sub, Path: p, Err: fmt.Errorf("reading fragment: %w", statErr)}
		}
		if !info.Mode().IsRegular() {
			continue
		}
		content, readErr := fs.ReadFile(fsys, p)
		if readErr != nil {
			return nil, &BundlingError{Subsystem: sub, Path: p, Err: fmt.Errorf("reading fragment: %w", readErr)}
		}
		fragments = append(fragments, Fragment{Name: e.Name(), Content: content})
	}
	slices.SortFunc(fragments, func(a, b Fragment) int { return strings.Compare(a.Name, b.Name) })
	return fragments, nil
}

func (b *Bundler) loadEntry(fsys fs.FS, sub string) (EntryScript, error) {
	name := b.entryPath(sub)
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return EntryScript{}, &BundlingError{Subsystem: sub, Path: name, Err: fmt.Errorf("entry script: %w", err)}
	}
	return EntryScript{Name: name, Lines: SplitLines(content)}, nil
}

func (b *Bundler) entryPath(sub string) string {
	if b.opts.Entry != "" {
		return path.Join(sub, filepath.ToSlash(b.opts.Entry))
	}
	base := path.Base(sub)
	if base == "." {
		base = "main"
	}
	return path.Join(sub, base+".sh")
}

func cleanSubsystem(p string) (string, error) {
	if p == "" {
		return ".", nil
	}
	clean := path.Clean(filepath.ToSlash(p))
	if !fs.ValidPath(clean) {
		return "", fmt.Errorf("subsystem path %q must be relative and stay inside the tree", p)
	}
	return clean, nil
}

func normalizeNewlines(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
}

func newArtifact(content []byte, names []string) Artifact {
	sum := blake3.Sum256(content)
	return Artifact{Content: content, Fragments: names, Digest: hex.EncodeToString(sum[:])}
}

// Error implements the error interface.
func (e *BundlingError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("bundling %s: %s: %v", e.Subsystem, e.Path, e.Err)
	}
	return fmt.Sprintf("bundling %s: %v", e.Subsystem, e.Err)
}

// Unwrap returns ErrBundlingFailed so callers can use errors.Is for programmatic detection.
func (e *BundlingError) Unwrap() error { return ErrBundlingFailed }

// Cause returns the underlying error.
func (e *BundlingError) Cause() error { return e.Err }

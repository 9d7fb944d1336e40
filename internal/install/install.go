// SPDX-License-Identifier: MPL-2.0

// Package install places a built artifact into a bin directory. The file is
// written next to its destination and renamed over it, so an interrupted
// install never leaves a partial executable behind.
package install

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/zeebo/blake3"

	"github.com/toolsmith/toolsmith/pkg/types"
)

const (
	// DefaultMode is the permission set on installed tools.
	DefaultMode os.FileMode = 0o755

	binDirPerm = 0o755
)

// ErrInstallFailed is the sentinel error wrapped by InstallError.
var ErrInstallFailed = errors.New("install failed")

type (
	// Installed describes the file left at the destination.
	Installed struct {
		Path   string
		Size   int64
		Mode   os.FileMode
		Digest string
	}

	// InstallError reports why the artifact could not be placed.
	InstallError struct {
		Path string
		Err  error
	}

	// Installer writes artifacts into one bin directory.
	Installer struct {
		binDir types.FilesystemPath
		mode   os.FileMode
		logger *log.Logger
	}

	// Option configures an Installer.
	Option func(*Installer)
)

// WithMode overrides DefaultMode.
func WithMode(m os.FileMode) Option {
	return func(i *Installer) {
		i.mode = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(i *Installer) {
		i.logger = l
	}
}

// NewInstaller creates an Installer for binDir.
func NewInstaller(binDir types.FilesystemPath, opts ...Option) (*Installer, error) {
	if err := binDir.Validate(); err != nil {
		return nil, err
	}
	i := &Installer{binDir: binDir, mode: DefaultMode}
	for _, o := range opts {
		o(i)
	}
	if i.logger == nil {
		i.logger = log.New(io.Discard)
	}
	return i, nil
}

// BinDir returns the destination directory.
func (i *Installer) BinDir() types.FilesystemPath { return i.binDir }

// DefaultBinDir is ~/.local/bin.
func DefaultBinDir() (types.FilesystemPath, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return types.FilesystemPath(filepath.Join(home, ".local", "bin")), nil
}

// Install writes artifact to <binDir>/<name> with the executable bit set.
// The destination is replaced atomically or not at all.
func (i *Installer) Install(ctx context.Context, artifact []byte, name types.BinaryName) (_ Installed, err error) {
	dest := filepath.Join(i.binDir.String(), name.String())
	fail := func(cause error) (Installed, error) {
		return Installed{}, &InstallError{Path: dest, Err: cause}
	}

	if err = name.Validate(); err != nil {
		return fail(err)
	}
	if len(artifact) == 0 {
		return fail(errors.New("artifact is empty"))
	}
	if err = ctx.Err(); err != nil {
		return Installed{}, err
	}

	if err = os.MkdirAll(i.binDir.String(), binDirPerm); err != nil {
		return fail(fmt.Errorf("creating bin directory: %w", err))
	}
	if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
		return fail(errors.New("destination is a directory"))
	}

	tmp, err := os.CreateTemp(i.binDir.String(), "."+name.String()+".tmp-*")
	if err != nil {
		return fail(fmt.Errorf("destination not writable: %w", err))
	}
	tmpPath := tmp.Name()

	// Track whether the rename succeeded so the deferred cleanup knows
	// whether to remove the temp file.
	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err = writeAndSync(tmp, artifact); err != nil {
		return fail(err)
	}
	if err = os.Chmod(tmpPath, i.mode); err != nil {
		return fail(fmt.Errorf("setting permissions: %w", err))
	}

	// Last chance to abort before the destination changes.
	if err = ctx.Err(); err != nil {
		return Installed{}, err
	}
	if err = os.Rename(tmpPath, dest); err != nil {
		return fail(fmt.Errorf("replacing %s: %w", dest, err))
	}
	renamed = true

	sum := blake3.Sum256(artifact)
	inst := Installed{Path: dest, Size: int64(len(artifact)), Mode: i.mode, Digest: hex.EncodeToString(sum[:])}
	i.logger.Debug("installed", "path", dest, "bytes", inst.Size, "mode", inst.Mode)
	return inst, nil
}

func writeAndSync(f *os.File, data []byte) (err error) {
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing temp file: %w", closeErr)
		}
	}()
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	return nil
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	return fmt.Sprintf("installing %s: %v", e.Path, e.Err)
}

// Unwrap returns ErrInstallFailed so callers can use errors.Is for programmatic detection.
func (e *InstallError) Unwrap() error { return ErrInstallFailed }

// Cause returns the underlying error.
func (e *InstallError) Cause() error { return e.Err }

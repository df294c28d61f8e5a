// Package build turns an uploaded source bundle into a locally built (and
// optionally registry-pushed) container image. The pipeline is: persist the
// upload into a scratch directory, extract it when it is a zip, resolve the
// build context by locating the Dockerfile, stream the context to the
// engine as a tar, and tag the result.
package build

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrBadBundle is returned when the uploaded archive cannot be extracted.
var ErrBadBundle = errors.New("build: bad bundle")

// ErrNoDockerfile is returned when neither the bundle root nor its single
// subdirectory contains a Dockerfile.
var ErrNoDockerfile = errors.New("build: no Dockerfile in bundle")

// ErrBuildFailed is returned when the engine rejects the build.
var ErrBuildFailed = errors.New("build: image build failed")

// ErrPushFailed is returned when the registry push fails.
var ErrPushFailed = errors.New("build: image push failed")

// scratchPrefix names the per-upload scratch directories.
const scratchPrefix = "code_upload_"

// prepareContext persists the bundle, extracts it when the filename says
// zip, and resolves the build context directory. The returned cleanup
// removes the whole scratch directory and is safe to call exactly once;
// on error the scratch directory is already gone.
func prepareContext(bundle []byte, filename string) (string, func(), error) {
	scratch, err := os.MkdirTemp("", scratchPrefix)
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(scratch) } //nolint:errcheck

	// The filename is client-supplied; only its base name is trusted.
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == string(filepath.Separator) {
		cleanup()
		return "", nil, fmt.Errorf("%w: unusable filename %q", ErrBadBundle, filename)
	}

	archivePath := filepath.Join(scratch, name)
	if err := os.WriteFile(archivePath, bundle, 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("persist bundle: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(name), ".zip") {
		if err := extractArchive(archivePath, scratch); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("%w: %s", ErrBadBundle, err)
		}
		if err := os.Remove(archivePath); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("remove archive: %w", err)
		}
	}

	contextDir, err := resolveContext(scratch)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return contextDir, cleanup, nil
}

// extractArchive unpacks the zip at archivePath into destDir. Entry paths
// are confined to destDir; an entry that would escape it fails the whole
// extraction.
func extractArchive(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := sanitizeEntry(destDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

// sanitizeEntry resolves an archive entry name under destDir, rejecting
// absolute paths and `..` escapes.
func sanitizeEntry(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the bundle directory", name)
	}
	return target, nil
}

func writeEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// resolveContext locates the build context under scratch:
// the scratch root when it holds a Dockerfile, otherwise the single
// subdirectory when there is exactly one and it holds a Dockerfile.
// Anything else is ErrNoDockerfile.
func resolveContext(scratch string) (string, error) {
	if hasDockerfile(scratch) {
		return scratch, nil
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return "", fmt.Errorf("read scratch dir: %w", err)
	}

	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		}
	}
	if len(subdirs) == 1 {
		sub := filepath.Join(scratch, subdirs[0])
		if hasDockerfile(sub) {
			return sub, nil
		}
	}
	return "", ErrNoDockerfile
}

func hasDockerfile(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "Dockerfile"))
	return err == nil && !info.IsDir()
}

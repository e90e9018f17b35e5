package bundle

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractTarGz extracts a gzip-compressed tar archive into destDir,
// rejecting any entry whose path contains ".." or is absolute (the
// bundle artifact format's path-traversal guard).
func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("extract: open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("extract: gzip reader: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("extract: create dest dir: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("extract: read tar entry: %w", err)
		}

		if err := rejectUnsafePath(hdr.Name); err != nil {
			return err
		}

		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return fmt.Errorf("extract: create %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extract: write %s: %w", target, err)
			}
			out.Close()
		default:
			// Symlinks and other entry types are not materialized; bundle
			// archives are expected to carry only regular files and dirs.
		}
	}
}

// rejectUnsafePath rejects absolute paths and any ".." path segment.
func rejectUnsafePath(name string) error {
	if filepath.IsAbs(name) {
		return fmt.Errorf("extract: entry %q has an absolute path", name)
	}
	cleaned := filepath.Clean(name)
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return fmt.Errorf("extract: entry %q escapes the archive root", name)
		}
	}
	return nil
}

// resolveWithinRoot joins root and rel, returning an error if the
// resulting path would resolve outside root (the entry-file path
// traversal guard from the bundle cache contract).
func resolveWithinRoot(root, rel string) (string, error) {
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("extract: entry path %q resolves outside cache root", rel)
	}
	return joined, nil
}

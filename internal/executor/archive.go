package executor

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/packsmith/packsmith/internal/plan"
	"github.com/packsmith/packsmith/internal/state"
)

// extractArchive unpacks an include archive under the pack root, recording
// every extracted file. Entries that would land outside the root are
// rejected rather than skipped: an archive built for this pack has no
// business carrying them.
func (e *engine) extractArchive(archivePath string, op plan.Op) (map[string]state.FileRecord, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", op.Name, err)
	}
	defer r.Close()

	records := make(map[string]state.FileRecord)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel := filepath.ToSlash(f.Name)
		abs, err := e.abs(rel)
		if err != nil {
			return nil, fmt.Errorf("archive %s entry %q: %w", op.Name, f.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, &FilesystemError{Op: "creating directory for " + rel, Err: err}
		}

		sum, err := writeZipEntry(f, abs)
		if err != nil {
			return nil, err
		}
		records[rel] = state.FileRecord{Identity: op.Identity, Version: op.Version, SHA256: sum}
	}
	return records, nil
}

// writeZipEntry extracts one archive member atomically and returns its
// content fingerprint.
func writeZipEntry(f *zip.File, abs string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("reading archive entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	tmp := abs + tempSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return "", &FilesystemError{Op: "creating " + abs, Err: err}
	}

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(out, h), rc)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return "", &FilesystemError{Op: "writing " + abs, Err: err}
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return "", &FilesystemError{Op: "finalizing " + abs, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Package emit writes compiled artifact sets to a filesystem.
package emit

import (
	"path/filepath"

	"github.com/spf13/afero"
	"go.trai.ch/zerr"

	"github.com/rathix/cashier-devkit/internal/compiler"
)

// Write replaces the contents of outDir with the artifacts in set. Anything
// already in outDir is deleted first. Each file is written to a temporary name
// and renamed into place.
func Write(fs afero.Fs, outDir string, set *compiler.ArtifactSet) error {
	if err := fs.RemoveAll(outDir); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to clean output directory"), "dir", outDir)
	}
	if err := fs.MkdirAll(outDir, 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create output directory"), "dir", outDir)
	}

	for _, p := range set.Paths() {
		a, _ := set.Get(p)
		target := filepath.Join(outDir, filepath.FromSlash(a.Path))
		if err := writeFile(fs, target, a.Contents); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(fs afero.Fs, target string, contents []byte) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create directory"), "dir", filepath.Dir(target))
	}
	tmp := target + ".tmp"
	if err := afero.WriteFile(fs, tmp, contents, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write artifact"), "path", tmp)
	}
	if err := fs.Rename(tmp, target); err != nil {
		_ = fs.Remove(tmp)
		return zerr.With(zerr.Wrap(err, "failed to rename artifact"), "path", target)
	}
	return nil
}

// Exists reports whether dir exists and holds at least one entry.
func Exists(fs afero.Fs, dir string) bool {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

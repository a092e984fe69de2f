package ingest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// extractArchive unpacks a single-file ZIP container and returns the staged
// inner file's path. Corpus drops ship one data file per archive; anything
// else is refused rather than guessed at. The staged name keeps the entry's
// extension so format inference works on the copy, and the entry's own path
// is never joined into the destination.
func extractArchive(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "ingest: open archive")
	}
	defer r.Close()

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	if len(files) != 1 {
		return "", eris.Errorf("ingest: archive holds %d files, want exactly 1", len(files))
	}
	entry := files[0]

	rc, err := entry.Open()
	if err != nil {
		return "", eris.Wrap(err, "ingest: open archive entry")
	}
	defer rc.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "ingest: create temp dir")
	}
	out, err := os.CreateTemp(destDir, "corpus-*"+filepath.Ext(entry.Name))
	if err != nil {
		return "", eris.Wrap(err, "ingest: create extracted file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", eris.Wrap(err, "ingest: extract archive entry")
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", eris.Wrap(err, "ingest: close extracted file")
	}
	return out.Name(), nil
}

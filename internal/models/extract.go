package models

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// extract unpacks the downloaded file at src into root according to
// m.Archive. Plain files are moved to <root>/<folder>/<weights>.
func extract(src, root string, m Model) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	switch m.Archive {
	case ArchiveFile:
		dir := filepath.Join(root, m.Folder)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return os.Rename(src, filepath.Join(dir, m.WeightsFile))
	case ArchiveTarBz2, ArchiveTarGz:
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()

		var r io.Reader = bufio.NewReader(f)
		if m.Archive == ArchiveTarGz {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return err
			}
			defer gz.Close()
			r = gz
		} else {
			r = bzip2.NewReader(r)
		}
		return extractTar(tar.NewReader(r), root)
	case ArchiveZip:
		return extractZip(src, root)
	default:
		return fmt.Errorf("unsupported archive kind %q", m.Archive)
	}
}

func extractTar(tr *tar.Reader, root string) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if !isWithinBaseDir(root, target) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, root)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			slog.Debug("models: skipping archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func extractZip(src, root string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if !isWithinBaseDir(root, target) {
			return fmt.Errorf("archive entry %q escapes %s", f.Name, root)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isWithinBaseDir(baseDir, target string) bool {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Package archive packs a staging directory into a single tar container and
// unpacks it again.
package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rowjay/site-backup/internal/compress"
	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/report"
)

const DefaultProgressEvery = 100

const partialSuffix = ".partial"

// writers holds the chain file -> compressor -> tar, closed in reverse order.
type writers struct {
	tw      *tar.Writer
	closers []io.Closer
}

func (w *writers) Close() error {
	var firstErr error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func openWriters(path, kind string, level int) (*writers, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, errs.Resource("create archive", err)
	}
	w := &writers{closers: []io.Closer{f}}
	zw, err := compress.WrapWriter(kind, f, level)
	if err != nil {
		_ = f.Close()
		return nil, errs.Configuration("%v", err)
	}
	w.closers = append(w.closers, zw)
	w.tw = tar.NewWriter(zw)
	w.closers = append(w.closers, w.tw)
	return w, nil
}

// Pack writes every entry under srcDir into a tar container at dest, using
// the given compression. The archive is written to dest.partial and renamed
// only once it is complete; on failure no file is left at dest.
func Pack(srcDir, dest, kind string, level int) (err error) {
	tmp := dest + partialSuffix
	w, err := openWriters(tmp, kind, level)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil && cerr != nil {
			err = errs.Resource("finish archive", cerr)
		}
		if err != nil {
			_ = os.Remove(tmp)
			return
		}
		if rerr := os.Rename(tmp, dest); rerr != nil {
			_ = os.Remove(tmp)
			err = errs.Resource("finalize archive", rerr)
		}
	}()

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return errs.Resource("read staging directory", walkErr)
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		return addEntry(w.tw, path, filepath.ToSlash(rel), d)
	})
}

func addEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return errs.Resource("stat "+name, err)
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return nil
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return errs.Resource("build header for "+name, err)
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errs.Resource("write header for "+name, err)
	}
	if info.IsDir() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return errs.Resource("open "+name, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return errs.Resource("write "+name, err)
	}
	return nil
}

// ExtractOptions tunes Extract.
type ExtractOptions struct {
	ProgressEvery int
	Report        *report.Reporter
}

// Extract unpacks the container at src into destDir and returns the number of
// entries extracted. Compression is detected from the file name or, failing
// that, the leading bytes. A file that is not a readable container yields an
// integrity error before anything is written outside destDir.
func Extract(src, destDir string, opts ExtractOptions) (int, error) {
	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	kind, err := compress.Detect(src)
	if err != nil {
		return 0, errs.Resource("open archive", err)
	}
	f, err := os.Open(src)
	if err != nil {
		return 0, errs.Resource("open archive", err)
	}
	defer f.Close()

	zr, err := compress.WrapReader(kind, bufio.NewReader(f))
	if err != nil {
		return 0, notAnArchive(src, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return 0, errs.Resource("create extraction directory", err)
	}

	tr := tar.NewReader(zr)
	count := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, notAnArchive(src, err)
		}
		if err := extractEntry(tr, destDir, hdr); err != nil {
			return count, err
		}
		count++
		if count%every == 0 {
			opts.Report.Printf(report.Verbose, "Extracting files... (%d)", count)
		}
	}
	if count == 0 {
		return 0, notAnArchive(src, errors.New("archive is empty"))
	}
	opts.Report.Printf(report.Verbose, "Extracted %d files", count)
	return count, nil
}

func notAnArchive(src string, cause error) error {
	return errs.New(errs.KindIntegrity, fmt.Sprintf("Failed to extract %s: not a valid archive", filepath.Base(src)), cause)
}

func extractEntry(tr *tar.Reader, destDir string, hdr *tar.Header) error {
	target, err := safeJoin(destDir, hdr.Name)
	if err != nil {
		return err
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0o750); err != nil {
			return errs.Resource("create "+hdr.Name, err)
		}
		return nil
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return errs.Resource("create directory for "+hdr.Name, err)
		}
		return writeFile(tr, target, hdr)
	default:
		return errs.Integrity("unsupported entry %s in archive (type %q)", hdr.Name, hdr.Typeflag)
	}
}

func writeFile(r io.Reader, target string, hdr *tar.Header) error {
	mode := fs.FileMode(hdr.Mode).Perm()
	if mode == 0 {
		mode = 0o640
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errs.Resource("create "+hdr.Name, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return notAnArchive(hdr.Name, err)
	}
	if err := out.Close(); err != nil {
		return errs.Resource("write "+hdr.Name, err)
	}
	if !hdr.ModTime.IsZero() {
		_ = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
	}
	return nil
}

// safeJoin resolves name below dir and rejects entries that would escape it.
func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(dir)
	dest := filepath.Join(clean, filepath.FromSlash(name))
	if dest != clean && !strings.HasPrefix(dest, clean+string(os.PathSeparator)) {
		return "", errs.Integrity("invalid file path in archive: %s", name)
	}
	return dest, nil
}

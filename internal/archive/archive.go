// Package archive packages a single prebuilt binary for publishing.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/3leaps/relsync/internal/model"
)

const (
	FormatTarGz = "tar.gz"
	FormatZip   = "zip"

	binaryMode = 0o755
)

// FormatFor picks zip for Windows targets and tar.gz otherwise.
func FormatFor(suffix string) string {
	if strings.Contains(strings.ToLower(suffix), "windows") {
		return FormatZip
	}
	return FormatTarGz
}

// Package archives the binary at path as <name>-<suffix>.<format>. The
// binary is stored at the archive root as name, keeping an .exe extension.
func Package(path, name, suffix, format string) (model.Output, error) {
	if format == "" {
		format = FormatFor(suffix)
	}
	switch format {
	case FormatTarGz:
		return TarGz(path, name, suffix)
	case FormatZip:
		return Zip(path, name, suffix)
	default:
		return model.Output{}, fmt.Errorf("unsupported archive format %q", format)
	}
}

// TarGz stores the binary in a gzip compressed tarball.
func TarGz(path, name, suffix string) (model.Output, error) {
	f, info, err := openBinary(path)
	if err != nil {
		return model.Output{}, err
	}
	defer f.Close()

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return model.Output{}, err
	}
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     entryName(path, name),
		Mode:     binaryMode,
		Size:     info.Size(),
		ModTime:  info.ModTime().UTC().Truncate(time.Second),
		Format:   tar.FormatGNU,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return model.Output{}, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return model.Output{}, fmt.Errorf("write tar entry: %w", err)
	}
	if err := tw.Close(); err != nil {
		return model.Output{}, fmt.Errorf("close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return model.Output{}, fmt.Errorf("close gzip: %w", err)
	}

	return model.Output{Name: fmt.Sprintf("%s-%s.tar.gz", name, suffix), Data: buf.Bytes()}, nil
}

// Zip stores the binary deflated in a zip file.
func Zip(path, name, suffix string) (model.Output, error) {
	f, info, err := openBinary(path)
	if err != nil {
		return model.Output{}, err
	}
	defer f.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	hdr := &zip.FileHeader{
		Name:     entryName(path, name),
		Method:   zip.Deflate,
		Modified: info.ModTime().UTC().Truncate(time.Second),
	}
	hdr.SetMode(binaryMode)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return model.Output{}, fmt.Errorf("create zip entry: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return model.Output{}, fmt.Errorf("write zip entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return model.Output{}, fmt.Errorf("close zip: %w", err)
	}

	return model.Output{Name: fmt.Sprintf("%s-%s.zip", name, suffix), Data: buf.Bytes()}, nil
}

func openBinary(path string) (*os.File, os.FileInfo, error) {
	// #nosec G304 -- path is the operator supplied build output
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open binary: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("binary %s is not a regular file", path)
	}
	return f, info, nil
}

func entryName(path, name string) string {
	if strings.EqualFold(filepath.Ext(path), ".exe") && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

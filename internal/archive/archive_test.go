package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBinary(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o700))
	return path
}

func TestTarGz(t *testing.T) {
	t.Parallel()

	path := writeBinary(t, "relsync", "ELF binary")
	out, err := TarGz(path, "relsync", "x86_64-unknown-linux-gnu")
	require.NoError(t, err)
	assert.Equal(t, "relsync-x86_64-unknown-linux-gnu.tar.gz", out.Name)

	gr, err := gzip.NewReader(bytes.NewReader(out.Data))
	require.NoError(t, err)
	tr := tar.NewReader(gr)

	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "relsync", hdr.Name)
	assert.Equal(t, int64(0o755), hdr.Mode)
	data, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "ELF binary", string(data))

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestZip(t *testing.T) {
	t.Parallel()

	path := writeBinary(t, "relsync.exe", "PE binary")
	out, err := Zip(path, "relsync", "x86_64-pc-windows-msvc")
	require.NoError(t, err)
	assert.Equal(t, "relsync-x86_64-pc-windows-msvc.zip", out.Name)

	zr, err := zip.NewReader(bytes.NewReader(out.Data), int64(len(out.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "relsync.exe", zr.File[0].Name)
	assert.Equal(t, os.FileMode(0o755), zr.File[0].Mode().Perm())

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "PE binary", string(data))
}

func TestPackageChoosesFormat(t *testing.T) {
	t.Parallel()

	path := writeBinary(t, "tool", "bin")
	tests := []struct {
		suffix string
		format string
		want   string
	}{
		{suffix: "aarch64-apple-darwin", want: "tool-aarch64-apple-darwin.tar.gz"},
		{suffix: "x86_64-pc-windows-gnu", want: "tool-x86_64-pc-windows-gnu.zip"},
		{suffix: "linux-amd64", format: FormatZip, want: "tool-linux-amd64.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			out, err := Package(path, "tool", tt.suffix, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Name)
		})
	}

	_, err := Package(path, "tool", "linux", "rar")
	assert.ErrorContains(t, err, "unsupported archive format")
}

func TestPackageRejectsMissingOrDirectory(t *testing.T) {
	t.Parallel()

	_, err := TarGz(filepath.Join(t.TempDir(), "missing"), "tool", "linux")
	assert.ErrorContains(t, err, "open binary")

	_, err = Zip(t.TempDir(), "tool", "windows")
	assert.ErrorContains(t, err, "not a regular file")
}

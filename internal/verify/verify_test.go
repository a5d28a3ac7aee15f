package verify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/3leaps/relsync/internal/model"
	"github.com/3leaps/relsync/internal/pipeline"
	"github.com/3leaps/relsync/internal/testutil"
	"github.com/3leaps/relsync/internal/transform"
)

const testTag = "v0.4.0"

func publishedRelease(t *testing.T) *testutil.FakeRelease {
	t.Helper()
	rel := testutil.NewFakeRelease(testTag, map[string]string{
		"tool-linux-amd64.tar.gz":  "linux amd64",
		"tool-darwin-arm64.tar.gz": "darwin arm64",
		"tool-windows-amd64.zip":   "windows amd64",
	})
	d := &pipeline.Driver{Client: rel}
	if _, err := d.Run(context.Background(), testTag, []string{"*.tar.gz", "*.zip"}, transform.NewDigest()); err != nil {
		t.Fatalf("publish checksums: %v", err)
	}
	return rel
}

func snapshot(t *testing.T, rel *testutil.FakeRelease) *model.Release {
	t.Helper()
	r, err := rel.GetRelease(context.Background(), testTag)
	if err != nil {
		t.Fatalf("GetRelease: %v", err)
	}
	return r
}

func replaceAsset(t *testing.T, rel *testutil.FakeRelease, name, content string) {
	t.Helper()
	ctx := context.Background()
	for _, a := range rel.Named(name) {
		if err := rel.Delete(ctx, a.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}
	if err := rel.Upload(ctx, snapshot(t, rel).ID, name, []byte(content)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func TestReleaseRoundTrip(t *testing.T) {
	t.Parallel()

	rel := publishedRelease(t)
	results, err := Release(context.Background(), rel, snapshot(t, rel), Options{})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results: got %d want 3", len(results))
	}
	want := []string{"tool-darwin-arm64.tar.gz", "tool-linux-amd64.tar.gz", "tool-windows-amd64.zip"}
	for _, res := range results {
		if strings.Join(res.Verified, ",") != strings.Join(want, ",") {
			t.Fatalf("%s verified %v, want %v", res.File, res.Verified, want)
		}
	}
}

func TestReleaseDetectsMismatch(t *testing.T) {
	t.Parallel()

	rel := publishedRelease(t)
	replaceAsset(t, rel, "tool-linux-amd64.tar.gz", "tampered")

	opts := Options{Algorithms: []transform.Algorithm{transform.SHA256}}
	results, err := Release(context.Background(), rel, snapshot(t, rel), opts)
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	var mm *MismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("error %v is not a MismatchError", err)
	}
	if mm.Name != "tool-linux-amd64.tar.gz" {
		t.Fatalf("mismatch name: got %q", mm.Name)
	}
	if len(results) != 1 || len(results[0].Verified) != 2 {
		t.Fatalf("expected the two untouched assets to verify, got %+v", results)
	}
}

func TestReleaseFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(t *testing.T, rel *testutil.FakeRelease)
		opts    Options
		wantErr string
	}{
		{
			name: "listed asset removed",
			prepare: func(t *testing.T, rel *testutil.FakeRelease) {
				for _, a := range rel.Named("tool-windows-amd64.zip") {
					_ = rel.Delete(context.Background(), a.ID)
				}
			},
			wantErr: "listed asset not on release",
		},
		{
			name: "requested checksum file missing",
			prepare: func(t *testing.T, rel *testutil.FakeRelease) {
				for _, a := range rel.Named("checksums.sha512") {
					_ = rel.Delete(context.Background(), a.ID)
				}
			},
			opts:    Options{Algorithms: []transform.Algorithm{transform.SHA512}},
			wantErr: "checksum file not on release",
		},
		{
			name: "minisign signature missing",
			prepare: func(t *testing.T, rel *testutil.FakeRelease) {
			},
			opts:    Options{Algorithms: []transform.Algorithm{transform.SHA256}, MinisignKey: "unused.pub"},
			wantErr: "signature not on release",
		},
		{
			name: "pgp signature in wrong format",
			prepare: func(t *testing.T, rel *testutil.FakeRelease) {
				replaceAsset(t, rel, "checksums.sha256.asc", "untrusted comment: not armored\n")
			},
			opts:    Options{Algorithms: []transform.Algorithm{transform.SHA256}, PGPKey: "unused.asc"},
			wantErr: "not a pgp signature",
		},
		{
			name: "malformed checksum file",
			prepare: func(t *testing.T, rel *testutil.FakeRelease) {
				replaceAsset(t, rel, "checksums.b2", "not a digest line\n")
			},
			opts:    Options{Algorithms: []transform.Algorithm{transform.Blake2b512}},
			wantErr: "checksums.b2",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rel := publishedRelease(t)
			tc.prepare(t, rel)
			_, err := Release(context.Background(), rel, snapshot(t, rel), tc.opts)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error: got %q want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestReleaseWithoutChecksumFiles(t *testing.T) {
	t.Parallel()

	rel := testutil.NewFakeRelease(testTag, map[string]string{"tool.tar.gz": "x"})
	_, err := Release(context.Background(), rel, snapshot(t, rel), Options{})
	if err == nil || !strings.Contains(err.Error(), "no checksum files") {
		t.Fatalf("expected no checksum files error, got %v", err)
	}
}

// minisignKey writes a minisign public key file and returns its path with
// the matching signer.
func minisignKey(t *testing.T) (string, func(msg []byte) []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	keyID := []byte{0x52, 0x45, 0x4c, 0x53, 0x59, 0x4e, 0x43, 0x31}

	pkBin := append(append([]byte("Ed"), keyID...), pub...)
	path := filepath.Join(t.TempDir(), "relsync.pub")
	pubFile := "untrusted comment: minisign public key\n" + base64.StdEncoding.EncodeToString(pkBin) + "\n"
	if err := os.WriteFile(path, []byte(pubFile), 0o600); err != nil {
		t.Fatalf("write pubkey: %v", err)
	}

	sign := func(msg []byte) []byte {
		sig := ed25519.Sign(priv, msg)
		trusted := "trusted comment: timestamp:1700000000"
		global := ed25519.Sign(priv, append(append([]byte(nil), sig...), []byte(strings.TrimPrefix(trusted, "trusted comment: "))...))
		sigBin := append(append([]byte("Ed"), keyID...), sig...)
		return []byte("untrusted comment: signature from relsync test\n" +
			base64.StdEncoding.EncodeToString(sigBin) + "\n" +
			trusted + "\n" +
			base64.StdEncoding.EncodeToString(global) + "\n")
	}
	return path, sign
}

func TestReleaseMinisign(t *testing.T) {
	t.Parallel()

	rel := publishedRelease(t)
	keyPath, sign := minisignKey(t)

	data, _ := rel.Content("checksums.sha256")
	ctx := context.Background()
	if err := rel.Upload(ctx, snapshot(t, rel).ID, "checksums.sha256.minisig", sign(data)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := rel.Upload(ctx, snapshot(t, rel).ID, "checksums.sha512.minisig", sign([]byte("some other content"))); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	results, err := Release(ctx, rel, snapshot(t, rel), Options{
		Algorithms:  []transform.Algorithm{transform.SHA256},
		MinisignKey: keyPath,
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(results) != 1 || len(results[0].Signed) != 1 || results[0].Signed[0] != FormatMinisign {
		t.Fatalf("unexpected results %+v", results)
	}

	_, err = Release(ctx, rel, snapshot(t, rel), Options{
		Algorithms:  []transform.Algorithm{transform.SHA512},
		MinisignKey: keyPath,
	})
	if err == nil || !strings.Contains(err.Error(), "checksums.sha512.minisig") {
		t.Fatalf("expected signature failure, got %v", err)
	}
}

func TestDetectSignatureFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "pgp", data: "\n-----BEGIN PGP SIGNATURE-----\n...", want: FormatPGP},
		{name: "minisign", data: "untrusted comment: signature\nRWQ...", want: FormatMinisign},
		{name: "unknown", data: "deadbeef", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectSignatureFormat([]byte(tc.data)); got != tc.want {
				t.Fatalf("format: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	if got := FormatSize(512); got != "512 B" {
		t.Fatalf("FormatSize(512): got %q", got)
	}
	if got := FormatSize(1536); got != "1.5 KB" {
		t.Fatalf("FormatSize(1536): got %q", got)
	}
	if got := FormatSize(3 << 20); got != "3.0 MB" {
		t.Fatalf("FormatSize(3MiB): got %q", got)
	}
}

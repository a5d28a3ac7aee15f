// Package testutil holds fakes shared by package tests: an in-memory release
// store and a scripted stand-in for the gpg executable.
package testutil

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// FakeFingerprint is the fingerprint the fake gpg reports on import.
const FakeFingerprint = "0123456789ABCDEF0123456789ABCDEF01234567"

// FakeGPG is a shell script that mimics the gpg calls relsync makes.
// Signing input containing FailMarker exits non-zero; every import and
// delete is appended to Log.
type FakeGPG struct {
	Bin string
	Log string
}

// FailMarker makes the fake gpg refuse to sign an input that contains it.
const FailMarker = "FORCE-SIGN-FAILURE"

const fakeGPGScript = `#!/bin/sh
log='@LOG@'
mode=""
last=""
for a in "$@"; do
  case "$a" in
    --import) mode=import ;;
    --detach-sign) mode=sign ;;
    --delete-secret-keys) mode=delete-secret ;;
    --delete-keys) mode=delete-public ;;
  esac
  last="$a"
done
case "$mode" in
  import)
    echo "import" >> "$log"
    if grep -q BROKEN "$last"; then
      echo "gpg: no valid OpenPGP data found." >&2
      exit 2
    fi
    echo "sec:u:255:22:89ABCDEF01234567:1700000000:::u:::scESC:::+:::ed25519:::0:"
    echo "fpr:::::::::@FPR@:"
    exit 0
    ;;
  sign)
    if [ "@ECHO@" = "1" ]; then
      cat
      exit 0
    fi
    data=$(cat)
    case "$data" in
      *@FAIL@*)
        echo "gpg: signing failed: Bad signature" >&2
        exit 2
        ;;
    esac
    echo "-----BEGIN PGP SIGNATURE-----"
    printf '%s' "$data" | cksum
    echo "-----END PGP SIGNATURE-----"
    exit 0
    ;;
  delete-secret|delete-public)
    echo "$mode $last" >> "$log"
    exit 0
    ;;
esac
echo "gpg: unexpected arguments: $*" >&2
exit 1
`

// NewFakeGPG writes the fake gpg into a temp dir. With echo set, signing
// copies stdin to stdout as it streams in. Skips on Windows.
func NewFakeGPG(t *testing.T, echo bool) *FakeGPG {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake gpg needs a POSIX shell")
	}

	dir := t.TempDir()
	logPath := filepath.Join(dir, "gpg.log")
	echoFlag := "0"
	if echo {
		echoFlag = "1"
	}
	script := strings.NewReplacer(
		"@LOG@", logPath,
		"@FPR@", FakeFingerprint,
		"@FAIL@", FailMarker,
		"@ECHO@", echoFlag,
	).Replace(fakeGPGScript)

	bin := filepath.Join(dir, "gpg")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil { // #nosec G306 -- test executable
		t.Fatalf("write fake gpg: %v", err)
	}
	return &FakeGPG{Bin: bin, Log: logPath}
}

// Calls returns the logged import/delete calls in order.
func (f *FakeGPG) Calls(t *testing.T) []string {
	t.Helper()
	fh, err := os.Open(f.Log)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("open gpg log: %v", err)
	}
	defer fh.Close()

	var calls []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		calls = append(calls, sc.Text())
	}
	return calls
}

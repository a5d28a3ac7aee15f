package transform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/relsync/internal/errs"
)

const maxCommandError = 2048

// defaultArgs are passed to every gpg invocation.
var defaultArgs = []string{"--batch", "--with-colons", "--yes", "--pinentry-mode", "loopback"}

// Key is a secret key imported into a Keyring.
type Key struct {
	Fingerprint string

	passphraseFile string
}

// Keyring drives the gpg executable. It is safe for concurrent Sign calls;
// Import and Delete must not overlap with signing.
type Keyring struct {
	bin     string
	homeDir string
}

// NewKeyring locates bin (a name on PATH or a path) and returns a Keyring
// operating on homeDir, or on gpg's default home when homeDir is empty.
func NewKeyring(bin, homeDir string) (*Keyring, error) {
	if bin == "" {
		bin = "gpg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, errs.New(errs.KindSubprocess, errs.StageKey, "", fmt.Errorf("locate gpg: %w", err))
	}
	return &Keyring{bin: path, homeDir: homeDir}, nil
}

func (k *Keyring) args(extra ...string) []string {
	args := append([]string(nil), defaultArgs...)
	if k.homeDir != "" {
		args = append(args, "--homedir", k.homeDir)
	}
	return append(args, extra...)
}

// Import adds an ASCII-armored secret key and returns its fingerprint. The
// passphrase, if any, is kept in a private temp file until Delete.
func (k *Keyring) Import(ctx context.Context, armored, passphrase string) (*Key, error) {
	keyFile, err := writeSecretFile("relsync-key-*.asc", armored)
	if err != nil {
		return nil, errs.New(errs.KindSubprocess, errs.StageKey, "", fmt.Errorf("write key file: %w", err))
	}
	defer os.Remove(keyFile)

	key := &Key{}
	if passphrase != "" {
		key.passphraseFile, err = writeSecretFile("relsync-pass-*", passphrase)
		if err != nil {
			return nil, errs.New(errs.KindSubprocess, errs.StageKey, "", fmt.Errorf("write passphrase file: %w", err))
		}
	}

	args := k.args("--import", "--import-options", "import-show")
	args = append(args, key.passphraseArgs()...)
	args = append(args, keyFile)

	stdout, err := k.run(ctx, args...)
	if err != nil {
		key.removePassphrase()
		return nil, errs.New(errs.KindSubprocess, errs.StageKey, "", fmt.Errorf("import key: %w", err))
	}

	fpr, err := parseFingerprint(stdout)
	if err != nil {
		key.removePassphrase()
		return nil, errs.New(errs.KindSubprocess, errs.StageKey, "", err)
	}
	key.Fingerprint = fpr

	log.WithField("fingerprint", fpr).Info("imported GPG key")
	return key, nil
}

// Delete removes the secret and public part of key. Both deletions are
// attempted even when the first fails.
func (k *Keyring) Delete(ctx context.Context, key *Key) error {
	if key == nil {
		return nil
	}
	defer key.removePassphrase()

	var merr *multierror.Error
	if _, err := k.run(ctx, k.args("--delete-secret-keys", key.Fingerprint)...); err != nil {
		merr = multierror.Append(merr, errs.New(errs.KindSubprocess, errs.StageKey, key.Fingerprint, fmt.Errorf("delete secret key: %w", err)))
	} else {
		log.WithField("fingerprint", key.Fingerprint).Info("deleted secret GPG key")
	}
	if _, err := k.run(ctx, k.args("--delete-keys", key.Fingerprint)...); err != nil {
		merr = multierror.Append(merr, errs.New(errs.KindSubprocess, errs.StageKey, key.Fingerprint, fmt.Errorf("delete public key: %w", err)))
	} else {
		log.WithField("fingerprint", key.Fingerprint).Info("deleted public GPG key")
	}
	return errs.FormatErrorOrNil(merr)
}

// Sign produces an armored detached signature over r in a fresh gpg
// process. Stdin and stdout are pumped by separate goroutines so gpg can
// emit output before it has consumed all input.
func (k *Keyring) Sign(ctx context.Context, key *Key, r io.Reader) ([]byte, error) {
	args := k.args("--detach-sign", "--armor", "--output", "-", "--local-user", key.Fingerprint)
	args = append(args, key.passphraseArgs()...)
	args = append(args, "-")

	// #nosec G204 -- bin resolved via LookPath, args built locally
	cmd := exec.CommandContext(ctx, k.bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errs.New(errs.KindSubprocess, errs.StageTransform, "", fmt.Errorf("start gpg: %w", err))
	}

	src := &trackedReader{r: r}
	var sig bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdin, src)
		if cerr := stdin.Close(); err == nil {
			err = cerr
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&sig, stdout)
		return err
	})
	pumpErr := g.Wait()
	waitErr := cmd.Wait()

	switch {
	case src.err != nil:
		return nil, errs.New(errs.KindRead, errs.StageTransform, "", fmt.Errorf("read input: %w", src.err))
	case waitErr != nil:
		return nil, errs.New(errs.KindSubprocess, errs.StageTransform, "", fmt.Errorf("gpg --detach-sign: %v: %s", waitErr, trimCommandOutput(stderr.String())))
	case pumpErr != nil:
		return nil, errs.New(errs.KindSubprocess, errs.StageTransform, "", fmt.Errorf("gpg pipe: %w", pumpErr))
	}
	return sig.Bytes(), nil
}

func (k *Keyring) run(ctx context.Context, args ...string) ([]byte, error) {
	// #nosec G204 -- bin resolved via LookPath, args built locally
	cmd := exec.CommandContext(ctx, k.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%v: %s", err, trimCommandOutput(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (key *Key) passphraseArgs() []string {
	if key.passphraseFile == "" {
		return nil
	}
	return []string{"--passphrase-file", key.passphraseFile}
}

func (key *Key) removePassphrase() {
	if key.passphraseFile == "" {
		return
	}
	if err := os.Remove(key.passphraseFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("error removing passphrase file: %v", err)
	}
	key.passphraseFile = ""
}

// parseFingerprint returns the first fpr record of gpg's colon listing.
func parseFingerprint(out []byte) (string, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if rest, ok := strings.CutPrefix(sc.Text(), "fpr:"); ok {
			if id := strings.Trim(rest, ":"); id != "" {
				return id, nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read gpg output: %w", err)
	}
	return "", errors.New("failed finding key fingerprint in gpg output")
}

// writeSecretFile stores content in a new temp file; CreateTemp opens it 0600.
func writeSecretFile(pattern, content string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// trackedReader remembers the first non-EOF read error so it can be told
// apart from pipe failures.
type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

func trimCommandOutput(out string) string {
	clean := strings.TrimSpace(out)
	if clean == "" {
		return "command failed"
	}
	if len(clean) > maxCommandError {
		return clean[:maxCommandError] + "..."
	}
	return clean
}

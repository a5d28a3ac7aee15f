package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jedisct1/go-minisign"
)

const (
	FormatPGP      = "pgp"
	FormatMinisign = "minisign"

	minisignExt = ".minisig"
	pgpExt      = ".asc"

	maxCommandError = 512
)

// DetectSignatureFormat inspects signature bytes and returns FormatPGP,
// FormatMinisign or "" when neither matches.
func DetectSignatureFormat(data []byte) string {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "-----BEGIN PGP SIGNATURE-----"):
		return FormatPGP
	case strings.HasPrefix(trimmed, "untrusted comment:"):
		return FormatMinisign
	default:
		return ""
	}
}

// VerifyMinisignSignature checks sig over content with the public key file
// at pubKeyPath.
func VerifyMinisignSignature(content, sig []byte, pubKeyPath string) error {
	pubKey, err := minisign.NewPublicKeyFromFile(pubKeyPath)
	if err != nil {
		return fmt.Errorf("read minisign pubkey: %w", err)
	}

	signature, err := minisign.DecodeSignature(string(sig))
	if err != nil {
		return fmt.Errorf("read minisign signature: %w", err)
	}

	valid, err := pubKey.Verify(content, signature)
	if err != nil {
		return fmt.Errorf("minisign: verification error: %w", err)
	}
	if !valid {
		return fmt.Errorf("minisign: signature verification failed")
	}
	return nil
}

// VerifyPGPSignature checks an armored detached signature over content
// against the public key file at pubKeyPath, using a throwaway gpg home.
func VerifyPGPSignature(ctx context.Context, content, sig []byte, pubKeyPath, gpgBin string) error {
	home, err := os.MkdirTemp("", "relsync-gpg-")
	if err != nil {
		return fmt.Errorf("create gpg home: %w", err)
	}
	defer os.RemoveAll(home)

	contentPath := filepath.Join(home, "content")
	sigPath := filepath.Join(home, "content.asc")
	if err := os.WriteFile(contentPath, content, 0o600); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	if err := os.WriteFile(sigPath, sig, 0o600); err != nil {
		return fmt.Errorf("write signature: %w", err)
	}

	importArgs := []string{"--batch", "--no-tty", "--homedir", home, "--import", pubKeyPath}
	if err := runCommand(ctx, gpgBin, importArgs...); err != nil {
		return fmt.Errorf("import pgp key: %w", err)
	}

	verifyArgs := []string{"--batch", "--no-tty", "--homedir", home, "--trust-model", "always", "--verify", sigPath, contentPath}
	if err := runCommand(ctx, gpgBin, verifyArgs...); err != nil {
		return fmt.Errorf("verify pgp signature: %w", err)
	}
	return nil
}

func runCommand(ctx context.Context, bin string, args ...string) error {
	// #nosec G204 -- bin is operator supplied, args built locally
	cmd := exec.CommandContext(ctx, bin, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %s", bin, strings.Join(args, " "), trimCommandOutput(combined.String()))
	}
	return nil
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

package cli

import (
	"bytes"
	"io"
	"testing"
)

func TestRunWithoutHandler(t *testing.T) {
	prev := Handler
	Handler = nil
	t.Cleanup(func() { Handler = prev })

	var stderr bytes.Buffer
	if code := Run(nil, io.Discard, &stderr); code != 1 {
		t.Fatalf("exit code: got %d want 1", code)
	}
	if !bytes.Contains(stderr.Bytes(), []byte("not configured")) {
		t.Fatalf("stderr: %q", stderr.String())
	}
}

func TestRunDispatches(t *testing.T) {
	prev := Handler
	t.Cleanup(func() { Handler = prev })

	var got []string
	Handler = func(args []string, stdout, _ io.Writer) int {
		got = args
		_, _ = io.WriteString(stdout, "ok")
		return 3
	}

	var stdout bytes.Buffer
	if code := Run([]string{"checksum", "*.zip"}, &stdout, io.Discard); code != 3 {
		t.Fatalf("exit code: got %d want 3", code)
	}
	if len(got) != 2 || got[1] != "*.zip" || stdout.String() != "ok" {
		t.Fatalf("handler saw %v, wrote %q", got, stdout.String())
	}
}

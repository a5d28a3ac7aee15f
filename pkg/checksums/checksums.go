package checksums

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Entry is one line of a checksum file.
type Entry struct {
	Digest string // lowercase hex
	Name   string
}

// Line renders e in binary mode, including the trailing newline.
func (e Entry) Line() string {
	return fmt.Sprintf("%s *%s\n", strings.ToLower(e.Digest), e.Name)
}

// Format renders entries as a checksum file. Entries are sorted by name so
// the output does not depend on the order hashing finished in.
func Format(entries []Entry) []byte {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, e := range sorted {
		buf.WriteString(e.Line())
	}
	return buf.Bytes()
}

// Parse reads every digest line in data. digestLen is the expected hex length
// (0 accepts any even length); lines with a digest of another length are
// skipped.
func Parse(data []byte, digestLen int) ([]Entry, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("checksum file is empty")
	}
	if isHexDigest(text, digestLen) {
		return []Entry{{Digest: strings.ToLower(text)}}, nil
	}

	var entries []Entry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		digest := fields[0]
		if !isHexDigest(digest, digestLen) {
			continue
		}
		name := strings.TrimPrefix(strings.Join(fields[1:], " "), "*")
		entries = append(entries, Entry{Digest: strings.ToLower(digest), Name: path.Base(name)})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no checksum entries found")
	}
	return entries, nil
}

// Lookup returns the digest recorded for name.
func Lookup(data []byte, digestLen int, name string) (string, error) {
	entries, err := Parse(data, digestLen)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].Name == "" {
		return entries[0].Digest, nil
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Digest, nil
		}
	}
	return "", fmt.Errorf("checksum for %s not found", name)
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	da, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	db, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	return bytes.Equal(da, db)
}

func isHexDigest(value string, expectedLen int) bool {
	if value == "" {
		return false
	}
	if expectedLen > 0 && len(value) != expectedLen {
		return false
	}
	if len(value)%2 != 0 {
		return false
	}
	for _, ch := range value {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}

// Package checksums reads and writes checksum files in the layout produced by
// coreutils `sha256sum --binary` and friends.
//
// Each line holds a lowercase hex digest, a single space, a `*` binary-mode
// marker and the file name:
//
//	9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08 *app-linux.tar.gz
//
// Parsing is lenient: text-mode lines (two spaces, no `*`), blank lines and
// `#` comments are accepted, and a file holding only a bare digest is read as
// a single unnamed entry. Writing is strict and always uses binary mode.
//
// The package performs no hashing and no I/O beyond the supplied readers and
// writers; it is safe to use from any number of goroutines.
package checksums

// Command generate-checksums writes checksum files for local release
// artifacts in the same format relsync publishes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/relsync/internal/match"
	"github.com/3leaps/relsync/internal/model"
	"github.com/3leaps/relsync/internal/transform"
)

func main() {
	dir := flag.String("dir", "dist/release", "directory containing release artifacts")
	algos := flag.String("algos", "b2,sha256,sha512", "comma-separated list of hash algorithms (b2, sha256, sha512)")
	globs := flag.String("globs", "*.tar.gz,*.zip", "comma-separated artifact globs")
	flag.Parse()

	if err := run(*dir, *algos, *globs); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(dir, algoList, globList string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return errors.New("directory is required")
	}
	if err := ensureDir(dir); err != nil {
		return err
	}

	algos, err := transform.ParseAlgorithms(strings.Split(algoList, ","))
	if err != nil {
		return err
	}
	m, err := match.Compile(match.SplitList(globList))
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	files := filterFiles(entries, m)
	if len(files) == 0 {
		return fmt.Errorf("no release artifacts found in %s", dir)
	}

	digest := transform.NewDigest(algos...)
	results := make([]transform.Result, 0, len(files))
	for _, name := range files {
		res, err := hashFile(digest, dir, name)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	outs, err := digest.Finish(results)
	if err != nil {
		return err
	}
	for _, out := range outs {
		path := filepath.Join(dir, out.Name)
		if err := os.WriteFile(path, out.Data, 0o644); err != nil { // #nosec G306 -- checksum files are public
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("✅ Wrote %s (%d entries)\n", path, len(files))
	}
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory %s not found", dir)
		}
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func filterFiles(entries []os.DirEntry, m *match.Matcher) []string {
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !m.Matches(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files
}

func hashFile(digest *transform.Digest, dir, name string) (transform.Result, error) {
	f, err := os.Open(filepath.Join(dir, name)) // #nosec G304 -- build tool reading release assets
	if err != nil {
		return transform.Result{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	asset := model.Asset{Name: name}
	outs, err := digest.Apply(context.Background(), asset, f)
	if err != nil {
		return transform.Result{}, err
	}
	return transform.Result{Asset: asset, Outputs: outs}, nil
}

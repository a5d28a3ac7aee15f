package transform

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
	"github.com/3leaps/relsync/pkg/checksums"
)

const (
	checksumPrefix = "checksums."
	readBufferSize = 32 * 1024
)

// Algorithm is a digest algorithm and the extension of its checksum file.
type Algorithm struct {
	Name string
	Ext  string
	Size int // digest size in bytes
	New  func() hash.Hash
}

// FileName is the name of the checksum file this algorithm produces.
func (a Algorithm) FileName() string {
	return checksumPrefix + a.Ext
}

// HexLen is the length of the hex-encoded digest.
func (a Algorithm) HexLen() int {
	return a.Size * 2
}

var (
	Blake2b512 = Algorithm{Name: "blake2b-512", Ext: "b2", Size: blake2b.Size, New: newBlake2b512}
	SHA256     = Algorithm{Name: "sha256", Ext: "sha256", Size: sha256.Size, New: sha256.New}
	SHA512     = Algorithm{Name: "sha512", Ext: "sha512", Size: sha512.Size, New: sha512.New}
)

func newBlake2b512() hash.Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic(err) // only fails for keys longer than 64 bytes
	}
	return h
}

// DefaultAlgorithms returns blake2b-512, sha256 and sha512, in that order.
func DefaultAlgorithms() []Algorithm {
	return []Algorithm{Blake2b512, SHA256, SHA512}
}

// AlgorithmByName resolves an algorithm from its name or file extension.
func AlgorithmByName(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "b2", "blake2", "blake2b", "blake2b-512", "blake2b512":
		return Blake2b512, nil
	case "sha256", "sha-256":
		return SHA256, nil
	case "sha512", "sha-512":
		return SHA512, nil
	default:
		return Algorithm{}, fmt.Errorf("unsupported hash algorithm %q", name)
	}
}

// ParseAlgorithms resolves a list of names, dropping duplicates.
func ParseAlgorithms(names []string) ([]Algorithm, error) {
	seen := make(map[string]struct{})
	var algos []Algorithm
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		a, err := AlgorithmByName(n)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[a.Name]; ok {
			continue
		}
		seen[a.Name] = struct{}{}
		algos = append(algos, a)
	}
	if len(algos) == 0 {
		return nil, fmt.Errorf("no hash algorithms specified")
	}
	return algos, nil
}

// Sum streams r once through every algorithm and returns the digests keyed
// by algorithm name. Each algorithm keeps its own state; every chunk read
// from r is written to all of them before the next read.
func Sum(r io.Reader, algos []Algorithm) (map[string][]byte, error) {
	hashers := make([]hash.Hash, len(algos))
	writers := make([]io.Writer, len(algos))
	for i, a := range algos {
		hashers[i] = a.New()
		writers[i] = hashers[i]
	}

	buf := make([]byte, readBufferSize)
	if _, err := io.CopyBuffer(io.MultiWriter(writers...), readerOnly{r}, buf); err != nil {
		return nil, err
	}

	sums := make(map[string][]byte, len(algos))
	for i, a := range algos {
		sums[a.Name] = hashers[i].Sum(nil)
	}
	return sums, nil
}

// readerOnly hides any WriterTo implementation so CopyBuffer uses buf.
type readerOnly struct {
	io.Reader
}

// Digest hashes every asset with a fixed set of algorithms and publishes one
// checksum file per algorithm.
type Digest struct {
	algos []Algorithm
}

// NewDigest returns a Digest transform; no algorithms means the defaults.
func NewDigest(algos ...Algorithm) *Digest {
	if len(algos) == 0 {
		algos = DefaultAlgorithms()
	}
	return &Digest{algos: algos}
}

func (d *Digest) Name() string { return "digest" }

// FailFast is true: checksum files are one logical artifact and a partial
// file must never be published.
func (d *Digest) FailFast() bool { return true }

// Algorithms returns the configured algorithms.
func (d *Digest) Algorithms() []Algorithm {
	return append([]Algorithm(nil), d.algos...)
}

// Apply returns one single-line output per algorithm, named after the
// checksum file it belongs to.
func (d *Digest) Apply(ctx context.Context, asset model.Asset, r io.Reader) ([]model.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sums, err := Sum(r, d.algos)
	if err != nil {
		return nil, errs.New(errs.KindRead, errs.StageTransform, asset.Name, fmt.Errorf("hash: %w", err))
	}

	outs := make([]model.Output, 0, len(d.algos))
	for _, a := range d.algos {
		line := checksums.Entry{Digest: hex.EncodeToString(sums[a.Name]), Name: asset.Name}.Line()
		outs = append(outs, model.Output{Name: a.FileName(), Data: []byte(line)})
	}

	log.WithField("name", asset.Name).Info("hashed asset")
	return outs, nil
}

// Finish builds one checksum file per algorithm. Lines are ordered by asset
// name, not by completion order.
func (d *Digest) Finish(results []Result) ([]model.Output, error) {
	sorted := append([]Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Asset.Name < sorted[j].Asset.Name })

	files := make([]model.Output, 0, len(d.algos))
	for _, a := range d.algos {
		name := a.FileName()
		var data []byte
		for _, res := range sorted {
			for _, out := range res.Outputs {
				if out.Name == name {
					data = append(data, out.Data...)
				}
			}
		}
		if data == nil {
			data = []byte{}
		}
		files = append(files, model.Output{Name: name, Data: data})
		log.WithField("name", name).Info("built checksum file")
	}
	return files, nil
}

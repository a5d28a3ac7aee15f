// Package verify checks published checksum files against the release they
// describe.
package verify

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
	"github.com/3leaps/relsync/internal/transform"
	"github.com/3leaps/relsync/pkg/checksums"
)

const maxChecksumFile = 16 << 20

// Downloader opens the content stream of a release asset.
type Downloader interface {
	Download(ctx context.Context, asset model.Asset) (io.ReadCloser, error)
}

// Options configures Release.
type Options struct {
	// Algorithms to check. Empty means every algorithm whose checksum file
	// is present; an explicitly requested file that is missing is an error.
	Algorithms []transform.Algorithm
	// MinisignKey is a minisign public key file. When set every checksum
	// file must carry a valid <file>.minisig sibling.
	MinisignKey string
	// PGPKey is an armored public key file. When set every checksum file
	// must carry a valid <file>.asc sibling.
	PGPKey string
	GPGBin string
	Limit  int
}

// Result lists what was checked against one checksum file.
type Result struct {
	File      string
	Algorithm string
	Signed    []string
	Verified  []string
}

// MismatchError is a listed asset whose content does not hash to the
// recorded digest.
type MismatchError struct {
	Name     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Name, e.Expected, e.Actual)
}

// Release verifies the checksum files on rel. Every failure is collected;
// the returned results cover the checksum files that could be read.
func Release(ctx context.Context, client Downloader, rel *model.Release, opts Options) ([]Result, error) {
	algos := opts.Algorithms
	explicit := len(algos) > 0
	if !explicit {
		algos = transform.DefaultAlgorithms()
	}

	var (
		results []Result
		merr    *multierror.Error
	)
	for _, algo := range algos {
		file := rel.FindAsset(algo.FileName())
		if file == nil {
			if explicit {
				merr = multierror.Append(merr, errs.New(errs.KindRead, errs.StageFetch, algo.FileName(), errors.New("checksum file not on release")))
			}
			continue
		}
		res, err := verifyFile(ctx, client, rel, *file, algo, opts)
		if res != nil {
			results = append(results, *res)
		}
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if len(results) == 0 && merr == nil {
		merr = multierror.Append(merr, errors.New("no checksum files found on release"))
	}
	return results, errs.FormatErrorOrNil(merr)
}

func verifyFile(ctx context.Context, client Downloader, rel *model.Release, file model.Asset, algo transform.Algorithm, opts Options) (*Result, error) {
	data, err := readAsset(ctx, client, file, maxChecksumFile)
	if err != nil {
		return nil, err
	}
	res := &Result{File: file.Name, Algorithm: algo.Name}

	if opts.MinisignKey != "" {
		if err := checkSignature(ctx, client, rel, file.Name+minisignExt, FormatMinisign, func(sig []byte) error {
			return VerifyMinisignSignature(data, sig, opts.MinisignKey)
		}); err != nil {
			return nil, err
		}
		res.Signed = append(res.Signed, FormatMinisign)
	}
	if opts.PGPKey != "" {
		if err := checkSignature(ctx, client, rel, file.Name+pgpExt, FormatPGP, func(sig []byte) error {
			return VerifyPGPSignature(ctx, data, sig, opts.PGPKey, opts.GPGBin)
		}); err != nil {
			return nil, err
		}
		res.Signed = append(res.Signed, FormatPGP)
	}

	entries, err := checksums.Parse(data, algo.HexLen())
	if err != nil {
		return nil, errs.New(errs.KindRead, errs.StageTransform, file.Name, err)
	}

	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	var g errgroup.Group
	limit := opts.Limit
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)
	for _, entry := range entries {
		g.Go(func() error {
			err := verifyEntry(ctx, client, rel, algo, entry)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merr = multierror.Append(merr, err)
				return nil
			}
			res.Verified = append(res.Verified, entry.Name)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(res.Verified)

	log.WithFields(log.Fields{
		"file":     file.Name,
		"verified": len(res.Verified),
	}).Info("verified checksum file")
	return res, errs.FormatErrorOrNil(merr)
}

func verifyEntry(ctx context.Context, client Downloader, rel *model.Release, algo transform.Algorithm, entry checksums.Entry) error {
	asset := rel.FindAsset(entry.Name)
	if asset == nil {
		return errs.New(errs.KindRead, errs.StageFetch, entry.Name, errors.New("listed asset not on release"))
	}

	rc, err := client.Download(ctx, *asset)
	if err != nil {
		return err
	}
	defer rc.Close()

	sums, err := transform.Sum(rc, []transform.Algorithm{algo})
	if err != nil {
		return errs.New(errs.KindRead, errs.StageTransform, entry.Name, err)
	}
	actual := hex.EncodeToString(sums[algo.Name])
	if !checksums.Equal(entry.Digest, actual) {
		return errs.New(errs.KindRead, errs.StageTransform, entry.Name, &MismatchError{Name: entry.Name, Expected: entry.Digest, Actual: actual})
	}
	log.WithFields(log.Fields{"name": entry.Name, "size": FormatSize(asset.Size)}).Debug("checksum ok")
	return nil
}

func checkSignature(ctx context.Context, client Downloader, rel *model.Release, name, format string, check func([]byte) error) error {
	asset := rel.FindAsset(name)
	if asset == nil {
		return errs.New(errs.KindRead, errs.StageFetch, name, errors.New("signature not on release"))
	}
	sig, err := readAsset(ctx, client, *asset, maxChecksumFile)
	if err != nil {
		return err
	}
	if got := DetectSignatureFormat(sig); got != format {
		return errs.New(errs.KindRead, errs.StageTransform, name, fmt.Errorf("not a %s signature", format))
	}
	if err := check(sig); err != nil {
		return errs.New(errs.KindSubprocess, errs.StageTransform, name, err)
	}
	log.WithField("name", name).Info("signature ok")
	return nil
}

func readAsset(ctx context.Context, client Downloader, asset model.Asset, limit int64) ([]byte, error) {
	rc, err := client.Download(ctx, asset)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, errs.New(errs.KindRead, errs.StageFetch, asset.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, errs.New(errs.KindRead, errs.StageFetch, asset.Name, fmt.Errorf("larger than %s", FormatSize(limit)))
	}
	return data, nil
}

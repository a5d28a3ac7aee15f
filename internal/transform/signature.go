package transform

import (
	"context"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
)

// DefaultSignatureSuffix is appended to an asset name to name its signature.
const DefaultSignatureSuffix = "asc"

// Signer produces a detached signature over a stream.
type Signer interface {
	Sign(ctx context.Context, key *Key, r io.Reader) ([]byte, error)
}

// Signature signs every asset independently with an already imported key.
type Signature struct {
	signer Signer
	key    *Key
	suffix string
}

// NewSignature returns a Signature transform. An empty suffix means
// DefaultSignatureSuffix.
func NewSignature(signer Signer, key *Key, suffix string) *Signature {
	if suffix == "" {
		suffix = DefaultSignatureSuffix
	}
	return &Signature{signer: signer, key: key, suffix: suffix}
}

func (s *Signature) Name() string { return "signature" }

// FailFast is false: every signature is an independent artifact, so one
// failed asset must not hold back the others.
func (s *Signature) FailFast() bool { return false }

// OutputName returns the signature file name for an asset.
func (s *Signature) OutputName(assetName string) string {
	return fmt.Sprintf("%s.%s", assetName, s.suffix)
}

func (s *Signature) Apply(ctx context.Context, asset model.Asset, r io.Reader) ([]model.Output, error) {
	sig, err := s.signer.Sign(ctx, s.key, r)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			if e.Name == "" {
				e.Name = asset.Name
			}
			return nil, err
		}
		return nil, errs.New(errs.KindSubprocess, errs.StageTransform, asset.Name, err)
	}
	log.WithField("name", asset.Name).Info("signed asset")
	return []model.Output{{Name: s.OutputName(asset.Name), Data: sig}}, nil
}

// Finish passes every signature through unchanged.
func (s *Signature) Finish(results []Result) ([]model.Output, error) {
	var outs []model.Output
	for _, res := range results {
		outs = append(outs, res.Outputs...)
	}
	return outs, nil
}

// Package transform turns release asset content into derived artifacts.
//
// A Transform consumes one asset stream at a time in Apply and merges the
// per-asset results into publishable outputs in Finish. Two variants exist:
// Digest (checksum files, one per algorithm) and Signature (one detached GPG
// signature per asset).
package transform

import (
	"context"
	"io"

	"github.com/3leaps/relsync/internal/model"
)

// Transform is the capability the pipeline executor runs over every
// selected asset.
type Transform interface {
	// Name identifies the transform in logs.
	Name() string
	// Apply consumes r, the content of asset, and returns its outputs.
	Apply(ctx context.Context, asset model.Asset, r io.Reader) ([]model.Output, error)
	// Finish merges successful per-asset results into the outputs to publish.
	Finish(results []Result) ([]model.Output, error)
	// FailFast reports whether one asset's failure aborts the whole run.
	FailFast() bool
}

// Result is the successful outcome of Apply for one asset.
type Result struct {
	Asset   model.Asset
	Outputs []model.Output
}

package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
)

// DefaultLimit bounds concurrent workers when no limit is configured.
const DefaultLimit = 8

// Downloader opens the content stream of a release asset.
type Downloader interface {
	Download(ctx context.Context, asset model.Asset) (io.ReadCloser, error)
}

// AssetWriter mutates the assets of a release.
type AssetWriter interface {
	Upload(ctx context.Context, releaseID int64, name string, data []byte) error
	Delete(ctx context.Context, assetID int64) error
}

// Client is the release host as seen by the Driver.
type Client interface {
	GetRelease(ctx context.Context, tag string) (*model.Release, error)
	Downloader
	AssetWriter
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// tagErr attaches stage and name to err. Errors that already carry a kind keep
// it; anything else becomes kind.
func tagErr(err error, kind errs.Kind, stage errs.Stage, name string) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if errors.As(err, &e) {
		if e.Name == "" {
			e.Name = name
		}
		if e.Stage == "" {
			e.Stage = stage
		}
		return err
	}
	return errs.New(kind, stage, name, err)
}

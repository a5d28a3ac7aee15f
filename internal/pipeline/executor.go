package pipeline

import (
	"context"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
	"github.com/3leaps/relsync/internal/transform"
)

// Executor fetches and transforms assets on a bounded pool of workers.
type Executor struct {
	client Downloader
	limit  int
}

// NewExecutor returns an Executor running at most limit workers at once.
func NewExecutor(client Downloader, limit int) *Executor {
	return &Executor{client: client, limit: limitOrDefault(limit)}
}

// Run applies t to every asset and returns the outputs of t.Finish.
//
// When t is fail-fast the first failure cancels the remaining workers and
// no outputs are returned. Otherwise every asset is attempted; failures are
// aggregated in the returned error and the outputs of the successful
// assets are returned alongside it.
func (e *Executor) Run(ctx context.Context, assets []model.Asset, t transform.Transform) ([]model.Output, error) {
	if t.FailFast() {
		return e.runFailFast(ctx, assets, t)
	}
	return e.runCollect(ctx, assets, t)
}

func (e *Executor) runFailFast(ctx context.Context, assets []model.Asset, t transform.Transform) ([]model.Output, error) {
	results := make([]transform.Result, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for i, asset := range assets {
		g.Go(func() error {
			outs, err := e.process(gctx, asset, t)
			if err != nil {
				return err
			}
			results[i] = transform.Result{Asset: asset, Outputs: outs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return finish(t, results)
}

func (e *Executor) runCollect(ctx context.Context, assets []model.Asset, t transform.Transform) ([]model.Output, error) {
	results := make([]transform.Result, len(assets))
	failures := make([]error, len(assets))

	var g errgroup.Group
	g.SetLimit(e.limit)
	for i, asset := range assets {
		g.Go(func() error {
			outs, err := e.process(ctx, asset, t)
			if err != nil {
				log.WithField("name", asset.Name).Warnf("%s failed: %v", t.Name(), err)
				failures[i] = err
				return nil
			}
			results[i] = transform.Result{Asset: asset, Outputs: outs}
			return nil
		})
	}
	_ = g.Wait()

	var merr *multierror.Error
	ok := make([]transform.Result, 0, len(assets))
	for i := range assets {
		if failures[i] != nil {
			merr = multierror.Append(merr, failures[i])
			continue
		}
		ok = append(ok, results[i])
	}

	var outs []model.Output
	if len(ok) > 0 {
		var err error
		if outs, err = finish(t, ok); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return outs, errs.FormatErrorOrNil(merr)
}

// process streams one asset from the release straight into the transform.
func (e *Executor) process(ctx context.Context, asset model.Asset, t transform.Transform) ([]model.Output, error) {
	rc, err := e.client.Download(ctx, asset)
	if err != nil {
		return nil, tagErr(err, errs.KindTransport, errs.StageFetch, asset.Name)
	}
	defer rc.Close()

	outs, err := t.Apply(ctx, asset, rc)
	if err != nil {
		return nil, tagErr(err, errs.KindRead, errs.StageTransform, asset.Name)
	}
	return outs, nil
}

func finish(t transform.Transform, results []transform.Result) ([]model.Output, error) {
	outs, err := t.Finish(results)
	if err != nil {
		return nil, tagErr(err, errs.KindRead, errs.StageTransform, "")
	}
	return outs, nil
}

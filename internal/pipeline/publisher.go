package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
)

// Published lists the outputs a Publish call placed on the release.
type Published struct {
	// Uploaded had no same-named asset before.
	Uploaded []string
	// Replaced overwrote an existing asset of the same name.
	Replaced []string
}

// Names returns all published names, sorted.
func (p Published) Names() []string {
	names := append(append([]string(nil), p.Uploaded...), p.Replaced...)
	sort.Strings(names)
	return names
}

// Publisher writes outputs onto a release, replacing same-named assets.
type Publisher struct {
	client AssetWriter
	limit  int
}

// NewPublisher returns a Publisher running at most limit uploads at once.
func NewPublisher(client AssetWriter, limit int) *Publisher {
	return &Publisher{client: client, limit: limitOrDefault(limit)}
}

// Publish uploads every output to release. An asset on the release view
// with the same name is deleted first, so re-running converges to one asset
// per name. One failed output does not undo the others; failures are
// returned as an aggregate of publish conflicts.
//
// release is the view fetched at the start of the run and is only read.
func (p *Publisher) Publish(ctx context.Context, release *model.Release, outputs []model.Output) (Published, error) {
	var (
		mu   sync.Mutex
		res  Published
		merr *multierror.Error
	)

	var g errgroup.Group
	g.SetLimit(p.limit)
	for _, out := range outputs {
		g.Go(func() error {
			replaced, err := p.publishOne(ctx, release, out)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				merr = multierror.Append(merr, errs.New(errs.KindPublishConflict, errs.StagePublish, out.Name, err))
			case replaced:
				res.Replaced = append(res.Replaced, out.Name)
			default:
				res.Uploaded = append(res.Uploaded, out.Name)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Uploaded)
	sort.Strings(res.Replaced)
	log.WithFields(log.Fields{
		"uploaded": len(res.Uploaded),
		"replaced": len(res.Replaced),
	}).Info("published outputs")
	return res, errs.FormatErrorOrNil(merr)
}

func (p *Publisher) publishOne(ctx context.Context, release *model.Release, out model.Output) (bool, error) {
	replaced := false
	for _, a := range release.Assets {
		if a.Name != out.Name {
			continue
		}
		if err := p.client.Delete(ctx, a.ID); err != nil {
			return false, fmt.Errorf("delete existing asset %d: %w", a.ID, err)
		}
		log.WithFields(log.Fields{"name": a.Name, "id": a.ID}).Info("deleted existing asset")
		replaced = true
	}

	if err := p.client.Upload(ctx, release.ID, out.Name, out.Data); err != nil {
		return replaced, fmt.Errorf("upload: %w", err)
	}
	log.WithFields(log.Fields{"name": out.Name, "size": len(out.Data)}).Info("uploaded asset")
	return replaced, nil
}

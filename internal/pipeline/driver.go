package pipeline

import (
	"context"
	"sort"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/match"
	"github.com/3leaps/relsync/internal/model"
	"github.com/3leaps/relsync/internal/transform"
)

// Report summarises one run for the partial-success message.
type Report struct {
	Tag       string
	Selected  []string
	Produced  []string
	Published Published
	// Failed names every asset or output that did not make it.
	Failed []string
}

// Partial reports whether some outputs were published and others failed.
func (r *Report) Partial() bool {
	return len(r.Failed) > 0 && len(r.Published.Names()) > 0
}

// Driver sequences a run against one release.
type Driver struct {
	Client Client
	// Limit bounds both the executor and publisher pools.
	Limit int
}

// Run selects the assets of the release tagged tag that match patterns,
// transforms them with t and publishes the outputs back onto the release.
//
// An empty selection is not an error. A fail-fast transform error stops the
// run before anything is published. A collect-all transform publishes what
// succeeded and then returns the aggregate.
func (d *Driver) Run(ctx context.Context, tag string, patterns []string, t transform.Transform) (*Report, error) {
	rep := &Report{Tag: tag}
	logger := log.WithFields(log.Fields{"tag": tag, "transform": t.Name()})

	release, err := d.release(ctx, tag)
	if err != nil {
		return rep, err
	}

	m, err := match.Compile(patterns)
	if err != nil {
		return rep, stageErr(err, errs.StageSelect)
	}
	selected := m.Select(release.Assets)
	rep.Selected = assetNames(selected)
	if len(selected) == 0 {
		logger.WithField("patterns", m.Patterns()).Warn("no assets matched, nothing to publish")
		return rep, nil
	}
	logger.Infof("selected %d assets", len(selected))

	outs, runErr := NewExecutor(d.Client, d.Limit).Run(ctx, selected, t)
	rep.Failed = errs.Names(runErr)
	if runErr != nil && (t.FailFast() || len(outs) == 0) {
		return rep, runErr
	}
	rep.Produced = model.OutputNames(outs)

	published, pubErr := NewPublisher(d.Client, d.Limit).Publish(ctx, release, outs)
	rep.Published = published
	rep.Failed = append(rep.Failed, errs.Names(pubErr)...)
	sort.Strings(rep.Failed)

	var merr *multierror.Error
	if runErr != nil {
		merr = multierror.Append(merr, runErr)
	}
	if pubErr != nil {
		merr = multierror.Append(merr, pubErr)
	}
	return rep, errs.FormatErrorOrNil(merr)
}

// Publish places prebuilt outputs on the release tagged tag.
func (d *Driver) Publish(ctx context.Context, tag string, outs []model.Output) (*Report, error) {
	rep := &Report{Tag: tag, Produced: model.OutputNames(outs)}
	release, err := d.release(ctx, tag)
	if err != nil {
		return rep, err
	}
	published, err := NewPublisher(d.Client, d.Limit).Publish(ctx, release, outs)
	rep.Published = published
	rep.Failed = errs.Names(err)
	return rep, err
}

// KeyManager imports and removes the signing key and signs with it.
type KeyManager interface {
	transform.Signer
	Import(ctx context.Context, armored, passphrase string) (*transform.Key, error)
	Delete(ctx context.Context, key *transform.Key) error
}

// Sign runs the signature transform with a key imported for the duration of
// the run. The key is deleted once every signing worker has finished, also
// when the run fails or ctx is cancelled; a deletion failure is joined to
// the run error.
func (d *Driver) Sign(ctx context.Context, tag string, patterns []string, keys KeyManager, armoredKey, passphrase, suffix string) (rep *Report, err error) {
	key, err := keys.Import(ctx, armoredKey, passphrase)
	if err != nil {
		return &Report{Tag: tag}, stageErr(err, errs.StageKey)
	}
	defer func() {
		if derr := keys.Delete(context.WithoutCancel(ctx), key); derr != nil {
			var merr *multierror.Error
			if err != nil {
				merr = multierror.Append(merr, err)
			}
			err = errs.FormatErrorOrNil(multierror.Append(merr, stageErr(derr, errs.StageKey)))
		}
	}()

	return d.Run(ctx, tag, patterns, transform.NewSignature(keys, key, suffix))
}

func (d *Driver) release(ctx context.Context, tag string) (*model.Release, error) {
	release, err := d.Client.GetRelease(ctx, tag)
	if err != nil {
		return nil, stageErr(err, errs.StageRelease)
	}
	log.WithFields(log.Fields{"tag": release.TagName, "assets": len(release.Assets)}).Debug("fetched release")
	return release, nil
}

// stageErr stamps stage on err, defaulting the kind by stage.
func stageErr(err error, stage errs.Stage) error {
	kind := errs.KindTransport
	switch stage {
	case errs.StageSelect:
		kind = errs.KindPattern
	case errs.StageKey:
		kind = errs.KindSubprocess
	}
	return tagErr(err, kind, stage, "")
}

func assetNames(assets []model.Asset) []string {
	names := make([]string, len(assets))
	for i, a := range assets {
		names[i] = a.Name
	}
	return names
}

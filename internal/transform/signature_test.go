package transform

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
)

type stubSigner struct {
	err error
}

func (s stubSigner) Sign(_ context.Context, _ *Key, r io.Reader) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return []byte("sig(" + string(data) + ")"), nil
}

func TestSignatureApplyNamesOutputAfterInput(t *testing.T) {
	t.Parallel()

	s := NewSignature(stubSigner{}, &Key{Fingerprint: "F"}, "")
	outs, err := s.Apply(context.Background(), model.Asset{Name: "checksums.sha256"}, strings.NewReader("abc"))
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "checksums.sha256.asc", outs[0].Name)
	assert.Equal(t, "sig(abc)", string(outs[0].Data))
	assert.False(t, s.FailFast())

	assert.Equal(t, "a.zip.sig", NewSignature(stubSigner{}, nil, "sig").OutputName("a.zip"))
}

func TestSignatureApplyTagsErrorsWithAssetName(t *testing.T) {
	t.Parallel()

	typed := NewSignature(stubSigner{err: errs.New(errs.KindSubprocess, errs.StageTransform, "", errors.New("exit 2"))}, &Key{}, "")
	_, err := typed.Apply(context.Background(), model.Asset{Name: "a.sha256"}, strings.NewReader(""))
	require.Error(t, err)
	assert.Equal(t, []string{"a.sha256"}, errs.Names(err))

	plain := NewSignature(stubSigner{err: errors.New("boom")}, &Key{}, "")
	_, err = plain.Apply(context.Background(), model.Asset{Name: "b.sha256"}, strings.NewReader(""))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindSubprocess))
	assert.Equal(t, []string{"b.sha256"}, errs.Names(err))
}

func TestSignatureFinishPassesThrough(t *testing.T) {
	t.Parallel()

	s := NewSignature(stubSigner{}, &Key{}, "")
	outs, err := s.Finish([]Result{
		{Asset: model.Asset{Name: "a"}, Outputs: []model.Output{{Name: "a.asc"}}},
		{Asset: model.Asset{Name: "b"}, Outputs: []model.Output{{Name: "b.asc"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.asc", "b.asc"}, model.OutputNames(outs))
}

package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/3leaps/relsync/internal/model"
)

// FakeRelease is an in-memory release store. Like GitHub it assigns a fresh
// ID to every upload and does not enforce unique names.
type FakeRelease struct {
	mu       sync.Mutex
	id       int64
	tag      string
	nextID   int64
	assets   []model.Asset
	contents map[int64][]byte

	// DownloadErr, when set, is consulted before every download.
	DownloadErr func(name string) error
	// UploadErr, when set, is consulted before every upload.
	UploadErr func(name string) error

	Deleted  []string
	Uploaded []string
}

// NewFakeRelease returns a release with the given tag and initial assets.
func NewFakeRelease(tag string, files map[string]string) *FakeRelease {
	f := &FakeRelease{id: 42, tag: tag, nextID: 100, contents: map[int64][]byte{}}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f.add(name, []byte(files[name]))
	}
	return f
}

func (f *FakeRelease) add(name string, data []byte) model.Asset {
	f.nextID++
	a := model.Asset{
		ID:                 f.nextID,
		Name:               name,
		BrowserDownloadURL: fmt.Sprintf("https://example.invalid/download/%d/%s", f.nextID, name),
		Size:               int64(len(data)),
	}
	f.assets = append(f.assets, a)
	f.contents[a.ID] = append([]byte(nil), data...)
	return a
}

func (f *FakeRelease) GetRelease(_ context.Context, tag string) (*model.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tag != f.tag {
		return nil, fmt.Errorf("release %s not found", tag)
	}
	return &model.Release{ID: f.id, TagName: f.tag, Assets: append([]model.Asset(nil), f.assets...)}, nil
}

func (f *FakeRelease) Download(_ context.Context, asset model.Asset) (io.ReadCloser, error) {
	if f.DownloadErr != nil {
		if err := f.DownloadErr(asset.Name); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.contents[asset.ID]
	if !ok {
		return nil, fmt.Errorf("asset %d not found", asset.ID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *FakeRelease) Upload(_ context.Context, releaseID int64, name string, data []byte) error {
	if f.UploadErr != nil {
		if err := f.UploadErr(name); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if releaseID != f.id {
		return fmt.Errorf("release %d not found", releaseID)
	}
	f.add(name, data)
	f.Uploaded = append(f.Uploaded, name)
	return nil
}

func (f *FakeRelease) Delete(_ context.Context, assetID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.assets {
		if a.ID == assetID {
			f.assets = append(f.assets[:i], f.assets[i+1:]...)
			delete(f.contents, assetID)
			f.Deleted = append(f.Deleted, a.Name)
			return nil
		}
	}
	return fmt.Errorf("asset %d not found", assetID)
}

// Named returns every asset currently carrying name.
func (f *FakeRelease) Named(name string) []model.Asset {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Asset
	for _, a := range f.assets {
		if a.Name == name {
			out = append(out, a)
		}
	}
	return out
}

// Content returns the bytes of the single asset named name.
func (f *FakeRelease) Content(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assets {
		if a.Name == name {
			return append([]byte(nil), f.contents[a.ID]...), true
		}
	}
	return nil, false
}

// Names lists current asset names, sorted.
func (f *FakeRelease) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.assets))
	for _, a := range f.assets {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

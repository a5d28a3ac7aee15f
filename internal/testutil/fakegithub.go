package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/3leaps/relsync/internal/model"
)

// FakeGitHub serves the release endpoints relsync uses on top of a
// FakeRelease. Set RELSYNC_API_BASE and RELSYNC_UPLOAD_BASE to URL.
type FakeGitHub struct {
	*FakeRelease
	URL  string
	Repo string
}

// NewFakeGitHub starts a server for repo (owner/name) backed by rel.
func NewFakeGitHub(t *testing.T, repo string, rel *FakeRelease) *FakeGitHub {
	t.Helper()
	f := &FakeGitHub{FakeRelease: rel, Repo: repo}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/releases/tags/{tag}", func(w http.ResponseWriter, r *http.Request) {
		if !f.repoMatches(r) {
			http.NotFound(w, r)
			return
		}
		release, err := rel.GetRelease(r.Context(), r.PathValue("tag"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		for i := range release.Assets {
			release.Assets[i].BrowserDownloadURL = fmt.Sprintf("%s/download/%d", f.URL, release.Assets[i].ID)
		}
		writeJSON(w, http.StatusOK, release)
	})
	mux.HandleFunc("GET /download/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		rc, err := rel.Download(r.Context(), model.Asset{ID: id})
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc)
	})
	mux.HandleFunc("POST /repos/{owner}/{repo}/releases/{id}/assets", func(w http.ResponseWriter, r *http.Request) {
		if !f.repoMatches(r) {
			http.NotFound(w, r)
			return
		}
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		name := r.URL.Query().Get("name")
		data, err := io.ReadAll(r.Body)
		if err != nil || name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Bad Request"})
			return
		}
		if len(rel.Named(name)) > 0 {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"message": "Validation Failed",
				"errors":  []map[string]string{{"resource": "ReleaseAsset", "code": "already_exists", "field": "name"}},
			})
			return
		}
		if err := rel.Upload(r.Context(), id, name, data); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": name})
	})
	mux.HandleFunc("DELETE /repos/{owner}/{repo}/releases/assets/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if !f.repoMatches(r) || rel.Delete(r.Context(), id) != nil {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	f.URL = srv.URL
	return f
}

func (f *FakeGitHub) repoMatches(r *http.Request) bool {
	return r.PathValue("owner")+"/"+r.PathValue("repo") == f.Repo
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package github talks to the GitHub release REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/3leaps/relsync/internal/errs"
	"github.com/3leaps/relsync/internal/model"
)

const (
	DefaultAPIBase    = "https://api.github.com"
	DefaultUploadBase = "https://uploads.github.com"

	defaultTimeout    = 5 * time.Minute
	defaultMaxRetries = 4
	maxErrorBody      = 512
)

func TokenFromEnv() string {
	if tok := strings.TrimSpace(os.Getenv("RELSYNC_GITHUB_TOKEN")); tok != "" {
		return tok
	}
	return strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
}

// APIBaseFromEnv returns RELSYNC_API_BASE or the public API endpoint.
func APIBaseFromEnv() string {
	return baseFromEnv("RELSYNC_API_BASE", DefaultAPIBase)
}

// UploadBaseFromEnv returns RELSYNC_UPLOAD_BASE or the public upload endpoint.
func UploadBaseFromEnv() string {
	return baseFromEnv("RELSYNC_UPLOAD_BASE", DefaultUploadBase)
}

func baseFromEnv(key, def string) string {
	base := strings.TrimSpace(os.Getenv(key))
	if base == "" {
		return def
	}
	return strings.TrimRight(base, "/")
}

func UserAgent(version string) string {
	return fmt.Sprintf("relsync/%s", version)
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Repo       string // owner/name
	Token      string
	APIBase    string
	UploadBase string
	UserAgent  string
	Timeout    time.Duration

	// MaxRetries bounds retries of GET and DELETE requests.
	MaxRetries int
	// RetryInterval is the initial backoff interval.
	RetryInterval time.Duration

	HTTPClient *http.Client
}

// Client is a GitHub release client scoped to one repository. It is safe
// for concurrent use.
type Client struct {
	repo       string
	token      string
	apiBase    string
	uploadBase string
	userAgent  string
	apiHost    string
	http       *http.Client

	maxRetries    int
	retryInterval time.Duration
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(opts.Repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid repository %q: want owner/name", opts.Repo)
	}

	c := &Client{
		repo:          owner + "/" + name,
		token:         opts.Token,
		apiBase:       strings.TrimRight(opts.APIBase, "/"),
		uploadBase:    strings.TrimRight(opts.UploadBase, "/"),
		userAgent:     opts.UserAgent,
		http:          opts.HTTPClient,
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
	}
	if c.apiBase == "" {
		c.apiBase = DefaultAPIBase
	}
	if c.uploadBase == "" {
		c.uploadBase = DefaultUploadBase
	}
	if c.userAgent == "" {
		c.userAgent = UserAgent("dev")
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryInterval <= 0 {
		c.retryInterval = 500 * time.Millisecond
	}

	u, err := url.Parse(c.apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base %q: %w", c.apiBase, err)
	}
	c.apiHost = u.Host
	return c, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	var reason string
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		reason = "authentication failed: "
	case http.StatusNotFound:
		reason = "not found: "
	case http.StatusUnprocessableEntity:
		reason = "conflict: "
	}
	msg := fmt.Sprintf("%s%s %s: status %d", reason, e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// GetRelease fetches the release tagged tag with its asset list.
func (c *Client) GetRelease(ctx context.Context, tag string) (*model.Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/releases/tags/%s", c.apiBase, c.repo, url.PathEscape(tag))
	resp, err := c.do(ctx, true, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, errs.New(errs.KindTransport, errs.StageRelease, tag, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindTransport, errs.StageRelease, tag, statusError(resp))
	}

	var rel model.Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, errs.New(errs.KindTransport, errs.StageRelease, tag, fmt.Errorf("parsing JSON: %w", err))
	}
	return &rel, nil
}

// Download opens the content of asset. Redirects are followed; the token
// is only attached for GitHub hosts. The caller closes the stream.
func (c *Client) Download(ctx context.Context, asset model.Asset) (io.ReadCloser, error) {
	header := http.Header{"Accept": []string{"application/octet-stream"}}
	resp, err := c.do(ctx, true, http.MethodGet, asset.BrowserDownloadURL, header, nil)
	if err != nil {
		return nil, errs.New(errs.KindTransport, errs.StageFetch, asset.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, errs.New(errs.KindTransport, errs.StageFetch, asset.Name, statusError(resp))
	}
	return resp.Body, nil
}

// Upload attaches data to the release as name. Uploads are not retried.
func (c *Client) Upload(ctx context.Context, releaseID int64, name string, data []byte) error {
	endpoint := fmt.Sprintf("%s/repos/%s/releases/%d/assets?name=%s", c.uploadBase, c.repo, releaseID, url.QueryEscape(name))
	header := http.Header{"Content-Type": []string{"application/octet-stream"}}
	resp, err := c.do(ctx, false, http.MethodPost, endpoint, header, data)
	if err != nil {
		return errs.New(errs.KindTransport, errs.StagePublish, name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case http.StatusUnprocessableEntity:
		return errs.New(errs.KindPublishConflict, errs.StagePublish, name, statusError(resp))
	default:
		return errs.New(errs.KindTransport, errs.StagePublish, name, statusError(resp))
	}
}

// Delete removes a release asset. A 404 counts as deleted.
func (c *Client) Delete(ctx context.Context, assetID int64) error {
	endpoint := fmt.Sprintf("%s/repos/%s/releases/assets/%d", c.apiBase, c.repo, assetID)
	resp, err := c.do(ctx, true, http.MethodDelete, endpoint, nil, nil)
	if err != nil {
		return errs.New(errs.KindTransport, errs.StagePublish, "", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return errs.New(errs.KindTransport, errs.StagePublish, "", statusError(resp))
	}
}

// do sends a request, retrying network errors, 429 and 5xx with
// exponential backoff when retry is set. Any other response is returned
// for the caller to interpret.
func (c *Client) do(ctx context.Context, retry bool, method, target string, header http.Header, body []byte) (*http.Response, error) {
	attempt := func() (*http.Response, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		// #nosec G107 -- target built from configured API bases or API payload
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/vnd.github+json")
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if c.token != "" && c.sendsToken(req.URL) {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if retryable(resp.StatusCode) {
			se := statusError(resp)
			resp.Body.Close()
			return nil, se
		}
		return resp, nil
	}

	if !retry {
		resp, err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return resp, err
	}

	return backoff.RetryNotifyWithData(attempt, c.retryPolicy(ctx), func(err error, d time.Duration) {
		log.WithField("method", method).Warnf("request failed, retrying in %v: %v", d, err)
	})
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxInterval = 10 * c.retryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

func (c *Client) sendsToken(u *url.URL) bool {
	host := u.Host
	return host == c.apiHost || host == "github.com" || strings.HasSuffix(host, ".github.com")
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func statusError(resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	target := ""
	if resp.Request != nil && resp.Request.URL != nil {
		u := *resp.Request.URL
		u.RawQuery = ""
		target = u.String()
	}
	method := ""
	if resp.Request != nil {
		method = resp.Request.Method
	}
	return &StatusError{
		Method:     method,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}
}

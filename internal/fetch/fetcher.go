// Package fetch downloads document objects to transient local files so the
// OCR collaborator can read them. Temp files are scoped: they are removed
// on every exit path, including when the callback fails.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// Fetcher resolves a document URL into a local file for the duration of fn.
type Fetcher interface {
	WithLocalCopy(ctx context.Context, rawURL string, fn func(path string) error) error
}

type s3Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, opts ...func(*manager.Downloader)) (int64, error)
}

// Client fetches https:// URLs over HTTP and s3:// URLs through the S3
// download manager. Downloads are bounded by Timeout.
type Client struct {
	httpc   *http.Client
	s3      s3Downloader
	timeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithS3 enables s3:// URLs.
func WithS3(client *s3.Client) Option {
	return func(c *Client) {
		c.s3 = manager.NewDownloader(client)
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		httpc:   &http.Client{},
		timeout: 60 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithLocalCopy downloads rawURL to a temp file, hands the path to fn, and
// removes the file before returning.
func (c *Client) WithLocalCopy(ctx context.Context, rawURL string, fn func(path string) error) error {
	tmp, err := os.CreateTemp("", "chartq-doc-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	path := tmp.Name()
	defer os.Remove(path)

	// the timeout bounds the download only; fn runs on the caller's context
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	if strings.HasPrefix(rawURL, "s3://") {
		err = c.downloadS3(dctx, rawURL, tmp)
	} else {
		err = c.downloadHTTP(dctx, rawURL, tmp)
	}
	cancel()
	if cerr := tmp.Close(); err == nil {
		err = errors.Wrap(cerr, "close temp file")
	}
	if err != nil {
		return err
	}

	return fn(path)
}

func (c *Client) downloadHTTP(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "build download request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "download document")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download document: unexpected status %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return errors.Wrap(err, "write document body")
	}
	return nil
}

func (c *Client) downloadS3(ctx context.Context, rawURL string, w io.WriterAt) error {
	if c.s3 == nil {
		return errors.New("s3 urls are not configured for this worker")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "parse s3 url")
	}
	key := strings.TrimPrefix(u.Path, "/")
	_, err = c.s3.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(key),
	})
	return errors.Wrapf(err, "download s3://%s/%s", u.Host, key)
}

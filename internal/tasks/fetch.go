package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of the S3 client used to fetch private inputs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var (
	s3Host        = regexp.MustCompile(`^(?:.+\.)?s3(?:[.-][a-z0-9-]+)*\.amazonaws\.com$`)
	s3VirtualHost = regexp.MustCompile(`^(.+?)\.s3(?:[.-][a-z0-9-]+)*\.amazonaws\.com$`)
)

// S3Location extracts the bucket and key from a virtual-hosted or
// path-style S3 URL.
func S3Location(u *url.URL) (bucket, key string, ok bool) {
	host := strings.ToLower(u.Hostname())
	if !s3Host.MatchString(host) {
		return "", "", false
	}

	path := strings.TrimPrefix(u.Path, "/")
	if m := s3VirtualHost.FindStringSubmatch(host); m != nil {
		bucket, key = m[1], path
	} else {
		bucket, key, _ = strings.Cut(path, "/")
	}
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Fetcher opens upstream inputs. S3 URLs are read through the S3 API so that
// private objects can be fetched with the service's credentials; everything
// else is fetched over HTTP.
type Fetcher struct {
	client *http.Client
	s3     ObjectGetter
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. A nil s3 client fetches S3 URLs over HTTP.
func NewFetcher(client *http.Client, s3 ObjectGetter, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, s3: s3, logger: logger}
}

// Open returns the body of rawURL. The caller must close it.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	if f.s3 != nil {
		if bucket, key, ok := S3Location(u); ok {
			f.logger.Debug("fetching from s3", "bucket", bucket, "key", key)
			out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
			}
			return out.Body, nil
		}
	}

	resp, err := f.get(ctx, u.String(), "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// get issues a GET and fails on a non-2xx status.
func (f *Fetcher) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

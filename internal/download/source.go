package download

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Iron-Ham/cubic/internal/errors"
)

// Source opens a byte stream for a URL. total is the announced size or
// UnknownTotal.
type Source interface {
	Open(ctx context.Context, url string) (body io.ReadCloser, total int64, err error)
}

// UserAgent is sent with every HTTP request.
const UserAgent = "cubic-launcher"

// HTTPSource fetches URLs with a plain GET.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource creates an HTTPSource. A nil client uses a default one
// without an overall timeout, since large files can take arbitrarily long.
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{client: client}
}

// Open issues the request and returns the response body. Non-2xx responses
// are released and reported as a *errors.DownloadError carrying the status.
func (s *HTTPSource) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, UnknownTotal, errors.NewDownloadError("invalid request", err).
			WithURL(url).
			WithRetryable(false)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, UnknownTotal, errors.NewDownloadError("connection failed", err).WithURL(url)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, UnknownTotal, errors.NewDownloadError(
			fmt.Sprintf("server responded %s", resp.Status), errors.ErrBadStatus).
			WithURL(url).
			WithStatusCode(resp.StatusCode)
	}

	total := resp.ContentLength
	if total < 0 {
		total = UnknownTotal
	}
	return resp.Body, total, nil
}

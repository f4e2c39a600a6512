package refdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Fetcher performs one uncached reference-data request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Payload, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (*Payload, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Payload, error) {
	return f(ctx, req)
}

// FetchError reports a failed request: transport failure or non-success response.
type FetchError struct {
	Request Request
	Status  int // 0 for transport errors
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Request.Key(), e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Request.Key(), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a FetchError for a 404 or a missing fixture.
func IsNotFound(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Status == http.StatusNotFound
	}
	return false
}

// IsTimeout reports whether err came from the per-request deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// HTTPFetcher issues GET requests against a reference-data service.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

// NewHTTPFetcher creates a fetcher for baseURL. A nil client uses a client with the given timeout.
func NewHTTPFetcher(baseURL string, client *http.Client, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{BaseURL: baseURL, Client: client, Logger: slog.Default()}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Payload, error) {
	url := req.URL(f.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Request: req, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")

	f.Logger.Debug("fetching reference data", "url", url)

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return nil, &FetchError{Request: req, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Request: req, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Request: req, Err: fmt.Errorf("read body: %w", err)}
	}

	payload, err := DecodePayload(body)
	if err != nil {
		return nil, &FetchError{Request: req, Err: err}
	}
	return payload, nil
}

// FixtureSource looks up a stored response body by endpoint and canonical query.
// Implemented by store.Store.
type FixtureSource interface {
	ReadReference(ctx context.Context, endpoint, query string) (body []byte, found bool, err error)
}

// FixtureFetcher serves requests from stored fixtures instead of the network.
type FixtureFetcher struct {
	Source FixtureSource
}

// Fetch implements Fetcher. A missing fixture is reported as a 404 FetchError.
func (f *FixtureFetcher) Fetch(ctx context.Context, req Request) (*Payload, error) {
	body, found, err := f.Source.ReadReference(ctx, req.Endpoint, req.Query())
	if err != nil {
		return nil, &FetchError{Request: req, Err: err}
	}
	if !found {
		return nil, &FetchError{Request: req, Status: http.StatusNotFound}
	}
	payload, err := DecodePayload(body)
	if err != nil {
		return nil, &FetchError{Request: req, Err: err}
	}
	return payload, nil
}

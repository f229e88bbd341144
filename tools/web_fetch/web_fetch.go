package web_fetch

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/leadgen/models"
	"github.com/mohammad-safakhou/leadgen/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/leadgen/tools/web_fetch/static"
)

const (
	DefaultTimeout  = 10 * time.Second
	MaxCharsDefault = 20000
)

// WebFetcher downloads one page and extracts the content the pipeline
// turns into lead context. On failure the returned PageContent still
// carries URL, Status and FetchMS; batch callers treat err != nil as a
// failed page and keep going.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.PageContent, error)
}

type FetcherType string

const (
	StaticFetcherType   FetcherType = "static"
	ChromedpFetcherType FetcherType = "chromedp"
)

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case StaticFetcherType, "":
		return &static.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, &Error{"unsupported fetcher type"}
	}
}

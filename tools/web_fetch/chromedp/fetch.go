// Package chromedp fetches pages through a headless browser for sites
// that render their content client side.
package chromedp

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/leadgen/models"
)

type Fetch struct {
	Timeout  time.Duration
	MaxChars int // cap on extracted article text
}

func (f Fetch) Exec(ctx context.Context, pageURL string) (models.PageContent, error) {
	if strings.TrimSpace(pageURL) == "" {
		return models.PageContent{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := fetchHTML(ctx, pageURL)
	if err != nil {
		return models.PageContent{URL: pageURL, FetchMS: int(time.Since(t0) / time.Millisecond)}, err
	}

	out := models.PageContent{
		URL:    pageURL,
		Status: 200,
	}
	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(pageURL))
	if err == nil {
		out.Title = strings.TrimSpace(article.Title)
		out.MetaDescription = strings.TrimSpace(article.Excerpt)
		text := strings.TrimSpace(article.TextContent)
		if len(text) > f.MaxChars {
			text = text[:f.MaxChars]
		}
		out.Text = text
	}
	out.FetchMS = int(time.Since(t0) / time.Millisecond)
	return out, nil
}

func fetchHTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("LeadGenBot/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

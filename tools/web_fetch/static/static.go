// Package static fetches pages over plain HTTP and extracts their text
// with goquery. It is the default fetcher: lead sources are mostly
// marketing sites that render fine without a browser.
package static

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mohammad-safakhou/leadgen/models"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

var whitespace = regexp.MustCompile(`\s+`)

type Fetch struct {
	Timeout  time.Duration
	MaxChars int // cap on extracted body text

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

func (f Fetch) Exec(ctx context.Context, url string) (models.PageContent, error) {
	if strings.TrimSpace(url) == "" {
		return models.PageContent{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return models.PageContent{URL: url}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.PageContent{URL: url, FetchMS: int(time.Since(t0) / time.Millisecond)}, err
	}
	defer resp.Body.Close()

	out := models.PageContent{
		URL:     url,
		Status:  resp.StatusCode,
		FetchMS: int(time.Since(t0) / time.Millisecond),
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "text/html") && !strings.Contains(ct, "application/xhtml") {
		return out, fmt.Errorf("non-HTML content type: %s", ct)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return out, err
	}
	doc.Find("script, style, noscript, iframe").Remove()

	out.Title = strings.TrimSpace(doc.Find("title").First().Text())
	out.MetaDescription, _ = doc.Find(`meta[name="description"]`).First().Attr("content")
	out.MetaDescription = strings.TrimSpace(out.MetaDescription)

	text := doc.Find("body").Text()
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}
	out.Text = text
	out.FetchMS = int(time.Since(t0) / time.Millisecond)

	return out, nil
}

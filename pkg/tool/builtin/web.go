package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/stagehand-dev/stagehand/pkg/tool"
)

// DefaultFetchTimeout bounds a fetch_page request when the config does
// not say otherwise.
const DefaultFetchTimeout = 30 * time.Second

const maxPageTextRunes = 8000

// FetchPage fetches a web page and returns its visible text, optionally
// narrowed to a CSS selector. It honors call cancellation through the
// registry's context.
type FetchPage struct {
	client   *http.Client
	maxBytes int64
}

// NewFetchPage builds the fetch_page tool. Zero values select the
// defaults.
func NewFetchPage(timeout time.Duration, maxBytes int64) *FetchPage {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxReadBytes
	}
	return &FetchPage{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (t *FetchPage) Name() string { return "fetch_page" }

func (t *FetchPage) Description() string {
	return "Fetch a web page and return its visible text. Args: url (string, required), selector (CSS selector, optional)."
}

func (t *FetchPage) Execute(args map[string]any) tool.Result {
	return t.ExecuteWithContext(context.Background(), args)
}

func (t *FetchPage) ExecuteWithContext(ctx context.Context, args map[string]any) tool.Result {
	rawURL, ok := stringArg(args, "url")
	if !ok || strings.TrimSpace(rawURL) == "" {
		return tool.Errorf("fetch_page: url argument is required")
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return tool.Errorf("fetch_page: invalid url: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return tool.Errorf("fetch_page: url must be absolute http or https, got %q", rawURL)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return tool.Errorf("fetch_page: %v", err)
	}
	req.Header.Set("User-Agent", "stagehand/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return tool.Errorf("fetch_page: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tool.Errorf("fetch_page: %s returned %s", u.String(), resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return tool.Errorf("fetch_page: parse failed: %v", err)
	}

	selection := doc.Find("body")
	if selector, _ := stringArg(args, "selector"); strings.TrimSpace(selector) != "" {
		matched := doc.Find(selector)
		if matched.Length() == 0 {
			return tool.Errorf("fetch_page: selector %q matched nothing on %s", selector, u.String())
		}
		selection = matched
	}

	text := strings.Join(strings.Fields(selection.Text()), " ")
	if runes := []rune(text); len(runes) > maxPageTextRunes {
		text = string(runes[:maxPageTextRunes]) + " ..."
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return tool.Ok(text)
	}
	return tool.Ok(fmt.Sprintf("%s\n\n%s", title, text))
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// FetchTextName is the web page text tool.
const FetchTextName = "fetch_text"

const (
	defaultFetchMaxChars = 20000
	fetchBodyLimit       = 2 << 20
)

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]{2,}`)
)

// FetchConfig configures the fetch_text tool.
type FetchConfig struct {
	RequestsPerMinute int
	Burst             int
	MaxChars          int
	Client            *http.Client
}

// FetchText fetches a page and returns its readable text. Requests share a
// token bucket so a code block cannot hammer a site.
type FetchText struct {
	client   *http.Client
	limiter  *rate.Limiter
	maxChars int
}

// NewFetchText creates the fetch tool. A non-positive rate disables limiting.
func NewFetchText(cfg FetchConfig) *FetchText {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	return &FetchText{
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		maxChars: maxChars,
	}
}

func (f *FetchText) Name() string        { return FetchTextName }
func (f *FetchText) Params() []string    { return []string{"url"} }
func (f *FetchText) Description() string { return "Fetch a web page and return its readable text" }

func (f *FetchText) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	raw := stringArg(args, "url")
	if raw == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url: %s", raw)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limited: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "taskloop/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var text string
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/plain") || strings.Contains(ct, "text/markdown") {
		text = string(body)
	} else {
		text, err = htmlText(string(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML: %w", err)
		}
	}

	if len(text) > f.maxChars {
		text = text[:f.maxChars] + "\n\n[...truncated...]"
	}
	return text, nil
}

func htmlText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	walkText(root, &sb, 0)

	text := multiSpace.ReplaceAllString(sb.String(), " ")
	text = multiNewline.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

func walkText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 64 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "pre":
			sb.WriteString("\n\n")
		case "br", "li":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb, depth+1)
	}
}

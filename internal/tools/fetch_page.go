package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultFetchMaxChars = 16000
	fetchMaxRedirects    = 3
	fetchCacheEntries    = 128
	fetchCacheTTL        = 10 * time.Minute
	fetchUserAgent       = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// FetchPageTool downloads a URL, reduces HTML to readable text, and returns
// a bounded excerpt annotated with the detected content language. Responses
// are cached with a TTL so repeated fetches of the same page within one run
// (or across concurrent runs) do not hit the network again.
type FetchPageTool struct {
	maxChars   int
	httpClient *http.Client
	cache      *expirable.LRU[string, string]
}

// FetchPageArgs represents the arguments for fetch_page
type FetchPageArgs struct {
	URL      string `json:"url"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// NewFetchPageTool creates a page fetch tool. maxChars <= 0 selects the
// default excerpt bound.
func NewFetchPageTool(maxChars int) *FetchPageTool {
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}
	t := &FetchPageTool{
		maxChars: maxChars,
		cache:    expirable.NewLRU[string, string](fetchCacheEntries, nil, fetchCacheTTL),
	}
	t.httpClient = &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > fetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
			}
			return nil
		},
	}
	return t
}

func (t *FetchPageTool) Name() string {
	return "fetch_page"
}

func (t *FetchPageTool) Description() string {
	return `Fetch a web page by URL and return its readable text content.
Use this tool after web_search when a result snippet is not enough and you
need the full page text. HTML markup, scripts, and navigation are stripped.
Long pages are truncated; the output notes the detected language and whether
truncation happened.`
}

func (t *FetchPageTool) Parameters() json.RawMessage {
	schema := `{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "The http or https URL to fetch, usually taken from a web_search result."
			},
			"max_chars": {
				"type": "integer",
				"description": "Maximum characters of page text to return (default 16000)."
			}
		},
		"required": ["url"]
	}`
	return json.RawMessage(schema)
}

func (t *FetchPageTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var fetchArgs FetchPageArgs
	if err := json.Unmarshal(args, &fetchArgs); err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Failed to parse fetch arguments: %v", err),
			IsError: true,
		}, nil
	}

	maxChars := fetchArgs.MaxChars
	if maxChars <= 0 || maxChars > t.maxChars {
		maxChars = t.maxChars
	}

	if err := validateFetchURL(fetchArgs.URL); err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Invalid URL: %v", err),
			IsError: true,
		}, nil
	}

	cacheKey := fmt.Sprintf("%s|%d", fetchArgs.URL, maxChars)
	if cached, ok := t.cache.Get(cacheKey); ok {
		return ToolResult{Content: cached}, nil
	}

	content, err := t.fetch(ctx, fetchArgs.URL, maxChars)
	if err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Fetch failed: %v", err),
			IsError: true,
		}, nil
	}

	t.cache.Add(cacheKey, content)
	return ToolResult{Content: content}, nil
}

func validateFetchURL(rawURL string) error {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return errors.New("url is empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("missing hostname")
	}
	return nil
}

func (t *FetchPageTool) fetch(ctx context.Context, rawURL string, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(rawURL), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d fetching %s", resp.StatusCode, rawURL)
	}

	// Read extra to survive markup overhead before stripping.
	limit := int64(maxChars) * 8
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)
	if strings.Contains(contentType, "html") || looksLikeHTML(text) {
		text = stripHTML(text)
	}

	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("page produced no readable text")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("URL: %s\n", resp.Request.URL.String()))
	info := whatlanggo.Detect(text)
	if info.IsReliable() {
		b.WriteString(fmt.Sprintf("Detected language: %s\n", info.Lang.String()))
	}
	if truncated {
		b.WriteString(fmt.Sprintf("Note: content truncated to %d characters\n", maxChars))
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String(), nil
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

var (
	reScript     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reNav        = regexp.MustCompile(`(?is)<nav[^>]*>.*?</nav>`)
	reHeader     = regexp.MustCompile(`(?is)<header[^>]*>.*?</header>`)
	reFooter     = regexp.MustCompile(`(?is)<footer[^>]*>.*?</footer>`)
	reTags       = regexp.MustCompile(`<[^>]+>`)
	reWhitespace = regexp.MustCompile(`[ \t]+`)
	reBlankLines = regexp.MustCompile(`\n{3,}`)
)

// stripHTML removes scripts, styles, nav/header/footer, then all tags.
func stripHTML(html string) string {
	s := reScript.ReplaceAllString(html, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reNav.ReplaceAllString(s, "")
	s = reHeader.ReplaceAllString(s, "")
	s = reFooter.ReplaceAllString(s, "")
	s = reTags.ReplaceAllString(s, " ")

	// Decode common entities
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&nbsp;", " ")

	// Collapse whitespace
	s = reWhitespace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	s = strings.Join(out, "\n")
	s = reBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

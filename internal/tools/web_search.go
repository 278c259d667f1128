package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebSearchTool implements web search using Tavily API
type WebSearchTool struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// WebSearchArgs represents the arguments for web search
type WebSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	Recency    string `json:"recency,omitempty"` // day, week, month, any
}

// TavilyRequest represents a request to Tavily API
type TavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	IncludeAnswer bool   `json:"include_answer,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	Days          int    `json:"days,omitempty"`
}

// TavilyResponse represents a response from Tavily API
type TavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []TavilyResult `json:"results"`
}

// TavilyResult represents a single search result
type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// NewWebSearchTool creates a new web search tool
func NewWebSearchTool(apiKey, apiURL string) *WebSearchTool {
	if apiURL == "" {
		apiURL = "https://api.tavily.com/search"
	}
	return &WebSearchTool{
		apiKey: apiKey,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return `Search the web for information relevant to the research question.
Use this tool to find:
- Facts, figures, and statistics from authoritative sources
- Recent news and announcements on a topic
- Candidate pages worth reading in full (follow up with fetch_page on a result URL)

Each result includes a title, URL, and content snippet. Snippets are short;
fetch the page when you need the full text.`
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	schema := `{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query. Be specific: include entity names, places, and units you expect in the answer."
			},
			"max_results": {
				"type": "integer",
				"description": "Number of results to return, 1-10 (default 5)."
			},
			"recency": {
				"type": "string",
				"enum": ["day", "week", "month", "any"],
				"description": "Restrict results to a recent window. Use 'day' or 'week' for current events, 'any' otherwise."
			}
		},
		"required": ["query"]
	}`
	return json.RawMessage(schema)
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var searchArgs WebSearchArgs
	if err := json.Unmarshal(args, &searchArgs); err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Failed to parse search arguments: %v", err),
			IsError: true,
		}, nil
	}

	results, err := t.search(ctx, searchArgs)
	if err != nil {
		return ToolResult{
			Content: fmt.Sprintf("Search failed: %v", err),
			IsError: true,
		}, nil
	}

	content := t.formatResults(results)
	return ToolResult{
		Content: content,
		IsError: false,
	}, nil
}

func (t *WebSearchTool) search(ctx context.Context, args WebSearchArgs) (*TavilyResponse, error) {
	maxResults := args.MaxResults
	if maxResults < 1 || maxResults > 10 {
		maxResults = 5
	}

	request := TavilyRequest{
		APIKey:        t.apiKey,
		Query:         args.Query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
		MaxResults:    maxResults,
		Days:          recencyDays(args.Recency),
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tavilyResp TavilyResponse
	if err := json.Unmarshal(body, &tavilyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &tavilyResp, nil
}

func recencyDays(recency string) int {
	switch recency {
	case "day":
		return 1
	case "week":
		return 7
	case "month":
		return 30
	default:
		return 0
	}
}

func (t *WebSearchTool) formatResults(resp *TavilyResponse) string {
	var result bytes.Buffer

	result.WriteString(fmt.Sprintf("Search Query: %s\n\n", resp.Query))

	if resp.Answer != "" {
		result.WriteString(fmt.Sprintf("Summary: %s\n\n", resp.Answer))
	}

	if len(resp.Results) == 0 {
		result.WriteString("No results found.\n")
		return result.String()
	}

	result.WriteString("Search Results:\n")
	for i, r := range resp.Results {
		result.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, r.Title))
		result.WriteString(fmt.Sprintf("   URL: %s\n", r.URL))
		// Truncate content if too long
		content := r.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		result.WriteString(fmt.Sprintf("   Content: %s\n", content))
	}

	return result.String()
}

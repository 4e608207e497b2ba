// Package search provides the web-search adapter with a response-time
// cache. Network failures never propagate: the caller always receives a
// (possibly empty) result list.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// Result is one web-search hit.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Summary  string `json:"summary"`
	SiteName string `json:"site_name"`
	Date     string `json:"date"`
}

// Client is the query-level search interface the searcher consumes.
type Client interface {
	// Search returns up to count results. Errors and timeouts yield an
	// empty list, never an error.
	Search(ctx context.Context, query string, count int) []Result
}

// HTTPClient talks to a Bocha-style web-search endpoint.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cache      *resultCache
}

// NewHTTPClient creates a search client for the given endpoint.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      newResultCache(cacheTTL),
	}
}

type searchRequest struct {
	Query     string `json:"query"`
	Count     int    `json:"count"`
	Summary   bool   `json:"summary"`
	Freshness string `json:"freshness"`
}

type searchResponse struct {
	Data struct {
		WebPages struct {
			Value []struct {
				URL           string `json:"url"`
				Name          string `json:"name"`
				Snippet       string `json:"snippet"`
				Summary       string `json:"summary"`
				SiteName      string `json:"siteName"`
				DatePublished string `json:"datePublished"`
			} `json:"value"`
		} `json:"webPages"`
	} `json:"data"`
}

// Search implements Client.
func (c *HTTPClient) Search(ctx context.Context, query string, count int) []Result {
	if count <= 0 {
		count = 10
	}
	if cached, ok := c.cache.get(query); ok {
		return cached
	}

	body, err := json.Marshal(searchRequest{
		Query:     query,
		Count:     count,
		Summary:   true,
		Freshness: "noLimit",
	})
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		slog.Warn("Search request construction failed", "query", query, "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("Search request failed", "query", query, "error", err)
		return nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		slog.Warn("Search returned non-OK response",
			"query", query, "status", resp.StatusCode, "error", err)
		return nil
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		slog.Warn("Search response parse failed", "query", query, "error", err)
		return nil
	}

	results := make([]Result, 0, len(parsed.Data.WebPages.Value))
	for _, page := range parsed.Data.WebPages.Value {
		results = append(results, Result{
			URL:      page.URL,
			Title:    page.Name,
			Snippet:  page.Snippet,
			Summary:  page.Summary,
			SiteName: page.SiteName,
			Date:     page.DatePublished,
		})
	}
	c.cache.put(query, results)
	return results
}

var _ Client = (*HTTPClient)(nil)

// String summarizes a result for prompt assembly.
func (r Result) String() string {
	text := r.Summary
	if text == "" {
		text = r.Snippet
	}
	return fmt.Sprintf("[%s] %s: %s (%s)", r.SiteName, r.Title, text, r.URL)
}

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// --- DuckDuckGo HTML search provider ---
//
// DuckDuckGo's lightweight HTML endpoint (no API key required), used when
// DuckDuckGo is enabled; with Brave also configured it is tried only after
// a failed Brave search.

type duckDuckGoSearchProvider struct {
	client *http.Client
}

func newDuckDuckGoSearchProvider() *duckDuckGoSearchProvider {
	return &duckDuckGoSearchProvider{
		client: &http.Client{Timeout: time.Duration(searchTimeoutSeconds) * time.Second},
	}
}

func (p *duckDuckGoSearchProvider) Name() string { return "duckduckgo" }

func (p *duckDuckGoSearchProvider) Search(ctx context.Context, params searchParams) ([]searchResult, error) {
	q := url.Values{}
	q.Set("q", params.Query)
	// kl (locale) is DDG's closest analog to Brave's country/search_lang pair —
	// it wants "<country>-<lang>" lowercased, e.g. "uk-en".
	if kl := ddgLocale(params.Country, params.SearchLang); kl != "" {
		q.Set("kl", kl)
	}

	searchURL := "https://html.duckduckgo.com/html/?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return parseDDGResultsPage(string(body), params.Count), nil
}

// ddgLocale maps a country/language pair onto DuckDuckGo's kl= shorthand.
// Either half may be empty; an empty result means "no locale preference".
func ddgLocale(country, lang string) string {
	country = strings.ToLower(strings.TrimSpace(country))
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch {
	case country != "" && lang != "":
		return country + "-" + lang
	case country != "":
		return country + "-en"
	default:
		return ""
	}
}

var (
	ddgResultLinkRe = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe    = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	ddgTagStripRe   = regexp.MustCompile(`<[^>]+>`)
)

// parseDDGResultsPage scrapes result links and snippets out of a rendered
// DuckDuckGo HTML results page, up to count entries. DDG's HTML endpoint has
// no JSON mode, so this is the only way to get structured results from it.
func parseDDGResultsPage(html string, count int) []searchResult {
	// over-fetch matches since a handful of non-organic rows (ads, "did you
	// mean") share the same markup and get silently dropped below.
	linkMatches := ddgResultLinkRe.FindAllStringSubmatch(html, count+5)
	if len(linkMatches) == 0 {
		return nil
	}
	snippetMatches := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	results := make([]searchResult, 0, count)
	for i := 0; i < len(linkMatches) && len(results) < count; i++ {
		title := strings.TrimSpace(ddgTagStripRe.ReplaceAllString(linkMatches[i][2], ""))
		target := resolveDDGRedirect(linkMatches[i][1])
		if target == "" {
			continue
		}

		desc := ""
		if i < len(snippetMatches) {
			desc = strings.TrimSpace(ddgTagStripRe.ReplaceAllString(snippetMatches[i][1], ""))
		}

		results = append(results, searchResult{Title: title, URL: target, Description: desc})
	}

	return results
}

// resolveDDGRedirect unwraps DuckDuckGo's "/l/?uddg=<encoded-target>" bounce
// link into the real destination URL. Returns the input unchanged if it
// isn't a redirect link.
func resolveDDGRedirect(rawURL string) string {
	if !strings.Contains(rawURL, "uddg=") {
		return rawURL
	}
	decoded, err := url.QueryUnescape(rawURL)
	if err != nil {
		return rawURL
	}
	idx := strings.Index(decoded, "uddg=")
	if idx == -1 {
		return rawURL
	}
	target := decoded[idx+len("uddg="):]
	if ampIdx := strings.Index(target, "&"); ampIdx != -1 {
		target = target[:ampIdx]
	}
	return target
}

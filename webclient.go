package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/proxy"
)

// WebClient is the HTTP-level capability returning parsed badge pages and
// per-game card pages as navigable trees. The concrete wire protocol (which
// endpoints, which cookies) is an implementation detail; CardsFarmer only
// ever walks the returned *html.Node trees.
type WebClient interface {
	SetSession(steamID uint64, sessionID, accessToken string)
	FetchBadgePage(page int) (*html.Node, error)
	FetchGameCardPage(appID uint32) (*html.Node, error)
}

const badgePageRequestTimeout = 15 * time.Second

// httpWebClient is the production WebClient, talking to the community
// badge pages over plain HTTP(S), optionally through a per-bot proxy.
type httpWebClient struct {
	apiKey      string
	steamID     uint64
	sessionID   string
	accessToken string
	httpClient  *http.Client
}

// NewWebClient builds a WebClient for one bot. dialer is nil for direct egress.
func NewWebClient(apiKey string, dialer proxy.Dialer) WebClient {
	transport := &http.Transport{}
	if dialer != nil {
		transport.Dial = dialer.Dial
	}
	return &httpWebClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Transport: transport, Timeout: badgePageRequestTimeout},
	}
}

func (c *httpWebClient) SetSession(steamID uint64, sessionID, accessToken string) {
	c.steamID = steamID
	c.sessionID = sessionID
	c.accessToken = accessToken
}

func (c *httpWebClient) FetchBadgePage(page int) (*html.Node, error) {
	u := fmt.Sprintf("https://steamcommunity.com/profiles/%d/badges/?p=%d", c.steamID, page)
	return c.fetchParsed(u)
}

func (c *httpWebClient) FetchGameCardPage(appID uint32) (*html.Node, error) {
	u := fmt.Sprintf("https://steamcommunity.com/profiles/%d/gamecards/%d/", c.steamID, appID)
	return c.fetchParsed(u)
}

func (c *httpWebClient) fetchParsed(rawURL string) (*html.Node, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	if c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: c.sessionID})
	}
	if c.accessToken != "" {
		req.AddCookie(&http.Cookie{Name: "steamLoginSecure", Value: c.accessToken})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	return doc, nil
}

// --- node-tree helpers -----------------------------------------------------
//
// CardsFarmer's CheckPage/ShouldFarm logic walks the trees FetchBadgePage and
// FetchGameCardPage return using these small helpers rather than a full CSS
// selector engine, matching the teacher's preference for direct, regex/index
// based extraction (utils.go's parseInspectLink) over pulling in a bigger
// HTML-query library.

// hasClass reports whether node n carries CSS class want among its classes.
func hasClass(n *html.Node, want string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == want {
				return true
			}
		}
	}
	return false
}

// findAllByClass returns every element node under root carrying class want,
// in document order.
func findAllByClass(root *html.Node, want string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, want) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// findAttrByName returns the first non-empty value of attribute attrName,
// searching n and its descendants.
func findAttrByName(n *html.Node, attrName string) (string, bool) {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == attrName && a.Val != "" {
				return a.Val, true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v, ok := findAttrByName(c, attrName); ok {
			return v, true
		}
	}
	return "", false
}

// nodeText concatenates all text content under n.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// firstInt extracts the first run of ASCII digits in s, or (0, false).
func firstInt(s string) (uint64, bool) {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start == -1 {
				start = i
			}
			continue
		}
		if start != -1 {
			n, err := strconv.ParseUint(s[start:i], 10, 64)
			return n, err == nil
		}
	}
	if start != -1 {
		n, err := strconv.ParseUint(s[start:], 10, 64)
		return n, err == nil
	}
	return 0, false
}

// firstFloat extracts the first run of digits/',' / '.' in s (hours-played
// formatting uses a comma or dot decimal separator depending on locale).
func firstFloat(s string) (float32, bool) {
	start, end := -1, -1
	for i, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			if start == -1 {
				start = i
			}
			end = i + 1
			continue
		}
		if start != -1 {
			break
		}
	}
	if start == -1 {
		return 0, false
	}
	raw := strings.ReplaceAll(s[start:end], ",", ".")
	f, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, false
	}
	return float32(f), true
}

// lastPageFromPagination returns the highest "p=" page number referenced by
// the pagination controls on a badge page, defaulting to 1 when absent.
func lastPageFromPagination(doc *html.Node) int {
	last := 1
	for _, a := range findAllByClass(doc, "pagelink") {
		href, ok := findAttrByName(a, "href")
		if !ok {
			continue
		}
		parsed, err := url.Parse(href)
		if err != nil {
			continue
		}
		p := parsed.Query().Get("p")
		if n, err := strconv.Atoi(p); err == nil && n > last {
			last = n
		}
	}
	return last
}

// Package webnav implements the web navigation substrate: the content
// extractor, the traversal engine, robots.txt handling, per-domain rate
// limiting, and the bounded content cache.
package webnav

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ashita-ai/saitei/internal/model"
)

// ExtractionConfig controls one extraction.
type ExtractionConfig struct {
	UserAgent        string
	Timeout          time.Duration
	MaxRedirects     int
	MaxContentBytes  int64
	IncludeLinks     bool
	IncludeImages    bool
	IncludeMetadata  bool
	StripNavigation  bool
	SanitizeHTML     bool
	DetectMalicious  bool
	RespectRobotsTxt bool
	Selector         string // optional CSS selector narrowing the content root
}

// DefaultExtractionConfig returns the extraction defaults used by the
// navigator when the caller supplies none.
func DefaultExtractionConfig(userAgent string, timeout time.Duration, maxRedirects int, maxContentBytes int64) ExtractionConfig {
	return ExtractionConfig{
		UserAgent:        userAgent,
		Timeout:          timeout,
		MaxRedirects:     maxRedirects,
		MaxContentBytes:  maxContentBytes,
		IncludeLinks:     true,
		IncludeImages:    true,
		IncludeMetadata:  true,
		StripNavigation:  true,
		SanitizeHTML:     true,
		DetectMalicious:  true,
		RespectRobotsTxt: true,
	}
}

// Extractor fetches a page and turns it into structured WebContent.
type Extractor struct {
	logger *slog.Logger
	client *http.Client
	robots *RobotsCache

	// penalize, when set, is told about server-side throttling (429) so the
	// domain limiter can honor the Retry-After window.
	penalize func(host string, wait time.Duration)
}

// NewExtractor builds the extractor. The client's redirect policy is set per
// request from the config's MaxRedirects.
func NewExtractor(logger *slog.Logger, client *http.Client, robots *RobotsCache) *Extractor {
	return &Extractor{logger: logger, client: client, robots: robots}
}

// Extract fetches rawURL and extracts its content per cfg.
func (e *Extractor) Extract(ctx context.Context, rawURL string, cfg ExtractionConfig) (model.WebContent, error) {
	start := time.Now()

	u, err := validateURL(rawURL)
	if err != nil {
		return model.WebContent{}, err
	}

	if cfg.RespectRobotsTxt && e.robots != nil && !e.robots.Allowed(ctx, rawURL) {
		return model.WebContent{}, model.NewError(model.ErrRobotsDisallow, "robots.txt disallows %s", rawURL)
	}

	body, resp, err := e.fetch(ctx, u, cfg)
	if err != nil {
		return model.WebContent{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return model.WebContent{}, model.WrapError(model.ErrHTTPError, err, "parse html")
	}

	if cfg.DetectMalicious && looksMalicious(doc) {
		return model.WebContent{}, model.NewError(model.ErrMaliciousContent, "page contains malicious markup")
	}

	if cfg.SanitizeHTML {
		sanitize(doc)
	}
	if cfg.StripNavigation {
		doc.Find("nav, header, footer, aside").Remove()
	}

	root := doc.Selection
	if cfg.Selector != "" {
		if sel := doc.Find(cfg.Selector); sel.Length() > 0 {
			root = sel
		}
	}

	text := normalizeText(root.Text())
	content := model.WebContent{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Text:        text,
		ContentHash: contentHash(text),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		SizeBytes:   int64(len(body)),
		FetchTimeMs: max(time.Since(start).Milliseconds(), 1),
		FetchedAt:   time.Now().UTC(),
	}

	if cfg.IncludeMetadata {
		content.Metadata = extractMetadata(doc)
	}
	if cfg.IncludeLinks {
		content.Links = extractLinks(doc, resp.Request.URL)
	}
	if cfg.IncludeImages {
		content.Images = extractImages(doc, resp.Request.URL)
	}
	content.Quality = scoreQuality(content)

	return content, nil
}

// fetch performs the bounded HTTP GET: timeout, redirect cap, and the content
// size limit enforced both on Content-Length and on the read body.
func (e *Extractor) fetch(ctx context.Context, u *url.URL, cfg ExtractionConfig) ([]byte, *http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client := *e.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("webnav: stopped after %d redirects", cfg.MaxRedirects)
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, model.WrapError(model.ErrInvalidInput, err, "build request")
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, classifyFetchError(err, u.Host)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		if e.penalize != nil {
			e.penalize(u.Host, wait)
		}
		return nil, nil, model.NewError(model.ErrRateLimitExceeded, "fetch %s returned 429", u.Host)
	}
	if resp.StatusCode >= 400 {
		return nil, nil, model.HTTPError(resp.StatusCode, "fetch %s returned %d", u.Host, resp.StatusCode)
	}
	if resp.ContentLength > cfg.MaxContentBytes {
		return nil, nil, model.NewError(model.ErrContentTooLarge, "declared content length %d exceeds limit", resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxContentBytes+1))
	if err != nil {
		return nil, nil, classifyFetchError(err, u.Host)
	}
	if int64(len(body)) > cfg.MaxContentBytes {
		return nil, nil, model.NewError(model.ErrContentTooLarge, "body exceeds %d bytes", cfg.MaxContentBytes)
	}
	return body, resp, nil
}

// parseRetryAfter reads a Retry-After header value, either delta-seconds or
// an HTTP-date. Zero means the header was absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

// validateURL accepts only http/https URLs with a host.
func validateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidInput, err, "parse url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, model.NewError(model.ErrInvalidInput, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, model.NewError(model.ErrInvalidInput, "url has no host")
	}
	return u, nil
}

func classifyFetchError(err error, host string) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.WrapError(model.ErrDomainNotFound, err, "resolve %s", host)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.WrapError(model.ErrTimeout, err, "fetch %s", host)
	}
	return model.WrapError(model.ErrHTTPError, err, "fetch %s", host)
}

// looksMalicious flags markup that smells like an attack page rather than
// content: meta refresh to javascript:, or an overwhelming script share.
func looksMalicious(doc *goquery.Document) bool {
	malicious := false
	doc.Find("meta[http-equiv]").Each(func(_ int, s *goquery.Selection) {
		if strings.EqualFold(s.AttrOr("http-equiv", ""), "refresh") &&
			strings.Contains(strings.ToLower(s.AttrOr("content", "")), "javascript:") {
			malicious = true
		}
	})
	if malicious {
		return true
	}

	doc.Find("a[href], iframe[src]").Each(func(_ int, s *goquery.Selection) {
		target := s.AttrOr("href", s.AttrOr("src", ""))
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(target)), "javascript:") {
			malicious = true
		}
	})
	return malicious
}

// sanitize removes script/style elements and on* event handler attributes.
func sanitize(doc *goquery.Document) {
	doc.Find("script, style, noscript, iframe, object, embed").Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		var handlers []string
		for _, attr := range s.Nodes[0].Attr {
			if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				handlers = append(handlers, attr.Key)
			}
		}
		for _, key := range handlers {
			s.RemoveAttr(key)
		}
	})
}

func extractMetadata(doc *goquery.Document) model.PageMetadata {
	md := model.PageMetadata{OpenGraph: make(map[string]string)}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(s.AttrOr("name", ""))
		content := s.AttrOr("content", "")
		switch name {
		case "description":
			md.Description = content
		case "keywords":
			for _, k := range strings.Split(content, ",") {
				if k = strings.TrimSpace(k); k != "" {
					md.Keywords = append(md.Keywords, k)
				}
			}
		case "author":
			md.Author = content
		}
		if prop := s.AttrOr("property", ""); strings.HasPrefix(prop, "og:") {
			md.OpenGraph[strings.TrimPrefix(prop, "og:")] = content
		}
	})

	if lang, ok := doc.Find("html").Attr("lang"); ok {
		md.Language = lang
	}
	if len(md.OpenGraph) == 0 {
		md.OpenGraph = nil
	}
	return md
}

func extractLinks(doc *goquery.Document, base *url.URL) []model.Link {
	seen := make(map[string]bool)
	var links []model.Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") ||
			strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		key := abs.String()
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, model.Link{
			URL:      key,
			Text:     strings.TrimSpace(s.Text()),
			Internal: strings.EqualFold(abs.Host, base.Host),
		})
	})
	return links
}

func extractImages(doc *goquery.Document, base *url.URL) []model.Image {
	var images []model.Image
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		ref, err := url.Parse(src)
		if err != nil {
			return
		}
		images = append(images, model.Image{
			URL: base.ResolveReference(ref).String(),
			Alt: s.AttrOr("alt", ""),
		})
	})
	return images
}

// normalizeText collapses whitespace runs so the content hash is stable
// across formatting-only changes.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// scoreQuality derives the content quality heuristics from the extraction.
func scoreQuality(c model.WebContent) model.ContentQuality {
	words := len(strings.Fields(c.Text))

	q := model.ContentQuality{
		WordCount:   words,
		HasTitle:    c.Title != "",
		HasMetadata: c.Metadata.Description != "" || c.Metadata.Author != "",
	}
	if c.SizeBytes > 0 {
		q.TextRatio = float64(len(c.Text)) / float64(c.SizeBytes)
	}
	if kb := float64(len(c.Text)) / 1024; kb > 0 {
		q.LinkDensity = float64(len(c.Links)) / kb
	}

	score := 0.0
	switch {
	case words >= 300:
		score += 0.4
	case words >= 100:
		score += 0.25
	case words > 0:
		score += 0.1
	}
	if q.HasTitle {
		score += 0.2
	}
	if q.HasMetadata {
		score += 0.15
	}
	if q.TextRatio > 0.1 {
		score += 0.15
	}
	if q.LinkDensity < 5 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	q.OverallScore = score
	return q
}

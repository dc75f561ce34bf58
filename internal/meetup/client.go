package meetup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomnomnom/linkheader"
	"go.uber.org/zap"

	"github.com/galois26/meetup-city-events/internal/metrics"
	"github.com/galois26/meetup-city-events/internal/util"
)

const (
	DefaultBaseURL  = "https://api.meetup.com/"
	DefaultPageSize = 200
)

// Pagination selects how a multi-page walk requests the page after the first.
type Pagination string

const (
	// PaginateLink requests the URL the server put in the Link header.
	PaginateLink Pagination = "link"
	// PaginateOffset re-issues the first request with offset incremented by one.
	PaginateOffset Pagination = "offset"
)

type Options struct {
	BaseURL    string
	APIKey     string
	UserAgent  string
	Timeout    time.Duration
	PageSize   int
	Pagination Pagination
	Limiter    *RateLimiter
	HTTPClient *http.Client     // optional, built from Timeout when nil
	Metrics    *metrics.Metrics // optional
}

// Client is a rate-limited Meetup REST client. The quota is process-local.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	pageSize   int
	pagination Pagination
	limiter    *RateLimiter
	http       *http.Client
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewClient(o Options) *Client {
	base := strings.TrimSpace(o.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Pagination == "" {
		o.Pagination = PaginateLink
	}
	if o.Limiter == nil {
		o.Limiter = NewRateLimiter(5000, time.Hour)
	}
	if o.HTTPClient == nil {
		to := o.Timeout
		if to == 0 {
			to = 30 * time.Second
		}
		o.HTTPClient = util.NewHTTPClient(to)
	}
	return &Client{
		baseURL:    base,
		apiKey:     strings.TrimSpace(o.APIKey),
		userAgent:  o.UserAgent,
		pageSize:   o.PageSize,
		pagination: o.Pagination,
		limiter:    o.Limiter,
		http:       o.HTTPClient,
		metrics:    o.Metrics,
		log:        util.L().Named("meetup"),
	}
}

// Page is one raw API response.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Links      map[string]string // rel -> URL
}

func (p *Page) OK() bool { return p.StatusCode/100 == 2 }

func (p *Page) Link(rel string) (string, bool) {
	u, ok := p.Links[rel]
	return u, ok && u != ""
}

// Decode unmarshals the body into v.
func (p *Page) Decode(v any) error {
	if err := json.Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("meetup: decode response (status %d): %w", p.StatusCode, err)
	}
	return nil
}

// Results decodes the body as a JSON array.
func (p *Page) Results() ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := p.Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}

// APIError is a non-2xx page met during a multi-page walk.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meetup %s: http %d: %s", e.Path, e.StatusCode, e.Body)
}

func newAPIError(path string, p *Page) *APIError {
	body := strings.TrimSpace(string(p.Body))
	if len(body) > 512 {
		body = body[:512]
	}
	return &APIError{Path: path, StatusCode: p.StatusCode, Body: body}
}

// Get issues one GET for path. params are copied, never modified; key, format
// and page are added when absent. Any HTTP status is returned as a Page.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Page, error) {
	q := c.withDefaults(params)
	return c.do(ctx, path, c.baseURL+strings.TrimLeft(path, "/")+"?"+q.Encode())
}

// GetAllForward concatenates every page reachable through rel="next".
func (c *Client) GetAllForward(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	return c.getAll(ctx, path, params, "next")
}

// GetAllBackward concatenates every page reachable through rel="prev".
// Event listings paginate this way, newest first.
func (c *Client) GetAllBackward(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	return c.getAll(ctx, path, params, "prev")
}

func (c *Client) getAll(ctx context.Context, path string, params url.Values, rel string) ([]json.RawMessage, error) {
	q := cloneValues(params)
	if !q.Has("offset") {
		q.Set("offset", "0")
	}
	page, err := c.Get(ctx, path, q)
	if err != nil {
		return nil, err
	}

	var results []json.RawMessage
	for {
		if !page.OK() {
			return nil, newAPIError(path, page)
		}
		items, err := page.Results()
		if err != nil {
			return nil, fmt.Errorf("meetup %s: %w", path, err)
		}
		results = append(results, items...)
		if c.metrics != nil {
			c.metrics.Pages.WithLabelValues(rel).Inc()
		}

		next, ok := page.Link(rel)
		if !ok {
			return results, nil
		}

		switch c.pagination {
		case PaginateOffset:
			off, _ := strconv.Atoi(q.Get("offset"))
			q.Set("offset", strconv.Itoa(off+1))
			c.log.Debug("next page", zap.String("path", path), zap.Int("offset", off+1))
			page, err = c.Get(ctx, path, q)
		default:
			c.log.Debug("follow link", zap.String("path", path), zap.String("rel", rel))
			page, err = c.follow(ctx, path, next)
		}
		if err != nil {
			return nil, err
		}
	}
}

// follow requests a server-provided link, re-adding default params it lacks.
func (c *Client) follow(ctx context.Context, path, link string) (*Page, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("meetup: base url: %w", err)
	}
	u, err := base.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("meetup: bad link %q: %w", link, err)
	}
	u.RawQuery = c.withDefaults(u.Query()).Encode()
	return c.do(ctx, path, u.String())
}

func (c *Client) withDefaults(params url.Values) url.Values {
	q := cloneValues(params)
	if !q.Has("sig") && !q.Has("key") {
		q.Set("key", c.apiKey)
	}
	if !q.Has("format") {
		q.Set("format", "json")
	}
	if !q.Has("page") {
		q.Set("page", strconv.Itoa(c.pageSize))
	}
	return q
}

func (c *Client) do(ctx context.Context, path, rawURL string) (*Page, error) {
	waited, err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if waited > 0 {
		c.log.Info("rate limit reached, resumed", zap.Duration("waited", waited))
		if c.metrics != nil {
			c.metrics.RateLimitWait.Add(waited.Seconds())
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.count(path, "error")
		return nil, fmt.Errorf("meetup GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.count(path, "error")
		return nil, fmt.Errorf("meetup GET %s: read body: %w", path, err)
	}
	c.count(path, strconv.Itoa(resp.StatusCode))

	links := map[string]string{}
	for _, l := range linkheader.ParseMultiple(resp.Header.Values("Link")) {
		if _, seen := links[l.Rel]; !seen {
			links[l.Rel] = l.URL
		}
	}
	c.log.Debug("response", zap.String("path", path), zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)), zap.Int("quota_remaining", c.limiter.Remaining()))

	return &Page{
		URL:        redact(rawURL),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Links:      links,
	}, nil
}

func (c *Client) count(path, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.APIRequests.WithLabelValues(endpointLabel(path), status).Inc()
}

// endpointLabel keeps group names out of metric labels.
func endpointLabel(path string) string {
	path = strings.Trim(path, "/")
	if strings.HasSuffix(path, "/events") {
		return "{urlname}/events"
	}
	return path
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+3)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/checksum"
)

const maxPageBytes = 64 << 20

// HTTPConfig configures an HTTP JSON feed.
type HTTPConfig struct {
	URL string
	// RecordsPath is the gjson path of the record array in each page.
	RecordsPath string
	// NextPath, when set, is the gjson path of the next page URL.
	NextPath string
	MaxPages int
	// RequestsPerSecond paces page requests; <= 0 disables pacing.
	RequestsPerSecond float64
	Headers           map[string]string
	Timeout           time.Duration
}

// HTTP fetches records from a paginated JSON feed.
type HTTP struct {
	cfg        HTTPConfig
	client     *http.Client
	limiter    *rate.Limiter
	normalizer Normalizer
	logger     *slog.Logger
}

// NewHTTP creates an HTTP source. A nil client uses a client with cfg.Timeout.
func NewHTTP(cfg HTTPConfig, client *http.Client, normalizer Normalizer, logger *slog.Logger) *HTTP {
	if cfg.RecordsPath == "" {
		cfg.RecordsPath = "apps"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	normalizer.Logger = logger
	return &HTTP{
		cfg:        cfg,
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		normalizer: normalizer,
		logger:     logger,
	}
}

// Name implements Source.
func (h *HTTP) Name() string { return "http" }

// Fetch walks every page of the feed and normalizes the collected records.
func (h *HTTP) Fetch(ctx context.Context) (*Batch, error) {
	var (
		manifests []Manifest
		pages     = make(map[string][]byte)
		visited   = make(map[string]struct{})
	)

	next := h.cfg.URL
	for page := 0; next != ""; page++ {
		if page >= h.cfg.MaxPages {
			return nil, fmt.Errorf("%w: http: more than %d pages", apperr.ErrSourceFormat, h.cfg.MaxPages)
		}
		if _, loop := visited[next]; loop {
			return nil, fmt.Errorf("%w: http: pagination loops back to %s", apperr.ErrSourceFormat, next)
		}
		visited[next] = struct{}{}

		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: http: %v", apperr.ErrSourceUnavailable, err)
		}
		body, err := h.get(ctx, next)
		if err != nil {
			return nil, err
		}
		pages[strconv.Itoa(page)] = body

		got, nextURL, err := h.parsePage(next, body)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, got...)
		h.logger.Debug("source: page fetched",
			slog.String("url", next),
			slog.Int("records", len(got)))
		next = nextURL
	}

	records, err := h.normalizer.Normalize(h.cfg.URL, manifests)
	if err != nil {
		return nil, err
	}
	return &Batch{Records: records, Digest: checksum.SumParts(pages)}, nil
}

func (h *HTTP) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: http: build request: %v", apperr.ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http: %v", apperr.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: http: %s returned %d", apperr.ErrSourceUnavailable, target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: http: read body: %v", apperr.ErrSourceUnavailable, err)
	}
	if len(body) > maxPageBytes {
		return nil, fmt.Errorf("%w: http: page exceeds %d bytes", apperr.ErrSourceFormat, maxPageBytes)
	}
	return body, nil
}

// parsePage extracts the records and the absolute next page URL.
func (h *HTTP) parsePage(current string, body []byte) ([]Manifest, string, error) {
	if !gjson.ValidBytes(body) {
		return nil, "", fmt.Errorf("%w: http: %s is not valid JSON", apperr.ErrSourceFormat, current)
	}
	res := gjson.GetBytes(body, h.cfg.RecordsPath)
	if !res.Exists() || !res.IsArray() {
		return nil, "", fmt.Errorf("%w: http: %s has no array at %q", apperr.ErrSourceFormat, current, h.cfg.RecordsPath)
	}

	var (
		out    []Manifest
		decErr error
	)
	res.ForEach(func(_, v gjson.Result) bool {
		var m Manifest
		if err := json.Unmarshal([]byte(v.Raw), &m); err != nil {
			decErr = fmt.Errorf("%w: http: record %d: %v", apperr.ErrSourceFormat, len(out), err)
			return false
		}
		out = append(out, m)
		return true
	})
	if decErr != nil {
		return nil, "", decErr
	}

	if h.cfg.NextPath == "" {
		return out, "", nil
	}
	link := gjson.GetBytes(body, h.cfg.NextPath).String()
	if link == "" {
		return out, "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return nil, "", fmt.Errorf("%w: http: %v", apperr.ErrSourceFormat, err)
	}
	ref, err := url.Parse(link)
	if err != nil {
		return nil, "", fmt.Errorf("%w: http: bad next link %q: %v", apperr.ErrSourceFormat, link, err)
	}
	return out, base.ResolveReference(ref).String(), nil
}

// Package search finds shoppable images for stylist suggestions using the
// Google Custom Search JSON API.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
)

// maxResultsPerQuery is the API's per-request limit.
const maxResultsPerQuery = 10

// Config configures the image search client.
type Config struct {
	APIKey   string
	EngineID string
	// BaseURL overrides the API endpoint, e.g. for tests.
	BaseURL  string
	CacheTTL time.Duration
	// SafeSearch filters explicit results. On unless disabled.
	DisableSafeSearch bool
}

// Client implements service.ImageSearch.
type Client struct {
	svc      *customsearch.Service
	cache    *resultCache
	logger   *slog.Logger
	engineID string
	safe     string
}

var _ service.ImageSearch = (*Client)(nil)

// New creates a search client. Close releases the result cache.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: search API key is required", common.ErrMissingConfig)
	}
	if cfg.EngineID == "" {
		return nil, fmt.Errorf("%w: search engine id is required", common.ErrMissingConfig)
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create search service: %w", err)
	}

	safe := "active"
	if cfg.DisableSafeSearch {
		safe = "off"
	}

	return &Client{
		svc:      svc,
		cache:    newResultCache(cfg.CacheTTL),
		logger:   common.LoggerOrDefault(logger),
		engineID: cfg.EngineID,
		safe:     safe,
	}, nil
}

// Search returns up to count image results for query. No hits is an empty
// slice, not an error.
func (c *Client) Search(ctx context.Context, query string, count int, language string) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", common.ErrValidation)
	}
	if count <= 0 || count > maxResultsPerQuery {
		count = maxResultsPerQuery
	}

	key := cacheKey(query, count, language)
	if results, ok := c.cache.get(key); ok {
		c.logger.Debug("image search cache hit", "query", query)
		return results, nil
	}

	call := c.svc.Cse.List().
		Cx(c.engineID).
		Q(query).
		SearchType("image").
		Num(int64(count)).
		Safe(c.safe)
	if language != "" {
		call = call.Lr("lang_" + language).Hl(language)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	results := make([]model.SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Link == "" {
			continue
		}
		result := model.SearchResult{
			Title:    item.Title,
			ImageURL: item.Link,
		}
		if item.Image != nil {
			result.ThumbnailURL = item.Image.ThumbnailLink
			result.SourceURL = item.Image.ContextLink
		}
		results = append(results, result)
	}

	c.cache.set(key, results)
	c.logger.Debug("image search completed", "query", query, "results", len(results))
	return results, nil
}

// Close stops the cache janitor.
func (c *Client) Close() {
	c.cache.Close()
}

func cacheKey(query string, count int, language string) string {
	return fmt.Sprintf("%s|%d|%s", strings.ToLower(query), count, language)
}

// classify maps API and transport errors onto the provider error classes.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("image search interrupted: %w", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests, hasReason(apiErr, "dailyLimitExceeded", "rateLimitExceeded", "quotaExceeded", "userRateLimitExceeded"):
			return fmt.Errorf("%w: image search: %w", common.ErrQuotaExceeded, err)
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden, hasReason(apiErr, "keyInvalid"),
			strings.Contains(apiErr.Message, "API key not valid"):
			return fmt.Errorf("%w: image search: %w", common.ErrInvalidCredentials, err)
		case apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: image search: %w", common.ErrNetwork, err)
		default:
			return fmt.Errorf("%w: image search: %w", common.ErrMalformedResponse, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: image search: %w", common.ErrNetwork, err)
	}
	return fmt.Errorf("%w: image search: %w", common.ErrMalformedResponse, err)
}

func hasReason(apiErr *googleapi.Error, reasons ...string) bool {
	for _, item := range apiErr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

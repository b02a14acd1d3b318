// Package catalog is a client for a TMDB-compatible media catalog.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrNotFound is returned when the catalog has no such title.
	ErrNotFound = errors.New("catalog title not found")
	// ErrUpstream is returned when the catalog is unreachable or failing.
	ErrUpstream = errors.New("catalog unavailable")
)

// Title is a movie or TV show as the catalog describes it.
type Title struct {
	TMDBID      int64      `json:"tmdbId"`
	MediaType   string     `json:"mediaType"`
	Title       string     `json:"title"`
	Overview    string     `json:"overview,omitempty"`
	PosterPath  string     `json:"posterPath,omitempty"`
	ReleaseDate *time.Time `json:"releaseDate,omitempty"`
	VoteAverage float64    `json:"voteAverage"`
}

// SearchResult is one page of catalog search results.
type SearchResult struct {
	Page         int     `json:"page"`
	TotalPages   int     `json:"totalPages"`
	TotalResults int     `json:"totalResults"`
	Results      []Title `json:"results"`
}

// Catalog is what handlers and health checks need from the catalog.
type Catalog interface {
	Search(ctx context.Context, query string, page int) (*SearchResult, error)
	Details(ctx context.Context, mediaType string, id int64) (*Title, error)
	Ping(ctx context.Context) error
}

// Config configures Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client talks to the catalog over HTTP behind a circuit breaker.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

var _ Catalog = (*Client)(nil)

// NewClient creates a catalog client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// a missing title is a valid answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(fmt.Sprintf("circuit breaker %s changed state", name),
				slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return c
}

// BreakerState reports the circuit breaker state for monitoring.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	endpoint := c.baseURL + path + "?" + query.Encode()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("building request for %s: %v", path, stripURL(err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: GET %s: %v", ErrUpstream, path, stripURL(err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: %s returned status %d", ErrUpstream, path, resp.StatusCode)
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return body, err
}

// stripURL drops the request URL from err, it carries the api key.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// wire formats
type searchResponse struct {
	Page         int         `json:"page"`
	TotalPages   int         `json:"total_pages"`
	TotalResults int         `json:"total_results"`
	Results      []titleWire `json:"results"`
}

type titleWire struct {
	ID           int64   `json:"id"`
	MediaType    string  `json:"media_type"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	VoteAverage  float64 `json:"vote_average"`
}

func (w titleWire) toTitle(mediaType string) Title {
	if w.MediaType != "" {
		mediaType = w.MediaType
	}
	t := Title{
		TMDBID:      w.ID,
		MediaType:   mediaType,
		Title:       w.Title,
		Overview:    w.Overview,
		PosterPath:  w.PosterPath,
		VoteAverage: w.VoteAverage,
	}
	date := w.ReleaseDate
	if mediaType == "tv" {
		t.Title = w.Name
		date = w.FirstAirDate
	}
	if d, err := time.Parse("2006-01-02", date); err == nil {
		t.ReleaseDate = &d
	}
	return t
}

// Search looks up movies and TV shows by title. People are skipped.
func (c *Client) Search(ctx context.Context, query string, page int) (*SearchResult, error) {
	if page < 1 {
		page = 1
	}
	data, err := c.get(ctx, "/search/multi", url.Values{
		"query": {query},
		"page":  {strconv.Itoa(page)},
	})
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %v", ErrUpstream, err)
	}

	out := &SearchResult{Page: resp.Page, TotalPages: resp.TotalPages, TotalResults: resp.TotalResults, Results: []Title{}}
	for _, w := range resp.Results {
		if w.MediaType != "movie" && w.MediaType != "tv" {
			continue
		}
		out.Results = append(out.Results, w.toTitle(w.MediaType))
	}
	return out, nil
}

// Details fetches one title; mediaType is "movie" or "tv".
func (c *Client) Details(ctx context.Context, mediaType string, id int64) (*Title, error) {
	if mediaType != "movie" && mediaType != "tv" {
		return nil, fmt.Errorf("unsupported media type %q", mediaType)
	}
	data, err := c.get(ctx, fmt.Sprintf("/%s/%d", mediaType, id), nil)
	if err != nil {
		return nil, err
	}

	var w titleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: decoding details response: %v", ErrUpstream, err)
	}
	t := w.toTitle(mediaType)
	return &t, nil
}

// Ping checks that the catalog answers and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/configuration", nil)
	return err
}

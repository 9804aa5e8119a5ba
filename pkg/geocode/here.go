package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/locallens/resolve-cli/internal/resilience"
)

const (
	defaultGeocodeURL = "https://geocode.search.hereapi.com/v1"
	defaultReverseURL = "https://revgeocode.search.hereapi.com/v1"
)

// HereClient calls the HERE Geocoding & Search v7 API.
type HereClient struct {
	apiKey         string
	baseURL        string
	reverseBaseURL string
	httpClient     *http.Client
	limiter        *rate.Limiter
	retries        int
	attemptTimeout time.Duration
}

// NewHereClient creates a HERE-backed Client.
func NewHereClient(apiKey string, opts ...Option) *HereClient {
	c := &HereClient{
		apiKey:         apiKey,
		baseURL:        defaultGeocodeURL,
		reverseBaseURL: defaultReverseURL,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		limiter:        rate.NewLimiter(10, 10),
		retries:        2,
		attemptTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type hereResponse struct {
	Items []hereItem `json:"items"`
}

type hereItem struct {
	Title      string `json:"title"`
	ResultType string `json:"resultType"`
	Position   struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"position"`
	Address struct {
		Label       string `json:"label"`
		Street      string `json:"street"`
		City        string `json:"city"`
		District    string `json:"district"`
		State       string `json:"state"`
		PostalCode  string `json:"postalCode"`
		CountryName string `json:"countryName"`
	} `json:"address"`
	Scoring struct {
		QueryScore float64 `json:"queryScore"`
	} `json:"scoring"`
}

// Geocode resolves a single-line address. Rate-limited client-side; 429 and
// 5xx responses are retried with backoff inside the caller's deadline.
func (c *HereClient) Geocode(ctx context.Context, text string) (*Candidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, eris.New("geocode: empty query")
	}

	params := url.Values{
		"q":      {text},
		"apiKey": {c.apiKey},
		"limit":  {"1"},
	}
	reqURL := c.baseURL + "/geocode?" + params.Encode()

	item, err := c.fetchFirstItem(ctx, reqURL, "geocode")
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}

	return &Candidate{
		Lat:        item.Position.Lat,
		Lon:        item.Position.Lng,
		Confidence: itemConfidence(*item),
		Label:      item.Address.Label,
		Street:     item.Address.Street,
		City:       item.Address.City,
		District:   item.Address.District,
		State:      item.Address.State,
		PostalCode: item.Address.PostalCode,
		Country:    item.Address.CountryName,
	}, nil
}

// ReverseGeocode resolves coordinates to the nearest address.
func (c *HereClient) ReverseGeocode(ctx context.Context, lat, lon float64) (*ReverseResult, error) {
	params := url.Values{
		"at":     {fmt.Sprintf("%f,%f", lat, lon)},
		"apiKey": {c.apiKey},
		"limit":  {"1"},
	}
	reqURL := c.reverseBaseURL + "/revgeocode?" + params.Encode()

	item, err := c.fetchFirstItem(ctx, reqURL, "revgeocode")
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}

	return &ReverseResult{
		Label:      item.Address.Label,
		City:       item.Address.City,
		District:   item.Address.District,
		State:      item.Address.State,
		PostalCode: item.Address.PostalCode,
		Lat:        item.Position.Lat,
		Lon:        item.Position.Lng,
	}, nil
}

func (c *HereClient) fetchFirstItem(ctx context.Context, reqURL, op string) (*hereItem, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = c.retries + 1
	cfg.OnRetry = resilience.RetryLogger("here", op)

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*hereItem, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrapf(err, "geocode: here %s rate limit", op)
		}

		attemptCtx := ctx
		if c.attemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
			defer cancel()
		}

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "geocode: here %s build request", op)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "geocode: here %s request", op), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "geocode: here %s read body", op), 0)
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("geocode: here %s returned status %d", op, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		var parsed hereResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, eris.Wrapf(err, "geocode: here %s parse response", op)
		}
		if len(parsed.Items) == 0 {
			return nil, nil
		}
		return &parsed.Items[0], nil
	})
}

// itemConfidence maps HERE scoring to [0,1]. queryScore is used when present;
// otherwise the result type sets a coarse floor.
func itemConfidence(item hereItem) float64 {
	if s := item.Scoring.QueryScore; s > 0 {
		if s > 1 {
			return 1
		}
		return s
	}
	switch item.ResultType {
	case "houseNumber":
		return 0.9
	case "street":
		return 0.8
	default:
		return 0.7
	}
}

// Package its resolves CCTV stream entries to live HLS playlist URLs
// through the national traffic information centre directory API.
package its

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"golang.org/x/sync/singleflight"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

const (
	// DefaultEndpoint is the production directory endpoint.
	DefaultEndpoint = "https://openapi.its.go.kr:9443/cctvInfo"

	// deltaCoord is the half-width of the bounding box, in decimal degrees.
	deltaCoord = 0.01

	// distEpsilon is the maximum accepted squared Euclidean distance
	// between the stored coordinate and the closest directory row.
	distEpsilon = 1e-6
)

// Row is one CCTV entry returned by the directory. Coordinates arrive as
// strings.
type Row struct {
	URL    string `json:"cctvurl"`
	CoordX string `json:"coordx"`
	CoordY string `json:"coordy"`
	Name   string `json:"cctvname"`
	Format string `json:"cctvformat"`
	Type   string `json:"cctvtype"`
}

// rowList tolerates the directory returning a single object where an array
// is documented.
type rowList []Row

func (l *rowList) UnmarshalJSON(data []byte) error {
	var many []Row
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one Row
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = rowList{one}
	return nil
}

type apiResponse struct {
	Response struct {
		Data rowList `json:"data"`
	} `json:"response"`
}

// Resolver resolves a coordinate to the URL of the nearest live HLS stream.
type Resolver interface {
	Resolve(ctx context.Context, coordX, coordY float64) (string, error)
}

// Client is the HTTP client for the directory API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// validatePlaylist enables a single fetch-and-parse of the resolved
	// URL, catching dead endpoints before ffmpeg is spawned.
	validatePlaylist bool

	// group collapses concurrent resolutions of identical coordinates
	// into a single directory round trip.
	group singleflight.Group

	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cached   struct {
		url    string
		key    string
		expiry time.Time
	}
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the directory endpoint (used by tests).
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPlaylistValidation toggles HLS playlist pre-validation.
func WithPlaylistValidation(enabled bool) Option {
	return func(c *Client) { c.validatePlaylist = enabled }
}

// WithCacheTTL enables a short-lived resolution cache. Zero (the default)
// disables caching: playlist URLs rotate server-side, so resolution happens
// at the moment recording starts.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cacheTTL = ttl }
}

// NewClient creates a directory client with a bounded request deadline.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve queries the directory with a bounding box around (coordX, coordY),
// picks the row minimising squared Euclidean distance, and returns its URL.
// A minimum distance above the epsilon threshold fails with ErrNotFound.
// Concurrent resolutions of the same coordinates share one directory round
// trip.
func (c *Client) Resolve(ctx context.Context, coordX, coordY float64) (string, error) {
	cacheKey := fmt.Sprintf("%.6f,%.6f", coordX, coordY)
	resolved, err, _ := c.group.Do(cacheKey, func() (any, error) {
		return c.resolve(ctx, cacheKey, coordX, coordY)
	})
	if err != nil {
		return "", err
	}
	return resolved.(string), nil
}

func (c *Client) resolve(ctx context.Context, cacheKey string, coordX, coordY float64) (string, error) {
	if c.cacheTTL > 0 {
		c.cacheMu.Lock()
		hit := c.cached.key == cacheKey && time.Now().Before(c.cached.expiry)
		cachedURL := c.cached.url
		c.cacheMu.Unlock()
		if hit {
			return cachedURL, nil
		}
	}

	rows, err := c.query(ctx, coordX, coordY)
	if err != nil {
		return "", err
	}

	best, bestDist := "", -1.0
	for _, row := range rows {
		x, errX := strconv.ParseFloat(row.CoordX, 64)
		y, errY := strconv.ParseFloat(row.CoordY, 64)
		if errX != nil || errY != nil {
			continue
		}
		dist := (coordX-x)*(coordX-x) + (coordY-y)*(coordY-y)
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			best = row.URL
		}
	}
	if bestDist < 0 || bestDist > distEpsilon {
		return "", models.NotFoundf("no HLS stream near (%g, %g)", coordX, coordY)
	}

	if c.validatePlaylist {
		if err := c.checkPlaylist(ctx, best); err != nil {
			return "", models.NotFoundf("resolved stream is not playable: %v", err)
		}
	}

	if c.cacheTTL > 0 {
		c.cacheMu.Lock()
		c.cached.key = cacheKey
		c.cached.url = best
		c.cached.expiry = time.Now().Add(c.cacheTTL)
		c.cacheMu.Unlock()
	}
	return best, nil
}

func (c *Client) query(ctx context.Context, coordX, coordY float64) (rowList, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("type", "ex")
	q.Set("cctvType", "1")
	q.Set("minX", formatCoord(coordX-deltaCoord))
	q.Set("maxX", formatCoord(coordX+deltaCoord))
	q.Set("minY", formatCoord(coordY-deltaCoord))
	q.Set("maxY", formatCoord(coordY+deltaCoord))
	q.Set("getType", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, models.Externalf("building directory request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.Externalf("directory request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.Externalf("directory returned HTTP %d", resp.StatusCode)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.Externalf("decoding directory response: %v", err)
	}
	return parsed.Response.Data, nil
}

// checkPlaylist fetches the resolved URL once and verifies it parses as an
// HLS playlist (media or multivariant).
func (c *Client) checkPlaylist(ctx context.Context, streamURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if _, err := playlist.Unmarshal(data); err != nil {
		return fmt.Errorf("parsing playlist: %w", err)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

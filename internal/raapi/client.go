package raapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"retrotrack/pkg/logx"
	"retrotrack/pkg/metrics"
)

const listingPageSize = 100

// ClientConfig configures the typed API client.
type ClientConfig struct {
	BaseURL string
	Key     string
	Timeout time.Duration

	// CacheTTL covers slow-moving data (game progress);
	// VolatileCacheTTL covers leaderboard listings.
	CacheTTL         time.Duration
	VolatileCacheTTL time.Duration
}

func (c *ClientConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.VolatileCacheTTL <= 0 {
		c.VolatileCacheTTL = 90 * time.Second
	}
}

// Client fetches and normalizes the two upstream shapes the tracker consumes.
// Every HTTP request goes through the Budget; every successful result is
// cached under a per-endpoint TTL.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	budget *Budget
	cache  *Cache
	log    logx.Logger
	m      *metrics.Metrics
}

// NewClient wires the client. m may be nil.
func NewClient(cfg ClientConfig, budget *Budget, cache *Cache, log logx.Logger, m *metrics.Metrics) *Client {
	cfg.defaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		budget: budget,
		cache:  cache,
		log:    log,
		m:      m,
	}
}

// ApplyTTLs updates cache TTL policy at runtime.
func (c *Client) ApplyTTLs(cacheTTL, volatileTTL time.Duration) {
	if cacheTTL > 0 {
		c.cfg.CacheTTL = cacheTTL
	}
	if volatileTTL > 0 {
		c.cfg.VolatileCacheTTL = volatileTTL
	}
}

// BoardEntries returns the full current ranked listing for a board, paginating
// until a short page. Each page is one budgeted request.
func (c *Client) BoardEntries(ctx context.Context, boardID string) ([]BoardEntry, error) {
	cacheKey := "board:" + boardID
	if v, ok := c.cacheGet(cacheKey); ok {
		return v.([]BoardEntry), nil
	}
	return c.fetchBoard(ctx, boardID, cacheKey)
}

// BoardEntriesFresh always hits the upstream, refreshing the cache entry.
// The diff engine's re-confirmation pass needs a genuine second read.
func (c *Client) BoardEntriesFresh(ctx context.Context, boardID string) ([]BoardEntry, error) {
	return c.fetchBoard(ctx, boardID, "board:"+boardID)
}

func (c *Client) fetchBoard(ctx context.Context, boardID, cacheKey string) ([]BoardEntry, error) {
	var all []BoardEntry
	for offset := 0; ; offset += listingPageSize {
		page, err := c.boardPage(ctx, boardID, offset, listingPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listingPageSize {
			break
		}
	}

	c.cachePut(cacheKey, all, c.cfg.VolatileCacheTTL)
	return all, nil
}

func (c *Client) boardPage(ctx context.Context, boardID string, offset, count int) ([]BoardEntry, error) {
	endpoint := "API_GetLeaderboardEntries.php"
	q := url.Values{
		"i": {boardID},
		"o": {strconv.Itoa(offset)},
		"c": {strconv.Itoa(count)},
	}

	var entries []BoardEntry
	err := c.budget.Do(ctx, fmt.Sprintf("board %s@%d", boardID, offset), func(ctx context.Context) error {
		v, err := c.getJSON(ctx, endpoint, q)
		if err != nil {
			return err
		}
		rows, err := listingRows(v)
		if err != nil {
			return &Error{Kind: KindPermanent, Endpoint: endpoint, Err: err}
		}
		entries = entries[:0]
		for _, row := range rows {
			if e, ok := decodeBoardEntry(row); ok {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GameProgress returns a subject's achievement completion for one game.
func (c *Client) GameProgress(ctx context.Context, username, gameID string) (Progress, error) {
	cacheKey := "progress:" + username + ":" + gameID
	if v, ok := c.cacheGet(cacheKey); ok {
		return v.(Progress), nil
	}

	endpoint := "API_GetGameInfoAndUserProgress.php"
	q := url.Values{
		"u": {username},
		"g": {gameID},
	}

	var p Progress
	err := c.budget.Do(ctx, "progress "+username+"/"+gameID, func(ctx context.Context) error {
		v, err := c.getJSON(ctx, endpoint, q)
		if err != nil {
			return err
		}
		decoded, derr := decodeProgress(v)
		if derr != nil {
			return &Error{Kind: KindPermanent, Endpoint: endpoint, Err: derr}
		}
		p = decoded
		return nil
	})
	if err != nil {
		return Progress{}, err
	}

	c.cachePut(cacheKey, p, c.cfg.CacheTTL)
	return p, nil
}

// getJSON performs one HTTP GET and decodes the body into untyped JSON.
// All failures come back as *Error so the budget can classify them.
func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values) (any, error) {
	if c.cfg.Key != "" {
		q = cloneValues(q)
		q.Set("y", c.cfg.Key)
	}
	u := c.cfg.BaseURL + "/" + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Endpoint: endpoint, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: classifyErr(err), Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the log line, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &Error{
			Kind:     classifyStatus(resp.StatusCode),
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status: %s", string(snippet)),
		}
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, &Error{Kind: KindPermanent, Endpoint: endpoint, Err: fmt.Errorf("decode: %w", err)}
	}
	return v, nil
}

func (c *Client) cacheGet(key string) (any, bool) {
	if c.cache == nil {
		return nil, false
	}
	v, ok := c.cache.Get(key)
	if c.m != nil {
		if ok {
			c.m.CacheHit()
		} else {
			c.m.CacheMiss()
		}
	}
	return v, ok
}

func (c *Client) cachePut(key string, v any, ttl time.Duration) {
	if c.cache != nil {
		c.cache.Put(key, v, ttl)
	}
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q)+1)
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

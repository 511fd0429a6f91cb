// Package authclient is the library downstream applications embed to validate
// session tokens against the central authority. It caches positive results
// briefly so a page of asset requests does not turn into a page of validation
// calls, and it serves a stale cached result when the authority is
// unreachable rather than logging every user out during a blip.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"amphoraxe.ca/internal/auth"
)

const (
	defaultTTL      = 30 * time.Second
	maxCacheEntries = 1000
)

// Validation is the authority's answer for one token.
type Validation struct {
	Valid    bool             `json:"valid"`
	User     auth.Identity    `json:"user"`
	Apps     []string         `json:"apps"`
	Features *auth.FeatureSet `json:"features,omitempty"`
}

// HasApp reports whether the validated user may enter the named app.
func (v *Validation) HasApp(slug string) bool {
	for _, s := range v.Apps {
		if s == slug {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	val     *Validation
	fetched time.Time
}

// Client validates tokens against the auth service over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithCacheTTL overrides how long a positive validation is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Client) {
		if fn != nil {
			c.now = fn
		}
	}
}

// New builds a client for the authority at baseURL, e.g.
// "https://auth.amphoraxe.ca".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 5 * time.Second},
		ttl:     defaultTTL,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate resolves a session token, optionally scoped to one app so the
// response carries feature permissions. A fresh cached answer short-circuits
// the network. auth.ErrUnauthorized means the token is dead; any other error
// means the authority could not be reached and no usable cache entry exists.
func (c *Client) Validate(ctx context.Context, token, appSlug string) (*Validation, error) {
	if token == "" {
		return nil, auth.ErrUnauthorized
	}
	key := token + "\x00" + appSlug

	c.mu.Lock()
	entry, cached := c.cache[key]
	c.mu.Unlock()
	if cached && c.now().Sub(entry.fetched) < c.ttl {
		return entry.val, nil
	}

	val, err := c.fetch(ctx, token, appSlug)
	if err == nil {
		c.store(key, val)
		return val, nil
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		// Definitive answer from the authority: drop any cached copy.
		c.mu.Lock()
		delete(c.cache, key)
		c.mu.Unlock()
		return nil, auth.ErrUnauthorized
	}
	// Authority unreachable. A stale positive beats a forced logout.
	if cached {
		return entry.val, nil
	}
	return nil, err
}

func (c *Client) fetch(ctx context.Context, token, appSlug string) (*Validation, error) {
	u := c.baseURL + "/api/v1/auth/validate"
	if appSlug != "" {
		u += "?app=" + url.QueryEscape(appSlug)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var val Validation
		if err := json.NewDecoder(resp.Body).Decode(&val); err != nil {
			return nil, fmt.Errorf("decode validation response: %w", err)
		}
		return &val, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, auth.ErrUnauthorized
	default:
		return nil, fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}
}

func (c *Client) store(key string, val *Validation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{val: val, fetched: c.now()}
	if len(c.cache) <= maxCacheEntries {
		return
	}
	// Over cap: drop the stalest entries.
	type aged struct {
		key     string
		fetched time.Time
	}
	entries := make([]aged, 0, len(c.cache))
	for k, e := range c.cache {
		entries = append(entries, aged{key: k, fetched: e.fetched})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].fetched.Before(entries[j].fetched)
	})
	for _, e := range entries[:len(c.cache)-maxCacheEntries] {
		delete(c.cache, e.key)
	}
}

// Invalidate drops one token's cached validations, e.g. after local logout.
func (c *Client) Invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.cache {
		if strings.HasPrefix(k, token+"\x00") {
			delete(c.cache, k)
		}
	}
}

// CacheSize reports the number of live cache entries.
func (c *Client) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

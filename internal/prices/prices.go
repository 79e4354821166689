// Package prices looks up Grand Exchange values for dropped items.
package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"
)

// Quote is a price lookup result.
type Quote struct {
	Price float64 `json:"price"`
	ID    int     `json:"id"`
}

// Value returns the price rounded to whole coins.
func (q Quote) Value() int64 {
	return int64(math.Round(q.Price))
}

// Service resolves an item name to a Quote.
type Service interface {
	Lookup(ctx context.Context, name string) (Quote, error)
}

// ErrDisabled is returned when no price API is configured.
var ErrDisabled = errors.New("price lookup disabled")

// Client calls a price API at GET <baseURL>/<Normalized_name>.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.Cache
}

// NewClient returns a Client with the given per-request timeout and cache TTL.
// An empty baseURL yields a client whose lookups return ErrDisabled.
func NewClient(baseURL string, timeout, ttl time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		cache:   cache.New(ttl, 2*ttl),
	}
}

// NormalizeName converts a display name to the API key form:
// trimmed, lower-cased, spaces to underscores, first letter upper-cased.
// "Rune essence" becomes "Rune_essence".
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), "_")
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// Lookup returns the cached or freshly fetched quote for name.
func (c *Client) Lookup(ctx context.Context, name string) (Quote, error) {
	if c.baseURL == "" {
		return Quote{}, ErrDisabled
	}
	key := NormalizeName(name)
	if key == "" {
		return Quote{}, errors.New("empty item name")
	}
	if q, ok := c.cache.Get(key); ok {
		return q.(Quote), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(key), nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("price lookup %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price lookup %s: status %d", key, resp.StatusCode)
	}

	var q Quote
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("price lookup %s: decode: %w", key, err)
	}

	c.cache.SetDefault(key, q)
	return q, nil
}

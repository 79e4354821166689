package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/patrickmn/go-cache"
)

var itemIDPattern = regexp.MustCompile(`^[0-9]{1,9}$`)

// ValidItemID reports whether id is 1 to 9 digits.
func ValidItemID(id string) bool {
	return itemIDPattern.MatchString(id)
}

// ItemDB fetches item detail documents from the Grand Exchange catalogue.
type ItemDB struct {
	endpoint string
	http     *http.Client
	cache    *cache.Cache
}

// NewItemDB returns a fetcher for endpoint (the detail.json URL, without query).
func NewItemDB(endpoint string, timeout, ttl time.Duration) *ItemDB {
	return &ItemDB{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		cache:    cache.New(ttl, 2*ttl),
	}
}

// Detail returns the raw JSON detail document for id.
// cached reports whether it was served from the cache.
func (d *ItemDB) Detail(ctx context.Context, id string) (doc json.RawMessage, cached bool, err error) {
	if !ValidItemID(id) {
		return nil, false, fmt.Errorf("invalid item id %q", id)
	}
	cacheKey := "item:" + id
	if v, ok := d.cache.Get(cacheKey); ok {
		return v.(json.RawMessage), true, nil
	}

	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, false, err
	}
	q := u.Query()
	q.Set("item", id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("itemdb %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("itemdb %s: upstream status %d", id, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, fmt.Errorf("itemdb %s: %w", id, err)
	}
	if !json.Valid(body) {
		return nil, false, fmt.Errorf("itemdb %s: upstream returned invalid JSON", id)
	}

	doc = json.RawMessage(body)
	d.cache.SetDefault(cacheKey, doc)
	return doc, false, nil
}

// ThumbnailURL returns the large item icon for a catalogue item id.
func ThumbnailURL(id int) string {
	return fmt.Sprintf("https://secure.runescape.com/m=itemdb_rs/obj_big.gif?id=%d", id)
}

package web

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/droplog/droplog/internal/errors"
	"github.com/droplog/droplog/internal/logger"
	"github.com/droplog/droplog/internal/prices"
)

// ItemProxy serves GET /api/item/{id} from the Grand Exchange catalogue with
// origin checks, an optional API key and a per-IP request budget.
type ItemProxy struct {
	itemdb  *prices.ItemDB
	limiter *rateLimiter
	keyHash []byte
	origins map[string]bool
	log     logger.Logger
}

// NewItemProxy returns a proxy. An empty keyHash disables the API key check;
// limit <= 0 disables rate limiting.
func NewItemProxy(itemdb *prices.ItemDB, keyHash string, limit int, origins []string, log logger.Logger) *ItemProxy {
	if log == nil {
		log = logger.NewNop()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	p := &ItemProxy{
		itemdb:  itemdb,
		origins: allowed,
		log:     log,
	}
	if keyHash != "" {
		p.keyHash = []byte(keyHash)
	}
	if limit > 0 {
		p.limiter = newRateLimiter(limit, time.Minute)
	}
	return p
}

// Wrap applies the CORS, rate limit and API key checks to next.
func (p *ItemProxy) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if !p.origins[origin] {
				renderAPIError(w, &errors.DropError{
					Code:    errors.ErrInvalidRequest,
					Status:  http.StatusForbidden,
					Message: "CORS policy: this origin is not allowed",
				})
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET")
			w.Header().Set("Access-Control-Allow-Headers", "X-API-KEY")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		if p.limiter != nil && !p.limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(p.limiter.window.Seconds())))
			renderAPIError(w, errors.NewRateLimited(p.limiter.limit))
			return
		}

		if p.keyHash != nil {
			key := r.Header.Get("X-API-KEY")
			if key == "" || bcrypt.CompareHashAndPassword(p.keyHash, []byte(key)) != nil {
				renderAPIError(w, errors.NewUnauthorized())
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// HandleItem handles GET /api/item/{id}.
func (p *ItemProxy) HandleItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !prices.ValidItemID(id) {
		renderAPIError(w, errors.NewInvalidRequest("invalid item ID format"))
		return
	}

	doc, cached, err := p.itemdb.Detail(r.Context(), id)
	if err != nil {
		// The upstream cause stays in the log, never in the response.
		p.log.Error("web", "item lookup failed", map[string]any{"id": id, "error": err})
		renderAPIError(w, errors.NewUpstream("item"))
		return
	}

	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// HandleNotFound answers unknown /api/ routes with JSON.
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	renderAPIError(w, &errors.DropError{
		Code:    errors.ErrNotFound,
		Status:  http.StatusNotFound,
		Message: "endpoint not found",
	})
}

// HashAPIKey returns the bcrypt hash stored in proxy_api_key_hash.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// rateLimiter counts requests per key in fixed windows.
type rateLimiter struct {
	counts *cache.Cache
	limit  int
	window time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		counts: cache.New(window, 2*window),
		limit:  limit,
		window: window,
	}
}

// Allow records one request for key and reports whether it is within budget.
func (l *rateLimiter) Allow(key string) bool {
	if err := l.counts.Add(key, 1, l.window); err == nil {
		return true
	}
	n, err := l.counts.IncrementInt(key, 1)
	if err != nil {
		// The window expired between Add and IncrementInt.
		l.counts.Set(key, 1, l.window)
		return true
	}
	return n <= l.limit
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package web

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a fixed-window limiter keyed by client identity.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
	cleanup  time.Duration
	done     chan struct{}
}

type visitor struct {
	mu        sync.Mutex
	tokens    int
	lastReset time.Time
}

// NewRateLimiter allows limit requests per window for each client.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		cleanup:  5 * time.Minute,
		done:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop signals the cleanup goroutine to exit.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// Allow reports whether a request from identifier fits the window.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	v, exists := rl.visitors[identifier]
	if !exists {
		v = &visitor{
			tokens:    rl.limit,
			lastReset: time.Now(),
		}
		rl.visitors[identifier] = v
	}
	rl.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	if now.Sub(v.lastReset) > rl.window {
		v.tokens = rl.limit
		v.lastReset = now
	}

	if v.tokens > 0 {
		v.tokens--
		return true
	}
	return false
}

// RetryAfter returns how long until identifier's window resets.
func (rl *RateLimiter) RetryAfter(identifier string) time.Duration {
	rl.mu.Lock()
	v, exists := rl.visitors[identifier]
	rl.mu.Unlock()

	if !exists {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	remaining := rl.window - time.Since(v.lastReset)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for id, v := range rl.visitors {
				v.mu.Lock()
				if now.Sub(v.lastReset) > rl.window*2 {
					delete(rl.visitors, id)
				}
				v.mu.Unlock()
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// RateLimitMiddleware applies the auth limiter to login traffic and the api
// limiter to everything else under /api/.
func RateLimitMiddleware(apiLimiter, authLimiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := clientIdentifier(r)

			var limiter *RateLimiter
			var limitType string
			switch {
			case isAuthEndpoint(r.URL.Path):
				limiter = authLimiter
				limitType = "auth"
			case strings.HasPrefix(r.URL.Path, "/api/"):
				limiter = apiLimiter
				limitType = "api"
			default:
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(identifier) {
				retryAfter := limiter.RetryAfter(identifier)
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))

				WriteError(w, NewAPIErrorWithSuggestion(
					ErrCodeRateLimited,
					"Too many requests",
					"You have exceeded the rate limit for "+limitType+" endpoints. Please wait before trying again.",
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIdentifier keys rate limit buckets by IP, plus username once
// authenticated so shared NATs don't starve each other.
func clientIdentifier(r *http.Request) string {
	ip := ClientIP(r)
	if username := r.Header.Get("X-Username"); username != "" {
		return ip + ":" + username
	}
	return ip
}

func isAuthEndpoint(path string) bool {
	return path == "/api/auth/login" || path == "/api/auth/logout"
}

func retrySeconds(d time.Duration) int {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

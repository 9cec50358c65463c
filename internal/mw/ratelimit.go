package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per key (client IP + route) and evicts
// idle buckets in the background.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rate    rate.Limit
	burst   int
	ttl     time.Duration
	stop    chan struct{}
}

func NewLimiter(r rate.Limit, burst int, ttl time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string]*limiterEntry),
		rate:    r,
		burst:   burst,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		e.lastSeen = time.Now()
		return e.lim
	}
	lim := rate.NewLimiter(l.rate, l.burst)
	l.entries[key] = &limiterEntry{lim: lim, lastSeen: time.Now()}
	return lim
}

func (l *Limiter) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.ttl)
			l.mu.Lock()
			for key, e := range l.entries {
				if e.lastSeen.Before(cutoff) {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop halts the eviction goroutine; used for graceful shutdown.
func (l *Limiter) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// RateLimit returns a token-bucket middleware keyed on client IP and route.
func RateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	l := NewLimiter(r, burst, 2*time.Minute)
	go l.gc()
	return func(c *gin.Context) {
		key := clientIP(c.Request.RemoteAddr) + "|" + routeKey(c)
		if !l.get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func routeKey(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

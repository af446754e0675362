package http

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// RateLimiter blocks a client for a while after a failed login.
type RateLimiter struct {
	mu       sync.Mutex
	failures map[string]time.Time
	delay    time.Duration
	now      func() time.Time
}

func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{
		failures: make(map[string]time.Time),
		delay:    delay,
		now:      time.Now,
	}
}

func (r *RateLimiter) RecordFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[ip] = r.now()
}

func (r *RateLimiter) ClearFailure(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, ip)
}

// IsLimited reports whether ip failed within the delay. Expired entries are
// dropped on the way.
func (r *RateLimiter) IsLimited(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed, ok := r.failures[ip]
	if !ok {
		return false
	}
	if r.now().Sub(failed) > r.delay {
		delete(r.failures, ip)
		return false
	}
	return true
}

func (s *Server) basicAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if s.rateLimiter.IsLimited(ip) {
			L_warn("http: rate limited", "ip", ip)
			http.Error(w, "Too many failed attempts. Try again later.", http.StatusTooManyRequests)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="voxledger"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		if !equal(username, s.cfg.Username) || !VerifyPassword(s.cfg.Password, password) {
			s.rateLimiter.RecordFailure(ip)
			L_warn("http: auth failed", "username", username, "ip", ip)
			w.Header().Set("WWW-Authenticate", `Basic realm="voxledger"`)
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		s.rateLimiter.ClearFailure(ip)
		handler(w, r)
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// VerifyPassword checks secret against the configured password, which is
// either a bcrypt hash ($2a$, $2b$, $2y$) or plain text.
func VerifyPassword(configured, secret string) bool {
	if configured == "" {
		return false
	}
	if isBcrypt(configured) {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(secret)) == nil
	}
	return equal(configured, secret)
}

func isBcrypt(s string) bool {
	if len(s) < 4 {
		return false
	}
	switch s[:4] {
	case "$2a$", "$2b$", "$2y$":
		return true
	}
	return false
}

// HashPassword returns a bcrypt hash suitable for http.password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// clientIP prefers the first X-Forwarded-For hop, then the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

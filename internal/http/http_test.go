package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
	"github.com/roelfdiedericks/voxledger/internal/session"
)

type fakeLedger struct{}

func (fakeLedger) Stats() ledger.Stats {
	return ledger.Stats{Today: 0.5, ThisMonth: 1.25, Total: 3, Transactions: 7}
}

func (fakeLedger) WeeklyCosts() []ledger.DayCost {
	return []ledger.DayCost{{Day: "2026-10-16", Cost: 0.25}, {Day: "2026-10-17", Cost: 0.5}}
}

type fakeEntities struct {
	gotSession string
	gotTargets []session.Target
	gotLimit   int
	err        error
}

func (f *fakeEntities) List(ctx context.Context, sessionID string, targets []session.Target, limit int) ([]session.Entity, error) {
	f.gotSession, f.gotTargets, f.gotLimit = sessionID, targets, limit
	if f.err != nil {
		return nil, f.err
	}
	return []session.Entity{{ID: "e1", Target: session.TargetTodo, Title: "milk"}}, nil
}

type fakeProviders []string

func (f fakeProviders) Providers() []string { return f }

func newTestServer(t *testing.T, ents *fakeEntities) *Server {
	t.Helper()
	s, err := NewServer(Config{Enabled: true, Username: "me", Password: "secret"}, Deps{
		Ledger:    fakeLedger{},
		Entities:  ents,
		Providers: fakeProviders{"groq", "whispercpp"},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func get(t *testing.T, h http.Handler, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth {
		req.SetBasicAuth("me", "secret")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresPassword(t *testing.T) {
	if _, err := NewServer(Config{Enabled: true}, Deps{}); err == nil {
		t.Error("expected error without a password")
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	h := newTestServer(t, &fakeEntities{}).routes()
	if rec := get(t, h, "/healthz", false); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := get(t, h, "/api/stats", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("stats without auth = %d", rec.Code)
	}
}

func TestStatsAndWeekly(t *testing.T) {
	h := newTestServer(t, &fakeEntities{}).routes()

	rec := get(t, h, "/api/stats", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d: %s", rec.Code, rec.Body)
	}
	var stats ledger.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.ThisMonth != 1.25 || stats.Transactions != 7 {
		t.Errorf("stats = %+v", stats)
	}

	rec = get(t, h, "/api/weekly", true)
	var weekly struct {
		Days  []ledger.DayCost `json:"days"`
		Total float64          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &weekly); err != nil {
		t.Fatal(err)
	}
	if len(weekly.Days) != 2 || weekly.Total != 0.75 {
		t.Errorf("weekly = %+v", weekly)
	}
}

func TestEntitiesQuery(t *testing.T) {
	ents := &fakeEntities{}
	h := newTestServer(t, ents).routes()

	rec := get(t, h, "/api/entities?target=todo&target=reminder&session=42&limit=500", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("entities = %d: %s", rec.Code, rec.Body)
	}
	if ents.gotSession != "42" || ents.gotLimit != maxEntities || len(ents.gotTargets) != 2 {
		t.Errorf("query passed through as session=%q targets=%v limit=%d", ents.gotSession, ents.gotTargets, ents.gotLimit)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/entities?target=shopping", http.StatusBadRequest},
		{"/api/entities?limit=0", http.StatusBadRequest},
		{"/api/entities?limit=abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := get(t, h, tt.path, true); rec.Code != tt.want {
			t.Errorf("%s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	ents.err = errors.New("disk gone")
	if rec := get(t, h, "/api/entities", true); rec.Code != http.StatusInternalServerError {
		t.Errorf("store failure = %d", rec.Code)
	}
}

func TestProvidersAndMetrics(t *testing.T) {
	h := newTestServer(t, &fakeEntities{}).routes()

	rec := get(t, h, "/api/providers", true)
	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if got := body["providers"]; len(got) != 2 || got[0] != "groq" {
		t.Errorf("providers = %v", got)
	}

	if rec := get(t, h, "/api/metrics", true); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &fakeEntities{}).routes()
	req := httptest.NewRequest(http.MethodPost, "/api/stats", nil)
	req.SetBasicAuth("me", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST = %d", rec.Code)
	}
}

func TestFailedLoginIsRateLimited(t *testing.T) {
	h := newTestServer(t, &fakeEntities{}).routes()

	bad := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	bad.SetBasicAuth("me", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, bad)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", rec.Code)
	}

	if rec := get(t, h, "/api/stats", true); rec.Code != http.StatusTooManyRequests {
		t.Errorf("after failure = %d, want 429", rec.Code)
	}
}

func TestRateLimiterExpires(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10 * time.Second)
	rl.now = func() time.Time { return now }

	rl.RecordFailure("1.2.3.4")
	if !rl.IsLimited("1.2.3.4") {
		t.Fatal("expected limited right after failure")
	}
	now = now.Add(11 * time.Second)
	if rl.IsLimited("1.2.3.4") {
		t.Error("limit should expire")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		configured, secret string
		want               bool
	}{
		{hash, "hunter2", true},
		{hash, "hunter3", false},
		{"plain", "plain", true},
		{"plain", "Plain", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := VerifyPassword(tt.configured, tt.secret); got != tt.want {
			t.Errorf("VerifyPassword(%q, %q) = %v", tt.configured, tt.secret, got)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	if got := clientIP(req); got != "10.0.0.5" {
		t.Errorf("remote = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	if got := clientIP(req); got != "9.9.9.9" {
		t.Errorf("xff = %q", got)
	}
}

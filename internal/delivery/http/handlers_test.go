package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/config"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/memory"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/middleware"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/ratelimit"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/security"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/usecase"
)

type stubMonitor struct{}

func (stubMonitor) Status() memory.Status {
	return memory.Status{Level: "warning", UsageMB: 210}
}

func newTestHandler(t *testing.T, mutate func(*config.Config)) (*Handler, *usecase.RoomManager) {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	tokens, err := security.NewTokenService(nil, cfg.TokenExpiry)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	rm := usecase.NewRoomManager(cfg, ratelimit.NewLimiter(cfg.RateRules), tokens)
	t.Cleanup(rm.Shutdown)
	return NewHandler(rm, stubMonitor{}, nil, false), rm
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}
}

func TestHandleStats(t *testing.T) {
	h, rm := newTestHandler(t, nil)
	if _, err := rm.CreateRoom("u1", "Alice", "203.0.113.1"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	w := httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest("GET", "/api/stats", nil))

	var stats usecase.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.ActiveRooms != 1 || stats.ActiveUsers != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	w = httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest("POST", "/api/stats", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	h, rm := newTestHandler(t, nil)
	view, err := rm.CreateRoom("u1", "Alice", "203.0.113.1")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	w := httptest.NewRecorder()
	h.HandleMetrics(w, httptest.NewRequest("GET", "/api/metrics", nil))

	body := w.Body.String()
	if strings.Contains(body, view.Code) {
		t.Error("metrics must not expose room codes")
	}

	var resp struct {
		ActiveRooms int `json:"activeRooms"`
		Memory      struct {
			Level string `json:"level"`
		} `json:"memory"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ActiveRooms != 1 || resp.Memory.Level != "warning" {
		t.Errorf("Unexpected metrics: %s", body)
	}
}

func TestCSRFFlow(t *testing.T) {
	h, rm := newTestHandler(t, nil)
	view, err := rm.CreateRoom("u1", "Alice", "203.0.113.1")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	// Issue token and session cookie
	w := httptest.NewRecorder()
	h.HandleCSRF(w, httptest.NewRequest("GET", "/api/csrf", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != middleware.SessionCookie || !cookies[0].HttpOnly {
		t.Fatalf("Expected session cookie, got %+v", cookies)
	}
	var issued struct {
		CSRFToken string `json:"csrfToken"`
	}
	json.Unmarshal(w.Body.Bytes(), &issued)
	if issued.CSRFToken == "" {
		t.Fatal("Expected csrf token")
	}

	protected := middleware.CSRFProtect(rm)(http.HandlerFunc(h.HandleRoomCheck))
	check := func(code, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/room/check", strings.NewReader(`{"code":"`+code+`"}`))
		req.AddCookie(cookies[0])
		if token != "" {
			req.Header.Set(middleware.CSRFHeader, token)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec
	}

	if rec := check(view.Code, ""); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without token, got %d", rec.Code)
	}

	rec := check(strings.ToLower(view.Code), issued.CSRFToken)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"exists":true`) {
		t.Errorf("Expected room to exist, got %d %s", rec.Code, rec.Body.String())
	}

	rec = check("NOSUCHROOM12", issued.CSRFToken)
	if !strings.Contains(rec.Body.String(), `"exists":false`) {
		t.Errorf("Expected missing room, got %s", rec.Body.String())
	}
}

func TestHandleCSRF_CookieLivesAsLongAsTokens(t *testing.T) {
	h, _ := newTestHandler(t, func(c *config.Config) {
		c.TokenExpiry = 2 * time.Hour
	})

	w := httptest.NewRecorder()
	h.HandleCSRF(w, httptest.NewRequest("GET", "/api/csrf", nil))

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Expected session cookie, got %+v", cookies)
	}
	if cookies[0].MaxAge != 7200 {
		t.Errorf("Expected MaxAge 7200, got %d", cookies[0].MaxAge)
	}
}

func TestHandleCSRF_ReusesSession(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest("GET", "/api/csrf", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: "existing"})
	w := httptest.NewRecorder()
	h.HandleCSRF(w, req)

	if len(w.Result().Cookies()) != 0 {
		t.Error("Existing session should not be replaced")
	}
}

func TestHandleRoomCheck_RateLimited(t *testing.T) {
	h, _ := newTestHandler(t, func(c *config.Config) {
		c.RateRules[ratelimit.ActionJoin] = ratelimit.Rule{Max: 1}
	})

	send := func() int {
		req := httptest.NewRequest("POST", "/api/room/check", strings.NewReader(`{"code":"X"}`))
		req.RemoteAddr = "198.51.100.7:4000"
		w := httptest.NewRecorder()
		h.HandleRoomCheck(w, req)
		return w.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", code)
	}
}

func TestHandleRoomCheck_BadBody(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.HandleRoomCheck(w, httptest.NewRequest("POST", "/api/room/check", strings.NewReader("not json")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

package aura

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"serotonyl.ru/aura-points/internal/common"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t, nil)
	r := gin.New()
	NewHandler(f.service).Register(r.Group("/api/v1"))
	return r, f
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func TestHandleAward(t *testing.T) {
	r, _ := newTestRouter(t)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/users/u1/awards",
		`{"activity":"journal_entry","proof":{"type":"journal_length","value":60},"unique_key":"j-1"}`)
	if w.Code != http.StatusOK || env.Code != codeOK {
		t.Fatalf("status=%d code=%d body=%s", w.Code, env.Code, w.Body.String())
	}
	var res AwardResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.Accepted || res.Points != 10 {
		t.Errorf("result = %+v", res)
	}

	w, env = doJSON(t, r, http.MethodPost, "/api/v1/users/u1/awards",
		`{"activity":"journal_entry","proof":{"type":"journal_length","value":60},"unique_key":"j-1"}`)
	if w.Code != http.StatusOK || env.Code != codeDuplicate {
		t.Errorf("duplicate: status=%d code=%d", w.Code, env.Code)
	}
}

func TestHandleAwardIgnoresMultiplier(t *testing.T) {
	r, _ := newTestRouter(t)

	_, env := doJSON(t, r, http.MethodPost, "/api/v1/users/u1/awards",
		`{"activity":"group_challenge_complete","multiplier":10}`)
	var res AwardResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Points != 30 {
		t.Errorf("points = %d, want 30", res.Points)
	}
}

func TestHandleAwardRejections(t *testing.T) {
	r, f := newTestRouter(t)

	tests := []struct {
		name     string
		body     string
		status   int
		wantCode int
	}{
		{"bad json", `{`, http.StatusBadRequest, codeBadRequest},
		{"missing activity", `{}`, http.StatusBadRequest, codeBadRequest},
		{"unknown", `{"activity":"dancing"}`, http.StatusOK, codeUnknownActivity},
		{"short journal", `{"activity":"journal_entry","proof":{"type":"journal_length","value":10}}`, http.StatusOK, codeValidationFailed},
		{"level up from client", `{"activity":"level_up"}`, http.StatusOK, codeValidationFailed},
		{"milestone from client", `{"activity":"streak_milestone","proof":{"type":"streak_count","value":700}}`, http.StatusOK, codeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := doJSON(t, r, http.MethodPost, "/api/v1/users/u1/awards", tt.body)
			if w.Code != tt.status || env.Code != tt.wantCode {
				t.Errorf("status=%d code=%d, want %d/%d", w.Code, env.Code, tt.status, tt.wantCode)
			}
		})
	}

	if _, err := f.store.GetStats(context.Background(), "u1"); !errors.Is(err, common.ErrUserNotFound) {
		t.Fatalf("rejected awards created stats: %v", err)
	}

	f.store.FailCommit = errors.New("db down")
	w, env := doJSON(t, r, http.MethodPost, "/api/v1/users/u1/awards", `{"activity":"social_post"}`)
	if w.Code != http.StatusServiceUnavailable || env.Code != codeStoreFailed {
		t.Errorf("store failure: status=%d code=%d", w.Code, env.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestHandleStatsAndTransactions(t *testing.T) {
	r, _ := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/api/v1/users/u1/awards", `{"activity":"social_post"}`)
	doJSON(t, r, http.MethodPost, "/api/v1/users/u1/awards", `{"activity":"weekly_quest_complete"}`)

	_, env := doJSON(t, r, http.MethodGet, "/api/v1/users/u1/stats", "")
	var stats UserStats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalPoints != 45 || stats.Level != 1 {
		t.Errorf("stats = %+v", stats)
	}

	_, env = doJSON(t, r, http.MethodGet, "/api/v1/users/u1/transactions?limit=1", "")
	var page struct {
		Transactions []PointTransaction `json:"transactions"`
		Count        int                `json:"count"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if page.Count != 1 || page.Transactions[0].Activity != ActivityWeeklyQuest {
		t.Errorf("page = %+v", page)
	}

	w, _ := doJSON(t, r, http.MethodGet, "/api/v1/users/u1/transactions?limit=abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestHandleActivities(t *testing.T) {
	r, _ := newTestRouter(t)

	_, env := doJSON(t, r, http.MethodGet, "/api/v1/activities", "")
	var data struct {
		Activities []activityView `json:"activities"`
		Ceiling    int64          `json:"daily_point_ceiling"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Activities) != len(DefaultRules()) || data.Ceiling != DefaultDailyPointCeiling {
		t.Errorf("data = %+v", data)
	}
}

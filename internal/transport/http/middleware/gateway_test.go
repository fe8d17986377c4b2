package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/usecase"
)

func newDenyContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

// A store failure denies before any counter window is reached, so the 429
// body must not render the zero time as reset_at.
func TestRejectVerdict_StoreFailureOmitsEmptyWindow(t *testing.T) {
	c, w := newDenyContext(t)

	rejectVerdict(c, usecase.Verdict{Reason: usecase.DenyStoreUnavailable})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	body := decodeBody(t, w)
	if v, ok := body["reset_at"]; ok {
		t.Fatalf("reset_at rendered without a window: %v", v)
	}
	if ra, _ := body["retry_after"].(float64); ra < 0 {
		t.Fatalf("retry_after = %v", ra)
	}
	if got := w.Header().Get("Retry-After"); got != "" {
		t.Fatalf("Retry-After header set without a window: %q", got)
	}
}

func TestRejectVerdict_RateLimitedCarriesWindow(t *testing.T) {
	c, w := newDenyContext(t)

	resetAt := time.Now().UTC().Add(30 * time.Minute)
	rejectVerdict(c, usecase.Verdict{
		Reason: usecase.DenyRateLimited,
		Rate: domain.RateDecision{
			Limit:   domain.Per(10, time.Hour),
			ResetAt: resetAt,
		},
	})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	body := decodeBody(t, w)
	if body["reset_at"] != resetAt.Format(time.RFC3339) {
		t.Fatalf("reset_at = %v, want %s", body["reset_at"], resetAt.Format(time.RFC3339))
	}
	if ra, _ := body["retry_after"].(float64); ra <= 0 {
		t.Fatalf("retry_after = %v, want > 0", ra)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After header missing")
	}
}

func TestRejectVerdict_LockedUsesLockoutBody(t *testing.T) {
	c, w := newDenyContext(t)

	until := time.Now().UTC().Add(15 * time.Minute)
	rejectVerdict(c, usecase.Verdict{
		Reason:  usecase.DenyLocked,
		Lockout: domain.LockoutStatus{Locked: true, Until: &until, RequiresCaptcha: true},
	})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	body := decodeBody(t, w)
	if body["requires_captcha"] != true {
		t.Fatalf("requires_captcha = %v", body["requires_captcha"])
	}
	if body["locked_until"] != until.Format(time.RFC3339) {
		t.Fatalf("locked_until = %v", body["locked_until"])
	}
	if retryIn, _ := body["retry_in_minutes"].(float64); retryIn < 1 {
		t.Fatalf("retry_in_minutes = %v", retryIn)
	}
}

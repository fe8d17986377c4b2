package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/usecase"
)

// GatewayResult is stashed in the gin context so handlers can reuse the
// verdict without re-running the checks.
const GatewayResultKey = "gateway_verdict"

// rateLimitedResponse is the 429 body for quota exhaustion. reset_at is
// absent when no counter window was reached, as on a store failure before
// the quota check.
type rateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
	ResetAt    string `json:"reset_at,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

// suspendedResponse is the 403 body for suspended accounts.
type suspendedResponse struct {
	Error          string     `json:"error"`
	Reason         string     `json:"reason"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
	TraceID        string     `json:"trace_id,omitempty"`
}

// Authorize runs the gateway checks for the endpoint class. When requireAuth
// is set, a missing or invalid bearer token rejects with 401; otherwise the
// request falls under the stricter per-IP quota table.
func Authorize(gateway *usecase.AuthorizationGateway, class domain.EndpointClass, requireAuth bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if requireAuth && token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "missing access token",
				"trace_id": GetTraceID(c),
			})
			return
		}

		verdict, err := gateway.Authorize(c.Request.Context(), usecase.GatewayRequest{
			AccessToken: token,
			IP:          c.ClientIP(),
			Class:       class,
		})
		if err != nil && verdict.Reason == usecase.DenyUnauthorized {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "invalid access token",
				"trace_id": GetTraceID(c),
			})
			return
		}

		applyRateHeaders(c, verdict.Rate)

		if !verdict.Allowed {
			rejectVerdict(c, verdict)
			return
		}

		if verdict.Identity != nil {
			c.Set(IdentityKey, verdict.Identity)
		}
		c.Set(GatewayResultKey, verdict)

		c.Next()
	}
}

// rejectVerdict writes the response for a denied verdict. Store outages
// surface as 429: failing closed on an availability check, not open.
func rejectVerdict(c *gin.Context, verdict usecase.Verdict) {
	traceID := GetTraceID(c)

	switch verdict.Reason {
	case usecase.DenySuspended:
		resp := suspendedResponse{
			Error:   "account suspended",
			TraceID: traceID,
		}
		if verdict.Suspension != nil {
			resp.Reason = verdict.Suspension.Reason
			resp.SuspendedUntil = verdict.Suspension.SuspendedUntil
		}
		c.AbortWithStatusJSON(http.StatusForbidden, resp)

	case usecase.DenyUnauthorized:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":    "invalid access token",
			"trace_id": traceID,
		})

	case usecase.DenyLocked:
		RespondLocked(c, verdict.Lockout)

	default:
		resp := rateLimitedResponse{
			Error:   "rate limit exceeded",
			TraceID: traceID,
		}
		if !verdict.Rate.ResetAt.IsZero() {
			retryAfter := int(verdict.Rate.RetryAfter(time.Now().UTC()).Seconds())
			if retryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(retryAfter))
			}
			resp.RetryAfter = retryAfter
			resp.ResetAt = verdict.Rate.ResetAt.UTC().Format(time.RFC3339)
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
	}
}

// RespondLocked writes the 429 lockout body. Shared with the credential
// handlers, which run the lockout check after body binding.
func RespondLocked(c *gin.Context, status domain.LockoutStatus) {
	body := gin.H{
		"error":            "too many failed attempts",
		"requires_captcha": status.RequiresCaptcha,
		"trace_id":         GetTraceID(c),
	}
	if status.Until != nil {
		retryIn := int(time.Until(*status.Until).Minutes())
		if retryIn < 1 {
			retryIn = 1
		}
		body["locked_until"] = status.Until.UTC().Format(time.RFC3339)
		body["retry_in_minutes"] = retryIn
		c.Header("Retry-After", strconv.Itoa(retryIn*60))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
}

// IdentityFromContext returns the identity resolved by the gateway.
func IdentityFromContext(c *gin.Context) (*domain.Identity, bool) {
	v, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*domain.Identity)
	return identity, ok && identity != nil
}

func applyRateHeaders(c *gin.Context, rate domain.RateDecision) {
	if rate.Limit.Unlimited || rate.Limit.Count <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(rate.Limit.Count))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(rate.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(rate.ResetAt.Unix(), 10))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

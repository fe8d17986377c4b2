package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/logger"
	"github.com/framehost/authcore/internal/repository"
)

// DenyReason names why the gateway refused a request.
type DenyReason string

const (
	DenyNone             DenyReason = ""
	DenyRateLimited      DenyReason = "rate_limited"
	DenyLocked           DenyReason = "locked"
	DenySuspended        DenyReason = "suspended"
	DenyUnauthorized     DenyReason = "unauthorized"
	DenyContentFlagged   DenyReason = "content_flagged"
	DenyStoreUnavailable DenyReason = "store_unavailable"
)

// GatewayRequest describes one inbound request to authorize.
type GatewayRequest struct {
	// AccessToken is empty for anonymous endpoints; the request is then
	// subject to IP quotas instead of tier quotas.
	AccessToken string
	IP          string
	Class       domain.EndpointClass
	// CredentialID is the identifier under lockout accounting, set only for
	// credential-submission endpoints.
	CredentialID string
	AttemptType  domain.AttemptType
}

// Verdict is the gateway's decision plus the metadata handlers surface to
// clients: quota headers, lockout bodies, suspension bodies.
type Verdict struct {
	Allowed    bool
	Reason     DenyReason
	Identity   *domain.Identity
	Rate       domain.RateDecision
	Lockout    domain.LockoutStatus
	Suspension *domain.Suspension
}

func deny(reason DenyReason) Verdict {
	return Verdict{Reason: reason}
}

// Values for the decision counter's check label. A credential endpoint runs
// both the request pass and the post-binding credential check; the label
// keeps those samples apart.
const (
	checkRequest    = "request"
	checkCredential = "credential"
	checkUpload     = "upload"
)

// GatewayMetrics counts gateway decisions by check, outcome, and reason.
type GatewayMetrics struct {
	Decisions *prometheus.CounterVec
}

// NewGatewayMetrics constructs and registers the decision counter.
func NewGatewayMetrics(reg prometheus.Registerer) (*GatewayMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authcore",
		Subsystem: "gateway",
		Name:      "decisions_total",
		Help:      "Total gateway authorization decisions partitioned by check, outcome, and reason.",
	}, []string{"check", "outcome", "reason"})

	if err := reg.Register(decisions); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				decisions = existing
			} else {
				return nil, fmt.Errorf("existing decisions collector has unexpected type %T", already.ExistingCollector)
			}
		} else {
			return nil, fmt.Errorf("register decisions collector: %w", err)
		}
	}

	return &GatewayMetrics{Decisions: decisions}, nil
}

func (m *GatewayMetrics) record(check string, allowed bool, reason DenyReason) {
	if m == nil || m.Decisions == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.Decisions.With(prometheus.Labels{
		"check":   check,
		"outcome": outcome,
		"reason":  string(reason),
	}).Inc()
}

// AuthorizationGateway composes the per-request checks every external-facing
// handler runs: quota, lockout, suspension, and for upload bodies the content
// scan. Checks run cheapest first and short-circuit; store failures deny
// rather than allow.
type AuthorizationGateway struct {
	tokens      *TokenService
	limiter     *RateLimiter
	lockouts    *LockoutTracker
	moderator   *ContentModerator
	identities  port.IdentityRepository
	suspensions port.SuspensionRepository
	metrics     *GatewayMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthorizationGateway constructs an AuthorizationGateway instance.
func NewAuthorizationGateway(
	tokens *TokenService,
	limiter *RateLimiter,
	lockouts *LockoutTracker,
	moderator *ContentModerator,
	identities port.IdentityRepository,
	suspensions port.SuspensionRepository,
	metrics *GatewayMetrics,
	log *zap.Logger,
) *AuthorizationGateway {
	if log == nil {
		log = zap.NewNop()
	}

	gateway := &AuthorizationGateway{
		tokens:      tokens,
		limiter:     limiter,
		lockouts:    lockouts,
		moderator:   moderator,
		identities:  identities,
		suspensions: suspensions,
		metrics:     metrics,
		logger:      log,
	}
	gateway.now = func() time.Time { return time.Now().UTC() }
	return gateway
}

// WithClock overrides the gateway clock for deterministic tests.
func (g *AuthorizationGateway) WithClock(clock func() time.Time) *AuthorizationGateway {
	if clock != nil {
		g.now = clock
	}
	return g
}

// Authorize runs the ordered checks for a request. Counter and lockout writes
// happen on a context detached from the client's, so abandoning the
// connection mid-request cannot skip quota accounting.
func (g *AuthorizationGateway) Authorize(ctx context.Context, req GatewayRequest) (Verdict, error) {
	// Side effects survive client disconnects.
	effects := context.WithoutCancel(ctx)

	verdict, err := g.authorize(ctx, effects, req)
	g.metrics.record(checkRequest, verdict.Allowed, verdict.Reason)
	return verdict, err
}

func (g *AuthorizationGateway) authorize(ctx, effects context.Context, req GatewayRequest) (Verdict, error) {
	var identity *domain.Identity

	if req.AccessToken != "" {
		claims, err := g.tokens.Verify(req.AccessToken)
		if err != nil {
			return deny(DenyUnauthorized), err
		}
		resolved, err := g.identities.GetByID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return deny(DenyUnauthorized), nil
			}
			return deny(DenyStoreUnavailable), fmt.Errorf("resolve identity: %w", err)
		}
		identity = resolved
	}

	var rate domain.RateDecision
	var err error
	if identity != nil {
		rate, err = g.limiter.Reserve(effects, identity.ID, req.Class, identity.Tier)
	} else {
		rate, err = g.limiter.ReserveIP(effects, req.IP, req.Class)
	}
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			verdict := deny(DenyStoreUnavailable)
			verdict.Rate = rate
			return verdict, nil
		}
		return deny(DenyStoreUnavailable), err
	}
	if !rate.Allowed {
		verdict := deny(DenyRateLimited)
		verdict.Identity = identity
		verdict.Rate = rate
		return verdict, nil
	}

	if req.CredentialID != "" {
		status, err := g.lockouts.CheckLocked(effects, req.CredentialID, req.AttemptType)
		if err != nil {
			verdict := deny(DenyStoreUnavailable)
			verdict.Rate = rate
			return verdict, nil
		}
		if status.Locked {
			g.logger.Info("attempt rejected while locked",
				zap.String("identifier", logger.MaskEmail(req.CredentialID)),
				zap.String("attempt_type", string(req.AttemptType)),
			)
			verdict := deny(DenyLocked)
			verdict.Rate = rate
			verdict.Lockout = status
			return verdict, nil
		}
	}

	if identity != nil {
		suspension, err := g.suspensions.GetActive(ctx, identity.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			verdict := deny(DenyStoreUnavailable)
			verdict.Rate = rate
			return verdict, fmt.Errorf("check suspension: %w", err)
		}
		if suspension != nil && suspension.InEffect(g.now()) {
			verdict := deny(DenySuspended)
			verdict.Identity = identity
			verdict.Rate = rate
			verdict.Suspension = suspension
			return verdict, nil
		}
	}

	return Verdict{
		Allowed:  true,
		Identity: identity,
		Rate:     rate,
	}, nil
}

// CheckCredential runs the lockout check for a credential-submission
// request. It sits after body binding because the identifier lives in the
// body; quota checks have already run by then. Store failures deny.
func (g *AuthorizationGateway) CheckCredential(ctx context.Context, identifier string, attemptType domain.AttemptType) (Verdict, error) {
	status, err := g.lockouts.CheckLocked(context.WithoutCancel(ctx), identifier, attemptType)
	if err != nil {
		g.metrics.record(checkCredential, false, DenyStoreUnavailable)
		verdict := deny(DenyStoreUnavailable)
		verdict.Lockout = status
		return verdict, nil
	}
	if status.Locked {
		g.metrics.record(checkCredential, false, DenyLocked)
		verdict := deny(DenyLocked)
		verdict.Lockout = status
		return verdict, nil
	}

	verdict := Verdict{Allowed: true, Lockout: status}
	g.metrics.record(checkCredential, true, DenyNone)
	return verdict, nil
}

// ScreenUpload runs the body-dependent content scan, the one check that
// cannot happen before body receipt. Flagged results are recorded and the
// upload is denied; clean results pass through.
func (g *AuthorizationGateway) ScreenUpload(ctx context.Context, identityID, imageID, filename, declaredMime string, data []byte) (domain.ScanResult, Verdict, error) {
	result := g.moderator.ScanUpload(filename, declaredMime, data)

	if !result.Flagged() {
		verdict := Verdict{Allowed: true}
		g.metrics.record(checkUpload, true, DenyNone)
		return result, verdict, nil
	}

	// Recording must not be skippable by a client disconnect either.
	effects := context.WithoutCancel(ctx)
	if err := g.moderator.RecordFlags(effects, identityID, imageID, result); err != nil {
		g.logger.Error("record upload flags failed",
			zap.String("identity_id", identityID),
			zap.Error(err),
		)
	}

	g.metrics.record(checkUpload, false, DenyContentFlagged)
	return result, deny(DenyContentFlagged), nil
}

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/repository"
)

type fakeIdentityRepository struct {
	byID    map[string]domain.Identity
	byEmail map[string]domain.Identity
	failWith error
}

func newFakeIdentityRepository(identities ...domain.Identity) *fakeIdentityRepository {
	repo := &fakeIdentityRepository{
		byID:    map[string]domain.Identity{},
		byEmail: map[string]domain.Identity{},
	}
	for _, identity := range identities {
		repo.byID[identity.ID] = identity
		repo.byEmail[identity.Email] = identity
	}
	return repo
}

func (r *fakeIdentityRepository) Create(_ context.Context, identity domain.Identity) error {
	if r.failWith != nil {
		return r.failWith
	}
	if _, ok := r.byEmail[identity.Email]; ok {
		return repository.ErrDuplicate
	}
	r.byID[identity.ID] = identity
	r.byEmail[identity.Email] = identity
	return nil
}

func (r *fakeIdentityRepository) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	identity, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := identity
	return &copy, nil
}

func (r *fakeIdentityRepository) GetByEmail(_ context.Context, email string) (*domain.Identity, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	identity, ok := r.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := identity
	return &copy, nil
}

func (r *fakeIdentityRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	identity, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.PasswordHash = passwordHash
	r.byID[id] = identity
	r.byEmail[identity.Email] = identity
	return nil
}

func (r *fakeIdentityRepository) MarkEmailVerified(_ context.Context, id string) error {
	identity, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.EmailVerified = true
	r.byID[id] = identity
	r.byEmail[identity.Email] = identity
	return nil
}

func (r *fakeIdentityRepository) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	identity, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.LastLogin = &at
	r.byID[id] = identity
	r.byEmail[identity.Email] = identity
	return nil
}

type gatewayFixture struct {
	gateway     *AuthorizationGateway
	tokens      *TokenService
	tierStore   *fakeCounterStore
	ipStore     *fakeCounterStore
	attempts    *fakeAttemptRepository
	identities  *fakeIdentityRepository
	suspensions *fakeSuspensionRepository
	flags       *fakeFlagRepository
}

func newGatewayFixture(t *testing.T, identities ...domain.Identity) *gatewayFixture {
	t.Helper()

	log := zaptest.NewLogger(t)
	f := &gatewayFixture{
		tierStore:   newFakeCounterStore(),
		ipStore:     newFakeCounterStore(),
		attempts:    newFakeAttemptRepository(),
		identities:  newFakeIdentityRepository(identities...),
		suspensions: newFakeSuspensionRepository(),
		flags:       newFakeFlagRepository(),
	}

	f.tokens = newTestTokenService(t, newFakeTokenRepository(), &recordingPublisher{})
	limiter := NewRateLimiter(f.tierStore, f.ipStore, time.Second, log)
	lockouts := NewLockoutTracker(f.attempts, nil, log)
	moderator := NewContentModerator(f.flags, &fakeUploadRepository{}, f.suspensions, nil, 512, log)

	f.gateway = NewAuthorizationGateway(f.tokens, limiter, lockouts, moderator, f.identities, f.suspensions, nil, log)
	return f
}

func (f *gatewayFixture) accessToken(t *testing.T, identity domain.Identity) string {
	t.Helper()
	pair, err := f.tokens.IssuePair(context.Background(), identity)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	return pair.AccessToken
}

func TestAuthorizationGateway_AllowsAuthenticatedRequest(t *testing.T) {
	identity := testIdentity()
	f := newGatewayFixture(t, identity)

	verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		AccessToken: f.accessToken(t, identity),
		IP:          "203.0.113.7",
		Class:       domain.EndpointAPI,
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}

	if !verdict.Allowed {
		t.Fatalf("verdict = %+v", verdict)
	}
	if verdict.Identity == nil || verdict.Identity.ID != identity.ID {
		t.Fatalf("identity not resolved: %+v", verdict.Identity)
	}
	if !verdict.Rate.Allowed || verdict.Rate.Remaining != 49999 {
		t.Fatalf("rate = %+v", verdict.Rate)
	}
	if len(f.ipStore.counts) != 0 {
		t.Fatalf("authenticated request must bill the tier table, not the IP table")
	}
}

func TestAuthorizationGateway_AnonymousBillsIPTable(t *testing.T) {
	f := newGatewayFixture(t)

	verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		IP:    "203.0.113.7",
		Class: domain.EndpointAuth,
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}

	if !verdict.Allowed {
		t.Fatalf("verdict = %+v", verdict)
	}
	if len(f.ipStore.counts) != 1 || len(f.tierStore.counts) != 0 {
		t.Fatalf("anonymous request must bill the IP table only")
	}
}

func TestAuthorizationGateway_InvalidTokenDenied(t *testing.T) {
	f := newGatewayFixture(t)

	verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		AccessToken: "not-a-jwt",
		IP:          "203.0.113.7",
		Class:       domain.EndpointAPI,
	})
	if err == nil {
		t.Fatalf("expected a verification error")
	}
	if verdict.Allowed || verdict.Reason != DenyUnauthorized {
		t.Fatalf("verdict = %+v", verdict)
	}
	// Unauthorized requests are rejected before touching either quota table.
	if len(f.tierStore.counts) != 0 || len(f.ipStore.counts) != 0 {
		t.Fatalf("rejected token must not consume quota")
	}
}

func TestAuthorizationGateway_RateLimitShortCircuitsLockout(t *testing.T) {
	f := newGatewayFixture(t)

	// Exhaust the anonymous auth quota.
	for i := 0; i < 10; i++ {
		verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
			IP:           "203.0.113.7",
			Class:        domain.EndpointAuth,
			CredentialID: "bob@example.com",
			AttemptType:  domain.AttemptLogin,
		})
		if err != nil || !verdict.Allowed {
			t.Fatalf("request %d: verdict=%+v err=%v", i, verdict, err)
		}
	}

	f.attempts.failWith = errors.New("must not be consulted")

	verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		IP:           "203.0.113.7",
		Class:        domain.EndpointAuth,
		CredentialID: "bob@example.com",
		AttemptType:  domain.AttemptLogin,
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyRateLimited {
		t.Fatalf("verdict = %+v", verdict)
	}
	if verdict.Rate.RetryAfter(time.Now().UTC()) <= 0 {
		t.Fatalf("denied decision must carry a retry hint, got %+v", verdict.Rate)
	}
}

func TestAuthorizationGateway_LockedCredentialDenied(t *testing.T) {
	f := newGatewayFixture(t)

	lockouts := NewLockoutTracker(f.attempts, nil, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		if _, err := lockouts.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		IP:           "203.0.113.7",
		Class:        domain.EndpointAuth,
		CredentialID: "bob@example.com",
		AttemptType:  domain.AttemptLogin,
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyLocked {
		t.Fatalf("verdict = %+v", verdict)
	}
	if !verdict.Lockout.Locked || verdict.Lockout.Until == nil {
		t.Fatalf("lockout status = %+v", verdict.Lockout)
	}
}

func TestAuthorizationGateway_SuspendedIdentityDenied(t *testing.T) {
	identity := testIdentity()
	f := newGatewayFixture(t, identity)

	f.suspensions.active[identity.ID] = domain.Suspension{
		ID:         "susp-1",
		IdentityID: identity.ID,
		Reason:     "malware upload",
		Active:     true,
	}

	verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		AccessToken: f.accessToken(t, identity),
		IP:          "203.0.113.7",
		Class:       domain.EndpointAPI,
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenySuspended {
		t.Fatalf("verdict = %+v", verdict)
	}
	if verdict.Suspension == nil || verdict.Suspension.Reason != "malware upload" {
		t.Fatalf("suspension = %+v", verdict.Suspension)
	}
}

func TestAuthorizationGateway_ExpiredSuspensionAllows(t *testing.T) {
	identity := testIdentity()
	f := newGatewayFixture(t, identity)

	past := time.Now().UTC().Add(-time.Hour)
	f.suspensions.active[identity.ID] = domain.Suspension{
		ID:             "susp-1",
		IdentityID:     identity.ID,
		Active:         true,
		SuspendedUntil: &past,
	}

	verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		AccessToken: f.accessToken(t, identity),
		IP:          "203.0.113.7",
		Class:       domain.EndpointAPI,
	})
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expired suspension must not deny, verdict = %+v", verdict)
	}
}

func TestAuthorizationGateway_StoreFailureFailsClosed(t *testing.T) {
	f := newGatewayFixture(t)
	f.ipStore.failWith = errors.New("connection refused")

	verdict, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		IP:    "203.0.113.7",
		Class: domain.EndpointGeneral,
	})
	if err != nil {
		t.Fatalf("store failure is a deny, not an error: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyStoreUnavailable {
		t.Fatalf("verdict = %+v", verdict)
	}
}

func TestAuthorizationGateway_CheckCredential(t *testing.T) {
	f := newGatewayFixture(t)

	verdict, err := f.gateway.CheckCredential(context.Background(), "bob@example.com", domain.AttemptLogin)
	if err != nil {
		t.Fatalf("CheckCredential returned error: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("clear identifier must pass, verdict = %+v", verdict)
	}

	lockouts := NewLockoutTracker(f.attempts, nil, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		if _, err := lockouts.RecordFailure(context.Background(), "bob@example.com", domain.AttemptLogin); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	verdict, err = f.gateway.CheckCredential(context.Background(), "bob@example.com", domain.AttemptLogin)
	if err != nil {
		t.Fatalf("CheckCredential returned error: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyLocked {
		t.Fatalf("verdict = %+v", verdict)
	}
}

func TestAuthorizationGateway_ScreenUpload(t *testing.T) {
	f := newGatewayFixture(t)

	result, verdict, err := f.gateway.ScreenUpload(context.Background(), "user-1", "image-1", "photo.jpg", "image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0})
	if err != nil {
		t.Fatalf("ScreenUpload returned error: %v", err)
	}
	if !verdict.Allowed || result.Sniffed != domain.MimeJPEG {
		t.Fatalf("clean upload rejected: verdict=%+v result=%+v", verdict, result)
	}
	if len(f.flags.created) != 0 {
		t.Fatalf("clean upload must not record flags")
	}

	_, verdict, err = f.gateway.ScreenUpload(context.Background(), "user-1", "image-2", "photo.jpg", "image/jpeg", []byte{0x4D, 0x5A, 0x90, 0x00})
	if err != nil {
		t.Fatalf("ScreenUpload returned error: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyContentFlagged {
		t.Fatalf("executable upload passed: %+v", verdict)
	}
	if len(f.flags.created) == 0 {
		t.Fatalf("flagged upload must record flags")
	}
	if len(f.suspensions.created) != 1 {
		t.Fatalf("executable at 0.95 must suspend the uploader")
	}
}

// A login request runs the request pass and then the credential check. Each
// records exactly one sample under its own check label, so the counter stays
// one-per-check rather than two request decisions.
func TestAuthorizationGateway_MetricsOneSamplePerCheck(t *testing.T) {
	f := newGatewayFixture(t)

	reg := prometheus.NewRegistry()
	metrics, err := NewGatewayMetrics(reg)
	if err != nil {
		t.Fatalf("NewGatewayMetrics: %v", err)
	}
	f.gateway.metrics = metrics

	if _, err := f.gateway.Authorize(context.Background(), GatewayRequest{
		IP:    "198.51.100.9",
		Class: domain.EndpointAuth,
	}); err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if _, err := f.gateway.CheckCredential(context.Background(), "alice@example.com", domain.AttemptLogin); err != nil {
		t.Fatalf("CheckCredential returned error: %v", err)
	}

	if got := testutil.ToFloat64(metrics.Decisions.WithLabelValues(checkRequest, "allowed", "")); got != 1 {
		t.Fatalf("request samples = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Decisions.WithLabelValues(checkCredential, "allowed", "")); got != 1 {
		t.Fatalf("credential samples = %v, want 1", got)
	}

	if _, _, err := f.gateway.ScreenUpload(context.Background(), "user-1", "image-1", "photo.jpg", "image/jpeg", []byte{0x4D, 0x5A, 0x90, 0x00}); err != nil {
		t.Fatalf("ScreenUpload returned error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.Decisions.WithLabelValues(checkUpload, "denied", string(DenyContentFlagged))); got != 1 {
		t.Fatalf("upload samples = %v, want 1", got)
	}
}

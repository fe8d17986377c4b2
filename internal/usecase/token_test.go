package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/infra/config"
	"github.com/framehost/authcore/internal/infra/security"
	"github.com/framehost/authcore/internal/repository"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeTokenRepository struct {
	mu       sync.Mutex
	byHash   map[string]domain.RefreshToken
	created  []domain.RefreshToken
	revoked  map[string]bool
	families []string

	resets        map[string]domain.PasswordResetToken
	verifications map[string]domain.VerificationToken
}

func newFakeTokenRepository() *fakeTokenRepository {
	return &fakeTokenRepository{
		byHash:        map[string]domain.RefreshToken{},
		revoked:       map[string]bool{},
		resets:        map[string]domain.PasswordResetToken{},
		verifications: map[string]domain.VerificationToken{},
	}
}

func (r *fakeTokenRepository) CreateRefreshToken(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[token.TokenHash] = token
	r.created = append(r.created, token)
	return nil
}

func (r *fakeTokenRepository) GetRefreshTokenByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := record
	return &copy, nil
}

func (r *fakeTokenRepository) ConsumeRefreshToken(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, record := range r.byHash {
		if record.ID != id {
			continue
		}
		if record.UsedAt != nil || record.RevokedAt != nil {
			return false, nil
		}
		record.UsedAt = &at
		record.RevokedAt = &at
		r.byHash[hash] = record
		return true, nil
	}
	return false, nil
}

func (r *fakeTokenRepository) RevokeRefreshTokensByFamily(_ context.Context, familyID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families = append(r.families, familyID)
	count := 0
	now := time.Now().UTC()
	for hash, record := range r.byHash {
		if record.FamilyID == familyID && record.RevokedAt == nil {
			record.RevokedAt = &now
			r.byHash[hash] = record
			count++
		}
	}
	return count, nil
}

func (r *fakeTokenRepository) RevokeRefreshTokensForUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	now := time.Now().UTC()
	for hash, record := range r.byHash {
		if record.UserID == userID && record.RevokedAt == nil {
			record.RevokedAt = &now
			r.byHash[hash] = record
			count++
		}
	}
	r.revoked[userID] = true
	return count, nil
}

func (r *fakeTokenRepository) CreatePasswordReset(_ context.Context, token domain.PasswordResetToken) error {
	r.resets[token.TokenHash] = token
	return nil
}

func (r *fakeTokenRepository) GetPasswordResetByHash(_ context.Context, hash string) (*domain.PasswordResetToken, error) {
	record, ok := r.resets[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := record
	return &copy, nil
}

func (r *fakeTokenRepository) ConsumePasswordReset(_ context.Context, id string, at time.Time) error {
	for hash, record := range r.resets {
		if record.ID == id {
			record.UsedAt = &at
			r.resets[hash] = record
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeTokenRepository) CreateVerification(_ context.Context, token domain.VerificationToken) error {
	r.verifications[token.TokenHash] = token
	return nil
}

func (r *fakeTokenRepository) GetVerificationByHash(_ context.Context, hash string) (*domain.VerificationToken, error) {
	record, ok := r.verifications[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := record
	return &copy, nil
}

func (r *fakeTokenRepository) ConsumeVerification(_ context.Context, id string, at time.Time) error {
	for hash, record := range r.verifications {
		if record.ID == id {
			record.UsedAt = &at
			r.verifications[hash] = record
			return nil
		}
	}
	return repository.ErrNotFound
}

type recordingPublisher struct {
	mu             sync.Mutex
	contentFlagged []domain.ContentFlaggedEvent
	locked         []domain.AccountLockedEvent
	suspended      []domain.SuspensionCreatedEvent
	familyRevoked  []domain.TokenFamilyRevokedEvent
}

func (p *recordingPublisher) PublishContentFlagged(_ context.Context, event domain.ContentFlaggedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contentFlagged = append(p.contentFlagged, event)
	return nil
}

func (p *recordingPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = append(p.locked, event)
	return nil
}

func (p *recordingPublisher) PublishSuspensionCreated(_ context.Context, event domain.SuspensionCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended = append(p.suspended, event)
	return nil
}

func (p *recordingPublisher) PublishTokenFamilyRevoked(_ context.Context, event domain.TokenFamilyRevokedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.familyRevoked = append(p.familyRevoked, event)
	return nil
}

func newTestTokenService(t *testing.T, repo *fakeTokenRepository, events *recordingPublisher) *TokenService {
	t.Helper()

	cfg := &config.AppConfig{
		App: config.AppSettings{Name: "authcore", Env: "test"},
		JWT: config.JWTSettings{
			Secret:               testSecret,
			AccessTokenTTL:       time.Hour,
			RefreshTokenTTL:      30 * 24 * time.Hour,
			PasswordResetTTL:     time.Hour,
			EmailVerificationTTL: 24 * time.Hour,
		},
	}

	signer, err := security.NewJWTSigner(cfg.JWT.Secret, cfg.App.Name, cfg.JWT.AccessTokenTTL)
	if err != nil {
		t.Fatalf("NewJWTSigner: %v", err)
	}

	return NewTokenService(cfg, signer, repo, events, zaptest.NewLogger(t))
}

func testIdentity() domain.Identity {
	return domain.Identity{
		ID:    "user-1",
		Email: "alice@example.com",
		Tier:  domain.TierPro,
	}
}

func TestTokenService_IssuePair(t *testing.T) {
	repo := newFakeTokenRepository()
	service := newTestTokenService(t, repo, &recordingPublisher{})

	issued := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	service.WithClock(fixedClock(issued))

	pair, err := service.IssuePair(context.Background(), testIdentity())
	if err != nil {
		t.Fatalf("IssuePair returned error: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens to be issued")
	}
	if got := int(pair.ExpiresAt.Sub(issued).Seconds()); got != 3600 {
		t.Fatalf("access token lifetime = %ds, want 3600", got)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one stored refresh token, got %d", len(repo.created))
	}
	stored := repo.created[0]
	if stored.TokenHash == pair.RefreshToken {
		t.Fatalf("refresh token must be stored hashed, not raw")
	}
	if stored.FamilyID == "" {
		t.Fatalf("a fresh issuance must start a family")
	}
	if want := issued.Add(30 * 24 * time.Hour); !stored.ExpiresAt.Equal(want) {
		t.Fatalf("refresh expiry = %v, want %v", stored.ExpiresAt, want)
	}

	claims, err := service.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.UserID != "user-1" || claims.Tier != string(domain.TierPro) {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenService_RotateIssuesSuccessorInSameFamily(t *testing.T) {
	repo := newFakeTokenRepository()
	service := newTestTokenService(t, repo, &recordingPublisher{})

	identity := testIdentity()
	pair, err := service.IssuePair(context.Background(), identity)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	family := repo.created[0].FamilyID

	next, err := service.Rotate(context.Background(), pair.RefreshToken, identity)
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatalf("rotation must mint a new refresh token")
	}

	if len(repo.created) != 2 {
		t.Fatalf("expected successor token to be stored")
	}
	if repo.created[1].FamilyID != family {
		t.Fatalf("successor family = %s, want %s", repo.created[1].FamilyID, family)
	}
}

func TestTokenService_RotateReuseRevokesFamily(t *testing.T) {
	repo := newFakeTokenRepository()
	events := &recordingPublisher{}
	service := newTestTokenService(t, repo, events)

	identity := testIdentity()
	pair, err := service.IssuePair(context.Background(), identity)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	family := repo.created[0].FamilyID

	if _, err := service.Rotate(context.Background(), pair.RefreshToken, identity); err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	// Presenting the consumed token again is the theft signal.
	_, err = service.Rotate(context.Background(), pair.RefreshToken, identity)
	if !errors.Is(err, ErrRevokedRefreshToken) {
		t.Fatalf("reuse should return ErrRevokedRefreshToken, got %v", err)
	}

	if len(repo.families) != 1 || repo.families[0] != family {
		t.Fatalf("expected family %s to be revoked, got %v", family, repo.families)
	}
	if len(events.familyRevoked) != 1 {
		t.Fatalf("expected a family-revoked event")
	}
	if events.familyRevoked[0].FamilyID != family {
		t.Fatalf("event family = %s, want %s", events.familyRevoked[0].FamilyID, family)
	}

	// The successor went down with the family.
	for _, record := range repo.byHash {
		if record.FamilyID == family && record.RevokedAt == nil {
			t.Fatalf("every token in the family must be revoked")
		}
	}
}

func TestTokenService_RotateConcurrentSingleWinner(t *testing.T) {
	repo := newFakeTokenRepository()
	service := newTestTokenService(t, repo, &recordingPublisher{})

	identity := testIdentity()
	pair, err := service.IssuePair(context.Background(), identity)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = service.Rotate(context.Background(), pair.RefreshToken, identity)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrRevokedRefreshToken):
		default:
			t.Fatalf("unexpected racer error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("exactly one racer must win the rotation, got %d", winners)
	}
}

func TestTokenService_RotateExpired(t *testing.T) {
	repo := newFakeTokenRepository()
	service := newTestTokenService(t, repo, &recordingPublisher{})

	identity := testIdentity()
	pair, err := service.IssuePair(context.Background(), identity)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	service.WithClock(fixedClock(time.Now().UTC().Add(31 * 24 * time.Hour)))

	_, err = service.Rotate(context.Background(), pair.RefreshToken, identity)
	if !errors.Is(err, ErrExpiredRefreshToken) {
		t.Fatalf("expected ErrExpiredRefreshToken, got %v", err)
	}
}

func TestTokenService_RotateUnknownToken(t *testing.T) {
	service := newTestTokenService(t, newFakeTokenRepository(), &recordingPublisher{})

	_, err := service.Rotate(context.Background(), "never-issued", testIdentity())
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestTokenService_RevokeAll(t *testing.T) {
	repo := newFakeTokenRepository()
	service := newTestTokenService(t, repo, &recordingPublisher{})

	identity := testIdentity()
	for i := 0; i < 3; i++ {
		if _, err := service.IssuePair(context.Background(), identity); err != nil {
			t.Fatalf("IssuePair %d: %v", i, err)
		}
	}

	count, err := service.RevokeAll(context.Background(), identity.ID)
	if err != nil {
		t.Fatalf("RevokeAll returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("revoked %d tokens, want 3", count)
	}
}

func TestTokenService_PasswordResetRoundTrip(t *testing.T) {
	repo := newFakeTokenRepository()
	service := newTestTokenService(t, repo, &recordingPublisher{})

	token, err := service.IssuePasswordReset(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("IssuePasswordReset: %v", err)
	}

	owner, err := service.RedeemPasswordReset(context.Background(), token)
	if err != nil {
		t.Fatalf("RedeemPasswordReset: %v", err)
	}
	if owner != "user-1" {
		t.Fatalf("owner = %s, want user-1", owner)
	}

	// Single use.
	if _, err := service.RedeemPasswordReset(context.Background(), token); !errors.Is(err, ErrExpiredRefreshToken) {
		t.Fatalf("second redemption should fail, got %v", err)
	}
}

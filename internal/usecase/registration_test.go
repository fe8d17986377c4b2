package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/framehost/authcore/internal/core/domain"
)

type sentMail struct {
	to       string
	template string
	token    string
}

type fakeMailer struct {
	sent     []sentMail
	failWith error
}

func (m *fakeMailer) Send(_ context.Context, to, templateID, token string) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.sent = append(m.sent, sentMail{to: to, template: templateID, token: token})
	return nil
}

type registrationFixture struct {
	service    *RegistrationService
	identities *fakeIdentityRepository
	attempts   *fakeAttemptRepository
	mailer     *fakeMailer
}

func newRegistrationFixture(t *testing.T) *registrationFixture {
	t.Helper()

	log := zaptest.NewLogger(t)
	f := &registrationFixture{
		identities: newFakeIdentityRepository(),
		attempts:   newFakeAttemptRepository(),
		mailer:     &fakeMailer{},
	}

	tokens := newTestTokenService(t, newFakeTokenRepository(), &recordingPublisher{})
	lockouts := NewLockoutTracker(f.attempts, nil, log)
	f.service = NewRegistrationService(f.identities, tokens, lockouts, f.mailer, nil, log)
	return f
}

func TestRegistrationService_Register(t *testing.T) {
	f := newRegistrationFixture(t)

	identity, pair, err := f.service.Register(context.Background(), "New.User@Example.com", testPassword)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if identity.Email != "new.user@example.com" {
		t.Fatalf("email = %q, want normalized lowercase", identity.Email)
	}
	if identity.Tier != domain.TierFree {
		t.Fatalf("new accounts start free, got %s", identity.Tier)
	}
	if identity.PasswordHash != "" {
		t.Fatalf("returned identity must not carry the password hash")
	}
	if identity.EmailVerified {
		t.Fatalf("new accounts start unverified")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("registration must issue a token pair")
	}

	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected one verification mail, got %d", len(f.mailer.sent))
	}
	mail := f.mailer.sent[0]
	if mail.to != "new.user@example.com" || mail.template != "verify_email" || mail.token == "" {
		t.Fatalf("mail = %+v", mail)
	}

	stored, err := f.identities.GetByEmail(context.Background(), "new.user@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == testPassword {
		t.Fatalf("stored password must be hashed")
	}
}

func TestRegistrationService_RegisterDuplicateEmail(t *testing.T) {
	f := newRegistrationFixture(t)

	if _, _, err := f.service.Register(context.Background(), "new.user@example.com", testPassword); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, _, err := f.service.Register(context.Background(), "new.user@example.com", testPassword)
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegistrationService_RegisterWeakPassword(t *testing.T) {
	f := newRegistrationFixture(t)

	for _, password := range []string{"short1!", "password", "12345678"} {
		_, _, err := f.service.Register(context.Background(), "new.user@example.com", password)
		if !errors.Is(err, ErrPasswordPolicyViolation) {
			t.Fatalf("%q: expected ErrPasswordPolicyViolation, got %v", password, err)
		}
	}
	if len(f.mailer.sent) != 0 {
		t.Fatalf("rejected registration must not mail")
	}
}

func TestRegistrationService_RegisterMailFailureDoesNotFail(t *testing.T) {
	f := newRegistrationFixture(t)
	f.mailer.failWith = errors.New("smtp down")

	if _, _, err := f.service.Register(context.Background(), "new.user@example.com", testPassword); err != nil {
		t.Fatalf("mail failure must not fail registration: %v", err)
	}
}

func TestRegistrationService_VerifyEmail(t *testing.T) {
	f := newRegistrationFixture(t)

	if _, _, err := f.service.Register(context.Background(), "new.user@example.com", testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token := f.mailer.sent[0].token

	if err := f.service.VerifyEmail(context.Background(), token); err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}

	stored, err := f.identities.GetByEmail(context.Background(), "new.user@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if !stored.EmailVerified {
		t.Fatalf("identity must be marked verified")
	}

	// Verification tokens are single use.
	if err := f.service.VerifyEmail(context.Background(), token); err == nil {
		t.Fatalf("second redemption must fail")
	}
}

func TestRegistrationService_VerifyEmailUnknownToken(t *testing.T) {
	f := newRegistrationFixture(t)

	if err := f.service.VerifyEmail(context.Background(), "never-issued"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRegistrationService_ResendVerification(t *testing.T) {
	f := newRegistrationFixture(t)

	if _, _, err := f.service.Register(context.Background(), "new.user@example.com", testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := f.service.ResendVerification(context.Background(), "new.user@example.com"); err != nil {
		t.Fatalf("ResendVerification returned error: %v", err)
	}
	if len(f.mailer.sent) != 2 {
		t.Fatalf("expected a second verification mail, got %d", len(f.mailer.sent))
	}

	// Unknown emails succeed silently, and no mail goes out.
	if err := f.service.ResendVerification(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("ResendVerification of unknown email: %v", err)
	}
	if len(f.mailer.sent) != 2 {
		t.Fatalf("unknown email must not mail")
	}

	// Already-verified accounts do not get another mail either.
	if err := f.service.VerifyEmail(context.Background(), f.mailer.sent[1].token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if err := f.service.ResendVerification(context.Background(), "new.user@example.com"); err != nil {
		t.Fatalf("ResendVerification after verify: %v", err)
	}
	if len(f.mailer.sent) != 2 {
		t.Fatalf("verified account must not mail")
	}
}

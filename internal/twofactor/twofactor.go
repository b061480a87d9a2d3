// Package twofactor implements sign-up and sign-in with mandatory TOTP two-factor authentication.
//
// A correct password yields a pending challenge, never a session. The challenge is "setup" while
// the user has no confirmed secret (the secret is shown once so an authenticator app can be
// enrolled) and "verify" afterwards. A valid code for the pending user turns the challenge into a
// session.
package twofactor

import (
	"context"         // Request scope
	"encoding/base32" // Stored secret decoding
	"errors"          // Error inspection
	"fmt"             // Error wrapping
	"regexp"          // Code format
	"strings"         // Normalization
	"time"            // Clock and TTLs
	"unicode"         // Password rules

	"banking_system/internal/domain" // Users and errors
	"banking_system/internal/store"  // Repositories
	"banking_system/internal/utils"  // Session and pending tokens

	"github.com/pquerna/otp"      // OTP key types
	"github.com/pquerna/otp/totp" // TOTP generation and validation
	"github.com/sirupsen/logrus"  // Logrus for structured logging
	"golang.org/x/crypto/bcrypt"  // Password hashing
)

// Challenge statuses
const (
	StatusSetup  = "setup"  // Secret shown, awaiting the first code
	StatusVerify = "verify" // Secret confirmed, awaiting a code
)

const (
	period     = 30 // Seconds per time step
	skew       = 1  // Steps accepted either side of now
	secretSize = 20 // Secret bytes, 160 bits
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// ErrWeakPassword is returned when a password misses one of the complexity rules
var ErrWeakPassword = fmt.Errorf("%w: password must be at least 8 characters and contain an uppercase letter, a lowercase letter, a digit and a special character", domain.ErrInvalidOperation)

// ErrNotEnabled is returned when disabling two-factor for a user who never confirmed it
var ErrNotEnabled = fmt.Errorf("%w: two-factor authentication is not enabled", domain.ErrInvalidOperation)

// Challenge is the outcome of a successful password check
type Challenge struct {
	Status       string            `json:"status"`
	ManualCode   string            `json:"manualCode,omitempty"`
	OTPAuthURL   string            `json:"otpauthUrl,omitempty"`
	ExpiresIn    int               `json:"expiresInMinutes"`
	User         domain.PublicUser `json:"-"`
	PendingToken string            `json:"-"`
	ExpiresAt    time.Time         `json:"-"`
}

// Session is an authenticated session
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      domain.PublicUser
}

// Service drives the two-factor state machine
type Service struct {
	store  store.Store        // Repositories
	tokens *utils.TokenIssuer // Pending and session tokens
	issuer string             // Label shown by authenticator apps
	now    func() time.Time   // Clock
}

// NewService creates a Service. issuer is the label authenticator apps show.
func NewService(s store.Store, tokens *utils.TokenIssuer, issuer string) *Service {
	return &Service{store: s, tokens: tokens, issuer: issuer, now: time.Now}
}

// WithClock returns a copy of the service, and of its token issuer, reading time from now
func (s *Service) WithClock(now func() time.Time) *Service {
	c := *s
	c.now = now
	c.tokens = s.tokens.WithClock(now)
	return &c
}

// Register creates a user and starts two-factor setup
func (s *Service) Register(ctx context.Context, username, email, password string) (*Challenge, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email)) // Emails are case-insensitive
	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, domain.ErrEmailTaken // Email already registered
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost) // Hash the password
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Username:     strings.TrimSpace(username),
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.ErrEmailTaken // Lost a race or the username is taken
		}
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User registered")
	return s.setupChallenge(ctx, user, true)
}

// Login checks credentials and returns the next challenge
func (s *Service) Login(ctx context.Context, email, password string) (*Challenge, error) {
	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidCredentials // Same answer as a wrong password
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		logrus.WithField("user_id", user.ID).Warn("Failed login attempt")
		return nil, domain.ErrInvalidCredentials
	}

	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return s.setupChallenge(ctx, user, false) // Setup never finished
	}
	token, expires, err := s.tokens.GeneratePending(user.ID, utils.IntentLogin)
	if err != nil {
		return nil, err
	}
	return &Challenge{
		Status:       StatusVerify,
		ExpiresIn:    s.pendingMinutes(),
		User:         user.Public(),
		PendingToken: token,
		ExpiresAt:    expires,
	}, nil
}

// Verify checks code against the pending user's secret and opens a session. A wrong code leaves
// the challenge in place so the user can retry until it expires.
func (s *Service) Verify(ctx context.Context, pendingToken, code string) (*Session, error) {
	user, err := s.pendingUser(ctx, pendingToken)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorSecret == nil {
		return nil, domain.ErrChallengeMissing
	}
	if !s.validCode(*user.TwoFactorSecret, code) {
		logrus.WithField("user_id", user.ID).Warn("Invalid two-factor code")
		return nil, domain.ErrInvalidCode
	}

	if !user.TwoFactorEnabled {
		now := s.now() // First valid code confirms the secret
		if err := s.store.Users().EnableTwoFactor(ctx, user.ID, now); err != nil {
			return nil, err
		}
		user.TwoFactorEnabled = true
		user.TwoFactorVerifiedAt = &now
		logrus.WithField("user_id", user.ID).Info("Two-factor authentication enabled")
	}

	token, expires, err := s.tokens.GenerateSession(user.ID)
	if err != nil {
		return nil, err
	}
	logrus.WithField("user_id", user.ID).Info("User signed in")
	return &Session{Token: token, ExpiresAt: expires, User: user.Public()}, nil
}

// Regenerate replaces the secret of a user still in setup
func (s *Service) Regenerate(ctx context.Context, pendingToken string) (*Challenge, error) {
	user, err := s.pendingUser(ctx, pendingToken)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, domain.ErrSetupNotPending
		}
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, domain.ErrSetupNotPending
	}
	user.TwoFactorSecret = nil // Force a fresh secret
	return s.setupChallenge(ctx, user, true)
}

// Disable removes a confirmed secret after checking a current code. The next sign-in starts setup again.
func (s *Service) Disable(ctx context.Context, userID uint, code string) error {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return ErrNotEnabled
	}
	if !s.validCode(*user.TwoFactorSecret, code) {
		return domain.ErrInvalidCode
	}
	if err := s.store.Users().DisableTwoFactor(ctx, userID); err != nil {
		return err
	}
	logrus.WithField("user_id", userID).Info("Two-factor authentication disabled")
	return nil
}

// Me returns the public profile of a signed-in user
func (s *Service) Me(ctx context.Context, userID uint) (*domain.PublicUser, error) {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	pub := user.Public()
	return &pub, nil
}

// pendingUser resolves the user behind a pending token
func (s *Service) pendingUser(ctx context.Context, pendingToken string) (*domain.User, error) {
	claims, err := s.tokens.ParsePending(pendingToken)
	if errors.Is(err, utils.ErrTokenExpired) {
		return nil, domain.ErrChallengeExpired // Start over with a login
	}
	if err != nil {
		return nil, domain.ErrChallengeMissing // Missing, forged or a session token
	}
	user, err := s.store.Users().FindByID(ctx, claims.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrChallengeMissing
	}
	return user, err
}

// setupChallenge reuses the user's unconfirmed secret unless fresh is set, and issues a setup token
func (s *Service) setupChallenge(ctx context.Context, user *domain.User, fresh bool) (*Challenge, error) {
	var key *otp.Key
	var err error
	if !fresh && user.TwoFactorSecret != nil {
		key, err = s.keyFor(user.Email, *user.TwoFactorSecret)
	} else {
		key, err = s.keyFor(user.Email, "")
		if err == nil {
			err = s.store.Users().SetTwoFactorSecret(ctx, user.ID, key.Secret())
		}
	}
	if err != nil {
		return nil, err
	}

	token, expires, err := s.tokens.GeneratePending(user.ID, utils.IntentSetup)
	if err != nil {
		return nil, err
	}
	user.TwoFactorEnabled = false // Still in setup
	return &Challenge{
		Status:       StatusSetup,
		ManualCode:   ManualCode(key.Secret()),
		OTPAuthURL:   key.URL(),
		ExpiresIn:    s.pendingMinutes(),
		User:         user.Public(),
		PendingToken: token,
		ExpiresAt:    expires,
	}, nil
}

// keyFor builds the otpauth key for secret, generating a new secret when it is empty
func (s *Service) keyFor(account, secret string) (*otp.Key, error) {
	opts := totp.GenerateOpts{
		Issuer:      s.issuer,          // Shown in the app
		AccountName: account,           // User email
		Period:      period,            // 30 second steps
		SecretSize:  secretSize,        // Secret length for new keys
		Digits:      otp.DigitsSix,     // Six digit codes
		Algorithm:   otp.AlgorithmSHA1, // What authenticator apps expect
	}
	if secret != "" {
		raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
		if err != nil {
			return nil, fmt.Errorf("twofactor: stored secret: %w", err)
		}
		opts.Secret = raw // Rebuild the key around the stored secret
	}
	return totp.Generate(opts)
}

// validCode accepts six digits matching the previous, current or next time step
func (s *Service) validCode(secret, code string) bool {
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return false // Six digits only
	}
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (s *Service) pendingMinutes() int {
	return int(s.tokens.PendingTTL() / time.Minute)
}

// ManualCode formats a secret for typing: upper case, in groups of four
func ManualCode(secret string) string {
	secret = strings.ToUpper(secret)
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ') // Group separator
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidatePassword enforces length and character class rules
func ValidatePassword(password string) error {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(`!@#$%^&*()_+-=[]{};':"\|,.<>/?`, r):
			special = true
		}
	}
	if len(password) < 8 || !upper || !lower || !digit || !special {
		return ErrWeakPassword
	}
	return nil
}

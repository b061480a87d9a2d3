package twofactor

import (
	"context"
	"strings"
	"testing"
	"time"

	"banking_system/internal/domain"
	"banking_system/internal/store/storetest"
	"banking_system/internal/utils"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

const password = "Str0ng!Pass"

type fixture struct {
	store *storetest.Store
	svc   *Service
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storetest.New(),
		clock: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	tokens := utils.NewTokenIssuer("test-secret", time.Hour, 5*time.Minute)
	f.svc = NewService(f.store, tokens, "Test Bank").WithClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) secret(t *testing.T, userID uint) string {
	t.Helper()
	u, err := f.store.Users().FindByID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, u.TwoFactorSecret)
	return *u.TwoFactorSecret
}

func code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	c, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return c
}

// wrongCode returns six digits matching none of the steps around at
func wrongCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[code(t, secret, at.Add(d))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}

func TestRegisterVerifyIssuesSession(t *testing.T) {
	f := newFixture(t)

	ch, err := f.svc.Register(ctx, "alice", "Alice@Example.com", password)
	require.NoError(t, err)
	assert.Equal(t, StatusSetup, ch.Status)
	assert.Equal(t, "alice@example.com", ch.User.Email)
	assert.False(t, ch.User.TwoFactorEnabled)
	assert.Equal(t, 5, ch.ExpiresIn)
	assert.True(t, strings.HasPrefix(ch.OTPAuthURL, "otpauth://totp/"))
	assert.Contains(t, ch.OTPAuthURL, "issuer=Test")

	secret := f.secret(t, ch.User.ID)
	assert.Equal(t, ManualCode(secret), ch.ManualCode)

	_, err = f.svc.Verify(ctx, ch.PendingToken, wrongCode(t, secret, f.clock))
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
	u, err := f.store.Users().FindByID(ctx, ch.User.ID)
	require.NoError(t, err)
	assert.False(t, u.TwoFactorEnabled)

	sess, err := f.svc.Verify(ctx, ch.PendingToken, code(t, secret, f.clock))
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.True(t, sess.User.TwoFactorEnabled)
	assert.Equal(t, f.clock.Add(time.Hour), sess.ExpiresAt)

	u, err = f.store.Users().FindByID(ctx, ch.User.ID)
	require.NoError(t, err)
	assert.True(t, u.TwoFactorEnabled)
	assert.Equal(t, f.clock, *u.TwoFactorVerifiedAt)
}

func TestWrongCodeKeepsChallenge(t *testing.T) {
	f := newFixture(t)
	ch, err := f.svc.Register(ctx, "bob", "bob@example.com", password)
	require.NoError(t, err)
	secret := f.secret(t, ch.User.ID)

	for _, bad := range []string{"", "12345", "abcdef", "1234567"} {
		_, err := f.svc.Verify(ctx, ch.PendingToken, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidCode, bad)
	}

	u, err := f.store.Users().FindByID(ctx, ch.User.ID)
	require.NoError(t, err)
	assert.False(t, u.TwoFactorEnabled)

	_, err = f.svc.Verify(ctx, ch.PendingToken, code(t, secret, f.clock))
	require.NoError(t, err)
}

func TestVerifyWindow(t *testing.T) {
	f := newFixture(t)
	ch, err := f.svc.Register(ctx, "carol", "carol@example.com", password)
	require.NoError(t, err)
	secret := f.secret(t, ch.User.ID)

	_, err = f.svc.Verify(ctx, ch.PendingToken, code(t, secret, f.clock.Add(-30*time.Second)))
	assert.NoError(t, err)
	_, err = f.svc.Verify(ctx, ch.PendingToken, code(t, secret, f.clock.Add(30*time.Second)))
	assert.NoError(t, err)

	current := code(t, secret, f.clock)
	far := code(t, secret, f.clock.Add(90*time.Second))
	if far != current && far != code(t, secret, f.clock.Add(-30*time.Second)) && far != code(t, secret, f.clock.Add(30*time.Second)) {
		_, err = f.svc.Verify(ctx, ch.PendingToken, far)
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	}
}

func TestVerifyWithoutOrAfterChallenge(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Verify(ctx, "", "123456")
	assert.ErrorIs(t, err, domain.ErrChallengeMissing)
	_, err = f.svc.Verify(ctx, "not-a-token", "123456")
	assert.ErrorIs(t, err, domain.ErrChallengeMissing)

	ch, err := f.svc.Register(ctx, "dave", "dave@example.com", password)
	require.NoError(t, err)
	secret := f.secret(t, ch.User.ID)

	f.clock = f.clock.Add(6 * time.Minute)
	_, err = f.svc.Verify(ctx, ch.PendingToken, code(t, secret, f.clock))
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)
}

func TestSessionTokenIsNotAPendingToken(t *testing.T) {
	f := newFixture(t)
	ch, err := f.svc.Register(ctx, "erin", "erin@example.com", password)
	require.NoError(t, err)
	sess, err := f.svc.Verify(ctx, ch.PendingToken, code(t, f.secret(t, ch.User.ID), f.clock))
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, sess.Token, "123456")
	assert.ErrorIs(t, err, domain.ErrChallengeMissing)
}

func TestLoginStates(t *testing.T) {
	f := newFixture(t)
	reg, err := f.svc.Register(ctx, "frank", "frank@example.com", password)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "frank@example.com", "Wr0ng!Pass")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "nobody@example.com", password)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	setup, err := f.svc.Login(ctx, "FRANK@example.com", password)
	require.NoError(t, err)
	assert.Equal(t, StatusSetup, setup.Status)
	assert.Equal(t, reg.ManualCode, setup.ManualCode)

	secret := f.secret(t, reg.User.ID)
	_, err = f.svc.Verify(ctx, setup.PendingToken, code(t, secret, f.clock))
	require.NoError(t, err)

	verify, err := f.svc.Login(ctx, "frank@example.com", password)
	require.NoError(t, err)
	assert.Equal(t, StatusVerify, verify.Status)
	assert.Empty(t, verify.ManualCode)
	assert.Empty(t, verify.OTPAuthURL)

	_, err = f.svc.Regenerate(ctx, verify.PendingToken)
	assert.ErrorIs(t, err, domain.ErrSetupNotPending)

	sess, err := f.svc.Verify(ctx, verify.PendingToken, code(t, secret, f.clock))
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t)
	ch, err := f.svc.Register(ctx, "gina", "gina@example.com", password)
	require.NoError(t, err)
	old := f.secret(t, ch.User.ID)

	_, err = f.svc.Regenerate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrSetupNotPending)

	again, err := f.svc.Regenerate(ctx, ch.PendingToken)
	require.NoError(t, err)
	assert.Equal(t, StatusSetup, again.Status)
	fresh := f.secret(t, ch.User.ID)
	assert.NotEqual(t, old, fresh)
	assert.Equal(t, ManualCode(fresh), again.ManualCode)

	_, err = f.svc.Verify(ctx, again.PendingToken, code(t, fresh, f.clock))
	require.NoError(t, err)
}

func TestRegisterRejections(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(ctx, "hank", "hank@example.com", "weak")
	assert.ErrorIs(t, err, ErrWeakPassword)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = f.svc.Register(ctx, "hank", "hank@example.com", password)
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "hank2", "HANK@example.com", password)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	_, err = f.svc.Register(ctx, "hank", "other@example.com", password)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestDisable(t *testing.T) {
	f := newFixture(t)
	ch, err := f.svc.Register(ctx, "ivy", "ivy@example.com", password)
	require.NoError(t, err)
	secret := f.secret(t, ch.User.ID)

	assert.ErrorIs(t, f.svc.Disable(ctx, ch.User.ID, code(t, secret, f.clock)), ErrNotEnabled)

	_, err = f.svc.Verify(ctx, ch.PendingToken, code(t, secret, f.clock))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Disable(ctx, ch.User.ID, "abc"), domain.ErrInvalidCode)
	require.NoError(t, f.svc.Disable(ctx, ch.User.ID, code(t, secret, f.clock)))

	me, err := f.svc.Me(ctx, ch.User.ID)
	require.NoError(t, err)
	assert.False(t, me.TwoFactorEnabled)

	next, err := f.svc.Login(ctx, "ivy@example.com", password)
	require.NoError(t, err)
	assert.Equal(t, StatusSetup, next.Status)
	assert.NotEqual(t, ManualCode(secret), next.ManualCode)
}

func TestValidatePassword(t *testing.T) {
	for pw, ok := range map[string]bool{
		"Str0ng!Pass":   true,
		"Sh0r!t":        false,
		"nouppercase1!": false,
		"NOLOWERCASE1!": false,
		"NoDigits!!":    false,
		"NoSpecial12":   false,
	} {
		if ok {
			assert.NoError(t, ValidatePassword(pw), pw)
		} else {
			assert.ErrorIs(t, ValidatePassword(pw), ErrWeakPassword, pw)
		}
	}
}

func TestManualCode(t *testing.T) {
	assert.Equal(t, "JBSW Y3DP EHPK 3PXP", ManualCode("jbswy3dpehpk3pxp"))
	assert.Equal(t, "ABCD E", ManualCode("abcde"))
}

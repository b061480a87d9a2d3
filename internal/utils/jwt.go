package utils

import (
	"errors" // Error values
	"time"   // Time for token expiration

	"github.com/golang-jwt/jwt/v5" // JWT library
)

// Token audiences. A token is only accepted by the parser of its own audience.
const (
	AudienceSession = "session"    // Full session after two-factor verification
	AudiencePending = "two_factor" // Password verified, two-factor outstanding
)

// Pending token intents
const (
	IntentSetup = "setup" // Secret not confirmed yet
	IntentLogin = "login" // Secret confirmed, code required
)

// Token errors
var (
	ErrTokenExpired = errors.New("token expired")            // Signature valid but past expiry
	ErrTokenInvalid = errors.New("invalid or missing token") // Anything else
)

// JWT Claims
type Claims struct {
	UserID               uint   `json:"user_id"`          // Custom claim for user ID
	Intent               string `json:"intent,omitempty"` // Pending tokens only: setup or login
	jwt.RegisteredClaims        // Standard JWT claims
}

// TokenIssuer signs and parses session and pending two-factor tokens
type TokenIssuer struct {
	secret     []byte           // HMAC key
	sessionTTL time.Duration    // Session lifetime
	pendingTTL time.Duration    // Pending challenge lifetime
	now        func() time.Time // Clock, replaceable in tests
}

// NewTokenIssuer creates a TokenIssuer
func NewTokenIssuer(secret string, sessionTTL, pendingTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), sessionTTL: sessionTTL, pendingTTL: pendingTTL, now: time.Now}
}

// WithClock returns a copy of the issuer reading time from now
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	c := *i
	c.now = now
	return &c
}

// SessionTTL returns the session lifetime
func (i *TokenIssuer) SessionTTL() time.Duration { return i.sessionTTL }

// PendingTTL returns the pending challenge lifetime
func (i *TokenIssuer) PendingTTL() time.Duration { return i.pendingTTL }

// GenerateSession creates a session token for a given user ID
func (i *TokenIssuer) GenerateSession(userID uint) (string, time.Time, error) {
	return i.generate(userID, AudienceSession, "", i.sessionTTL)
}

// GeneratePending creates a pending two-factor token carrying the intent
func (i *TokenIssuer) GeneratePending(userID uint, intent string) (string, time.Time, error) {
	return i.generate(userID, AudiencePending, intent, i.pendingTTL)
}

func (i *TokenIssuer) generate(userID uint, audience, intent string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()          // Issue time
	expires := now.Add(ttl) // Expiry time
	// Set token claims
	claims := Claims{
		UserID: userID, // Custom claim for user ID
		Intent: intent, // Empty for sessions
		// Standard claims
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{audience},  // Scope of the token
			ExpiresAt: jwt.NewNumericDate(expires), // Token expiry
			IssuedAt:  jwt.NewNumericDate(now),     // Issued at current time
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims) // Create token with claims
	signed, err := token.SignedString(i.secret)                // Sign the token with the secret
	return signed, expires, err
}

// ParseSession validates a session token
func (i *TokenIssuer) ParseSession(tokenStr string) (*Claims, error) {
	return i.parse(tokenStr, AudienceSession)
}

// ParsePending validates a pending two-factor token
func (i *TokenIssuer) ParsePending(tokenStr string) (*Claims, error) {
	return i.parse(tokenStr, AudiencePending)
}

func (i *TokenIssuer) parse(tokenStr, audience string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrTokenInvalid // Nothing to parse
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		return i.secret, nil // Return the secret key for validation
	},
		jwt.WithAudience(audience),                                   // Reject tokens of the other audience
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), // Pin the algorithm
		jwt.WithTimeFunc(i.now),                                      // Shared clock
	)
	// Check for parsing errors
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired // Distinct so callers can report an expired challenge
		}
		return nil, ErrTokenInvalid // Return error if parsing fails
	}
	// Validate token and extract claims
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != 0 {
		return claims, nil // Return claims if valid
	}
	// Return error if token is invalid
	return nil, ErrTokenInvalid
}

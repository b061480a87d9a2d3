package api

import (
	"net/http" // HTTP status codes
	"time"     // Cookie lifetimes

	"banking_system/internal/middleware" // Cookie names
	"banking_system/internal/twofactor"  // Two-factor state machine

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// Cookies writes the auth cookies
type Cookies struct {
	Secure bool // Set the Secure flag
}

func (k Cookies) set(c *gin.Context, name, value string, expires time.Time) {
	c.SetSameSite(http.SameSiteStrictMode)
	maxAge := int(time.Until(expires).Seconds())
	c.SetCookie(name, value, max(maxAge, 1), "/", "", k.Secure, true) // httpOnly
}

func (k Cookies) clear(c *gin.Context, names ...string) {
	c.SetSameSite(http.SameSiteStrictMode)
	for _, name := range names {
		c.SetCookie(name, "", -1, "/", "", k.Secure, true)
	}
}

// RegisterRequest is the sign-up payload
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30"`  // Unique username
	Email    string `json:"email" binding:"required,email,max=100"`    // Unique email, login identity
	Password string `json:"password" binding:"required,min=8,max=128"` // Checked for complexity by the service
}

// LoginRequest is the sign-in payload
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`    // Login identity
	Password string `json:"password" binding:"required"` // Plain password
}

// CodeRequest carries a TOTP code and, for clients without cookies, the pending token
type CodeRequest struct {
	Code         string `json:"code" binding:"required"` // Six digit code
	PendingToken string `json:"pending_token"`           // Optional, the cookie wins
}

// PendingRequest carries the pending token for clients without cookies
type PendingRequest struct {
	PendingToken string `json:"pending_token"` // Optional, the cookie wins
}

// pendingToken reads the pending challenge from its cookie or the request body
func pendingToken(c *gin.Context, fromBody string) string {
	if v, err := c.Cookie(middleware.PendingCookie); err == nil && v != "" {
		return v
	}
	return fromBody
}

// challengeResponse sets the pending cookie and writes the challenge
func challengeResponse(c *gin.Context, cookies Cookies, status int, ch *twofactor.Challenge) {
	cookies.set(c, middleware.PendingCookie, ch.PendingToken, ch.ExpiresAt)
	body := gin.H{
		"status":           ch.Status,
		"expiresInMinutes": ch.ExpiresIn,
		"user":             ch.User,
		"pending_token":    ch.PendingToken,
	}
	if ch.Status == twofactor.StatusSetup {
		body["manualCode"] = ch.ManualCode // Shown once for enrolment
		body["otpauthUrl"] = ch.OTPAuthURL // QR code payload
	}
	c.JSON(status, body)
}

// RegisterHandler creates a user and starts two-factor setup
func RegisterHandler(auth *twofactor.Service, cookies Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ch, err := auth.Register(c.Request.Context(), req.Username, req.Email, req.Password)
		if err != nil {
			respondError(c, err, "Registration")
			return
		}
		challengeResponse(c, cookies, http.StatusCreated, ch)
	}
}

// LoginHandler checks credentials and returns the two-factor challenge; it never opens a session
func LoginHandler(auth *twofactor.Service, cookies Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ch, err := auth.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err, "Login")
			return
		}
		challengeResponse(c, cookies, http.StatusOK, ch)
	}
}

// VerifyTwoFactorHandler exchanges a valid code for a session
func VerifyTwoFactorHandler(auth *twofactor.Service, cookies Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CodeRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		sess, err := auth.Verify(c.Request.Context(), pendingToken(c, req.PendingToken), req.Code)
		if err != nil {
			respondError(c, err, "Two-factor verification") // Pending cookie stays for a retry
			return
		}
		cookies.clear(c, middleware.PendingCookie)
		cookies.set(c, middleware.SessionCookie, sess.Token, sess.ExpiresAt)
		c.JSON(http.StatusOK, gin.H{
			"message":    "Authenticated",
			"user":       sess.User,
			"token":      sess.Token,
			"expires_at": sess.ExpiresAt,
		})
	}
}

// RegenerateTwoFactorHandler issues a new secret while setup is pending
func RegenerateTwoFactorHandler(auth *twofactor.Service, cookies Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PendingRequest
		_ = c.ShouldBindJSON(&req) // Body is optional
		ch, err := auth.Regenerate(c.Request.Context(), pendingToken(c, req.PendingToken))
		if err != nil {
			respondError(c, err, "Two-factor regeneration")
			return
		}
		challengeResponse(c, cookies, http.StatusOK, ch)
	}
}

// CancelTwoFactorHandler abandons the pending challenge
func CancelTwoFactorHandler(cookies Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookies.clear(c, middleware.PendingCookie)
		c.JSON(http.StatusOK, gin.H{"message": "Two-factor challenge cancelled"})
	}
}

// LogoutHandler clears the session and any pending challenge
func LogoutHandler(cookies Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookies.clear(c, middleware.SessionCookie, middleware.PendingCookie)
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}

// MeHandler returns the signed-in user
func MeHandler(auth *twofactor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		user, err := auth.Me(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err, "Profile lookup")
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// DisableTwoFactorHandler removes the user's secret after a valid code and ends the session
func DisableTwoFactorHandler(auth *twofactor.Service, cookies Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req CodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := auth.Disable(c.Request.Context(), userID, req.Code); err != nil {
			respondError(c, err, "Two-factor disable")
			return
		}
		logrus.WithField("user_id", userID).Info("Session closed after two-factor disable")
		cookies.clear(c, middleware.SessionCookie)
		c.JSON(http.StatusOK, gin.H{"message": "Two-factor authentication disabled, please log in again"})
	}
}

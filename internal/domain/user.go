package domain

import "time"

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User Model
type User struct {
	ID                  uint               `gorm:"primaryKey" json:"id"`                                   // Primary key
	Username            string             `gorm:"size:50;uniqueIndex;not null" json:"username"`           // Unique username
	Email               string             `gorm:"size:100;uniqueIndex;not null" json:"email"`             // Unique email, login identity
	PasswordHash        string             `gorm:"not null" json:"-"`                                      // Bcrypt hash
	Role                string             `gorm:"size:20;default:user" json:"role"`                       // Role: user or admin
	TwoFactorSecret     *string            `json:"-"`                                                      // TOTP secret, ENC:: sealed at rest
	TwoFactorEnabled    bool               `gorm:"not null;default:false" json:"two_factor_enabled"`       // Secret confirmed by a valid code
	TwoFactorVerifiedAt *time.Time         `json:"two_factor_verified_at,omitempty"`                       // When the secret was confirmed
	CreatedAt           time.Time          `json:"created_at"`                                             // Registration time
	Accounts            []Account          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"` // Owned accounts
	ScheduledPayments   []ScheduledPayment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"` // Owned bills
}

// PublicUser is the user shape returned to clients
type PublicUser struct {
	ID               uint      `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	CreatedAt        time.Time `json:"created_at"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
}

// Public strips credentials and secrets from the user
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		Role:             u.Role,
		CreatedAt:        u.CreatedAt,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

package store

import (
	"context"
	"strings"
	"time"

	"banking_system/internal/codec"
	"banking_system/internal/domain"

	"gorm.io/gorm"
)

type userRepository struct {
	db    *gorm.DB
	codec *codec.Codec
}

func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	row := *u
	if u.TwoFactorSecret != nil {
		sealed, err := r.codec.Seal(codec.TagSecret, *u.TwoFactorSecret)
		if err != nil {
			return err
		}
		row.TwoFactorSecret = &sealed
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapError(err, "user")
	}
	u.ID = row.ID
	u.Role = row.Role
	u.CreatedAt = row.CreatedAt
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, mapError(err, "user")
	}
	return r.open(&u), nil
}

// FindByEmail matches case-insensitively on the trimmed address
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if err != nil {
		return nil, mapError(err, "user")
	}
	return r.open(&u), nil
}

// SetTwoFactorSecret stores a new unconfirmed secret and leaves two-factor disabled
func (r *userRepository) SetTwoFactorSecret(ctx context.Context, id uint, secret string) error {
	sealed, err := r.codec.Seal(codec.TagSecret, secret)
	if err != nil {
		return err
	}
	return r.update(ctx, id, map[string]any{
		"two_factor_secret":      sealed,
		"two_factor_enabled":     false,
		"two_factor_verified_at": nil,
	})
}

func (r *userRepository) EnableTwoFactor(ctx context.Context, id uint, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"two_factor_enabled":     true,
		"two_factor_verified_at": at,
	})
}

func (r *userRepository) DisableTwoFactor(ctx context.Context, id uint) error {
	return r.update(ctx, id, map[string]any{
		"two_factor_secret":      nil,
		"two_factor_enabled":     false,
		"two_factor_verified_at": nil,
	})
}

func (r *userRepository) update(ctx context.Context, id uint, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields).Error
}

func (r *userRepository) List(ctx context.Context, limit, offset int) ([]domain.User, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []domain.User
	if err := paginate(r.db.WithContext(ctx), limit, offset).Order("id ASC").Find(&users).Error; err != nil {
		return nil, 0, err
	}
	for i := range users {
		users[i].TwoFactorSecret = nil // listings never carry secrets
	}
	return users, total, nil
}

// open decrypts the two-factor secret; an undecryptable secret reads as absent
func (r *userRepository) open(u *domain.User) *domain.User {
	if u.TwoFactorSecret == nil {
		return u
	}
	plain, ok := r.codec.Open(*u.TwoFactorSecret)
	if !ok || plain == "" {
		u.TwoFactorSecret = nil
		return u
	}
	u.TwoFactorSecret = &plain
	return u
}

package store

import (
	"context"
	"time"

	"banking_system/internal/codec"
	"banking_system/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type scheduledPaymentRepository struct {
	db    *gorm.DB
	codec *codec.Codec
}

func (r *scheduledPaymentRepository) Create(ctx context.Context, p *domain.ScheduledPayment) error {
	sealed, err := r.codec.SealIdentifier(codec.TagIBAN, p.PayeeIBAN)
	if err != nil {
		return err
	}
	p.PayeeIBAN = codec.Normalize(p.PayeeIBAN)
	p.PayeeIBANCipher = sealed
	p.PayeeIBANHash = codec.Hash(p.PayeeIBAN)
	return mapError(r.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error, "scheduled payment")
}

// FindByOwnerID lists the owner's payments by next run, with the source account number
func (r *scheduledPaymentRepository) FindByOwnerID(ctx context.Context, userID uint) ([]domain.ScheduledPayment, error) {
	var ps []domain.ScheduledPayment
	err := r.db.WithContext(ctx).
		Preload("Account").
		Where("user_id = ?", userID).
		Order("next_run ASC").
		Order("id ASC").
		Find(&ps).Error
	if err != nil {
		return nil, err
	}
	for i := range ps {
		r.open(&ps[i])
		if ps[i].Account != nil {
			ps[i].AccountNumber, _ = r.codec.Open(ps[i].Account.AccountNumberCipher)
			ps[i].Account = nil
		}
	}
	return ps, nil
}

func (r *scheduledPaymentRepository) DeleteForOwner(ctx context.Context, id, userID uint) (*domain.ScheduledPayment, error) {
	var p domain.ScheduledPayment
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&p).Error; err != nil {
		return nil, mapError(err, "scheduled payment")
	}
	if err := r.db.WithContext(ctx).Delete(&domain.ScheduledPayment{}, p.ID).Error; err != nil {
		return nil, err
	}
	return r.open(&p), nil
}

// DueIDs returns up to limit payments whose next run has passed, oldest first
func (r *scheduledPaymentRepository) DueIDs(ctx context.Context, now time.Time, limit int) ([]uint, error) {
	var ids []uint
	err := paginate(r.db.WithContext(ctx).Model(&domain.ScheduledPayment{}), limit, 0).
		Where("status = ? AND next_run IS NOT NULL AND next_run <= ?", domain.ScheduleActive, now).
		Order("next_run ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *scheduledPaymentRepository) LockDue(ctx context.Context, id uint, now time.Time) (*domain.ScheduledPayment, error) {
	var p domain.ScheduledPayment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("id = ? AND status = ? AND next_run <= ?", id, domain.ScheduleActive, now).
		First(&p).Error
	if err != nil {
		return nil, mapError(err, "scheduled payment")
	}
	return r.open(&p), nil
}

// SaveRun persists the outcome of an execution attempt
func (r *scheduledPaymentRepository) SaveRun(ctx context.Context, p *domain.ScheduledPayment) error {
	return r.db.WithContext(ctx).Model(&domain.ScheduledPayment{}).Where("id = ?", p.ID).Updates(map[string]any{
		"status":      p.Status,
		"next_run":    p.NextRun,
		"last_run_at": p.LastRunAt,
		"last_error":  p.LastError,
		"updated_at":  time.Now(),
	}).Error
}

func (r *scheduledPaymentRepository) open(p *domain.ScheduledPayment) *domain.ScheduledPayment {
	p.PayeeIBAN, _ = r.codec.Open(p.PayeeIBANCipher)
	return p
}
